package cursors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
)

const createCursorTable = `
CREATE TABLE IF NOT EXISTS firestore_export_cursors (
	target      TEXT PRIMARY KEY,
	document_id TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const selectCursor = `SELECT document_id FROM firestore_export_cursors WHERE target = $1`

const upsertCursor = `
INSERT INTO firestore_export_cursors (target, document_id, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (target) DO UPDATE SET document_id = EXCLUDED.document_id, updated_at = now()`

// PostgresStore keeps cursors in a PostgreSQL table, for exports that move
// between hosts
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects to dsn and makes sure the cursor table exists
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to cursor database: %w", err)
	}

	store := NewPostgresStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an open database handle
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the cursor table if needed
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createCursorTable); err != nil {
		return fmt.Errorf("failed to create cursor table: %w", err)
	}
	return nil
}

// Load implements Store
func (s *PostgresStore) Load(ctx context.Context, target string) (string, bool, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, selectCursor, target).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to load cursor: %w", err)
	}
	return cursor, true, nil
}

// Save implements Store
func (s *PostgresStore) Save(ctx context.Context, target, cursor string) error {
	if _, err := s.db.ExecContext(ctx, upsertCursor, target, cursor); err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// Close closes the database handle
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
