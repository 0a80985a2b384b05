package cursors

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	t.Run("EnsureSchema", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS firestore_export_cursors").
			WillReturnResult(sqlmock.NewResult(0, 0))

		if err := NewPostgresStore(db).EnsureSchema(ctx); err != nil {
			t.Fatal(err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("LoadExisting", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()

		mock.ExpectQuery("SELECT document_id FROM firestore_export_cursors").
			WithArgs("orders").
			WillReturnRows(sqlmock.NewRows([]string{"document_id"}).AddRow("o2"))

		cursor, ok, err := NewPostgresStore(db).Load(ctx, "orders")
		if err != nil {
			t.Fatal(err)
		}
		if !ok || cursor != "o2" {
			t.Fatalf("expected o2, got %q (ok=%v)", cursor, ok)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("LoadMissing", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()

		mock.ExpectQuery("SELECT document_id FROM firestore_export_cursors").
			WithArgs("orders").
			WillReturnError(sql.ErrNoRows)

		_, ok, err := NewPostgresStore(db).Load(ctx, "orders")
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("expected no cursor")
		}
	})

	t.Run("Save", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()

		mock.ExpectExec("INSERT INTO firestore_export_cursors").
			WithArgs("orders", "o3").
			WillReturnResult(sqlmock.NewResult(0, 1))

		if err := NewPostgresStore(db).Save(ctx, "orders", "o3"); err != nil {
			t.Fatal(err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("SaveFailure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatal(err)
		}
		defer db.Close()

		dbErr := errors.New("connection reset")
		mock.ExpectExec("INSERT INTO firestore_export_cursors").
			WithArgs("orders", "o3").
			WillReturnError(dbErr)

		err = NewPostgresStore(db).Save(ctx, "orders", "o3")
		if !errors.Is(err, dbErr) {
			t.Fatalf("expected wrapped database error, got %v", err)
		}
	})
}
