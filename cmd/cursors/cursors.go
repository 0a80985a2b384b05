// Package cursors persists the last exported document of each export target
// so an interrupted export resumes where it stopped.
package cursors

import (
	"context"
	"errors"
)

// Store type constants
const (
	StoreFile     = "file"
	StorePostgres = "postgres"
)

// ErrUnknownStore is returned for an unsupported cursor store name
var ErrUnknownStore = errors.New("unknown cursor store")

// Store loads and saves cursors keyed by the sanitized target name. A cursor
// is never deleted.
type Store interface {
	// Load returns the stored cursor and whether one exists
	Load(ctx context.Context, target string) (string, bool, error)

	// Save replaces the stored cursor
	Save(ctx context.Context, target, cursor string) error
}

// IsValidStore reports whether name is a supported cursor store
func IsValidStore(name string) bool {
	return name == StoreFile || name == StorePostgres
}
