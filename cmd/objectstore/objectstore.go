// Package objectstore writes exported objects to a bucket. Puts overwrite,
// which is what makes re-uploading a batch after a crash idempotent.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// Store type constants
const (
	StoreGCS = "gcs"
	StoreS3  = "s3"
)

// Static errors
var (
	ErrUnknownStore = errors.New("unknown object store")
	ErrNoBucket     = errors.New("bucket name is required")
)

// PutOptions carries object metadata
type PutOptions struct {
	ContentType     string
	ContentEncoding string

	// Size is the body length in bytes, used to choose the upload strategy
	Size int64
}

// ObjectInfo describes an existing object
type ObjectInfo struct {
	Size int64
	ETag string
}

// Store is a bucket of objects
type Store interface {
	// Put writes body to key, replacing any existing object
	Put(ctx context.Context, key string, body io.ReadSeeker, opts PutOptions) error

	// Head returns the object's metadata and whether it exists
	Head(ctx context.Context, key string) (ObjectInfo, bool, error)

	// URI returns the canonical location of key, e.g. gs://bucket/key
	URI(key string) string

	Close() error
}

// IsValidStore reports whether name is a store usable from the command line
func IsValidStore(name string) bool {
	return name == StoreGCS || name == StoreS3
}
