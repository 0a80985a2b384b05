// Package docstore defines the document database boundary used by the exporter:
// bounded cursor queries over a collection or collection group, document
// lookup by path, and collection-group partitioning.
package docstore

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrNotFound is returned by Get when the path does not name an existing document
var ErrNotFound = errors.New("document not found")

// Document is one exported document. Path is relative to the database root,
// e.g. "users/u1/orders/o1".
type Document struct {
	ID   string
	Path string
	Data map[string]interface{}
}

// Query describes one bounded read. Exactly one of Collection and
// CollectionGroup is set. Results are ordered by document path.
type Query struct {
	Collection      string
	CollectionGroup string

	// Limit caps the result size; zero reads the whole range.
	Limit int

	// StartAfter excludes everything up to and including this document path.
	StartAfter string

	// EndAt includes everything up to and including this document path.
	EndAt string
}

// Partition is one key-range slice of a collection group. Empty StartAt means
// the beginning of the group, empty EndAt means its end. Consecutive
// partitions share a boundary: partition i's EndAt equals partition i+1's StartAt.
type Partition struct {
	StartAt string
	EndAt   string
}

// Client is the read side of the document database
type Client interface {
	// Query runs a bounded read and returns the documents in path order
	Query(ctx context.Context, q Query) ([]Document, error)

	// Get resolves a document by path, returning ErrNotFound if it does not exist
	Get(ctx context.Context, docPath string) (Document, error)

	// PartitionGroup splits a collection group into at most n contiguous,
	// non-overlapping partitions covering the whole group
	PartitionGroup(ctx context.Context, group string, n int) ([]Partition, error)

	Close() error
}

// CleanPath strips leading and trailing slashes from a collection or document path
func CleanPath(p string) string {
	return strings.Trim(p, "/")
}

// ComparePaths orders document paths the way Firestore does: segment by
// segment, with a path sorting before any path it is a prefix of. Plain string
// order differs when an id contains a byte below '/', as in "c0-a" vs "c0".
func ComparePaths(a, b string) int {
	as := strings.Split(CleanPath(a), "/")
	bs := strings.Split(CleanPath(b), "/")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := strings.Compare(as[i], bs[i]); c != 0 {
			return c
		}
	}
	return len(as) - len(bs)
}

// ParentCollection returns the collection path that holds docPath
func ParentCollection(docPath string) string {
	return path.Dir(CleanPath(docPath))
}

// CollectionID returns the leaf collection name of the collection holding docPath
func CollectionID(docPath string) string {
	return path.Base(ParentCollection(docPath))
}

// DocumentName returns the fully qualified resource name of a document
func DocumentName(projectID, docPath string) string {
	return "projects/" + projectID + "/databases/(default)/documents/" + CleanPath(docPath)
}

// RelativePath strips the "projects/<p>/databases/<d>/documents/" prefix from a
// fully qualified document name. Relative paths are returned unchanged.
func RelativePath(name string) string {
	const marker = "/documents/"
	if i := strings.Index(name, marker); i >= 0 && strings.HasPrefix(name, "projects/") {
		return name[i+len(marker):]
	}
	return CleanPath(name)
}
