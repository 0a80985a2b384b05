package docstore

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"
)

// MemoryClient is an in-process Client holding documents ordered by path.
// It follows Firestore's ordering and boundary semantics closely enough to
// exercise pagination and partitioning without a database.
type MemoryClient struct {
	mu   sync.RWMutex
	docs map[string]map[string]interface{}

	// Err, when set, is returned by every read
	Err error

	// Queries counts calls to Query
	Queries int
}

// NewMemoryClient creates an empty in-memory client
func NewMemoryClient() *MemoryClient {
	return &MemoryClient{docs: make(map[string]map[string]interface{})}
}

// Put stores or replaces a document
func (m *MemoryClient) Put(docPath string, data map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[CleanPath(docPath)] = data
}

// Delete removes a document
func (m *MemoryClient) Delete(docPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.docs, CleanPath(docPath))
}

func (m *MemoryClient) sortedPaths(match func(string) bool) []string {
	var paths []string
	for p := range m.docs {
		if match(p) {
			paths = append(paths, p)
		}
	}
	sort.Slice(paths, func(i, j int) bool { return ComparePaths(paths[i], paths[j]) < 0 })
	return paths
}

func (m *MemoryClient) document(p string) Document {
	return Document{ID: path.Base(p), Path: p, Data: m.docs[p]}
}

// Query implements Client
func (m *MemoryClient) Query(_ context.Context, q Query) ([]Document, error) {
	m.mu.Lock()
	m.Queries++
	m.mu.Unlock()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}

	var match func(string) bool
	switch {
	case q.Collection != "" && q.CollectionGroup != "":
		return nil, fmt.Errorf("query sets both collection %q and collection group %q", q.Collection, q.CollectionGroup)
	case q.Collection != "":
		collection := CleanPath(q.Collection)
		match = func(p string) bool { return ParentCollection(p) == collection }
	case q.CollectionGroup != "":
		match = func(p string) bool { return CollectionID(p) == q.CollectionGroup }
	default:
		return nil, fmt.Errorf("query has no collection")
	}

	startAfter := CleanPath(q.StartAfter)
	endAt := CleanPath(q.EndAt)

	var result []Document
	for _, p := range m.sortedPaths(match) {
		if startAfter != "" && ComparePaths(p, startAfter) <= 0 {
			continue
		}
		if endAt != "" && ComparePaths(p, endAt) > 0 {
			break
		}
		result = append(result, m.document(p))
		if q.Limit > 0 && len(result) == q.Limit {
			break
		}
	}
	return result, nil
}

// Get implements Client
func (m *MemoryClient) Get(_ context.Context, docPath string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return Document{}, m.Err
	}

	p := CleanPath(docPath)
	if _, ok := m.docs[p]; !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return m.document(p), nil
}

// PartitionGroup implements Client. Documents are split into equal runs; each
// boundary is the last document of the previous run, so a group smaller than
// n documents yields fewer than n partitions.
func (m *MemoryClient) PartitionGroup(_ context.Context, group string, n int) ([]Partition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if n < 1 {
		return nil, fmt.Errorf("partition count must be at least 1, got %d", n)
	}

	paths := m.sortedPaths(func(p string) bool { return CollectionID(p) == group })
	if n == 1 || len(paths) <= 1 {
		return []Partition{{}}, nil
	}

	size := (len(paths) + n - 1) / n
	var partitions []Partition
	start := ""
	for i := size - 1; i < len(paths)-1; i += size {
		partitions = append(partitions, Partition{StartAt: start, EndAt: paths[i]})
		start = paths[i]
	}
	partitions = append(partitions, Partition{StartAt: start})
	return partitions, nil
}

// Close implements Client
func (m *MemoryClient) Close() error {
	return nil
}
