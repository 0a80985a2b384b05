package objectstore

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Object is a stored object held by MemoryStore
type Object struct {
	Body            []byte
	ContentType     string
	ContentEncoding string
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]Object

	// Puts counts successful and failed calls to Put
	Puts int

	// Err, when set, fails every Put
	Err error
}

// NewMemoryStore creates an empty in-memory bucket
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{bucket: bucket, objects: make(map[string]Object)}
}

// Put implements Store
func (s *MemoryStore) Put(ctx context.Context, key string, body io.ReadSeeker, opts PutOptions) error {
	s.mu.Lock()
	s.Puts++
	injected := s.Err
	s.mu.Unlock()

	if injected != nil {
		return injected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = Object{Body: data, ContentType: opts.ContentType, ContentEncoding: opts.ContentEncoding}
	return nil
}

// Head implements Store
func (s *MemoryStore) Head(_ context.Context, key string) (ObjectInfo, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[key]
	if !ok {
		return ObjectInfo{}, false, nil
	}
	return ObjectInfo{Size: int64(len(obj.Body))}, true, nil
}

// Get returns a stored object
func (s *MemoryStore) Get(key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[key]
	return obj, ok
}

// Keys returns the stored keys in lexical order
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// URI implements Store
func (s *MemoryStore) URI(key string) string {
	return fmt.Sprintf("mem://%s/%s", s.bucket, key)
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}
