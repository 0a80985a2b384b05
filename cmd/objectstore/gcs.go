package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore implements Store on a Google Cloud Storage bucket
type GCSStore struct {
	bucket string
	client *storage.Client
}

// NewGCSStore creates a storage client for bucket
func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, ErrNoBucket
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSStore{bucket: bucket, client: client}, nil
}

// Put implements Store
func (s *GCSStore) Put(ctx context.Context, key string, body io.ReadSeeker, opts PutOptions) error {
	return copyAndCommit(ctx, func(ctx context.Context) io.WriteCloser {
		w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
		w.ContentType = opts.ContentType
		w.ContentEncoding = opts.ContentEncoding
		return w
	}, body)
}

// copyAndCommit streams body into a writer opened on a child context. The
// object is only committed by a successful Close, so a failed copy cancels
// the context first and the upload is abandoned instead of finalized short.
func copyAndCommit(ctx context.Context, open func(context.Context) io.WriteCloser, body io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := open(ctx)
	if _, err := io.Copy(w, body); err != nil {
		cancel()
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Head implements Store
func (s *GCSStore) Head(ctx context.Context, key string) (ObjectInfo, bool, error) {
	attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ObjectInfo{}, false, nil
	}
	if err != nil {
		return ObjectInfo{}, false, err
	}
	return ObjectInfo{Size: attrs.Size, ETag: attrs.Etag}, true, nil
}

// URI implements Store
func (s *GCSStore) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, key)
}

// Close implements Store
func (s *GCSStore) Close() error {
	return s.client.Close()
}
