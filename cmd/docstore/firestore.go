package docstore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
)

// Static errors for the Firestore adapter
var (
	ErrInvalidPath       = errors.New("invalid document path")
	ErrPartitionDecoding = errors.New("failed to decode partition query")
)

// FirestoreClient implements Client on top of the Cloud Firestore Go SDK
type FirestoreClient struct {
	client    *firestore.Client
	projectID string
}

// NewFirestoreClient connects to the default database of projectID. The
// FIRESTORE_EMULATOR_HOST environment variable is honoured by the SDK.
func NewFirestoreClient(ctx context.Context, projectID string, opts ...option.ClientOption) (*FirestoreClient, error) {
	client, err := firestore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	return &FirestoreClient{client: client, projectID: projectID}, nil
}

// Close releases the underlying connection
func (c *FirestoreClient) Close() error {
	return c.client.Close()
}

// Query implements Client
func (c *FirestoreClient) Query(ctx context.Context, q Query) ([]Document, error) {
	var query firestore.Query
	switch {
	case q.Collection != "":
		ref := c.client.Collection(CleanPath(q.Collection))
		if ref == nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPath, q.Collection)
		}
		query = ref.Query
	case q.CollectionGroup != "":
		query = c.client.CollectionGroup(q.CollectionGroup).Query
	default:
		return nil, fmt.Errorf("%w: query has no collection", ErrInvalidPath)
	}

	// Cursors are expressed as document references, which requires an explicit
	// order on the document name. It is also Firestore's natural order.
	query = query.OrderBy(firestore.DocumentID, firestore.Asc)

	if q.StartAfter != "" {
		ref := c.client.Doc(CleanPath(q.StartAfter))
		if ref == nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPath, q.StartAfter)
		}
		query = query.StartAfter(ref)
	}
	if q.EndAt != "" {
		ref := c.client.Doc(CleanPath(q.EndAt))
		if ref == nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPath, q.EndAt)
		}
		query = query.EndAt(ref)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, snapshotDocument(snap))
	}
	return docs, nil
}

// Get implements Client
func (c *FirestoreClient) Get(ctx context.Context, docPath string) (Document, error) {
	ref := c.client.Doc(CleanPath(docPath))
	if ref == nil {
		return Document{}, fmt.Errorf("%w: %s", ErrInvalidPath, docPath)
	}

	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, docPath)
	}
	if err != nil {
		return Document{}, err
	}
	return snapshotDocument(snap), nil
}

// PartitionGroup implements Client. The SDK returns the partitions as ready
// made queries; their start and end cursors are the partition boundaries and
// are read back from the serialized RunQueryRequest.
func (c *FirestoreClient) PartitionGroup(ctx context.Context, group string, n int) ([]Partition, error) {
	queries, err := c.client.CollectionGroup(group).GetPartitionedQueries(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("failed to partition collection group %s: %w", group, err)
	}

	partitions := make([]Partition, 0, len(queries))
	for i, q := range queries {
		raw, err := q.Serialize()
		if err != nil {
			return nil, fmt.Errorf("%w %d: %w", ErrPartitionDecoding, i, err)
		}

		var req firestorepb.RunQueryRequest
		if err := proto.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w %d: %w", ErrPartitionDecoding, i, err)
		}

		sq := req.GetStructuredQuery()
		partitions = append(partitions, Partition{
			StartAt: cursorPath(sq.GetStartAt()),
			EndAt:   cursorPath(sq.GetEndAt()),
		})
	}

	if len(partitions) == 0 {
		partitions = append(partitions, Partition{})
	}
	return partitions, nil
}

// cursorPath extracts the document path from a partition cursor, which holds
// a single reference value
func cursorPath(cursor *firestorepb.Cursor) string {
	if cursor == nil {
		return ""
	}
	for _, v := range cursor.GetValues() {
		if ref := v.GetReferenceValue(); ref != "" {
			return RelativePath(ref)
		}
	}
	return ""
}

func snapshotDocument(snap *firestore.DocumentSnapshot) Document {
	return Document{
		ID:   snap.Ref.ID,
		Path: RelativePath(snap.Ref.Path),
		Data: snap.Data(),
	}
}
