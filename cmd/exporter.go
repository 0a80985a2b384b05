package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/airframesio/firestore-exporter/cmd/cursors"
	"github.com/airframesio/firestore-exporter/cmd/docstore"
	"github.com/airframesio/firestore-exporter/cmd/formatters"
)

// Static errors for export runs
var (
	ErrStaleCursor  = errors.New("cursor document no longer exists")
	ErrTransientIO  = errors.New("transient I/O failure")
	ErrExportLocked = errors.New("another export of this target is running")
)

// ExportState is a state of the sequential export loop
type ExportState int

const (
	StateInit ExportState = iota
	StateReading
	StateUploading
	StateAdvancing
	StateDone
	StateFailed
)

func (s ExportState) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateReading:
		return "READING"
	case StateUploading:
		return "UPLOADING"
	case StateAdvancing:
		return "ADVANCING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("ExportState(%d)", int(s))
	}
}

// ExportResult summarizes a sequential export run
type ExportResult struct {
	Target    string
	State     ExportState
	Batches   int
	Documents int
	Objects   []string
	Cursor    string
	Duration  time.Duration
}

// Exporter pages through a collection (or a collection group) in document
// order, uploading one object per batch and persisting the cursor after each
// successful upload
type Exporter struct {
	config   ExportConfig
	client   docstore.Client
	cursors  cursors.Store
	uploader *Uploader
	logger   *slog.Logger
	state    ExportState

	// OnBatch is called after every batch whose cursor was persisted
	OnBatch func(ExportResult)
}

// NewExporter creates a sequential exporter
func NewExporter(config ExportConfig, client docstore.Client, cursorStore cursors.Store, uploader *Uploader, logger *slog.Logger) *Exporter {
	return &Exporter{
		config:   config,
		client:   client,
		cursors:  cursorStore,
		uploader: uploader,
		logger:   logger,
		state:    StateInit,
	}
}

// State returns the state the loop is in, or stopped in
func (e *Exporter) State() ExportState {
	return e.state
}

// cursorValue is what gets persisted for the last exported document. Ids are
// unique within a collection but not across a collection group.
func (e *Exporter) cursorValue(doc docstore.Document) string {
	if e.config.Target.CollectionGroup {
		return doc.Path
	}
	return doc.ID
}

// cursorPath resolves a persisted cursor back to a document path
func (e *Exporter) cursorPath(cursor string) string {
	if e.config.Target.CollectionGroup {
		return docstore.CleanPath(cursor)
	}
	return e.config.Target.Path + "/" + cursor
}

func (e *Exporter) query(after string) docstore.Query {
	q := docstore.Query{Limit: e.config.BatchSize, StartAfter: after}
	if e.config.Target.CollectionGroup {
		q.CollectionGroup = e.config.Target.Path
	} else {
		q.Collection = e.config.Target.Path
	}
	return q
}

// Run exports every document after the persisted cursor. On failure the last
// good cursor stays in place and the error is returned.
func (e *Exporter) Run(ctx context.Context) (ExportResult, error) {
	start := time.Now()
	target := e.config.Target.Snaked()
	result := ExportResult{Target: e.config.Target.String()}

	fail := func(err error) (ExportResult, error) {
		e.state = StateFailed
		result.State = e.state
		result.Duration = time.Since(start)
		return result, err
	}

	e.state = StateInit
	cursor, after, err := e.resume(ctx, target)
	if err != nil {
		e.logger.Error(fmt.Sprintf("❌ Cannot resume %s: %v", e.config.Target, err))
		return fail(err)
	}
	result.Cursor = cursor

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		e.state = StateReading
		docs, err := e.client.Query(ctx, e.query(after))
		if err != nil {
			e.logger.Error(fmt.Sprintf("❌ Query after %q failed: %v", after, err))
			return fail(fmt.Errorf("%w: query %s: %w", ErrTransientIO, e.config.Target, err))
		}
		if len(docs) == 0 {
			break
		}

		first, last := docs[0], docs[len(docs)-1]
		boundary := fmt.Sprintf("%s-to-%s", first.ID, last.ID)

		e.state = StateUploading
		records, err := formatters.EncodeDocuments(e.config.ProjectID, docs)
		if err != nil {
			e.logger.Error(fmt.Sprintf("❌ Batch %s cannot be encoded: %v", boundary, err))
			return fail(err)
		}

		objectPath := e.config.ObjectPath(first.ID, last.ID)
		count, err := e.uploader.Upload(ctx, records, objectPath)
		if err != nil {
			e.logger.Error(fmt.Sprintf("❌ Batch %s failed: %v", boundary, err))
			return fail(err)
		}

		e.state = StateAdvancing
		if !e.config.DryRun {
			if err := e.cursors.Save(ctx, target, e.cursorValue(last)); err != nil {
				e.logger.Error(fmt.Sprintf("❌ Batch %s uploaded but cursor was not saved: %v", boundary, err))
				return fail(fmt.Errorf("%w: %w", ErrTransientIO, err))
			}
		}

		after = last.Path
		result.Cursor = e.cursorValue(last)
		result.Batches++
		result.Documents += count
		result.Objects = append(result.Objects, e.uploader.ObjectKey(objectPath))
		e.logger.Debug(fmt.Sprintf("  Cursor for %s advanced to %s", target, result.Cursor))
		if e.OnBatch != nil {
			e.OnBatch(result)
		}
	}

	e.state = StateDone
	result.State = e.state
	result.Duration = time.Since(start)
	return result, nil
}

// resume loads the persisted cursor and checks that its document still
// exists. It returns the cursor as persisted and the path to read after.
func (e *Exporter) resume(ctx context.Context, target string) (string, string, error) {
	cursor, ok, err := e.cursors.Load(ctx, target)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrTransientIO, err)
	}
	if !ok {
		return "", "", nil
	}

	docPath := e.cursorPath(cursor)
	doc, err := e.client.Get(ctx, docPath)
	if errors.Is(err, docstore.ErrNotFound) {
		return "", "", fmt.Errorf("%w: %s", ErrStaleCursor, docPath)
	}
	if err != nil {
		return "", "", fmt.Errorf("%w: resolve cursor %s: %w", ErrTransientIO, docPath, err)
	}

	e.logger.Info(fmt.Sprintf("⏩ Resuming %s after %s", e.config.Target, doc.Path))
	return cursor, doc.Path, nil
}
