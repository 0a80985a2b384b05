package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/airframesio/firestore-exporter/cmd/docstore"
	"github.com/airframesio/firestore-exporter/cmd/formatters"
	"github.com/airframesio/firestore-exporter/cmd/partitions"
)

// PartitionResult is the outcome of exporting one partition
type PartitionResult struct {
	Descriptor partitions.Descriptor
	Documents  int
	Object     string
	Empty      bool
	Error      error
	StartTime  time.Time
	Duration   time.Duration
}

// PartitionExporter exports a whole partition of a collection group as a
// single object, then deletes its descriptor
type PartitionExporter struct {
	config   ExportConfig
	client   docstore.Client
	store    *partitions.Store
	uploader *Uploader
	logger   *slog.Logger
}

// NewPartitionExporter creates a partition exporter for a collection-group
// configuration
func NewPartitionExporter(config ExportConfig, client docstore.Client, store *partitions.Store, uploader *Uploader, logger *slog.Logger) *PartitionExporter {
	return &PartitionExporter{
		config:   config,
		client:   client,
		store:    store,
		uploader: uploader,
		logger:   logger,
	}
}

// Export runs one descriptor. Failures are reported in the result and leave
// the descriptor in place for the next run.
func (p *PartitionExporter) Export(ctx context.Context, d partitions.Descriptor) PartitionResult {
	result := PartitionResult{Descriptor: d, StartTime: time.Now()}

	err := p.export(ctx, p.config.WithPartition(d), d, &result)
	result.Duration = time.Since(result.StartTime)
	if err != nil {
		result.Error = err
		p.logger.Error(fmt.Sprintf("❌ Failed to export partition %d: %v", d.PartitionNum, err))
	}
	return result
}

func (p *PartitionExporter) export(ctx context.Context, config ExportConfig, d partitions.Descriptor, result *PartitionResult) error {
	q := docstore.Query{CollectionGroup: config.Target.Path}

	// a partition starts where the previous one ended, so the start
	// boundary belongs to the previous partition
	if d.StartAtPath != "" {
		doc, err := p.resolve(ctx, d.StartAtPath)
		if err != nil {
			return err
		}
		q.StartAfter = doc.Path
	}
	if d.EndAtPath != "" {
		doc, err := p.resolve(ctx, d.EndAtPath)
		if err != nil {
			return err
		}
		q.EndAt = doc.Path
	}

	docs, err := p.client.Query(ctx, q)
	if err != nil {
		return fmt.Errorf("%w: query partition %d: %w", ErrTransientIO, d.PartitionNum, err)
	}

	if len(docs) == 0 {
		result.Empty = true
		p.logger.Info(fmt.Sprintf("⏭️  Partition %d is empty", d.PartitionNum))
		return p.complete(d)
	}

	records, err := formatters.EncodeDocuments(config.ProjectID, docs)
	if err != nil {
		return err
	}

	first, last := docs[0], docs[len(docs)-1]
	objectPath := config.ObjectPath(first.ID, last.ID)
	count, err := p.uploader.Upload(ctx, records, objectPath)
	if err != nil {
		return err
	}
	result.Documents = count
	result.Object = p.uploader.ObjectKey(objectPath)

	return p.complete(d)
}

func (p *PartitionExporter) resolve(ctx context.Context, docPath string) (docstore.Document, error) {
	doc, err := p.client.Get(ctx, docPath)
	if errors.Is(err, docstore.ErrNotFound) {
		return docstore.Document{}, fmt.Errorf("%w: boundary document %s does not exist", ErrTransientIO, docPath)
	}
	if err != nil {
		return docstore.Document{}, fmt.Errorf("%w: resolve %s: %w", ErrTransientIO, docPath, err)
	}
	return doc, nil
}

// complete deletes the descriptor of a finished partition
func (p *PartitionExporter) complete(d partitions.Descriptor) error {
	if p.config.DryRun {
		return nil
	}
	if err := p.store.Delete(p.config.Target.Path, d); err != nil {
		return fmt.Errorf("%w: %w", ErrTransientIO, err)
	}
	return nil
}
