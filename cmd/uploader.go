package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/airframesio/firestore-exporter/cmd/compressors"
	"github.com/airframesio/firestore-exporter/cmd/formatters"
	"github.com/airframesio/firestore-exporter/cmd/objectstore"
	"github.com/spf13/afero"
)

// Uploader writes a batch of records as one NDJSON object. Records are
// staged in a temporary file so large batches never sit in memory twice.
type Uploader struct {
	fs         afero.Fs
	store      objectstore.Store
	formatter  formatters.Formatter
	compressor compressors.Compressor
	level      int
	stagingDir string
	dryRun     bool
	logger     *slog.Logger
}

// NewUploader creates an uploader writing to store with the configuration's
// compression settings
func NewUploader(fs afero.Fs, store objectstore.Store, config ExportConfig, logger *slog.Logger) (*Uploader, error) {
	compressor, err := compressors.GetCompressor(config.Compression)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	level := config.CompressionLevel
	if level == 0 {
		level = compressor.DefaultLevel()
	}

	return &Uploader{
		fs:         fs,
		store:      store,
		formatter:  formatters.GetFormatter(formatters.FormatNDJSON),
		compressor: compressor,
		level:      level,
		dryRun:     config.DryRun,
		logger:     logger,
	}, nil
}

// ObjectKey returns the final key for an object path, including the
// compression extension
func (u *Uploader) ObjectKey(objectPath string) string {
	return objectPath + u.compressor.Extension()
}

// Upload stages records and stores them at objectPath. An empty batch is a
// no-op. It returns the number of records written.
func (u *Uploader) Upload(ctx context.Context, records []formatters.ExportRecord, objectPath string) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	key := u.ObjectKey(objectPath)
	staging, err := afero.TempFile(u.fs, u.stagingDir, "firestore-export-*"+u.formatter.Extension()+u.compressor.Extension())
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create staging file: %w", ErrTransientIO, err)
	}
	stagingName := staging.Name()
	defer func() {
		staging.Close()
		if err := u.fs.Remove(stagingName); err != nil {
			u.logger.Warn(fmt.Sprintf("⚠️  Failed to remove staging file %s: %v", stagingName, err))
		}
	}()

	size, err := u.stage(staging, records)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to stage %s: %w", ErrTransientIO, key, err)
	}

	if u.dryRun {
		_, exists, err := u.store.Head(ctx, key)
		if err != nil {
			u.logger.Debug(fmt.Sprintf("  Could not check %s: %v", u.store.URI(key), err))
		}
		verb := "create"
		if exists {
			verb = "overwrite"
		}
		u.logger.Info(fmt.Sprintf("🔍 [dry run] would %s %s with %d rows (%d bytes)", verb, u.store.URI(key), len(records), size))
		return len(records), nil
	}

	u.logger.Debug(fmt.Sprintf("  ☁️  Uploading to %s (size: %d bytes)", u.store.URI(key), size))
	err = u.store.Put(ctx, key, staging, objectstore.PutOptions{
		ContentType:     u.formatter.MIMEType(),
		ContentEncoding: u.compressor.ContentEncoding(),
		Size:            size,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: failed to upload %s: %w", ErrTransientIO, u.store.URI(key), err)
	}

	u.logger.Info(fmt.Sprintf("✅ %d rows uploaded to %s", len(records), u.store.URI(key)))
	return len(records), nil
}

// stage writes the records through the compressor into f and rewinds it,
// returning the staged size
func (u *Uploader) stage(f afero.File, records []formatters.ExportRecord) (int64, error) {
	cw, err := u.compressor.NewWriter(f, u.level)
	if err != nil {
		return 0, err
	}

	sw := u.formatter.NewWriter(cw)
	if err := sw.WriteChunk(records); err != nil {
		cw.Close()
		return 0, err
	}
	if err := sw.Close(); err != nil {
		cw.Close()
		return 0, err
	}
	if err := cw.Close(); err != nil {
		return 0, err
	}

	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}
