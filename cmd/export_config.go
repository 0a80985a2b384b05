package cmd

import (
	"fmt"
	"strings"

	"github.com/airframesio/firestore-exporter/cmd/docstore"
	"github.com/airframesio/firestore-exporter/cmd/partitions"
)

// DefaultBatchSize is the number of documents read per query in sequential mode
const DefaultBatchSize = 500

// ExportTarget names what is exported: a collection path, or a collection
// group together with the number of partitions it is split into
type ExportTarget struct {
	Path            string
	CollectionGroup bool
	NumPartitions   int
}

// NewCollectionTarget creates a target for a single collection. A leading
// slash is dropped.
func NewCollectionTarget(collectionPath string) (ExportTarget, error) {
	cleaned := docstore.CleanPath(collectionPath)
	if cleaned == "" {
		return ExportTarget{}, ErrSourceCollectionRequired
	}
	return ExportTarget{Path: cleaned, NumPartitions: 1}, nil
}

// NewCollectionGroupTarget creates a target for every collection named group
func NewCollectionGroupTarget(group string, numPartitions int) (ExportTarget, error) {
	cleaned := docstore.CleanPath(group)
	if cleaned == "" {
		return ExportTarget{}, ErrSourceCollectionRequired
	}
	if strings.Contains(cleaned, "/") {
		return ExportTarget{}, fmt.Errorf("%w: '%s'", ErrCollectionGroupInvalid, group)
	}
	if numPartitions < 1 {
		return ExportTarget{}, fmt.Errorf("%w, got %d", ErrNumPartitionsInvalid, numPartitions)
	}
	return ExportTarget{Path: cleaned, CollectionGroup: true, NumPartitions: numPartitions}, nil
}

// Snaked returns the sanitized target name used for cursor files, locks and
// object prefixes
func (t ExportTarget) Snaked() string {
	s := strings.ReplaceAll(t.Path, "/", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return strings.ToLower(s)
}

// Partitioned reports whether the target is exported through the planner and
// worker pool
func (t ExportTarget) Partitioned() bool {
	return t.CollectionGroup && t.NumPartitions > 1
}

func (t ExportTarget) String() string {
	if t.CollectionGroup {
		return "collection group " + t.Path
	}
	return "collection " + t.Path
}

// ExportConfig is the immutable configuration of one export job. Variants are
// derived with the With methods, which return modified copies.
type ExportConfig struct {
	ProjectID    string
	Target       ExportTarget
	DestBucket   string
	BatchSize    int
	ObjectPrefix string

	// Partition is set when the job exports a single partition descriptor
	Partition *partitions.Descriptor

	Compression      string
	CompressionLevel int
	DryRun           bool
}

// NewExportConfig creates a configuration with the default batch size
func NewExportConfig(projectID string, target ExportTarget, destBucket string) ExportConfig {
	return ExportConfig{
		ProjectID:   projectID,
		Target:      target,
		DestBucket:  destBucket,
		BatchSize:   DefaultBatchSize,
		Compression: "none",
	}
}

// WithBatchSize returns a copy reading n documents per query
func (c ExportConfig) WithBatchSize(n int) ExportConfig {
	c.BatchSize = n
	return c
}

// WithObjectPrefix returns a copy naming objects with prefix
func (c ExportConfig) WithObjectPrefix(prefix string) ExportConfig {
	c.ObjectPrefix = prefix
	return c
}

// WithPartition returns a copy bound to one partition descriptor, with the
// partition's object prefix
func (c ExportConfig) WithPartition(d partitions.Descriptor) ExportConfig {
	c.Partition = &d
	c.ObjectPrefix = fmt.Sprintf("part-%d-", d.PartitionNum)
	return c
}

// WithCompression returns a copy compressing uploads
func (c ExportConfig) WithCompression(compression string, level int) ExportConfig {
	c.Compression = compression
	c.CompressionLevel = level
	return c
}

// WithDryRun returns a copy that skips uploads and state changes
func (c ExportConfig) WithDryRun(dryRun bool) ExportConfig {
	c.DryRun = dryRun
	return c
}

// ObjectDir returns the directory all objects of the target are written to
func (c ExportConfig) ObjectDir() string {
	return fmt.Sprintf("firestore_%s_export", c.Target.Snaked())
}

// ObjectPath returns the object path of a batch bounded by two document ids,
// without compression extension
func (c ExportConfig) ObjectPath(firstID, lastID string) string {
	return fmt.Sprintf("%s/%s%s-to-%s.json", c.ObjectDir(), c.ObjectPrefix, firstID, lastID)
}

// Validate checks the values the engine relies on
func (c ExportConfig) Validate() error {
	if c.ProjectID == "" {
		return ErrProjectRequired
	}
	if c.Target.Path == "" {
		return ErrSourceCollectionRequired
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w, got %d", ErrBatchSizeMinimum, c.BatchSize)
	}
	return nil
}
