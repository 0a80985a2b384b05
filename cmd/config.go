package cmd

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/airframesio/firestore-exporter/cmd/compressors"
	"github.com/airframesio/firestore-exporter/cmd/cursors"
	"github.com/airframesio/firestore-exporter/cmd/docstore"
	"github.com/airframesio/firestore-exporter/cmd/objectstore"
)

// ErrConfig is wrapped by every configuration error
var ErrConfig = errors.New("invalid configuration")

// Static errors for configuration validation
var (
	ErrProjectRequired          = fmt.Errorf("%w: project is required (set --project or configure application default credentials)", ErrConfig)
	ErrSourceCollectionRequired = fmt.Errorf("%w: source collection is required", ErrConfig)
	ErrCollectionGroupInvalid   = fmt.Errorf("%w: collection group must be a collection id without '/'", ErrConfig)
	ErrDestBucketRequired       = fmt.Errorf("%w: destination bucket is required", ErrConfig)
	ErrDestBucketInvalid        = fmt.Errorf("%w: destination bucket name is invalid: must be 3-63 characters of lowercase letters, numbers, dots, dashes and underscores", ErrConfig)
	ErrBatchSizeMinimum         = fmt.Errorf("%w: batch size must be at least 1", ErrConfig)
	ErrBatchSizeMaximum         = fmt.Errorf("%w: batch size must not exceed 10000", ErrConfig)
	ErrNumPartitionsInvalid     = fmt.Errorf("%w: number of partitions must be between 1 and 10000", ErrConfig)
	ErrCollectionGroupRequired  = fmt.Errorf("%w: planning requires --collection-group", ErrConfig)
	ErrPartitionsNeedGroup      = fmt.Errorf("%w: more than one partition requires --collection-group", ErrConfig)
	ErrNumThreadsMinimum        = fmt.Errorf("%w: number of threads must be at least 1", ErrConfig)
	ErrNumThreadsMaximum        = fmt.Errorf("%w: number of threads must not exceed 1000", ErrConfig)
	ErrStoreInvalid             = fmt.Errorf("%w: store must be one of: gcs, s3", ErrConfig)
	ErrS3AccessKeyRequired      = fmt.Errorf("%w: S3 access key is required with a custom endpoint", ErrConfig)
	ErrS3SecretKeyRequired      = fmt.Errorf("%w: S3 secret key is required with a custom endpoint", ErrConfig)
	ErrS3RegionInvalid          = fmt.Errorf("%w: S3 region contains invalid characters or is too long", ErrConfig)
	ErrCompressionInvalid       = fmt.Errorf("%w: compression must be one of: zstd, lz4, gzip, none", ErrConfig)
	ErrCompressionLevelInvalid  = fmt.Errorf("%w: compression level must be between 1 and 22 (zstd), 1-9 (lz4/gzip), 0 for none", ErrConfig)
	ErrCursorStoreInvalid       = fmt.Errorf("%w: cursor store must be one of: file, postgres", ErrConfig)
	ErrCursorDSNRequired        = fmt.Errorf("%w: cursor DSN is required for the postgres cursor store", ErrConfig)
	ErrWorkspaceRequired        = fmt.Errorf("%w: workspace directory is required", ErrConfig)
	ErrLogFormatInvalid         = fmt.Errorf("%w: log format must be one of: text, logfmt, json", ErrConfig)
)

const regionAuto = "auto"

// Config is the command-line configuration, merged from flags, the config
// file and the environment
type Config struct {
	Debug            bool
	LogFormat        string
	DryRun           bool
	Progress         bool
	Workspace        string
	Project          string
	SourceCollection string
	CollectionGroup  bool
	DestBucket       string
	BatchSize        int
	NumPartitions    int
	NumThreads       int
	Store            string
	S3               S3Config
	CredentialsFile  string
	Compression      string
	CompressionLevel int // 0 selects the algorithm's default level
	ObjectPrefix     string
	CursorStore      string
	CursorDSN        string
}

type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
}

var (
	validBucketName = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,61}[a-z0-9]$`)
	validRegion     = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// isValidBucketName checks the naming rules shared by GCS and S3 buckets
func isValidBucketName(name string) bool {
	return validBucketName.MatchString(name) && !strings.Contains(name, "..")
}

// isValidRegion validates that an S3 region is reasonable
func isValidRegion(region string) bool {
	if region == "" || len(region) > 50 {
		return false
	}
	return validRegion.MatchString(region)
}

// isValidLogFormat validates the log format
func isValidLogFormat(format string) bool {
	validFormats := map[string]bool{
		"text":   true,
		"logfmt": true,
		"json":   true,
	}
	return validFormats[format]
}

// isValidCompression validates the compression type
func isValidCompression(compression string) bool {
	_, err := compressors.GetCompressor(compression)
	return err == nil
}

// ValidateTarget checks the settings shared by every command that addresses
// an export target
func (c *Config) ValidateTarget() error {
	if c.Workspace == "" {
		return ErrWorkspaceRequired
	}
	if c.LogFormat != "" && !isValidLogFormat(c.LogFormat) {
		return fmt.Errorf("%w, got '%s'", ErrLogFormatInvalid, c.LogFormat)
	}
	if docstore.CleanPath(c.SourceCollection) == "" {
		return ErrSourceCollectionRequired
	}
	if c.CollectionGroup && strings.Contains(docstore.CleanPath(c.SourceCollection), "/") {
		return fmt.Errorf("%w: '%s'", ErrCollectionGroupInvalid, c.SourceCollection)
	}
	if c.NumPartitions < 1 || c.NumPartitions > 10000 {
		return fmt.Errorf("%w, got %d", ErrNumPartitionsInvalid, c.NumPartitions)
	}
	if c.NumPartitions > 1 && !c.CollectionGroup {
		return ErrPartitionsNeedGroup
	}
	if !cursors.IsValidStore(c.CursorStore) {
		return fmt.Errorf("%w, got '%s'", ErrCursorStoreInvalid, c.CursorStore)
	}
	if c.CursorStore == cursors.StorePostgres && c.CursorDSN == "" {
		return ErrCursorDSNRequired
	}
	return nil
}

// Validate checks everything an export needs
func (c *Config) Validate() error {
	if err := c.ValidateTarget(); err != nil {
		return err
	}

	if c.Project == "" {
		return ErrProjectRequired
	}

	if c.DestBucket == "" {
		return ErrDestBucketRequired
	}
	if !isValidBucketName(c.DestBucket) {
		return fmt.Errorf("%w: '%s'", ErrDestBucketInvalid, c.DestBucket)
	}

	if c.BatchSize < 1 {
		return fmt.Errorf("%w, got %d", ErrBatchSizeMinimum, c.BatchSize)
	}
	if c.BatchSize > 10000 {
		return fmt.Errorf("%w, got %d", ErrBatchSizeMaximum, c.BatchSize)
	}

	if c.NumThreads < 1 {
		return fmt.Errorf("%w, got %d", ErrNumThreadsMinimum, c.NumThreads)
	}
	if c.NumThreads > 1000 {
		return fmt.Errorf("%w, got %d", ErrNumThreadsMaximum, c.NumThreads)
	}

	if !objectstore.IsValidStore(c.Store) {
		return fmt.Errorf("%w, got '%s'", ErrStoreInvalid, c.Store)
	}
	if c.Store == objectstore.StoreS3 {
		if c.S3.Endpoint != "" {
			if c.S3.AccessKey == "" {
				return ErrS3AccessKeyRequired
			}
			if c.S3.SecretKey == "" {
				return ErrS3SecretKeyRequired
			}
		}
		if c.S3.Region != "" && c.S3.Region != regionAuto && !isValidRegion(c.S3.Region) {
			return fmt.Errorf("%w: %s", ErrS3RegionInvalid, c.S3.Region)
		}
	}

	if !isValidCompression(c.Compression) {
		return fmt.Errorf("%w, got '%s'", ErrCompressionInvalid, c.Compression)
	}
	if c.CompressionLevel != 0 && !compressors.IsValidLevel(c.Compression, c.CompressionLevel) {
		return fmt.Errorf("%w, got %d for %s", ErrCompressionLevelInvalid, c.CompressionLevel, c.Compression)
	}

	return nil
}

// Target builds the export target described by the configuration
func (c *Config) Target() (ExportTarget, error) {
	if c.CollectionGroup {
		return NewCollectionGroupTarget(c.SourceCollection, c.NumPartitions)
	}
	return NewCollectionTarget(c.SourceCollection)
}

// ExportConfig produces the immutable job configuration
func (c *Config) ExportConfig() (ExportConfig, error) {
	target, err := c.Target()
	if err != nil {
		return ExportConfig{}, err
	}

	compression := c.Compression
	if compression == "" {
		compression = compressors.None
	}

	config := NewExportConfig(c.Project, target, c.DestBucket).
		WithBatchSize(c.BatchSize).
		WithObjectPrefix(c.ObjectPrefix).
		WithCompression(compression, c.CompressionLevel).
		WithDryRun(c.DryRun)
	return config, config.Validate()
}
