package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/airframesio/firestore-exporter/cmd/cursors"
	"github.com/airframesio/firestore-exporter/cmd/docstore"
	"github.com/airframesio/firestore-exporter/cmd/objectstore"
	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// datastoreScope is the OAuth scope Firestore clients authenticate with
const datastoreScope = "https://www.googleapis.com/auth/datastore"

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/airframesio/firestore-exporter/cmd.Version=1.2.3"
	Version = "dev"

	// signalContext is set by main() before Cobra initialization
	signalContext context.Context

	cfgFile          string
	debug            bool
	logFormat        string
	dryRun           bool
	workspace        string
	project          string
	sourceCollection string
	collectionGroup  bool
	numPartitions    int
	credentialsFile  string
	cursorStore      string
	cursorDSN        string
	destBucket       string
	batchSize        int
	numThreads       int
	storeName        string
	s3Endpoint       string
	s3AccessKey      string
	s3SecretKey      string
	s3Region         string
	compression      string
	compressionLevel int
	objectPrefix     string
	showProgress     bool

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	logger *slog.Logger
)

// SetSignalContext stores the signal-aware context created in main()
func SetSignalContext(ctx context.Context) {
	signalContext = ctx
}

// commandContext returns the signal context, or a fresh one when main did not
// provide it
func commandContext() (context.Context, context.CancelFunc) {
	if signalContext != nil {
		return signalContext, func() {}
	}
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// textOnlyHandler is a custom slog handler that outputs human-readable text
// without key=value pairs, suitable for interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message
	timestamp := r.Time.Format("2006-01-02 15:04:05")
	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", timestamp, r.Level.String(), r.Message)
	return err
}

func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	return h
}

// newLogger builds the slog logger for a log format
func newLogger(w io.Writer, isDebug bool, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "logfmt":
		// logfmt uses slog.TextHandler which outputs key=value pairs
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = newTextOnlyHandler(w, opts)
	}
	return slog.New(handler)
}

// initLogger initializes the package logger based on debug flag and log format
func initLogger(isDebug bool, format string) {
	logger = newLogger(os.Stdout, isDebug, format)
}

var rootCmd = &cobra.Command{
	Use:     "firestore-exporter",
	Version: Version,
	Short:   "📦 Export Firestore collections to object storage as NDJSON",
	Long: titleStyle.Render("Firestore Exporter") + `

Incrementally export a Firestore collection, or a collection group, into
newline-delimited JSON objects in GCS or S3, in the record format of the
"export collections to BigQuery" extension. Exports resume from a persisted
cursor, and collection groups can be split into partitions exported in parallel.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a collection or collection group",
	Long: `Export documents after the persisted cursor in batches, one object per batch.
With --collection-group and --num-partitions > 1 the group is planned into
partitions which are exported by --num-threads workers.`,
	RunE: func(_ *cobra.Command, _ []string) error {
		return runExport()
	},
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Pre-compute partition descriptors for a collection group",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runPlan()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the cursor and remaining partitions of a target",
	RunE: func(_ *cobra.Command, _ []string) error {
		return runStatus()
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(statusCmd)

	// Persistent flags (available to all subcommands)
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.firestore-exporter.yaml)")
	flags.BoolVarP(&debug, "debug", "d", false, "enable debug output")
	flags.StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")
	flags.BoolVar(&dryRun, "dry-run", false, "read and encode everything without uploading or advancing cursors")
	flags.StringVar(&workspace, "workspace", "workspace", "directory holding cursors, partition descriptors and locks")
	flags.StringVar(&project, "project", "", "Google Cloud project (detected from application default credentials if empty)")
	flags.StringVar(&sourceCollection, "source-collection", "", "collection path, or collection id with --collection-group (required)")
	flags.BoolVar(&collectionGroup, "collection-group", false, "export every collection with the source collection id")
	flags.IntVar(&numPartitions, "num-partitions", 1, "number of partitions for a collection group export")
	flags.StringVar(&credentialsFile, "credentials-file", "", "service account JSON file (default: application default credentials)")
	flags.StringVar(&cursorStore, "cursor-store", "file", "cursor store: file, postgres")
	flags.StringVar(&cursorDSN, "cursor-dsn", "", "PostgreSQL connection string for the postgres cursor store")

	// Export-specific flags
	exportCmd.Flags().StringVar(&destBucket, "dest-bucket", "", "destination bucket (required)")
	exportCmd.Flags().IntVar(&batchSize, "batch-size", DefaultBatchSize, "documents per batch in sequential mode")
	exportCmd.Flags().IntVar(&numThreads, "num-threads", 1, "number of partitions exported in parallel")
	exportCmd.Flags().StringVar(&storeName, "store", objectstore.StoreGCS, "object store: gcs, s3")
	exportCmd.Flags().StringVar(&s3Endpoint, "s3-endpoint", "", "S3-compatible endpoint URL (default: AWS)")
	exportCmd.Flags().StringVar(&s3AccessKey, "s3-access-key", "", "S3 access key")
	exportCmd.Flags().StringVar(&s3SecretKey, "s3-secret-key", "", "S3 secret key")
	exportCmd.Flags().StringVar(&s3Region, "s3-region", "us-east-1", "S3 region")
	exportCmd.Flags().StringVar(&compression, "compression", "none", "compression type: zstd, lz4, gzip, none")
	exportCmd.Flags().IntVar(&compressionLevel, "compression-level", 0, "compression level (zstd: 1-22, lz4/gzip: 1-9, 0 = default)")
	exportCmd.Flags().StringVar(&objectPrefix, "object-prefix", "", "prefix for object names in sequential mode")
	exportCmd.Flags().BoolVar(&showProgress, "progress", false, "show an interactive progress view for partitioned exports")

	// Note: We don't use MarkFlagRequired because it checks before viper loads the config file.
	// Instead, validation happens in config.Validate() which runs after all config sources are loaded.

	_ = viper.BindPFlag("debug", flags.Lookup("debug"))
	_ = viper.BindPFlag("log_format", flags.Lookup("log-format"))
	_ = viper.BindPFlag("dry_run", flags.Lookup("dry-run"))
	_ = viper.BindPFlag("workspace", flags.Lookup("workspace"))
	_ = viper.BindPFlag("project", flags.Lookup("project"))
	_ = viper.BindPFlag("source_collection", flags.Lookup("source-collection"))
	_ = viper.BindPFlag("collection_group", flags.Lookup("collection-group"))
	_ = viper.BindPFlag("num_partitions", flags.Lookup("num-partitions"))
	_ = viper.BindPFlag("credentials_file", flags.Lookup("credentials-file"))
	_ = viper.BindPFlag("cursor.store", flags.Lookup("cursor-store"))
	_ = viper.BindPFlag("cursor.dsn", flags.Lookup("cursor-dsn"))

	_ = viper.BindPFlag("dest_bucket", exportCmd.Flags().Lookup("dest-bucket"))
	_ = viper.BindPFlag("batch_size", exportCmd.Flags().Lookup("batch-size"))
	_ = viper.BindPFlag("num_threads", exportCmd.Flags().Lookup("num-threads"))
	_ = viper.BindPFlag("store", exportCmd.Flags().Lookup("store"))
	_ = viper.BindPFlag("s3.endpoint", exportCmd.Flags().Lookup("s3-endpoint"))
	_ = viper.BindPFlag("s3.access_key", exportCmd.Flags().Lookup("s3-access-key"))
	_ = viper.BindPFlag("s3.secret_key", exportCmd.Flags().Lookup("s3-secret-key"))
	_ = viper.BindPFlag("s3.region", exportCmd.Flags().Lookup("s3-region"))
	_ = viper.BindPFlag("compression", exportCmd.Flags().Lookup("compression"))
	_ = viper.BindPFlag("compression_level", exportCmd.Flags().Lookup("compression-level"))
	_ = viper.BindPFlag("object_prefix", exportCmd.Flags().Lookup("object-prefix"))
	_ = viper.BindPFlag("progress", exportCmd.Flags().Lookup("progress"))
}

func initConfig() {
	// .env supplies credentials and endpoints without exporting them
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".firestore-exporter")
	}

	viper.SetEnvPrefix("FIRESTORE_EXPORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && debug {
		if logger == nil {
			initLogger(debug, logFormat)
		}
		logger.Debug(fmt.Sprintf("📄 Using config file: %s", viper.ConfigFileUsed()))
	}
}

// loadConfig reads the merged configuration from viper
func loadConfig() *Config {
	return &Config{
		Debug:            viper.GetBool("debug"),
		LogFormat:        viper.GetString("log_format"),
		DryRun:           viper.GetBool("dry_run"),
		Progress:         viper.GetBool("progress"),
		Workspace:        viper.GetString("workspace"),
		Project:          viper.GetString("project"),
		SourceCollection: viper.GetString("source_collection"),
		CollectionGroup:  viper.GetBool("collection_group"),
		DestBucket:       viper.GetString("dest_bucket"),
		BatchSize:        viper.GetInt("batch_size"),
		NumPartitions:    viper.GetInt("num_partitions"),
		NumThreads:       viper.GetInt("num_threads"),
		Store:            viper.GetString("store"),
		S3: S3Config{
			Endpoint:  viper.GetString("s3.endpoint"),
			AccessKey: viper.GetString("s3.access_key"),
			SecretKey: viper.GetString("s3.secret_key"),
			Region:    viper.GetString("s3.region"),
		},
		CredentialsFile:  viper.GetString("credentials_file"),
		Compression:      viper.GetString("compression"),
		CompressionLevel: viper.GetInt("compression_level"),
		ObjectPrefix:     viper.GetString("object_prefix"),
		CursorStore:      viper.GetString("cursor.store"),
		CursorDSN:        viper.GetString("cursor.dsn"),
	}
}

// googleOptions returns the client options for Google Cloud clients
func googleOptions(config *Config) []option.ClientOption {
	if config.CredentialsFile != "" {
		return []option.ClientOption{option.WithCredentialsFile(config.CredentialsFile)}
	}
	return nil
}

// detectProject fills in the project from the configured or default credentials
func detectProject(ctx context.Context, config *Config) error {
	if config.Project != "" {
		return nil
	}

	logger.Debug("Project not set, attempting to detect from credentials...")

	var creds *google.Credentials
	var err error
	if config.CredentialsFile != "" {
		var data []byte
		data, err = os.ReadFile(config.CredentialsFile)
		if err != nil {
			return fmt.Errorf("%w: cannot read credentials file: %w", ErrConfig, err)
		}
		creds, err = google.CredentialsFromJSON(ctx, data, datastoreScope)
	} else {
		creds, err = google.FindDefaultCredentials(ctx, datastoreScope)
	}
	if err != nil || creds.ProjectID == "" {
		// Validate reports the missing project
		logger.Debug(fmt.Sprintf("Project detection failed: %v", err))
		return nil
	}

	config.Project = creds.ProjectID
	logger.Info(fmt.Sprintf("🔎 Detected project %s", config.Project))
	return nil
}

// newObjectStore connects to the configured bucket
func newObjectStore(ctx context.Context, config *Config) (objectstore.Store, error) {
	switch config.Store {
	case objectstore.StoreGCS:
		return objectstore.NewGCSStore(ctx, config.DestBucket, googleOptions(config)...)
	case objectstore.StoreS3:
		return objectstore.NewS3Store(objectstore.S3Config{
			Endpoint:  config.S3.Endpoint,
			Bucket:    config.DestBucket,
			AccessKey: config.S3.AccessKey,
			SecretKey: config.S3.SecretKey,
			Region:    config.S3.Region,
		})
	default:
		return nil, fmt.Errorf("%w: %s", objectstore.ErrUnknownStore, config.Store)
	}
}

// newCursorStore opens the configured cursor store. The returned function
// releases it.
func newCursorStore(ctx context.Context, fs afero.Fs, config *Config) (cursors.Store, func() error, error) {
	switch config.CursorStore {
	case cursors.StoreFile, "":
		return cursors.NewFileStore(fs, config.Workspace), func() error { return nil }, nil
	case cursors.StorePostgres:
		store, err := cursors.OpenPostgresStore(ctx, config.CursorDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", cursors.ErrUnknownStore, config.CursorStore)
	}
}

func printBanner() {
	logger.Info("")
	logger.Info(fmt.Sprintf("🚀 Firestore Exporter v%s", Version))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
}

func runExport() error {
	config := loadConfig()
	initLogger(config.Debug, config.LogFormat)
	printBanner()

	ctx, stop := commandContext()
	defer stop()

	if err := detectProject(ctx, config); err != nil {
		return err
	}

	logger.Debug("Validating configuration...")
	if err := config.Validate(); err != nil {
		return err
	}
	logger.Debug("Configuration validated successfully")

	client, err := docstore.NewFirestoreClient(ctx, config.Project, googleOptions(config)...)
	if err != nil {
		return err
	}
	defer client.Close()

	store, err := newObjectStore(ctx, config)
	if err != nil {
		return err
	}
	defer store.Close()

	fs := afero.NewOsFs()
	cursorStore, closeCursors, err := newCursorStore(ctx, fs, config)
	if err != nil {
		return err
	}
	defer closeCursors()

	return executeExport(ctx, config, exportDeps{
		fs:      fs,
		client:  client,
		store:   store,
		cursors: cursorStore,
	}, logger)
}

func runPlan() error {
	config := loadConfig()
	initLogger(config.Debug, config.LogFormat)
	printBanner()

	ctx, stop := commandContext()
	defer stop()

	if err := config.ValidateTarget(); err != nil {
		return err
	}
	if !config.CollectionGroup {
		return ErrCollectionGroupRequired
	}
	if err := detectProject(ctx, config); err != nil {
		return err
	}
	if config.Project == "" {
		return ErrProjectRequired
	}

	client, err := docstore.NewFirestoreClient(ctx, config.Project, googleOptions(config)...)
	if err != nil {
		return err
	}
	defer client.Close()

	_, err = executePlan(ctx, config, afero.NewOsFs(), client, logger)
	return err
}

func runStatus() error {
	config := loadConfig()
	initLogger(config.Debug, config.LogFormat)

	ctx, stop := commandContext()
	defer stop()

	if err := config.ValidateTarget(); err != nil {
		return err
	}

	fs := afero.NewOsFs()
	cursorStore, closeCursors, err := newCursorStore(ctx, fs, config)
	if err != nil {
		return err
	}
	defer closeCursors()

	return executeStatus(ctx, config, fs, cursorStore, logger)
}

// IsCancelled reports whether err comes from an interrupted run
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
