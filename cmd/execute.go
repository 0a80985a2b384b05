package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/airframesio/firestore-exporter/cmd/cursors"
	"github.com/airframesio/firestore-exporter/cmd/docstore"
	"github.com/airframesio/firestore-exporter/cmd/objectstore"
	"github.com/airframesio/firestore-exporter/cmd/partitions"
	"github.com/spf13/afero"
)

const (
	modeSequential  = "sequential"
	modePartitioned = "partitioned"
)

// exportDeps are the connections an export runs against
type exportDeps struct {
	fs      afero.Fs
	client  docstore.Client
	store   objectstore.Store
	cursors cursors.Store
}

// executeExport runs one export of the configured target while holding its
// lock. Partition failures are reported in the summary and do not fail the
// run; their descriptors are picked up by the next run.
func executeExport(ctx context.Context, config *Config, deps exportDeps, logger *slog.Logger) error {
	exportConfig, err := config.ExportConfig()
	if err != nil {
		return err
	}
	target := exportConfig.Target

	lock, err := AcquireLock(deps.fs, config.Workspace, target.Snaked())
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Debug(fmt.Sprintf("Failed to release lock: %v", err))
		}
	}()

	info := &TaskInfo{
		StartTime:   time.Now(),
		Target:      target.String(),
		Mode:        modeSequential,
		CurrentTask: "starting",
	}
	if target.Partitioned() {
		info.Mode = modePartitioned
	}
	writeInfo := func() {
		if err := lock.WriteTaskInfo(info); err != nil {
			logger.Debug(fmt.Sprintf("Failed to write task info: %v", err))
		}
	}
	writeInfo()

	if config.DryRun {
		logger.Info("🔍 Dry run: nothing will be uploaded and cursors will not move")
	}

	// the progress view owns the terminal, so the engine stays quiet
	engineLogger := logger
	useProgress := config.Progress && target.Partitioned()
	if useProgress {
		engineLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	uploader, err := NewUploader(deps.fs, deps.store, exportConfig, engineLogger)
	if err != nil {
		return err
	}

	if !target.Partitioned() {
		return runSequential(ctx, exportConfig, deps, uploader, info, writeInfo, logger)
	}

	store := partitions.NewStore(deps.fs, config.Workspace)
	info.CurrentTask = "planning"
	writeInfo()
	if _, err := NewPlanner(deps.client, store, engineLogger).Plan(ctx, target.Path, target.NumPartitions); err != nil {
		return err
	}

	pool := NewPool(NewPartitionExporter(exportConfig, deps.client, store, uploader, engineLogger), store, config.NumThreads, engineLogger)
	pool.OnStart = func(remaining []partitions.Descriptor) {
		info.CurrentTask = "exporting partitions"
		info.TotalItems = len(remaining)
		writeInfo()
	}
	pool.OnResult = func(r PartitionResult) {
		info.CompletedItems++
		info.Documents += r.Documents
		if info.TotalItems > 0 {
			info.Progress = float64(info.CompletedItems) / float64(info.TotalItems) * 100
		}
		writeInfo()
	}

	var result PoolResult
	if useProgress {
		result, err = runPoolWithProgress(ctx, pool, target.Path)
	} else {
		result, err = pool.Run(ctx, target.Path)
	}
	printSummary(logger, result)
	return err
}

func runSequential(ctx context.Context, exportConfig ExportConfig, deps exportDeps, uploader *Uploader, info *TaskInfo, writeInfo func(), logger *slog.Logger) error {
	exporter := NewExporter(exportConfig, deps.client, deps.cursors, uploader, logger)
	exporter.OnBatch = func(r ExportResult) {
		info.CurrentTask = fmt.Sprintf("batch %d", r.Batches)
		info.CompletedItems = r.Batches
		info.Documents = r.Documents
		writeInfo()
	}

	logger.Info(fmt.Sprintf("📦 Exporting %s to %s in batches of %d", exportConfig.Target, exportConfig.DestBucket, exportConfig.BatchSize))
	result, err := exporter.Run(ctx)

	logger.Info("")
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Info("📈 Summary")
	logger.Info(fmt.Sprintf("📦 Batches: %d", result.Batches))
	logger.Info(fmt.Sprintf("📄 Documents: %d", result.Documents))
	if result.Cursor != "" {
		logger.Info(fmt.Sprintf("📍 Cursor: %s", result.Cursor))
	}
	logger.Info(fmt.Sprintf("🏁 State: %s", result.State))
	logger.Info(fmt.Sprintf("⏱️  Duration: %s", result.Duration.Round(time.Millisecond)))
	return err
}

// executePlan writes the partition descriptors of a collection group without
// exporting anything
func executePlan(ctx context.Context, config *Config, fs afero.Fs, client docstore.Client, logger *slog.Logger) (PlanResult, error) {
	if !config.CollectionGroup {
		return PlanResult{}, ErrCollectionGroupRequired
	}
	group := docstore.CleanPath(config.SourceCollection)
	store := partitions.NewStore(fs, config.Workspace)

	result, err := NewPlanner(client, store, logger).Plan(ctx, group, config.NumPartitions)
	if err != nil {
		return result, err
	}
	for _, d := range result.Descriptors {
		logger.Debug(fmt.Sprintf("  partition %d: (%s, %s]", d.PartitionNum, d.StartAtPath, d.EndAtPath))
	}
	return result, nil
}

// executeStatus reports the persisted cursor, the remaining partitions and
// any export currently holding the target's lock
func executeStatus(ctx context.Context, config *Config, fs afero.Fs, cursorStore cursors.Store, logger *slog.Logger) error {
	target, err := config.Target()
	if err != nil {
		return err
	}
	snaked := target.Snaked()

	logger.Info(fmt.Sprintf("📋 Status of %s", target))

	cursor, ok, err := cursorStore.Load(ctx, snaked)
	if err != nil {
		return err
	}
	if ok {
		logger.Info(fmt.Sprintf("📍 Cursor: %s", cursor))
	} else {
		logger.Info("📍 Cursor: none (next export starts from the beginning)")
	}

	if target.CollectionGroup {
		store := partitions.NewStore(fs, config.Workspace)
		planned, err := store.Exists(target.Path)
		if err != nil {
			return err
		}
		if planned {
			remaining, err := store.List(target.Path)
			if err != nil {
				return err
			}
			logger.Info(fmt.Sprintf("🧩 Partitions remaining: %d (%s)", len(remaining), store.Dir(target.Path)))
			for _, d := range remaining {
				logger.Debug(fmt.Sprintf("  partition %d", d.PartitionNum))
			}
		} else {
			logger.Info("🧩 Partitions: not planned")
		}
	}

	pid, err := ReadPIDFile(fs, GetPIDFilePath(config.Workspace, snaked))
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("💤 No export running")
		return nil
	case err != nil:
		logger.Info(fmt.Sprintf("⚠️  Unreadable lock file: %v", err))
		return nil
	case !processRunning(pid):
		logger.Info(fmt.Sprintf("⚠️  Stale lock left by PID %d", pid))
		return nil
	}

	logger.Info(fmt.Sprintf("🏃 Export running (PID %d)", pid))
	task, err := ReadTaskInfo(fs, GetTaskFilePath(config.Workspace, snaked))
	if err != nil {
		return nil
	}
	logger.Info(fmt.Sprintf("   Mode: %s, task: %s", task.Mode, task.CurrentTask))
	if task.TotalItems > 0 {
		logger.Info(fmt.Sprintf("   Progress: %d/%d (%.1f%%)", task.CompletedItems, task.TotalItems, task.Progress))
	}
	logger.Info(fmt.Sprintf("   Documents: %d, running for %s", task.Documents, time.Since(task.StartTime).Round(time.Second)))
	return nil
}
