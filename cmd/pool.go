package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/airframesio/firestore-exporter/cmd/partitions"
	"golang.org/x/sync/errgroup"
)

// PoolResult aggregates the partition results of one pool run
type PoolResult struct {
	Group     string
	Results   []PartitionResult
	Succeeded int
	Empty     int
	Failed    int
	Documents int
	Duration  time.Duration
}

// Pool exports the remaining partitions of a collection group on a bounded
// number of workers. A failed partition does not stop the others.
type Pool struct {
	exporter *PartitionExporter
	store    *partitions.Store
	threads  int
	logger   *slog.Logger

	// OnStart is called with the remaining descriptors before any work starts
	OnStart func(remaining []partitions.Descriptor)

	// OnResult is called once per finished partition, never concurrently
	OnResult func(PartitionResult)
}

// NewPool creates a pool with at most threads concurrent workers
func NewPool(exporter *PartitionExporter, store *partitions.Store, threads int, logger *slog.Logger) *Pool {
	if threads < 1 {
		threads = 1
	}
	return &Pool{
		exporter: exporter,
		store:    store,
		threads:  threads,
		logger:   logger,
	}
}

// Run lists the remaining descriptors of group once and exports them. The
// returned error is only set when the descriptors cannot be listed or the
// context is cancelled; partition failures are in the result.
func (p *Pool) Run(ctx context.Context, group string) (PoolResult, error) {
	start := time.Now()
	result := PoolResult{Group: group}

	remaining, err := p.store.List(group)
	if err != nil {
		return result, err
	}
	if p.OnStart != nil {
		p.OnStart(remaining)
	}
	if len(remaining) == 0 {
		p.logger.Info(fmt.Sprintf("✅ No partitions left to export for %s", group))
		result.Duration = time.Since(start)
		return result, nil
	}

	p.logger.Info(fmt.Sprintf("🚀 Exporting %d partitions of %s with %d workers", len(remaining), group, p.threads))

	results := make([]PartitionResult, len(remaining))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(p.threads)

	for i, d := range remaining {
		if ctx.Err() != nil {
			break
		}
		i, d := i, d
		g.Go(func() error {
			r := p.exporter.Export(ctx, d)
			results[i] = r

			if p.OnResult != nil {
				mu.Lock()
				p.OnResult(r)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		if r.Descriptor.PartitionNum == 0 {
			// never started because of cancellation
			continue
		}
		result.Results = append(result.Results, r)
		switch {
		case r.Error != nil:
			result.Failed++
		case r.Empty:
			result.Empty++
		default:
			result.Succeeded++
			result.Documents += r.Documents
		}
	}
	result.Duration = time.Since(start)

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// printSummary logs the outcome of a pool run
func printSummary(logger *slog.Logger, result PoolResult) {
	logger.Info("")
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	logger.Info("📈 Summary")
	logger.Info(fmt.Sprintf("✅ Successful: %d", result.Succeeded))
	logger.Info(fmt.Sprintf("⏭️  Empty: %d", result.Empty))
	if result.Failed > 0 {
		logger.Info(fmt.Sprintf("❌ Failed: %d", result.Failed))
	}
	logger.Info(fmt.Sprintf("📄 Documents: %d", result.Documents))
	logger.Info(fmt.Sprintf("⏱️  Duration: %s", result.Duration.Round(time.Millisecond)))

	for _, r := range result.Results {
		if r.Error != nil {
			logger.Error(fmt.Sprintf("❌ Partition %d: %v", r.Descriptor.PartitionNum, r.Error))
		}
	}
}
