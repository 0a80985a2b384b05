package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/airframesio/firestore-exporter/cmd/docstore"
	"github.com/airframesio/firestore-exporter/cmd/partitions"
)

// PlanResult reports what the planner did for a collection group
type PlanResult struct {
	Group       string
	Planned     bool
	Requested   int
	Descriptors []partitions.Descriptor
}

// Planner splits a collection group into partitions and writes one
// descriptor per partition. Planning happens once per group: an existing
// descriptor directory is reused as is, even if the partition count changed.
type Planner struct {
	client docstore.Client
	store  *partitions.Store
	logger *slog.Logger
}

// NewPlanner creates a planner
func NewPlanner(client docstore.Client, store *partitions.Store, logger *slog.Logger) *Planner {
	return &Planner{client: client, store: store, logger: logger}
}

// Plan writes descriptors for group unless its directory already exists
func (p *Planner) Plan(ctx context.Context, group string, n int) (PlanResult, error) {
	result := PlanResult{Group: group, Requested: n}

	if group == "" || strings.Contains(group, "/") {
		return result, fmt.Errorf("%w: '%s'", ErrCollectionGroupInvalid, group)
	}
	if n < 1 {
		return result, fmt.Errorf("%w, got %d", ErrNumPartitionsInvalid, n)
	}

	planned, err := p.store.Exists(group)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrTransientIO, err)
	}
	if planned {
		existing, err := p.store.List(group)
		if err != nil {
			return result, err
		}
		p.logger.Info(fmt.Sprintf("⏭️  Partitions for %s already planned in %s (%d remaining)", group, p.store.Dir(group), len(existing)))
		result.Descriptors = existing
		return result, nil
	}

	plan, err := p.store.BeginPlan(group)
	if err != nil {
		return result, fmt.Errorf("%w: %w", ErrTransientIO, err)
	}
	descriptors, err := p.write(ctx, plan, group, n)
	if err == nil {
		err = plan.Commit()
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrTransientIO, err)
		}
	}
	if err != nil {
		if abortErr := plan.Abort(); abortErr != nil {
			p.logger.Error(fmt.Sprintf("❌ Failed to discard plan for %s: %v", group, abortErr))
		}
		return result, err
	}

	if len(descriptors) < n {
		p.logger.Info(fmt.Sprintf("ℹ️  Requested %d partitions for %s, database returned %d", n, group, len(descriptors)))
	}
	p.logger.Info(fmt.Sprintf("✅ Planned %d partitions for %s", len(descriptors), group))

	result.Planned = true
	result.Descriptors = descriptors
	return result, nil
}

func (p *Planner) write(ctx context.Context, plan *partitions.Plan, group string, n int) ([]partitions.Descriptor, error) {
	parts, err := p.client.PartitionGroup(ctx, group, n)
	if err != nil {
		return nil, fmt.Errorf("%w: partition %s: %w", ErrTransientIO, group, err)
	}

	descriptors := make([]partitions.Descriptor, 0, len(parts))
	for i, part := range parts {
		d := partitions.Descriptor{
			PartitionNum: i + 1,
			StartAtPath:  part.StartAt,
			EndAtPath:    part.EndAt,
		}
		if err := plan.Write(d); err != nil {
			return nil, fmt.Errorf("%w: write partition %d: %w", ErrTransientIO, d.PartitionNum, err)
		}
		p.logger.Debug(fmt.Sprintf("  Partition %d: %q to %q", d.PartitionNum, d.StartAtPath, d.EndAtPath))
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}
