package cmd

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/airframesio/firestore-exporter/cmd/docstore"
	"github.com/airframesio/firestore-exporter/cmd/partitions"
)

// concurrencyClient records how many queries run at the same time
type concurrencyClient struct {
	*docstore.MemoryClient

	mu     sync.Mutex
	active int
	peak   int
}

func (c *concurrencyClient) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	c.mu.Lock()
	c.active++
	if c.active > c.peak {
		c.peak = c.active
	}
	c.mu.Unlock()

	time.Sleep(10 * time.Millisecond)

	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return c.MemoryClient.Query(ctx, q)
}

func itemsConfig(t *testing.T, n int) ExportConfig {
	t.Helper()
	target, err := NewCollectionGroupTarget("items", n)
	if err != nil {
		t.Fatalf("failed to create target: %v", err)
	}
	return NewExportConfig("proj", target, "bucket")
}

func (e *testEnv) pool(t *testing.T, client docstore.Client, config ExportConfig, threads int) (*Pool, *partitions.Store) {
	t.Helper()
	store := partitions.NewStore(e.fs, "/workspace")
	uploader := testUploader(t, e.fs, e.store, config)
	exporter := NewPartitionExporter(config, client, store, uploader, newTestLogger())
	return NewPool(exporter, store, threads, newTestLogger()), store
}

func (e *testEnv) plan(t *testing.T, n int) {
	t.Helper()
	if _, err := NewPlanner(e.client, partitions.NewStore(e.fs, "/workspace"), newTestLogger()).Plan(context.Background(), "items", n); err != nil {
		t.Fatalf("failed to plan: %v", err)
	}
}

func writeDescriptors(t *testing.T, store *partitions.Store, descriptors ...partitions.Descriptor) {
	t.Helper()
	plan, err := store.BeginPlan("items")
	if err != nil {
		t.Fatalf("failed to start plan: %v", err)
	}
	for _, d := range descriptors {
		if err := plan.Write(d); err != nil {
			t.Fatalf("failed to write descriptor: %v", err)
		}
	}
	if err := plan.Commit(); err != nil {
		t.Fatalf("failed to commit plan: %v", err)
	}
}

func TestPoolExportsEveryDocumentOnce(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4, 7, 20} {
		t.Run(fmt.Sprintf("partitions=%d", n), func(t *testing.T) {
			env := newTestEnv()
			var paths []string
			for i := 0; i < 10; i++ {
				paths = append(paths, fmt.Sprintf("carts/c%02d/items/i%d", i, i))
			}
			seedItems(env, paths...)
			env.client.Put("carts/c00/notes/n1", map[string]interface{}{"ignored": true})
			env.plan(t, n)

			pool, store := env.pool(t, env.client, itemsConfig(t, n), 3)
			result, err := pool.Run(context.Background(), "items")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Failed != 0 {
				t.Fatalf("expected no failures, got %+v", result.Results)
			}
			if result.Documents != 10 {
				t.Fatalf("expected 10 documents, got %d", result.Documents)
			}

			seen := make(map[string]int)
			for _, key := range env.store.Keys() {
				if !strings.HasPrefix(key, "firestore_items_export/part-") {
					t.Fatalf("unexpected object name %s", key)
				}
				for _, r := range env.readObject(t, key) {
					seen[r.DocumentName]++
				}
			}
			for _, p := range paths {
				if c := seen[docstore.DocumentName("proj", p)]; c != 1 {
					t.Fatalf("document %s exported %d times", p, c)
				}
			}

			remaining, err := store.List("items")
			if err != nil {
				t.Fatalf("failed to list descriptors: %v", err)
			}
			if len(remaining) != 0 {
				t.Fatalf("expected every descriptor to be deleted, %d remain", len(remaining))
			}
		})
	}
}

func TestPoolObjectNames(t *testing.T) {
	env := newTestEnv()
	seedItems(env, "carts/c1/items/i1", "carts/c2/items/i2")
	env.plan(t, 2)

	pool, _ := env.pool(t, env.client, itemsConfig(t, 2), 2)
	if _, err := pool.Run(context.Background(), "items"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{
		"firestore_items_export/part-1-i1-to-i1.json",
		"firestore_items_export/part-2-i2-to-i2.json",
	}
	keys := env.store.Keys()
	if len(keys) != len(want) || keys[0] != want[0] || keys[1] != want[1] {
		t.Fatalf("expected objects %v, got %v", want, keys)
	}
}

func TestPoolNoDescriptors(t *testing.T) {
	env := newTestEnv()
	pool, _ := env.pool(t, env.client, itemsConfig(t, 4), 2)

	started := false
	pool.OnStart = func(remaining []partitions.Descriptor) {
		started = true
		if len(remaining) != 0 {
			t.Errorf("expected no descriptors, got %d", len(remaining))
		}
	}

	result, err := pool.Run(context.Background(), "items")
	if err != nil {
		t.Fatalf("a missing plan is not an error, got %v", err)
	}
	if !started || len(result.Results) != 0 {
		t.Fatalf("expected an empty run, got %+v", result)
	}
}

func TestPoolEmptyPartition(t *testing.T) {
	env := newTestEnv()
	seedItems(env, "carts/c1/items/i1")
	pool, store := env.pool(t, env.client, itemsConfig(t, 2), 1)
	writeDescriptors(t, store, partitions.Descriptor{PartitionNum: 1, StartAtPath: "carts/c1/items/i1"})

	result, err := pool.Run(context.Background(), "items")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Empty != 1 || result.Failed != 0 {
		t.Fatalf("expected one empty partition, got %+v", result)
	}
	if env.store.Puts != 0 {
		t.Fatalf("an empty partition must not upload, got %d puts", env.store.Puts)
	}
	if remaining, _ := store.List("items"); len(remaining) != 0 {
		t.Fatalf("an empty partition counts as done, %d descriptors remain", len(remaining))
	}
}

func TestPoolContinuesAfterFailure(t *testing.T) {
	env := newTestEnv()
	seedItems(env, "carts/c1/items/i1", "carts/c2/items/i2")
	pool, store := env.pool(t, env.client, itemsConfig(t, 2), 2)
	writeDescriptors(t, store,
		partitions.Descriptor{PartitionNum: 1, StartAtPath: "carts/gone/items/x"},
		partitions.Descriptor{PartitionNum: 2, EndAtPath: "carts/c2/items/i2"},
	)

	var reported []int
	pool.OnResult = func(r PartitionResult) {
		reported = append(reported, r.Descriptor.PartitionNum)
	}

	result, err := pool.Run(context.Background(), "items")
	if err != nil {
		t.Fatalf("partition failures must not fail the run, got %v", err)
	}
	if result.Failed != 1 || result.Succeeded != 1 {
		t.Fatalf("expected one failure and one success, got %+v", result)
	}
	if len(reported) != 2 {
		t.Fatalf("expected both partitions to be reported, got %v", reported)
	}

	remaining, err := store.List("items")
	if err != nil {
		t.Fatalf("failed to list descriptors: %v", err)
	}
	if len(remaining) != 1 || remaining[0].PartitionNum != 1 {
		t.Fatalf("only the failed descriptor should remain, got %+v", remaining)
	}
	if env.store.Keys()[0] != "firestore_items_export/part-2-i1-to-i2.json" {
		t.Fatalf("unexpected objects %v", env.store.Keys())
	}
}

func TestPoolRespectsThreadLimit(t *testing.T) {
	env := newTestEnv()
	var paths []string
	for i := 0; i < 12; i++ {
		paths = append(paths, fmt.Sprintf("carts/c%02d/items/i%d", i, i))
	}
	seedItems(env, paths...)
	env.plan(t, 6)

	client := &concurrencyClient{MemoryClient: env.client}
	pool, _ := env.pool(t, client, itemsConfig(t, 6), 2)
	result, err := pool.Run(context.Background(), "items")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Succeeded != 6 {
		t.Fatalf("expected 6 partitions, got %+v", result)
	}
	if client.peak > 2 {
		t.Fatalf("expected at most 2 concurrent workers, saw %d", client.peak)
	}
}

func TestPoolDryRun(t *testing.T) {
	env := newTestEnv()
	seedItems(env, "carts/c1/items/i1", "carts/c2/items/i2")
	env.plan(t, 2)

	pool, store := env.pool(t, env.client, itemsConfig(t, 2).WithDryRun(true), 2)
	result, err := pool.Run(context.Background(), "items")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Documents != 2 || env.store.Puts != 0 {
		t.Fatalf("dry run should read 2 documents without uploading, got %d documents and %d puts", result.Documents, env.store.Puts)
	}
	if remaining, _ := store.List("items"); len(remaining) != 2 {
		t.Fatalf("dry run must keep descriptors, %d remain", len(remaining))
	}
}

func TestPoolCancelled(t *testing.T) {
	env := newTestEnv()
	seedItems(env, "carts/c1/items/i1", "carts/c2/items/i2")
	env.plan(t, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool, store := env.pool(t, env.client, itemsConfig(t, 2), 2)
	if _, err := pool.Run(ctx, "items"); err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if remaining, _ := store.List("items"); len(remaining) != 2 {
		t.Fatalf("unstarted partitions must keep their descriptors, %d remain", len(remaining))
	}
}
