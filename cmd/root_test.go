package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/airframesio/firestore-exporter/cmd/cursors"
	"github.com/airframesio/firestore-exporter/cmd/objectstore"
	"github.com/spf13/afero"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		format string
		check  func(t *testing.T, out string)
	}{
		{"text", func(t *testing.T, out string) {
			if !strings.HasSuffix(strings.TrimSpace(out), "INFO ✅ done") || strings.Contains(out, "rows=") {
				t.Fatalf("unexpected text output %q", out)
			}
		}},
		{"logfmt", func(t *testing.T, out string) {
			if !strings.Contains(out, `msg="✅ done"`) || !strings.Contains(out, "rows=3") {
				t.Fatalf("unexpected logfmt output %q", out)
			}
		}},
		{"json", func(t *testing.T, out string) {
			var entry map[string]interface{}
			if err := json.Unmarshal([]byte(out), &entry); err != nil {
				t.Fatalf("expected a JSON line, got %q: %v", out, err)
			}
			if entry["msg"] != "✅ done" {
				t.Fatalf("unexpected message %v", entry["msg"])
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			newLogger(&buf, false, tt.format).Info("✅ done", "rows", 3)
			tt.check(t, buf.String())
		})
	}

	t.Run("debug level", func(t *testing.T) {
		var buf bytes.Buffer
		newLogger(&buf, false, "text").Debug("hidden")
		if buf.Len() != 0 {
			t.Fatalf("debug output without --debug: %q", buf.String())
		}
		newLogger(&buf, true, "text").Debug("shown")
		if !strings.Contains(buf.String(), "DEBUG shown") {
			t.Fatalf("expected debug output, got %q", buf.String())
		}
	})
}

func TestCommands(t *testing.T) {
	for _, name := range []string{"export", "plan", "status"} {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected a %s command, got %v", name, err)
		}
	}

	for _, flag := range []string{"source-collection", "collection-group", "num-partitions", "workspace", "cursor-store"} {
		if rootCmd.PersistentFlags().Lookup(flag) == nil {
			t.Fatalf("missing persistent flag --%s", flag)
		}
	}
	for _, flag := range []string{"dest-bucket", "batch-size", "num-threads", "compression", "progress"} {
		if exportCmd.Flags().Lookup(flag) == nil {
			t.Fatalf("missing export flag --%s", flag)
		}
	}
	if got := exportCmd.Flags().Lookup("batch-size").DefValue; got != "500" {
		t.Fatalf("expected default batch size 500, got %s", got)
	}
}

func TestNewCursorStore(t *testing.T) {
	fs := afero.NewMemMapFs()

	store, closeStore, err := newCursorStore(context.Background(), fs, &Config{Workspace: "/workspace", CursorStore: cursors.StoreFile})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*cursors.FileStore); !ok {
		t.Fatalf("expected a file store, got %T", store)
	}

	_, _, err = newCursorStore(context.Background(), fs, &Config{CursorStore: "redis"})
	if !errors.Is(err, cursors.ErrUnknownStore) {
		t.Fatalf("expected ErrUnknownStore, got %v", err)
	}
}

func TestNewObjectStore(t *testing.T) {
	config := validConfig()
	config.Store = objectstore.StoreS3
	config.S3 = S3Config{Endpoint: "http://localhost:9000", AccessKey: "key", SecretKey: "secret", Region: "us-east-1"}

	store, err := newObjectStore(context.Background(), config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()
	if uri := store.URI("a/b.json"); uri != "s3://export-bucket/a/b.json" {
		t.Fatalf("unexpected URI %s", uri)
	}

	config.Store = "ftp"
	if _, err := newObjectStore(context.Background(), config); !errors.Is(err, objectstore.ErrUnknownStore) {
		t.Fatalf("expected ErrUnknownStore, got %v", err)
	}
}

func TestIsCancelled(t *testing.T) {
	if !IsCancelled(errors.Join(errors.New("export failed"), context.Canceled)) {
		t.Fatal("expected a wrapped cancellation to be detected")
	}
	if IsCancelled(ErrTransientIO) {
		t.Fatal("transient errors are not cancellations")
	}
}
