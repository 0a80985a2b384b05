package partitions

import (
	"errors"
	"os"
	"testing"

	"github.com/spf13/afero"
)

func TestStore(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "workspace")

	plan, err := store.BeginPlan("items")
	if err != nil {
		t.Fatal(err)
	}

	descriptors := []Descriptor{
		{PartitionNum: 1, EndAtPath: "a/1/items/x"},
		{PartitionNum: 2, StartAtPath: "a/1/items/x", EndAtPath: "b/2/items/y"},
		{PartitionNum: 10, StartAtPath: "b/2/items/y"},
	}
	for _, d := range descriptors {
		if err := plan.Write(d); err != nil {
			t.Fatal(err)
		}
	}

	if exists, _ := store.Exists("items"); exists {
		t.Fatal("an uncommitted plan must not be visible")
	}
	if listed, _ := store.List("items"); len(listed) != 0 {
		t.Fatalf("an uncommitted plan must not be listed, got %+v", listed)
	}
	if err := plan.Commit(); err != nil {
		t.Fatal(err)
	}
	if exists, _ := afero.DirExists(fs, "workspace/items.planning"); exists {
		t.Fatal("the staging directory should be gone after commit")
	}

	data, err := afero.ReadFile(fs, "workspace/items/partition-1.json")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"partition_num":1,"end_at_path":"a/1/items/x"}` {
		t.Fatalf("unexpected descriptor file %s", data)
	}

	listed, err := store.List("items")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(listed))
	}
	for i, want := range []int{1, 2, 10} {
		if listed[i].PartitionNum != want {
			t.Fatalf("descriptor %d: expected partition %d, got %d", i, want, listed[i].PartitionNum)
		}
	}
	if listed[1].StartAtPath != "a/1/items/x" || listed[1].EndAtPath != "b/2/items/y" {
		t.Fatalf("unexpected bounds %+v", listed[1])
	}

	if err := store.Delete("items", listed[0]); err != nil {
		t.Fatal(err)
	}
	listed, err = store.List("items")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 2 || listed[0].PartitionNum != 2 {
		t.Fatalf("unexpected descriptors after delete %+v", listed)
	}

	if err := store.Delete("items", Descriptor{PartitionNum: 10}); err != nil {
		t.Fatal(err)
	}
	if listed, _ = store.List("items"); len(listed) != 1 {
		t.Fatalf("expected descriptor 10 to be deleted by number, got %+v", listed)
	}

}

func TestListMissingDirectory(t *testing.T) {
	store := NewStore(afero.NewMemMapFs(), "workspace")
	listed, err := store.List("items")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 0 {
		t.Fatalf("expected no descriptors, got %d", len(listed))
	}
}

func TestListIgnoresForeignFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "workspace")
	plan, err := store.BeginPlan("items")
	if err != nil {
		t.Fatal(err)
	}
	if err := plan.Write(Descriptor{PartitionNum: 1}); err != nil {
		t.Fatal(err)
	}
	if err := plan.Commit(); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fs, "workspace/items/notes.txt", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	listed, err := store.List("items")
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 descriptor, got %d", len(listed))
	}
}

func TestReadInvalidDescriptor(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{"},
		{"missing partition number", `{"start_at_path":"a/b"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			store := NewStore(fs, "workspace")
			if err := afero.WriteFile(fs, "workspace/items/partition-1.json", []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}

			_, err := store.List("items")
			if !errors.Is(err, ErrInvalidDescriptor) {
				t.Fatalf("expected ErrInvalidDescriptor, got %v", err)
			}
		})
	}
}

func TestPlanLifecycle(t *testing.T) {
	t.Run("leftover staging directory is discarded", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		store := NewStore(fs, "workspace")
		if err := afero.WriteFile(fs, "workspace/items.planning/partition-7.json", []byte(`{"partition_num":7}`), 0o644); err != nil {
			t.Fatal(err)
		}

		plan, err := store.BeginPlan("items")
		if err != nil {
			t.Fatal(err)
		}
		if err := plan.Write(Descriptor{PartitionNum: 1}); err != nil {
			t.Fatal(err)
		}
		if err := plan.Commit(); err != nil {
			t.Fatal(err)
		}

		listed, err := store.List("items")
		if err != nil {
			t.Fatal(err)
		}
		if len(listed) != 1 || listed[0].PartitionNum != 1 {
			t.Fatalf("expected only the new descriptor, got %+v", listed)
		}
	})

	t.Run("abort leaves nothing behind", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		store := NewStore(fs, "workspace")
		plan, err := store.BeginPlan("items")
		if err != nil {
			t.Fatal(err)
		}
		if err := plan.Write(Descriptor{PartitionNum: 1}); err != nil {
			t.Fatal(err)
		}
		if err := plan.Abort(); err != nil {
			t.Fatal(err)
		}
		if exists, _ := afero.DirExists(fs, "workspace/items.planning"); exists {
			t.Fatal("staging directory should be removed")
		}
		if exists, _ := store.Exists("items"); exists {
			t.Fatal("an aborted plan must not be published")
		}
	})

	t.Run("commit refuses to replace a published plan", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		store := NewStore(fs, "workspace")
		if err := fs.MkdirAll("workspace/items", 0o755); err != nil {
			t.Fatal(err)
		}
		plan, err := store.BeginPlan("items")
		if err != nil {
			t.Fatal(err)
		}
		if err := plan.Commit(); !errors.Is(err, os.ErrExist) {
			t.Fatalf("expected os.ErrExist, got %v", err)
		}
	})
}
