// Package partitions stores the partition descriptors of a collection-group
// export: one JSON file per remaining partition under <root>/<group>/. A plan
// is written under <root>/<group>.planning and renamed into place when complete.
package partitions

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const (
	filePrefix    = "partition-"
	fileSuffix    = ".json"
	stagingSuffix = ".planning"
)

// ErrInvalidDescriptor is returned for a descriptor file that cannot be parsed
var ErrInvalidDescriptor = errors.New("invalid partition descriptor")

// Descriptor is one unit of partitioned work. An empty StartAtPath means the
// beginning of the group, an empty EndAtPath means its end.
type Descriptor struct {
	PartitionNum int    `json:"partition_num"`
	StartAtPath  string `json:"start_at_path,omitempty"`
	EndAtPath    string `json:"end_at_path,omitempty"`

	// File is the descriptor's location, set when it is read back
	File string `json:"-"`
}

// Store reads and writes descriptors on an afero filesystem
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore creates a descriptor store under root
func NewStore(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// Dir returns the descriptor directory of group
func (s *Store) Dir(group string) string {
	return filepath.Join(s.root, group)
}

// FileName returns the descriptor file name for a partition number
func FileName(num int) string {
	return filePrefix + strconv.Itoa(num) + fileSuffix
}

// Exists reports whether the descriptor directory of group exists
func (s *Store) Exists(group string) (bool, error) {
	return afero.DirExists(s.fs, s.Dir(group))
}

// stagingDir holds the descriptors of a plan that is still being written
func (s *Store) stagingDir(group string) string {
	return s.Dir(group) + stagingSuffix
}

// Plan is a descriptor directory being written. Its descriptors are not
// visible to List until Commit moves the whole directory into place.
type Plan struct {
	store *Store
	group string
}

// BeginPlan starts a new plan for group in a staging directory, discarding
// one left behind by an interrupted plan
func (s *Store) BeginPlan(group string) (*Plan, error) {
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	staging := s.stagingDir(group)
	if err := s.fs.RemoveAll(staging); err != nil {
		return nil, fmt.Errorf("failed to remove stale plan: %w", err)
	}
	if err := s.fs.Mkdir(staging, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plan directory: %w", err)
	}
	return &Plan{store: s, group: group}, nil
}

// Write stores a descriptor in the plan
func (p *Plan) Write(d Descriptor) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal descriptor: %w", err)
	}
	return afero.WriteFile(p.store.fs, filepath.Join(p.store.stagingDir(p.group), FileName(d.PartitionNum)), data, 0o644)
}

// Commit publishes the plan as the descriptor directory of its group
func (p *Plan) Commit() error {
	exists, err := p.store.Exists(p.group)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("failed to publish plan: %s: %w", p.store.Dir(p.group), os.ErrExist)
	}
	if err := p.store.fs.Rename(p.store.stagingDir(p.group), p.store.Dir(p.group)); err != nil {
		return fmt.Errorf("failed to publish plan: %w", err)
	}
	return nil
}

// Abort discards the plan
func (p *Plan) Abort() error {
	return p.store.fs.RemoveAll(p.store.stagingDir(p.group))
}

// List returns the remaining descriptors of group ordered by partition number.
// A missing directory yields no descriptors.
func (s *Store) List(group string) ([]Descriptor, error) {
	entries, err := afero.ReadDir(s.fs, s.Dir(group))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list partitions: %w", err)
	}

	var descriptors []Descriptor
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}

		d, err := s.Read(filepath.Join(s.Dir(group), name))
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].PartitionNum < descriptors[j].PartitionNum
	})
	return descriptors, nil
}

// Read parses one descriptor file
func (s *Store) Read(file string) (Descriptor, error) {
	data, err := afero.ReadFile(s.fs, file)
	if err != nil {
		return Descriptor{}, fmt.Errorf("failed to read descriptor: %w", err)
	}

	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("%w: %s: %w", ErrInvalidDescriptor, file, err)
	}
	if d.PartitionNum < 1 {
		return Descriptor{}, fmt.Errorf("%w: %s: partition_num must be positive, got %d", ErrInvalidDescriptor, file, d.PartitionNum)
	}
	d.File = file
	return d, nil
}

// Delete removes the descriptor of a completed partition of group
func (s *Store) Delete(group string, d Descriptor) error {
	file := d.File
	if file == "" {
		file = filepath.Join(s.Dir(group), FileName(d.PartitionNum))
	}
	if err := s.fs.Remove(file); err != nil {
		return fmt.Errorf("failed to delete descriptor: %w", err)
	}
	return nil
}
