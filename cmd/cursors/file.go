package cursors

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// FileStore keeps each cursor as a single line in <root>/<target>.cursor
type FileStore struct {
	fs   afero.Fs
	root string
}

// NewFileStore creates a file-backed cursor store under root
func NewFileStore(fs afero.Fs, root string) *FileStore {
	return &FileStore{fs: fs, root: root}
}

// Path returns the cursor file of target
func (s *FileStore) Path(target string) string {
	return filepath.Join(s.root, target+".cursor")
}

// Load implements Store. Only the first line is significant.
func (s *FileStore) Load(_ context.Context, target string) (string, bool, error) {
	f, err := s.fs.Open(s.Path(target))
	if errors.Is(err, os.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to open cursor file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var line string
	if scanner.Scan() {
		line = strings.TrimSpace(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return "", false, fmt.Errorf("failed to read cursor file: %w", err)
	}
	if line == "" {
		return "", false, nil
	}
	return line, true, nil
}

// Save implements Store. The cursor is written to a temporary file and renamed
// into place so a crash never leaves a truncated cursor.
func (s *FileStore) Save(_ context.Context, target, cursor string) error {
	if err := s.fs.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	path := s.Path(target)
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, []byte(cursor), 0o644); err != nil {
		return fmt.Errorf("failed to write cursor file: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("failed to replace cursor file: %w", err)
	}
	return nil
}
