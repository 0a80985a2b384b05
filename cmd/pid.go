package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/afero"
)

// TaskInfo is the progress of a running export, written next to its lock so
// the status command can report on it
type TaskInfo struct {
	PID            int       `json:"pid"`
	StartTime      time.Time `json:"start_time"`
	Target         string    `json:"target"`
	Mode           string    `json:"mode"`
	CurrentTask    string    `json:"current_task"`
	Progress       float64   `json:"progress"`
	TotalItems     int       `json:"total_items"`
	CompletedItems int       `json:"completed_items"`
	Documents      int       `json:"documents"`
	LastUpdate     time.Time `json:"last_update"`
}

// processRunning is swapped out in tests
var processRunning = IsProcessRunning

// Lock is a PID file guarding one export target
type Lock struct {
	fs        afero.Fs
	workspace string
	target    string
}

// GetPIDFilePath returns the lock file of target
func GetPIDFilePath(workspace, target string) string {
	return filepath.Join(workspace, target+".pid")
}

// GetTaskFilePath returns the task info file of target
func GetTaskFilePath(workspace, target string) string {
	return filepath.Join(workspace, target+".task.json")
}

// AcquireLock writes the current PID to the target's lock file. A lock held
// by a live process fails with ErrExportLocked; a lock left behind by a dead
// process is taken over.
func AcquireLock(fs afero.Fs, workspace, target string) (*Lock, error) {
	if err := fs.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	pidPath := GetPIDFilePath(workspace, target)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := fs.OpenFile(pidPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := f.WriteString(strconv.Itoa(os.Getpid()))
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = fs.Remove(pidPath)
				return nil, fmt.Errorf("failed to write PID file: %w", errors.Join(werr, cerr))
			}
			return &Lock{fs: fs, workspace: workspace, target: target}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create PID file: %w", err)
		}

		pid, err := ReadPIDFile(fs, pidPath)
		if err == nil && pid != os.Getpid() && processRunning(pid) {
			return nil, fmt.Errorf("%w (pid %d, %s)", ErrExportLocked, pid, pidPath)
		}

		// stale lock
		if err := fs.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale PID file: %w", err)
		}
	}
	return nil, fmt.Errorf("%w (%s)", ErrExportLocked, pidPath)
}

// Release removes the lock and task files
func (l *Lock) Release() error {
	_ = l.fs.Remove(GetTaskFilePath(l.workspace, l.target))
	return l.fs.Remove(GetPIDFilePath(l.workspace, l.target))
}

// WriteTaskInfo stores the progress of the locked export
func (l *Lock) WriteTaskInfo(info *TaskInfo) error {
	info.PID = os.Getpid()
	return WriteTaskInfo(l.fs, GetTaskFilePath(l.workspace, l.target), info)
}

// ReadPIDFile reads the PID from file
func ReadPIDFile(fs afero.Fs, pidPath string) (int, error) {
	data, err := afero.ReadFile(fs, pidPath)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}

	return pid, nil
}

// IsProcessRunning checks if a process with given PID is running
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix systems, we can send signal 0 to check if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// WriteTaskInfo writes task information to taskPath
func WriteTaskInfo(fs afero.Fs, taskPath string, info *TaskInfo) error {
	info.LastUpdate = time.Now()

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task info: %w", err)
	}

	return afero.WriteFile(fs, taskPath, data, 0o600)
}

// ReadTaskInfo reads task information from taskPath
func ReadTaskInfo(fs afero.Fs, taskPath string) (*TaskInfo, error) {
	data, err := afero.ReadFile(fs, taskPath)
	if err != nil {
		return nil, err
	}

	var info TaskInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task info: %w", err)
	}

	return &info, nil
}
