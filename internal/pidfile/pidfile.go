// Package pidfile provides PID file management for daemon lifecycle.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Common errors
var (
	ErrNoPIDFile  = errors.New("no PID file found")
	ErrInvalidPID = errors.New("invalid PID in file")
)

const (
	pidFileName = "voicehook.pid"
	dirPerm     = 0755
	filePerm    = 0644
)

// DefaultPath returns the conventional PID file location
// (~/.voicehook/voicehook.pid).
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".voicehook", pidFileName), nil
}

// Write creates the PID file at path with the given process ID.
// Creates parent directories if needed.
func Write(path string, pid int) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	content := strconv.Itoa(pid) + "\n"
	if err := os.WriteFile(path, []byte(content), filePerm); err != nil {
		return fmt.Errorf("write PID file: %w", err)
	}

	return nil
}

// Read reads the PID from the file at path.
// Returns ErrNoPIDFile if the file doesn't exist.
// Returns ErrInvalidPID if the file contains invalid data.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNoPIDFile
		}
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return 0, ErrInvalidPID
	}

	return pid, nil
}

// Remove deletes the PID file at path.
// Returns nil if the file doesn't exist.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove PID file: %w", err)
	}
	return nil
}

// IsRunning checks if the process recorded at path is alive.
// Returns (running, pid, error).
// If there's no PID file, returns (false, 0, nil).
// If the PID file exists but the process is not running (stale), returns (false, pid, nil).
// If the process is running, returns (true, pid, nil).
func IsRunning(path string) (bool, int, error) {
	pid, err := Read(path)
	if err != nil {
		if errors.Is(err, ErrNoPIDFile) {
			return false, 0, nil
		}
		return false, 0, err
	}

	// Signal 0 probes for existence without delivering anything.
	err = unix.Kill(pid, 0)
	if err != nil {
		if errors.Is(err, unix.ESRCH) {
			// Process not found, stale PID file.
			return false, pid, nil
		}
		if errors.Is(err, unix.EPERM) {
			// Permission denied means the process exists but belongs to
			// someone else.
			return true, pid, nil
		}
		return false, pid, fmt.Errorf("check process: %w", err)
	}

	return true, pid, nil
}

// CleanStale removes the PID file at path if its process is gone.
// Returns true if a stale PID file was removed.
func CleanStale(path string) (bool, error) {
	running, _, err := IsRunning(path)
	if err != nil {
		return false, err
	}

	if !running {
		if _, err := os.Stat(path); err == nil {
			if err := Remove(path); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	return false, nil
}
