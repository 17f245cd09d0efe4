// Package lockfile provides directory-based locking to prevent multiple ShiftPipe instances.
//
// The lock is an advisory flock held on a file in the state directory. The
// kernel releases it when the process exits, gracefully or not.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "shiftpipe.lock"

// ErrLocked is wrapped by LockError when another process holds the lock.
var ErrLocked = errors.New("state directory is locked")

// Lock represents an active directory lock
type Lock struct {
	flock *flock.Flock
	path  string
}

// AcquireLock attempts to acquire an exclusive lock on the state directory.
// It fails immediately with a *LockError if the lock is already held.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("AcquireLock: attempting", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", lockPath, err)
	}
	if !locked {
		info := readExistingLockInfo(lockPath)
		slog.Error("AcquireLock: another ShiftPipe instance is running", "lock_path", lockPath, "existing_lock_info", info)
		return nil, &LockError{LockPath: lockPath, ExistingInfo: info, Cause: ErrLocked}
	}

	if err := os.WriteFile(lockPath, []byte(fmt.Sprintf("pid=%d\n", os.Getpid())), 0644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("AcquireLock: acquired state directory lock", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{flock: fl, path: lockPath}, nil
}

// Release releases the lock and removes the lock file.
// This method is safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil || l.flock == nil || !l.flock.Locked() {
		return nil
	}
	// Remove first so no other process reads our stale pid.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.path, err)
	}
	slog.Info("Lock.Release: released state directory lock", "lock_path", l.path)
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// LockError represents an error when failing to acquire a lock due to another process
type LockError struct {
	LockPath     string
	ExistingInfo string
	Cause        error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("Another ShiftPipe instance is already running using the same state directory.\n\nLock file: %s", e.LockPath)
	if e.ExistingInfo != "" {
		msg += fmt.Sprintf("\nExisting process: %s", e.ExistingInfo)
	}
	msg += "\n\nIf you're certain no other ShiftPipe instance is running, the lock file may be stale.\n" +
		fmt.Sprintf("You can manually remove it with:\n  rm %s", e.LockPath)
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// readExistingLockInfo describes the process named in an existing lock file.
func readExistingLockInfo(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "lock file exists but contains no process information"
	}
	if pid := extractPIDFromLockInfo(content); pid > 0 {
		if isProcessRunning(pid) {
			return fmt.Sprintf("PID %d (running)", pid)
		}
		return fmt.Sprintf("PID %d (not running - stale lock)", pid)
	}
	return fmt.Sprintf("process information: %s", content)
}

// extractPIDFromLockInfo parses "pid=NNNN" from lock file content.
func extractPIDFromLockInfo(content string) int {
	const pidPrefix = "pid="
	idx := strings.Index(content, pidPrefix)
	if idx == -1 {
		return 0
	}
	start := idx + len(pidPrefix)
	end := start
	for end < len(content) && content[end] >= '0' && content[end] <= '9' {
		end++
	}
	pid, err := strconv.Atoi(content[start:end])
	if err != nil {
		return 0
	}
	return pid
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 probes for existence without delivering anything.
	return process.Signal(syscall.Signal(0)) == nil
}
