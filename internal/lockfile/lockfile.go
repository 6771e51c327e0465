// Package lockfile keeps two TalkingPrompt servers from sharing one state
// directory.
//
// The lock is an flock on a file in the state directory, so the kernel
// releases it when the process exits, however it exits.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "talkingprompt.lock"

// Lock represents an active directory lock
type Lock struct {
	file *os.File
	path string
}

// Owner is what a lock file says about the process holding it.
type Owner struct {
	PID     int
	Addr    string
	Started string
}

func (o Owner) String() string {
	var parts []string
	if o.PID > 0 {
		state := "not running, stale lock"
		if isProcessRunning(o.PID) {
			state = "running"
		}
		parts = append(parts, fmt.Sprintf("PID %d (%s)", o.PID, state))
	}
	if o.Addr != "" {
		parts = append(parts, "serving "+o.Addr)
	}
	if o.Started != "" {
		parts = append(parts, "since "+o.Started)
	}
	return strings.Join(parts, ", ")
}

// AcquireLock takes an exclusive lock on stateDir, creating it if needed.
// addr is recorded so a second instance can say which server holds the
// lock. A held lock yields a *LockError.
func AcquireLock(stateDir, addr string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Attempting to acquire lock", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// No O_TRUNC: the holder's details must survive a failed attempt.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		owner := readOwner(lockPath)
		slog.Error("Failed to acquire lock - another TalkingPrompt instance is running",
			"error", err, "lock_path", lockPath, "owner", owner.String())
		return nil, &LockError{LockPath: lockPath, Owner: owner, Cause: err}
	}

	if err := writeOwner(file, Owner{PID: os.Getpid(), Addr: addr, Started: time.Now().UTC().Format(time.RFC3339)}); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Acquired state directory lock", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Failed to release flock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Failed to close lock file", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock file", "error", err, "lock_path", l.path)
	}
	l.file = nil
	slog.Info("Released state directory lock", "lock_path", l.path)
	return nil
}

// LockError reports a lock held by another process.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Another TalkingPrompt instance is already running using the same state directory.\n\nLock file: %s", e.LockPath)
	if owner := e.Owner.String(); owner != "" {
		fmt.Fprintf(&b, "\nExisting process: %s", owner)
	}
	fmt.Fprintf(&b, "\n\nIf no other instance is running, the lock is stale and can be removed with:\n  rm %s", e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "pid=%d\naddr=%s\nstarted=%s\n", o.PID, o.Addr, o.Started); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Failed to sync lock file", "error", err)
	}
	return nil
}

// readOwner parses key=value lines from an existing lock file. Unknown
// keys and unreadable files yield a zero Owner.
func readOwner(lockPath string) Owner {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Owner{}
	}
	return parseOwner(string(data))
}

func parseOwner(content string) Owner {
	var o Owner
	for _, line := range strings.Split(content, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(val); err == nil {
				o.PID = pid
			}
		case "addr":
			o.Addr = val
		case "started":
			o.Started = val
		}
	}
	return o
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
