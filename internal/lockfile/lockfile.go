// Package lockfile keeps two SupportPipe processes from sharing one state directory.
//
// The lock is an flock(2) on a file inside the directory, so the kernel drops it
// when the holder exits, however it exits.
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
	"time"
)

// LockFileName is the lock file created in the state directory.
const LockFileName = "supportpipe.lock"

// ErrNotHeld is returned by Release on a lock that was already released.
var ErrNotHeld = errors.New("lock not held")

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Host    string
	Started time.Time
}

// Running reports whether the holder process still exists on this host.
func (h Holder) Running() bool {
	if h.PID <= 0 {
		return false
	}
	if host, _ := os.Hostname(); h.Host != "" && host != h.Host {
		return false
	}
	process, err := os.FindProcess(h.PID)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func (h Holder) String() string {
	if h.PID <= 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if h.Running() {
		state = "running"
	}
	s := fmt.Sprintf("PID %d (%s)", h.PID, state)
	if h.Host != "" {
		s += " on " + h.Host
	}
	if !h.Started.IsZero() {
		s += " since " + h.Started.Format(time.RFC3339)
	}
	return s
}

// encode writes the holder as "key=value" lines.
func (h Holder) encode() string {
	return fmt.Sprintf("pid=%d\nhost=%s\nstarted=%s\n", h.PID, h.Host, h.Started.UTC().Format(time.RFC3339))
}

// parseHolder reads what encode wrote; unknown or malformed lines are skipped.
func parseHolder(content string) Holder {
	var h Holder
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "host":
			h.Host = value
		case "started":
			h.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return h
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the exclusive lock on stateDir, creating the directory if needed.
// When another process holds it the error is a *LockError naming that process.
func Acquire(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Lockfile Acquire invoked", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	// O_TRUNC would wipe the holder's details before we know the lock is ours.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder := readHolder(lockPath)
		slog.Error("Lockfile Acquire failed, another SupportPipe instance is running", "error", err, "lock_path", lockPath, "holder", holder.String())
		return nil, &LockError{LockPath: lockPath, Holder: holder, Cause: err}
	}

	host, _ := os.Hostname()
	self := Holder{PID: os.Getpid(), Host: host, Started: time.Now()}
	if err := writeHolder(file, self); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Lockfile acquired", "lock_path", lockPath, "pid", self.PID)
	return &Lock{file: file, path: lockPath}, nil
}

func writeHolder(file *os.File, h Holder) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(h.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lockfile sync failed", "error", err, "lock_path", file.Name())
	}
	return nil
}

func readHolder(lockPath string) Holder {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Holder{}
	}
	return parseHolder(string(data))
}

// Release drops the lock and removes the file. A second call returns ErrNotHeld.
func (l *Lock) Release() error {
	if l.file == nil {
		return ErrNotHeld
	}
	// Remove while still holding the lock so a new owner never loses its file.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lockfile remove failed", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lockfile unlock failed", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lockfile released", "lock_path", l.path)
	return err
}

// LockError reports a state directory held by another process.
type LockError struct {
	LockPath string
	Holder   Holder
	Cause    error
}

func (e *LockError) Error() string {
	return fmt.Sprintf("state directory is locked by another SupportPipe instance: %s (lock file %s); "+
		"if that process is gone, remove the lock file and retry", e.Holder, e.LockPath)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}
