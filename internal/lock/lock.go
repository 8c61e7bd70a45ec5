// Package lock serializes deployment cycles on a host. The two rotation
// ports and the proxy config file are host-wide singletons, so only one
// invocation may mutate them at a time.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// Lock is a non-blocking flock(2) guard. The lock is advisory and is
// released by the OS if the process dies without calling Release.
type Lock struct {
	path string
	file *os.File
	held bool
}

// New creates a lock at <dir>/<name>.lock. Does not acquire it.
func New(dir, name string) *Lock {
	if dir == "" {
		dir = os.TempDir()
	}
	return &Lock{path: filepath.Join(dir, name+".lock")}
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Acquire takes the exclusive lock, failing immediately when another
// deployment invocation holds it. Calling Acquire while held is a no-op.
func (l *Lock) Acquire() error {
	if l.held {
		return nil
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("create lock file %s: %w", l.path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := readPID(f)
		f.Close()
		if err == syscall.EWOULDBLOCK {
			if holder > 0 {
				return fmt.Errorf("another deployment is in progress (PID %d, lock %s)", holder, l.path)
			}
			return fmt.Errorf("another deployment is in progress (lock %s)", l.path)
		}
		return fmt.Errorf("acquire lock %s: %w", l.path, err)
	}

	// Record our PID for the operator. Best effort.
	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	l.file = f
	l.held = true
	return nil
}

// IsHeld reports whether this process currently holds the lock.
func (l *Lock) IsHeld() bool { return l.held }

// Release drops the lock. Safe to call multiple times or when never acquired.
func (l *Lock) Release() error {
	if !l.held {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	err := l.file.Close()
	l.file = nil
	l.held = false
	return err
}

func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, err := f.ReadAt(buf, 0)
	if n == 0 && err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
