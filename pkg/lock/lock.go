package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
)

// ErrAlreadyLocked is returned by Acquire when another process holds the lock.
var ErrAlreadyLocked = errors.New("lock already held by another process")

// FileLock is a filesystem-backed mutual exclusion primitive scoped to one
// lock file path. At most one process system-wide can hold it at a time.
type FileLock struct {
	path string

	mu   sync.Mutex
	file *os.File
	held bool
}

// New creates a FileLock for the given path. The lock is not acquired.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire takes the lock, failing immediately with ErrAlreadyLocked if it is
// held by another process. The lock file contains the holder's PID for
// operator diagnostics.
func (l *FileLock) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	for {
		file, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open lock file: %w", err)
		}

		if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
			file.Close()
			if err == syscall.EWOULDBLOCK {
				return ErrAlreadyLocked
			}
			return fmt.Errorf("flock: %w", err)
		}

		// A releasing holder unlinks the path before unlocking, so the inode
		// just locked may no longer be the file at the path. Only a lock on
		// the current file counts; otherwise lock the replacement.
		current, err := currentAtPath(file, l.path)
		if err != nil {
			file.Close()
			return err
		}
		if !current {
			file.Close()
			continue
		}

		if err := file.Truncate(0); err == nil {
			fmt.Fprintf(file, "%d\n", os.Getpid())
		}

		l.file = file
		l.held = true
		return nil
	}
}

// currentAtPath reports whether f is still the file that lives at path.
func currentAtPath(f *os.File, path string) (bool, error) {
	ffi, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("failed to stat lock file: %w", err)
	}
	pfi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat lock path: %w", err)
	}
	return os.SameFile(ffi, pfi), nil
}

// Release drops the lock and removes the lock file. Safe to call multiple
// times and on a lock that was never acquired.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return nil
	}

	// Remove before unlocking so a waiter never observes an unlocked file
	// that is about to disappear.
	removeErr := os.Remove(l.path)
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()

	l.file = nil
	l.held = false

	if removeErr != nil && !os.IsNotExist(removeErr) {
		return fmt.Errorf("failed to remove lock file: %w", removeErr)
	}
	if unlockErr != nil {
		return fmt.Errorf("flock unlock: %w", unlockErr)
	}
	return closeErr
}

// Held reports whether this process currently holds the lock.
func (l *FileLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}
