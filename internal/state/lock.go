package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// staleLockAge is how old a lock file must be before it is presumed
// abandoned by a crashed run.
const staleLockAge = 10 * time.Minute

// LockHeldError is returned when another run holds the state lock.
type LockHeldError struct {
	Path string
	Info string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("state is locked by another process (%s). If no other run is active, remove the lock manually: %s", e.Info, e.Path)
}

// Lock acquires the state lock. It fails with *LockHeldError when another
// run holds it. Creation is O_EXCL so two runs racing for the lock cannot
// both win.
func (m *Manager) Lock(ctx context.Context) error {
	lockPath := m.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	content := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))

	f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, os.ErrExist) {
		info, statErr := os.Stat(lockPath)
		if statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			// Presumed crashed holder; steal the lock.
			os.Remove(lockPath)
			f, err = os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		}
		if err != nil {
			holder, _ := os.ReadFile(lockPath)
			return &LockHeldError{Path: lockPath, Info: string(holder)}
		}
	} else if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		os.Remove(lockPath)
		return fmt.Errorf("failed to write lock file: %w", err)
	}
	return nil
}

// Unlock releases the state lock.
func (m *Manager) Unlock(ctx context.Context) error {
	if err := os.Remove(m.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (m *Manager) lockPath() string {
	return m.path + ".lock"
}
