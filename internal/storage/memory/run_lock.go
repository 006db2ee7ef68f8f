package memory

import (
	"context"
	"sync"

	"launchpad-indexer/internal/storage"
)

// RunLock is an in-memory implementation of storage.RunLock.
type RunLock struct {
	mu   sync.Mutex
	held bool
}

// NewRunLock creates a new in-memory run lock.
func NewRunLock() *RunLock {
	return &RunLock{}
}

// Compile-time interface check.
var _ storage.RunLock = (*RunLock)(nil)

// Acquire takes the lease. Returns ErrLockHeld when unavailable.
func (l *RunLock) Acquire(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held {
		return storage.ErrLockHeld
	}
	l.held = true
	return nil
}

// Release returns the lease. Safe to call when not held.
func (l *RunLock) Release(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.held = false
	return nil
}
