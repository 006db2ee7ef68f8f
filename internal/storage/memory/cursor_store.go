package memory

import (
	"context"
	"sync"

	"launchpad-indexer/internal/storage"
)

// CursorStore is an in-memory implementation of storage.CursorStore.
type CursorStore struct {
	mu      sync.RWMutex
	cursors map[int64]uint64
}

// NewCursorStore creates a new in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{cursors: make(map[int64]uint64)}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// Get returns the watermark for a chain.
func (s *CursorStore) Get(_ context.Context, chainID int64) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	block, ok := s.cursors[chainID]
	if !ok {
		return 0, storage.ErrNotFound
	}
	return block, nil
}

// Set advances the watermark.
func (s *CursorStore) Set(_ context.Context, chainID int64, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cursors[chainID] = block
	return nil
}

// set is the lock-free variant used by LedgerStore.CommitWindow, which holds
// its own lock ordering.
func (s *CursorStore) set(chainID int64, block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursors[chainID] = block
}
