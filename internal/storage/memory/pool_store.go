package memory

import (
	"context"
	"sort"
	"sync"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu    sync.RWMutex
	pools map[int64]*domain.Pool // keyed by token ID
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{pools: make(map[int64]*domain.Pool)}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

// Put records a discovered pool. Test seam for the pool-discovery collaborator.
func (s *PoolStore) Put(p *domain.Pool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *p
	s.pools[p.TokenID] = &cp
}

// GetByToken retrieves the pool for a token. Returns ErrNotFound if none.
func (s *PoolStore) GetByToken(_ context.Context, tokenID int64) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pools[tokenID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// ListByChain retrieves all pools on a chain, ordered by token ID.
func (s *PoolStore) ListByChain(_ context.Context, chainID int64) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Pool
	for _, p := range s.pools {
		if p.ChainID == chainID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}
