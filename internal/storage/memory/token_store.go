package memory

import (
	"context"
	"sort"
	"sync"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu     sync.RWMutex
	tokens map[int64]*domain.Token
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{tokens: make(map[int64]*domain.Token)}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// Put registers a token. Test seam for the upstream registration flow.
func (s *TokenStore) Put(t *domain.Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *t
	s.tokens[t.TokenID] = &cp
}

// GetByID retrieves a token. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByID(_ context.Context, tokenID int64) (*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ListByChain retrieves all tokens deployed on a chain, ordered by token ID.
func (s *TokenStore) ListByChain(_ context.Context, chainID int64) ([]*domain.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Token
	for _, t := range s.tokens {
		if t.ChainID == chainID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out, nil
}

// SetDeploymentBlock caches a resolved deployment block.
func (s *TokenStore) SetDeploymentBlock(_ context.Context, tokenID int64, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return storage.ErrNotFound
	}
	b := block
	t.DeploymentBlock = &b
	return nil
}

// UpdateHolderCount stores the recomputed holder count.
func (s *TokenStore) UpdateHolderCount(_ context.Context, tokenID int64, count int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return storage.ErrNotFound
	}
	t.HolderCount = count
	return nil
}

// UpdateSummary stores the derived cache fields, keeping on_dex monotonic.
func (s *TokenStore) UpdateSummary(_ context.Context, tokenID int64, sum *domain.TokenSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[tokenID]
	if !ok {
		return storage.ErrNotFound
	}
	t.CurrentPrice = sum.CurrentPrice
	t.LiquidityEth = sum.LiquidityEth
	t.LiquidityUsd = sum.LiquidityUsd
	t.FDV = sum.FDV
	t.MarketCap = sum.MarketCap
	t.OnDex = t.OnDex || sum.OnDex
	return nil
}
