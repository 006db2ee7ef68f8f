package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Candle
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{data: make(map[string]*domain.Candle)}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

func candleKey(tokenID int64, interval domain.CandleInterval, ts int64) string {
	return fmt.Sprintf("%d|%s|%d", tokenID, interval, ts)
}

// UpsertBulk inserts or replaces candles by (token_id, interval, ts).
func (s *CandleStore) UpsertBulk(_ context.Context, candles []*domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		if c == nil {
			return storage.ErrInvalidInput
		}
		cp := *c
		s.data[candleKey(c.TokenID, c.Interval, c.Ts)] = &cp
	}
	return nil
}

// LatestTs returns the most recent bucket start for a token/interval.
func (s *CandleStore) LatestTs(_ context.Context, tokenID int64, interval domain.CandleInterval) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64 = -1
	for _, c := range s.data {
		if c.TokenID == tokenID && c.Interval == interval && c.Ts > latest {
			latest = c.Ts
		}
	}
	if latest < 0 {
		return 0, storage.ErrNotFound
	}
	return latest, nil
}

// ListRange retrieves candles with ts in [from, to), ordered by ts ASC.
func (s *CandleStore) ListRange(_ context.Context, tokenID int64, interval domain.CandleInterval, from, to int64) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Candle
	for _, c := range s.data {
		if c.TokenID == tokenID && c.Interval == interval && c.Ts >= from && c.Ts < to {
			cp := *c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	return out, nil
}
