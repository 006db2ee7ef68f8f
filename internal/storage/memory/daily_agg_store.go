package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// DailyAggStore is an in-memory implementation of storage.DailyAggStore.
type DailyAggStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DailyAgg
}

// NewDailyAggStore creates a new in-memory daily aggregate store.
func NewDailyAggStore() *DailyAggStore {
	return &DailyAggStore{data: make(map[string]*domain.DailyAgg)}
}

// Compile-time interface check.
var _ storage.DailyAggStore = (*DailyAggStore)(nil)

func dailyKey(tokenID int64, day int64) string {
	return fmt.Sprintf("%d|%d", tokenID, day)
}

// Upsert inserts or replaces aggregates by (token_id, day).
func (s *DailyAggStore) Upsert(_ context.Context, aggs []*domain.DailyAgg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range aggs {
		if a == nil {
			return storage.ErrInvalidInput
		}
		cp := *a
		s.data[dailyKey(a.TokenID, a.Day)] = &cp
	}
	return nil
}

// LatestDay returns the most recent day start for a token.
func (s *DailyAggStore) LatestDay(_ context.Context, tokenID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest int64 = -1
	for _, a := range s.data {
		if a.TokenID == tokenID && a.Day > latest {
			latest = a.Day
		}
	}
	if latest < 0 {
		return 0, storage.ErrNotFound
	}
	return latest, nil
}

// ListRange retrieves aggregates with day in [from, to), ordered by day.
func (s *DailyAggStore) ListRange(_ context.Context, tokenID int64, from, to int64) ([]*domain.DailyAgg, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.DailyAgg
	for _, a := range s.data {
		if a.TokenID == tokenID && a.Day >= from && a.Day < to {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}
