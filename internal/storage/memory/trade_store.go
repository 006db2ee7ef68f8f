package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TradeRecord
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{data: make(map[string]*domain.TradeRecord)}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

func tradeKey(chainID int64, txHash string, logIndex uint32) string {
	return fmt.Sprintf("%d|%s|%d", chainID, txHash, logIndex)
}

// Upsert inserts or updates records by natural key.
func (s *TradeStore) Upsert(_ context.Context, records []*domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if rec == nil || rec.TxHash == "" {
			return storage.ErrInvalidInput
		}
		cp := *rec
		s.data[tradeKey(rec.ChainID, rec.TxHash, rec.LogIndex)] = &cp
	}
	return nil
}

// GetByTx retrieves all records for a transaction, ordered by log index.
func (s *TradeStore) GetByTx(_ context.Context, chainID int64, txHash string) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TradeRecord
	for _, rec := range s.data {
		if rec.ChainID == chainID && rec.TxHash == txHash {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogIndex < out[j].LogIndex })
	return out, nil
}

// ListTxKeys returns the transaction keys present in the trade ledger.
func (s *TradeStore) ListTxKeys(_ context.Context, chainID int64) ([]domain.TxKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]domain.TxKey)
	for _, rec := range s.data {
		if rec.ChainID == chainID {
			seen[rec.TxHash] = domain.TxKey{ChainID: chainID, BlockNumber: rec.BlockNumber, TxHash: rec.TxHash}
		}
	}
	out := make([]domain.TxKey, 0, len(seen))
	for _, k := range seen {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TxHash < out[j].TxHash })
	return out, nil
}

// ListMultiLogTxs returns tx hashes with more than one record on a chain.
func (s *TradeStore) ListMultiLogTxs(_ context.Context, chainID int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, rec := range s.data {
		if rec.ChainID == chainID {
			counts[rec.TxHash]++
		}
	}
	var out []string
	for tx, n := range counts {
		if n > 1 {
			out = append(out, tx)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DeleteTx removes all records for a transaction.
func (s *TradeStore) DeleteTx(_ context.Context, chainID int64, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, rec := range s.data {
		if rec.ChainID == chainID && rec.TxHash == txHash {
			delete(s.data, key)
		}
	}
	return nil
}

// ListByTokenRange retrieves records for a token with block_time in [from, to).
func (s *TradeStore) ListByTokenRange(_ context.Context, tokenID int64, from, to int64) ([]*domain.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TradeRecord
	for _, rec := range s.data {
		if rec.TokenID == tokenID && rec.BlockTime >= from && rec.BlockTime < to {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortTrades(out)
	return out, nil
}

// EarliestTs returns the earliest trade block_time for a token.
func (s *TradeStore) EarliestTs(_ context.Context, tokenID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var earliest int64 = -1
	for _, rec := range s.data {
		if rec.TokenID == tokenID && (earliest < 0 || rec.BlockTime < earliest) {
			earliest = rec.BlockTime
		}
	}
	if earliest < 0 {
		return 0, storage.ErrNotFound
	}
	return earliest, nil
}

// LatestPrice returns the price of the most recent trade for a token.
func (s *TradeStore) LatestPrice(_ context.Context, tokenID int64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.TradeRecord
	for _, rec := range s.data {
		if rec.TokenID != tokenID {
			continue
		}
		if latest == nil || rec.BlockTime > latest.BlockTime ||
			(rec.BlockTime == latest.BlockTime && rec.LogIndex > latest.LogIndex) {
			latest = rec
		}
	}
	if latest == nil {
		return 0, storage.ErrNotFound
	}
	return latest.Price, nil
}

// Count returns the number of stored records. Test helper.
func (s *TradeStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func sortTrades(recs []*domain.TradeRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].BlockTime != recs[j].BlockTime {
			return recs[i].BlockTime < recs[j].BlockTime
		}
		if recs[i].BlockNumber != recs[j].BlockNumber {
			return recs[i].BlockNumber < recs[j].BlockNumber
		}
		return recs[i].LogIndex < recs[j].LogIndex
	})
}
