package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// TransferStore is an in-memory implementation of storage.TransferStore.
type TransferStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TransferRecord
}

// NewTransferStore creates a new in-memory transfer store.
func NewTransferStore() *TransferStore {
	return &TransferStore{data: make(map[string]*domain.TransferRecord)}
}

// Compile-time interface check.
var _ storage.TransferStore = (*TransferStore)(nil)

func transferKey(chainID int64, txHash string, logIndex uint32) string {
	return fmt.Sprintf("%d|%s|%d", chainID, txHash, logIndex)
}

// Upsert inserts or updates records by natural key, preserving a stored
// GRADUATION kind.
func (s *TransferStore) Upsert(ctx context.Context, records []*domain.TransferRecord) error {
	_, err := s.upsertNew(ctx, records)
	return err
}

// upsertNew upserts records and reports which natural keys were absent before
// the call, so the ledger commit can skip replayed rows' balance deltas.
func (s *TransferStore) upsertNew(_ context.Context, records []*domain.TransferRecord) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if rec == nil || rec.TxHash == "" {
			return nil, storage.ErrInvalidInput
		}
		key := transferKey(rec.ChainID, rec.TxHash, rec.LogIndex)
		if _, exists := s.data[key]; !exists {
			inserted[key] = struct{}{}
		}
		s.upsertLocked(rec)
	}
	return inserted, nil
}

func (s *TransferStore) upsertLocked(rec *domain.TransferRecord) {
	key := transferKey(rec.ChainID, rec.TxHash, rec.LogIndex)
	cp := *rec
	if existing, ok := s.data[key]; ok && existing.Kind == domain.KindGraduation {
		cp.Kind = domain.KindGraduation
	}
	s.data[key] = &cp
}

// GetByTx retrieves all records for a transaction, ordered by log index.
func (s *TransferStore) GetByTx(_ context.Context, chainID int64, txHash string) ([]*domain.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TransferRecord
	for _, rec := range s.data {
		if rec.ChainID == chainID && rec.TxHash == txHash {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LogIndex < out[j].LogIndex })
	return out, nil
}

// ListMultiLogTxs returns tx hashes with more than one record on a chain.
func (s *TransferStore) ListMultiLogTxs(_ context.Context, chainID int64) ([]string, error) {
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

// ReplaceTx atomically replaces all records for a transaction with one
// synthetic record.
func (s *TransferStore) ReplaceTx(_ context.Context, chainID int64, txHash string, rec *domain.TransferRecord) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteTxLocked(chainID, txHash)
	cp := *rec
	s.data[transferKey(rec.ChainID, rec.TxHash, rec.LogIndex)] = &cp
	return nil
}

// DeleteTx removes all records for a transaction.
func (s *TransferStore) DeleteTx(_ context.Context, chainID int64, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleteTxLocked(chainID, txHash)
	return nil
}

func (s *TransferStore) deleteTxLocked(chainID int64, txHash string) {
	for key, rec := range s.data {
		if rec.ChainID == chainID && rec.TxHash == txHash {
			delete(s.data, key)
		}
	}
}

// DeleteLog removes a single record.
func (s *TransferStore) DeleteLog(_ context.Context, chainID int64, txHash string, logIndex uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, transferKey(chainID, txHash, logIndex))
	return nil
}

// ListByTokenKind retrieves records of one kind for a token.
func (s *TransferStore) ListByTokenKind(_ context.Context, tokenID int64, kind domain.TransferKind) ([]*domain.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TransferRecord
	for _, rec := range s.data {
		if rec.TokenID == tokenID && rec.Kind == kind {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortTransfers(out)
	return out, nil
}

// ListNeedingBackfill retrieves records still missing price or native-amount
// data, or left with a generic OTHER kind.
func (s *TransferStore) ListNeedingBackfill(_ context.Context, chainID int64) ([]*domain.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TransferRecord
	for _, rec := range s.data {
		if rec.ChainID != chainID {
			continue
		}
		if needsBackfill(rec) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortTransfers(out)
	return out, nil
}

// needsBackfill mirrors the postgres ListNeedingBackfill predicate: economic
// kinds missing price data, or an ambiguous OTHER kind. GRADUATION rows are
// never revisited.
func needsBackfill(rec *domain.TransferRecord) bool {
	if rec.Kind == domain.KindOther {
		return true
	}
	switch rec.Kind {
	case domain.KindBuy, domain.KindSell, domain.KindBuyAndLock:
		return rec.Price == nil || rec.EthAmount == nil
	}
	return false
}

// ListByTokenRange retrieves records for a token with block_time in [from, to).
func (s *TransferStore) ListByTokenRange(_ context.Context, tokenID int64, from, to int64) ([]*domain.TransferRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TransferRecord
	for _, rec := range s.data {
		if rec.TokenID == tokenID && rec.BlockTime >= from && rec.BlockTime < to {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sortTransfers(out)
	return out, nil
}

// HasGraduation reports whether a GRADUATION record exists for a token.
func (s *TransferStore) HasGraduation(_ context.Context, tokenID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.data {
		if rec.TokenID == tokenID && rec.Kind == domain.KindGraduation {
			return true, nil
		}
	}
	return false, nil
}

// Count returns the number of stored records. Test helper.
func (s *TransferStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// All returns every stored record. Test helper.
func (s *TransferStore) All() []*domain.TransferRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.TransferRecord, 0, len(s.data))
	for _, rec := range s.data {
		cp := *rec
		out = append(out, &cp)
	}
	sortTransfers(out)
	return out
}

func sortTransfers(recs []*domain.TransferRecord) {
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
