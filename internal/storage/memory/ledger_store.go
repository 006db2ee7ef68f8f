package memory

import (
	"context"
	"log"
	"sync"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// LedgerStore is an in-memory implementation of storage.LedgerStore. It
// composes the transfer, trade, cursor and token stores so CommitWindow can
// mirror the all-or-nothing semantics of the postgres implementation.
type LedgerStore struct {
	mu       sync.RWMutex
	balances map[domain.BalanceKey]float64

	transfers *TransferStore
	trades    *TradeStore
	cursors   *CursorStore
	tokens    *TokenStore
}

// NewLedgerStore creates a new in-memory ledger store.
func NewLedgerStore(transfers *TransferStore, trades *TradeStore, cursors *CursorStore, tokens *TokenStore) *LedgerStore {
	return &LedgerStore{
		balances:  make(map[domain.BalanceKey]float64),
		transfers: transfers,
		trades:    trades,
		cursors:   cursors,
		tokens:    tokens,
	}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// CommitWindow applies one scanned window: transfer and trade upserts,
// clamped balance deltas, zero-row pruning, holder-count recompute for
// touched tokens, and the cursor advance.
func (s *LedgerStore) CommitWindow(ctx context.Context, batch *domain.WindowBatch) error {
	if batch == nil {
		return storage.ErrInvalidInput
	}

	inserted, err := s.transfers.upsertNew(ctx, batch.Transfers)
	if err != nil {
		return err
	}
	if err := s.trades.Upsert(ctx, batch.Trades); err != nil {
		return err
	}

	// Deltas of rows that already existed were applied by an earlier window;
	// the reorg-cushion rescan must not double-count them.
	totals := make(map[domain.BalanceKey]float64)
	for _, delta := range batch.Deltas {
		if _, fresh := inserted[transferKey(batch.ChainID, delta.TxHash, delta.LogIndex)]; !fresh {
			continue
		}
		for key, amount := range delta.Entries {
			totals[key] += amount
		}
	}

	s.mu.Lock()
	for key, delta := range totals {
		next := s.balances[key] + delta
		if next < 0 {
			log.Printf("[ledger] balance clamp: token=%d holder=%s would be %f", key.TokenID, key.Holder, next)
			next = 0
		}
		if next == 0 {
			delete(s.balances, key)
			continue
		}
		s.balances[key] = next
	}

	counts := make(map[int64]int64, len(batch.Touched))
	for tokenID := range batch.Touched {
		counts[tokenID] = s.countPositiveLocked(tokenID)
	}
	s.mu.Unlock()

	for tokenID, count := range counts {
		if err := s.tokens.UpdateHolderCount(ctx, tokenID, count); err != nil && err != storage.ErrNotFound {
			return err
		}
	}

	s.cursors.set(batch.ChainID, batch.ToBlock)
	return nil
}

// RebuildBalances re-derives a token's balances from its surviving transfer
// rows, dropping non-positive results and refreshing the holder count.
func (s *LedgerStore) RebuildBalances(ctx context.Context, tokenID int64, excluded []string) error {
	skip := make(map[string]struct{}, len(excluded))
	for _, addr := range excluded {
		skip[addr] = struct{}{}
	}

	rebuilt := make(map[string]float64)
	for _, rec := range s.transfers.All() {
		if rec.TokenID != tokenID {
			continue
		}
		if _, ok := skip[rec.From]; !ok {
			rebuilt[rec.From] -= rec.Amount
		}
		if _, ok := skip[rec.To]; !ok {
			rebuilt[rec.To] += rec.Amount
		}
	}

	s.mu.Lock()
	for key := range s.balances {
		if key.TokenID == tokenID {
			delete(s.balances, key)
		}
	}
	for holder, bal := range rebuilt {
		if bal > 0 {
			s.balances[domain.BalanceKey{TokenID: tokenID, Holder: holder}] = bal
		}
	}
	count := s.countPositiveLocked(tokenID)
	s.mu.Unlock()

	if err := s.tokens.UpdateHolderCount(ctx, tokenID, count); err != nil && err != storage.ErrNotFound {
		return err
	}
	return nil
}

// RemoveHolder deletes a balance row.
func (s *LedgerStore) RemoveHolder(_ context.Context, tokenID int64, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.balances, domain.BalanceKey{TokenID: tokenID, Holder: holder})
	return nil
}

// GetBalance returns a holder's balance, 0 when no row exists.
func (s *LedgerStore) GetBalance(_ context.Context, tokenID int64, holder string) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balances[domain.BalanceKey{TokenID: tokenID, Holder: holder}], nil
}

// SumPositive returns the sum of positive balances for a token.
func (s *LedgerStore) SumPositive(_ context.Context, tokenID int64) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sum float64
	for key, bal := range s.balances {
		if key.TokenID == tokenID && bal > 0 {
			sum += bal
		}
	}
	return sum, nil
}

// CountPositive returns the number of positive-balance rows for a token.
func (s *LedgerStore) CountPositive(_ context.Context, tokenID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.countPositiveLocked(tokenID), nil
}

func (s *LedgerStore) countPositiveLocked(tokenID int64) int64 {
	var n int64
	for key, bal := range s.balances {
		if key.TokenID == tokenID && bal > 0 {
			n++
		}
	}
	return n
}
