// Package ledger assembles scanned events into atomic window batches:
// transfer and trade upserts, balance deltas for non-pool holders, and the
// touched-token set whose holder counts need recomputing. The corresponding
// LedgerStore commit applies a batch and the cursor advance in one
// transaction.
package ledger

import (
	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/evm"
)

// BatchBuilder accumulates one block window's writes.
type BatchBuilder struct {
	batch *domain.WindowBatch
	pools map[string]struct{} // excluded from holder accounting
}

// NewBatchBuilder creates a builder for one chain window. pools is the set of
// liquidity-pool addresses (lowercase hex) excluded from balances.
func NewBatchBuilder(chainID int64, toBlock uint64, pools map[string]struct{}) *BatchBuilder {
	if pools == nil {
		pools = make(map[string]struct{})
	}
	return &BatchBuilder{
		batch: domain.NewWindowBatch(chainID, toBlock),
		pools: pools,
	}
}

// Add appends a classified transfer record and its balance deltas.
//
// Balances derive from transfer activity only: amount out of From, into To,
// skipping the zero address (mint/burn counterparty) and pool addresses.
// Deltas stay attached to their record's natural key so the commit can skip
// rows that were already applied by an earlier window. A token is marked
// touched only when one of its balances actually moved, so holder-count
// recomputes stay proportional to activity.
func (b *BatchBuilder) Add(rec *domain.TransferRecord) {
	b.batch.Transfers = append(b.batch.Transfers, rec)

	if rec.Amount == 0 {
		return
	}

	entries := make(map[domain.BalanceKey]float64, 2)
	if b.countable(rec.From) {
		entries[domain.BalanceKey{TokenID: rec.TokenID, Holder: rec.From}] -= rec.Amount
	}
	if b.countable(rec.To) {
		entries[domain.BalanceKey{TokenID: rec.TokenID, Holder: rec.To}] += rec.Amount
	}
	if len(entries) == 0 {
		return
	}

	b.batch.Deltas = append(b.batch.Deltas, domain.TransferDelta{
		TxHash:   rec.TxHash,
		LogIndex: rec.LogIndex,
		Entries:  entries,
	})
	b.batch.Touched[rec.TokenID] = struct{}{}
}

// AddTrade appends a pool-swap trade record. Trades never move balances;
// they exist for price history only.
func (b *BatchBuilder) AddTrade(rec *domain.TradeRecord) {
	b.batch.Trades = append(b.batch.Trades, rec)
}

// Batch returns the accumulated window batch.
func (b *BatchBuilder) Batch() *domain.WindowBatch {
	return b.batch
}

// Empty reports whether the batch carries no writes. Empty windows still
// commit to advance the cursor.
func (b *BatchBuilder) Empty() bool {
	return len(b.batch.Transfers) == 0 && len(b.batch.Trades) == 0
}

func (b *BatchBuilder) countable(addr string) bool {
	if addr == evm.ZeroAddress {
		return false
	}
	_, isPool := b.pools[addr]
	return !isPool
}
