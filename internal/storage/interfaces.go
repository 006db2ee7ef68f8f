package storage

import (
	"context"

	"launchpad-indexer/internal/domain"
)

// CursorStore persists the per-chain "last processed block" watermark.
type CursorStore interface {
	// Get returns the watermark for a chain. Returns ErrNotFound when the
	// chain has never been scanned.
	Get(ctx context.Context, chainID int64) (uint64, error)

	// Set advances the watermark. Normally driven by LedgerStore.CommitWindow;
	// exposed for tooling and tests.
	Set(ctx context.Context, chainID int64, block uint64) error
}

// TokenStore provides access to the tracked-token registry and its cache
// fields. Registry rows are created upstream; the pipeline only reads them
// and maintains deployment_block, holder_count and the summary cache.
type TokenStore interface {
	// GetByID retrieves a token. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, tokenID int64) (*domain.Token, error)

	// ListByChain retrieves all tokens deployed on a chain.
	ListByChain(ctx context.Context, chainID int64) ([]*domain.Token, error)

	// SetDeploymentBlock caches a lazily resolved deployment block.
	SetDeploymentBlock(ctx context.Context, tokenID int64, block uint64) error

	// UpdateHolderCount stores the recomputed positive-balance row count.
	UpdateHolderCount(ctx context.Context, tokenID int64, count int64) error

	// UpdateSummary stores the derived cache fields. on_dex is monotonic:
	// a stored true is never overwritten with false.
	UpdateSummary(ctx context.Context, tokenID int64, s *domain.TokenSummary) error
}

// PoolStore provides read access to discovered liquidity pools.
type PoolStore interface {
	// GetByToken retrieves the pool for a token. Returns ErrNotFound when
	// the token has not graduated to a pool yet.
	GetByToken(ctx context.Context, tokenID int64) (*domain.Pool, error)

	// ListByChain retrieves all pools on a chain.
	ListByChain(ctx context.Context, chainID int64) ([]*domain.Pool, error)
}

// TransferStore provides access to the transfer ledger.
type TransferStore interface {
	// Upsert inserts or updates records by (chain_id, tx_hash, log_index).
	// A stored GRADUATION kind is preserved even if the incoming record
	// carries a different classification.
	Upsert(ctx context.Context, records []*domain.TransferRecord) error

	// GetByTx retrieves all records for a transaction, ordered by log index.
	GetByTx(ctx context.Context, chainID int64, txHash string) ([]*domain.TransferRecord, error)

	// ListMultiLogTxs returns tx hashes with more than one record on a chain.
	ListMultiLogTxs(ctx context.Context, chainID int64) ([]string, error)

	// ReplaceTx atomically deletes all records for a transaction and inserts
	// the given synthetic record in their place.
	ReplaceTx(ctx context.Context, chainID int64, txHash string, rec *domain.TransferRecord) error

	// DeleteTx removes all records for a transaction.
	DeleteTx(ctx context.Context, chainID int64, txHash string) error

	// DeleteLog removes a single record.
	DeleteLog(ctx context.Context, chainID int64, txHash string, logIndex uint32) error

	// ListByTokenKind retrieves records of one kind for a token, ordered by
	// block then log index.
	ListByTokenKind(ctx context.Context, tokenID int64, kind domain.TransferKind) ([]*domain.TransferRecord, error)

	// ListNeedingBackfill retrieves records on a chain still missing price or
	// native-amount data, or left with a generic OTHER kind.
	ListNeedingBackfill(ctx context.Context, chainID int64) ([]*domain.TransferRecord, error)

	// ListByTokenRange retrieves records for a token with block_time in
	// [from, to), ordered by block_time then log index.
	ListByTokenRange(ctx context.Context, tokenID int64, from, to int64) ([]*domain.TransferRecord, error)

	// HasGraduation reports whether a GRADUATION record exists for a token.
	HasGraduation(ctx context.Context, tokenID int64) (bool, error)
}

// TradeStore provides access to the external-market trade ledger.
type TradeStore interface {
	// Upsert inserts or updates records by (chain_id, tx_hash, log_index).
	Upsert(ctx context.Context, records []*domain.TradeRecord) error

	// GetByTx retrieves all records for a transaction, ordered by log index.
	GetByTx(ctx context.Context, chainID int64, txHash string) ([]*domain.TradeRecord, error)

	// ListTxKeys returns the (block_number, tx_hash) keys present in the
	// trade ledger for a chain. Used for cross-ledger exclusivity.
	ListTxKeys(ctx context.Context, chainID int64) ([]domain.TxKey, error)

	// ListMultiLogTxs returns tx hashes with more than one record on a chain.
	ListMultiLogTxs(ctx context.Context, chainID int64) ([]string, error)

	// DeleteTx removes all records for a transaction.
	DeleteTx(ctx context.Context, chainID int64, txHash string) error

	// ListByTokenRange retrieves records for a token with block_time in
	// [from, to), ordered by block_time then log index.
	ListByTokenRange(ctx context.Context, tokenID int64, from, to int64) ([]*domain.TradeRecord, error)

	// EarliestTs returns the earliest trade block_time for a token.
	// Returns ErrNotFound when the token has no trades.
	EarliestTs(ctx context.Context, tokenID int64) (int64, error)

	// LatestPrice returns the price of the most recent trade for a token.
	// Returns ErrNotFound when the token has no trades.
	LatestPrice(ctx context.Context, tokenID int64) (float64, error)
}

// LedgerStore owns balance rows and the atomic block-window commit.
type LedgerStore interface {
	// CommitWindow applies a scanned window in one transaction: transfer and
	// trade upserts, balance deltas (clamped at zero, pool addresses already
	// excluded by the writer), zero-row pruning, holder-count recompute for
	// touched tokens, and the cursor advance.
	CommitWindow(ctx context.Context, batch *domain.WindowBatch) error

	// RemoveHolder deletes a balance row. Used to purge pool addresses from
	// holder accounting before scanning.
	RemoveHolder(ctx context.Context, tokenID int64, holder string) error

	// GetBalance returns a holder's balance, 0 when no row exists.
	GetBalance(ctx context.Context, tokenID int64, holder string) (float64, error)

	// SumPositive returns the circulating supply: the sum of positive
	// balances for a token.
	SumPositive(ctx context.Context, tokenID int64) (float64, error)

	// CountPositive returns the number of positive-balance rows for a token.
	CountPositive(ctx context.Context, tokenID int64) (int64, error)

	// RebuildBalances re-derives a token's balances from its surviving
	// transfer rows (amount into to_address, out of from_address), dropping
	// non-positive results, and refreshes the token's holder count. Addresses
	// in excluded never get a row. Used after reconciliation deletes or
	// migrates transfer rows out from under scan-time deltas.
	RebuildBalances(ctx context.Context, tokenID int64, excluded []string) error
}

// CandleStore provides access to OHLCV candle storage.
type CandleStore interface {
	// UpsertBulk inserts or replaces candles by (token_id, interval, ts).
	UpsertBulk(ctx context.Context, candles []*domain.Candle) error

	// LatestTs returns the most recent bucket start for a token/interval.
	// Returns ErrNotFound when no candles exist yet.
	LatestTs(ctx context.Context, tokenID int64, interval domain.CandleInterval) (int64, error)

	// ListRange retrieves candles with ts in [from, to), ordered by ts ASC.
	ListRange(ctx context.Context, tokenID int64, interval domain.CandleInterval, from, to int64) ([]*domain.Candle, error)
}

// DailyAggStore provides access to daily aggregate storage.
type DailyAggStore interface {
	// Upsert inserts or replaces aggregates by (token_id, day).
	Upsert(ctx context.Context, aggs []*domain.DailyAgg) error

	// LatestDay returns the most recent day start for a token.
	// Returns ErrNotFound when no aggregates exist yet.
	LatestDay(ctx context.Context, tokenID int64) (int64, error)

	// ListRange retrieves aggregates with day in [from, to), ordered by day.
	ListRange(ctx context.Context, tokenID int64, from, to int64) ([]*domain.DailyAgg, error)
}

// RunLock is the singleton run lease. At most one orchestrator run holds it;
// a second invocation gets ErrLockHeld and exits instead of queuing.
type RunLock interface {
	// Acquire takes the lease. Returns ErrLockHeld when unavailable.
	Acquire(ctx context.Context) error

	// Release returns the lease. Safe to call when not held.
	Release(ctx context.Context) error
}
