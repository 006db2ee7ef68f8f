package postgres

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/jackc/pgx/v5"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// LedgerStore implements storage.LedgerStore using PostgreSQL. CommitWindow
// applies a scanned block window in one transaction so a ledger can never be
// ahead of its own cursor.
type LedgerStore struct {
	pool *Pool
}

// NewLedgerStore creates a new LedgerStore.
func NewLedgerStore(pool *Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.LedgerStore = (*LedgerStore)(nil)

// CommitWindow applies one scanned window atomically: transfer and trade
// upserts, clamped balance deltas, zero-row pruning, holder-count recompute
// for touched tokens, and the cursor advance.
func (s *LedgerStore) CommitWindow(ctx context.Context, batch *domain.WindowBatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin window tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := upsertTransfers(ctx, tx, batch.Transfers)
	if err != nil {
		return err
	}
	if err := upsertTrades(ctx, tx, batch.Trades); err != nil {
		return err
	}
	if err := applyDeltas(ctx, tx, batch, inserted); err != nil {
		return err
	}
	if err := pruneAndRecount(ctx, tx, batch); err != nil {
		return err
	}

	cursorQuery := `
		INSERT INTO chain_cursors (chain_id, last_processed_block)
		VALUES ($1, $2)
		ON CONFLICT (chain_id) DO UPDATE SET last_processed_block = EXCLUDED.last_processed_block
	`
	if _, err := tx.Exec(ctx, cursorQuery, batch.ChainID, int64(batch.ToBlock)); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit window tx: %w", err)
	}
	return nil
}

// applyDeltas applies balance deltas with clamp-at-zero. Only deltas whose
// transfer row was freshly inserted count: rows replayed by the reorg-cushion
// rescan were already applied by an earlier window. A decrement that would go
// negative is clamped and logged, never failed: re-derivation from future
// windows self-heals.
func applyDeltas(ctx context.Context, tx pgx.Tx, batch *domain.WindowBatch, inserted map[string]struct{}) error {
	totals := make(map[domain.BalanceKey]float64)
	for _, delta := range batch.Deltas {
		if _, fresh := inserted[logKey(delta.TxHash, delta.LogIndex)]; !fresh {
			continue
		}
		for key, amount := range delta.Entries {
			totals[key] += amount
		}
	}

	// Deterministic order avoids deadlocks with a concurrent committer.
	keys := make([]domain.BalanceKey, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].TokenID != keys[j].TokenID {
			return keys[i].TokenID < keys[j].TokenID
		}
		return keys[i].Holder < keys[j].Holder
	})

	query := `
		INSERT INTO balances (token_id, holder, balance)
		VALUES ($1, $2, GREATEST($3::double precision, 0))
		ON CONFLICT (token_id, holder) DO UPDATE SET
			balance = GREATEST(balances.balance + $3, 0)
		RETURNING balance
	`

	for _, key := range keys {
		delta := totals[key]
		var balance float64
		if err := tx.QueryRow(ctx, query, key.TokenID, key.Holder, delta).Scan(&balance); err != nil {
			return fmt.Errorf("apply balance delta %d/%s: %w", key.TokenID, key.Holder, err)
		}
		if delta < 0 && balance == 0 {
			log.Printf("[ledger] balance clamp: token %d holder %s delta %f", key.TokenID, key.Holder, delta)
		}
	}
	return nil
}

// pruneAndRecount drops zero rows and refreshes holder_count for the tokens
// touched by this window only, keeping cost proportional to activity.
func pruneAndRecount(ctx context.Context, tx pgx.Tx, batch *domain.WindowBatch) error {
	tokenIDs := make([]int64, 0, len(batch.Touched))
	for tokenID := range batch.Touched {
		tokenIDs = append(tokenIDs, tokenID)
	}
	sort.Slice(tokenIDs, func(i, j int) bool { return tokenIDs[i] < tokenIDs[j] })

	for _, tokenID := range tokenIDs {
		if _, err := tx.Exec(ctx, `DELETE FROM balances WHERE token_id = $1 AND balance <= 0`, tokenID); err != nil {
			return fmt.Errorf("prune zero balances for token %d: %w", tokenID, err)
		}

		var count int64
		countQuery := `SELECT COUNT(*) FROM balances WHERE token_id = $1 AND balance > 0`
		if err := tx.QueryRow(ctx, countQuery, tokenID).Scan(&count); err != nil {
			return fmt.Errorf("count holders for token %d: %w", tokenID, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE tokens SET holder_count = $2 WHERE token_id = $1`, tokenID, count); err != nil {
			return fmt.Errorf("update holder count for token %d: %w", tokenID, err)
		}
	}
	return nil
}

// RebuildBalances re-derives a token's balances from its surviving transfer
// rows inside one transaction: delete, re-aggregate, refresh holder_count.
// Reconciliation calls this after deleting or migrating rows so the balance
// table never reflects transfers that no longer exist.
func (s *LedgerStore) RebuildBalances(ctx context.Context, tokenID int64, excluded []string) error {
	if excluded == nil {
		excluded = []string{}
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rebuild tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM balances WHERE token_id = $1`, tokenID); err != nil {
		return fmt.Errorf("clear balances for token %d: %w", tokenID, err)
	}

	rebuildQuery := `
		INSERT INTO balances (token_id, holder, balance)
		SELECT $1, holder, SUM(delta)
		FROM (
			SELECT to_address AS holder, amount AS delta FROM transfers WHERE token_id = $1
			UNION ALL
			SELECT from_address AS holder, -amount AS delta FROM transfers WHERE token_id = $1
		) moves
		WHERE holder <> ALL($2::text[])
		GROUP BY holder
		HAVING SUM(delta) > 0
	`
	if _, err := tx.Exec(ctx, rebuildQuery, tokenID, excluded); err != nil {
		return fmt.Errorf("rebuild balances for token %d: %w", tokenID, err)
	}

	countQuery := `
		UPDATE tokens SET holder_count = (
			SELECT COUNT(*) FROM balances WHERE token_id = $1 AND balance > 0
		) WHERE token_id = $1
	`
	if _, err := tx.Exec(ctx, countQuery, tokenID); err != nil {
		return fmt.Errorf("refresh holder count for token %d: %w", tokenID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rebuild tx: %w", err)
	}
	return nil
}

// RemoveHolder deletes a balance row. Used to purge pool addresses from
// holder accounting before scanning.
func (s *LedgerStore) RemoveHolder(ctx context.Context, tokenID int64, holder string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM balances WHERE token_id = $1 AND holder = $2`, tokenID, holder)
	if err != nil {
		return fmt.Errorf("remove holder: %w", err)
	}
	return nil
}

// GetBalance returns a holder's balance, 0 when no row exists.
func (s *LedgerStore) GetBalance(ctx context.Context, tokenID int64, holder string) (float64, error) {
	query := `SELECT balance FROM balances WHERE token_id = $1 AND holder = $2`

	var balance float64
	err := s.pool.QueryRow(ctx, query, tokenID, holder).Scan(&balance)
	if err != nil {
		if isNotFoundError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("get balance: %w", err)
	}
	return balance, nil
}

// SumPositive returns the circulating supply: the sum of positive balances
// for a token.
func (s *LedgerStore) SumPositive(ctx context.Context, tokenID int64) (float64, error) {
	query := `SELECT COALESCE(SUM(balance), 0) FROM balances WHERE token_id = $1 AND balance > 0`

	var sum float64
	if err := s.pool.QueryRow(ctx, query, tokenID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum positive balances: %w", err)
	}
	return sum, nil
}

// CountPositive returns the number of positive-balance rows for a token.
func (s *LedgerStore) CountPositive(ctx context.Context, tokenID int64) (int64, error) {
	query := `SELECT COUNT(*) FROM balances WHERE token_id = $1 AND balance > 0`

	var count int64
	if err := s.pool.QueryRow(ctx, query, tokenID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count positive balances: %w", err)
	}
	return count, nil
}
