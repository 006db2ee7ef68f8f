package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// execer is satisfied by both *Pool and pgx.Tx, so the ledger store can run
// transfer upserts inside its window transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TransferStore implements storage.TransferStore using PostgreSQL.
type TransferStore struct {
	pool *Pool
}

// NewTransferStore creates a new TransferStore.
func NewTransferStore(pool *Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransferStore = (*TransferStore)(nil)

const transferColumns = `
	token_id, chain_id, contract_address, block_number, block_time, tx_hash, log_index,
	from_address, to_address, amount, eth_amount, price, kind, created_at
`

const upsertTransferQuery = `
	INSERT INTO transfers (
		token_id, chain_id, contract_address, block_number, block_time, tx_hash, log_index,
		from_address, to_address, amount, eth_amount, price, kind, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (chain_id, tx_hash, log_index) DO UPDATE SET
		token_id = EXCLUDED.token_id,
		contract_address = EXCLUDED.contract_address,
		block_number = EXCLUDED.block_number,
		block_time = EXCLUDED.block_time,
		from_address = EXCLUDED.from_address,
		to_address = EXCLUDED.to_address,
		amount = EXCLUDED.amount,
		eth_amount = EXCLUDED.eth_amount,
		price = EXCLUDED.price,
		kind = CASE WHEN transfers.kind = 'GRADUATION' THEN transfers.kind ELSE EXCLUDED.kind END
	RETURNING (xmax = 0)
`

// upsertTransfers runs the GRADUATION-preserving upsert against any executor
// and reports which rows were absent before it ran, keyed by tx hash and log
// index. xmax is zero on freshly inserted rows and non-zero when the conflict
// branch updated an existing one.
func upsertTransfers(ctx context.Context, db execer, records []*domain.TransferRecord) (map[string]struct{}, error) {
	inserted := make(map[string]struct{}, len(records))
	for _, rec := range records {
		var fresh bool
		err := db.QueryRow(ctx, upsertTransferQuery,
			rec.TokenID,
			rec.ChainID,
			rec.Contract,
			int64(rec.BlockNumber),
			rec.BlockTime,
			rec.TxHash,
			int64(rec.LogIndex),
			rec.From,
			rec.To,
			rec.Amount,
			rec.EthAmount,
			rec.Price,
			string(rec.Kind),
			rec.CreatedAt,
		).Scan(&fresh)
		if err != nil {
			return nil, fmt.Errorf("upsert transfer %s/%d: %w", rec.TxHash, rec.LogIndex, err)
		}
		if fresh {
			inserted[logKey(rec.TxHash, rec.LogIndex)] = struct{}{}
		}
	}
	return inserted, nil
}

// logKey identifies one transfer row within a chain.
func logKey(txHash string, logIndex uint32) string {
	return fmt.Sprintf("%s/%d", txHash, logIndex)
}

// Upsert inserts or updates records by (chain_id, tx_hash, log_index). A
// stored GRADUATION kind is preserved.
func (s *TransferStore) Upsert(ctx context.Context, records []*domain.TransferRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := upsertTransfers(ctx, s.pool, records)
	return err
}

// GetByTx retrieves all records for a transaction, ordered by log index.
func (s *TransferStore) GetByTx(ctx context.Context, chainID int64, txHash string) ([]*domain.TransferRecord, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE chain_id = $1 AND tx_hash = $2
		ORDER BY log_index ASC
	`

	rows, err := s.pool.Query(ctx, query, chainID, txHash)
	if err != nil {
		return nil, fmt.Errorf("get transfers by tx: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// ListMultiLogTxs returns tx hashes with more than one record on a chain.
func (s *TransferStore) ListMultiLogTxs(ctx context.Context, chainID int64) ([]string, error) {
	query := `
		SELECT tx_hash
		FROM transfers
		WHERE chain_id = $1
		GROUP BY tx_hash
		HAVING COUNT(*) > 1
		ORDER BY MIN(block_number) ASC
	`

	rows, err := s.pool.Query(ctx, query, chainID)
	if err != nil {
		return nil, fmt.Errorf("list multi-log txs: %w", err)
	}
	defer rows.Close()

	var txs []string
	for rows.Next() {
		var tx string
		if err := rows.Scan(&tx); err != nil {
			return nil, fmt.Errorf("scan tx hash: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tx hashes: %w", err)
	}
	return txs, nil
}

// ReplaceTx atomically deletes all records for a transaction and inserts the
// given synthetic record in their place.
func (s *TransferStore) ReplaceTx(ctx context.Context, chainID int64, txHash string, rec *domain.TransferRecord) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM transfers WHERE chain_id = $1 AND tx_hash = $2`, chainID, txHash); err != nil {
		return fmt.Errorf("delete transfers for replace: %w", err)
	}
	if _, err := upsertTransfers(ctx, tx, []*domain.TransferRecord{rec}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DeleteTx removes all records for a transaction.
func (s *TransferStore) DeleteTx(ctx context.Context, chainID int64, txHash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM transfers WHERE chain_id = $1 AND tx_hash = $2`, chainID, txHash)
	if err != nil {
		return fmt.Errorf("delete transfers by tx: %w", err)
	}
	return nil
}

// DeleteLog removes a single record.
func (s *TransferStore) DeleteLog(ctx context.Context, chainID int64, txHash string, logIndex uint32) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM transfers WHERE chain_id = $1 AND tx_hash = $2 AND log_index = $3`,
		chainID, txHash, int64(logIndex))
	if err != nil {
		return fmt.Errorf("delete transfer log: %w", err)
	}
	return nil
}

// ListByTokenKind retrieves records of one kind for a token, ordered by block
// then log index.
func (s *TransferStore) ListByTokenKind(ctx context.Context, tokenID int64, kind domain.TransferKind) ([]*domain.TransferRecord, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE token_id = $1 AND kind = $2
		ORDER BY block_number ASC, log_index ASC
	`

	rows, err := s.pool.Query(ctx, query, tokenID, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list transfers by kind: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// ListNeedingBackfill retrieves records on a chain still missing price data
// or left with a generic OTHER kind.
func (s *TransferStore) ListNeedingBackfill(ctx context.Context, chainID int64) ([]*domain.TransferRecord, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE chain_id = $1 AND (
			kind = 'OTHER'
			OR (kind IN ('BUY', 'SELL', 'BUY_AND_LOCK') AND (eth_amount IS NULL OR price IS NULL))
		)
		ORDER BY block_number ASC, log_index ASC
	`

	rows, err := s.pool.Query(ctx, query, chainID)
	if err != nil {
		return nil, fmt.Errorf("list transfers needing backfill: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// ListByTokenRange retrieves records for a token with block_time in [from, to).
func (s *TransferStore) ListByTokenRange(ctx context.Context, tokenID int64, from, to int64) ([]*domain.TransferRecord, error) {
	query := `
		SELECT ` + transferColumns + `
		FROM transfers
		WHERE token_id = $1 AND block_time >= $2 AND block_time < $3
		ORDER BY block_time ASC, log_index ASC
	`

	rows, err := s.pool.Query(ctx, query, tokenID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list transfers by range: %w", err)
	}
	defer rows.Close()

	return scanTransfers(rows)
}

// HasGraduation reports whether a GRADUATION record exists for a token.
func (s *TransferStore) HasGraduation(ctx context.Context, tokenID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM transfers WHERE token_id = $1 AND kind = 'GRADUATION')`

	var exists bool
	if err := s.pool.QueryRow(ctx, query, tokenID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check graduation: %w", err)
	}
	return exists, nil
}

// scanTransfers scans multiple rows into a slice of TransferRecord.
func scanTransfers(rows pgx.Rows) ([]*domain.TransferRecord, error) {
	var records []*domain.TransferRecord

	for rows.Next() {
		var rec domain.TransferRecord
		var blockNumber, logIndex int64
		var kind string

		err := rows.Scan(
			&rec.TokenID,
			&rec.ChainID,
			&rec.Contract,
			&blockNumber,
			&rec.BlockTime,
			&rec.TxHash,
			&logIndex,
			&rec.From,
			&rec.To,
			&rec.Amount,
			&rec.EthAmount,
			&rec.Price,
			&kind,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan transfer row: %w", err)
		}
		rec.BlockNumber = uint64(blockNumber)
		rec.LogIndex = uint32(logIndex)
		rec.Kind = domain.TransferKind(kind)

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}
	return records, nil
}
