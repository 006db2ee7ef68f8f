package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

const tradeColumns = `
	token_id, chain_id, tx_hash, log_index, block_number, block_time,
	trader, side, token_amount, eth_amount, price, created_at
`

const upsertTradeQuery = `
	INSERT INTO trades (
		token_id, chain_id, tx_hash, log_index, block_number, block_time,
		trader, side, token_amount, eth_amount, price, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (chain_id, tx_hash, log_index) DO UPDATE SET
		token_id = EXCLUDED.token_id,
		block_number = EXCLUDED.block_number,
		block_time = EXCLUDED.block_time,
		trader = EXCLUDED.trader,
		side = EXCLUDED.side,
		token_amount = EXCLUDED.token_amount,
		eth_amount = EXCLUDED.eth_amount,
		price = EXCLUDED.price
`

// Upsert inserts or updates records by (chain_id, tx_hash, log_index).
func (s *TradeStore) Upsert(ctx context.Context, records []*domain.TradeRecord) error {
	return upsertTrades(ctx, s.pool, records)
}

// upsertTrades runs against either the pool or an open transaction, so the
// window commit can include trades atomically.
func upsertTrades(ctx context.Context, db execer, records []*domain.TradeRecord) error {
	for _, rec := range records {
		_, err := db.Exec(ctx, upsertTradeQuery,
			rec.TokenID,
			rec.ChainID,
			rec.TxHash,
			int64(rec.LogIndex),
			int64(rec.BlockNumber),
			rec.BlockTime,
			rec.Trader,
			string(rec.Side),
			rec.TokenAmount,
			rec.EthAmount,
			rec.Price,
			rec.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert trade %s/%d: %w", rec.TxHash, rec.LogIndex, err)
		}
	}
	return nil
}

// GetByTx retrieves all records for a transaction, ordered by log index.
func (s *TradeStore) GetByTx(ctx context.Context, chainID int64, txHash string) ([]*domain.TradeRecord, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE chain_id = $1 AND tx_hash = $2
		ORDER BY log_index ASC
	`

	rows, err := s.pool.Query(ctx, query, chainID, txHash)
	if err != nil {
		return nil, fmt.Errorf("get trades by tx: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// ListTxKeys returns the (block_number, tx_hash) keys present in the trade
// ledger for a chain.
func (s *TradeStore) ListTxKeys(ctx context.Context, chainID int64) ([]domain.TxKey, error) {
	query := `
		SELECT DISTINCT block_number, tx_hash
		FROM trades
		WHERE chain_id = $1
		ORDER BY block_number ASC, tx_hash ASC
	`

	rows, err := s.pool.Query(ctx, query, chainID)
	if err != nil {
		return nil, fmt.Errorf("list trade tx keys: %w", err)
	}
	defer rows.Close()

	var keys []domain.TxKey
	for rows.Next() {
		var blockNumber int64
		var txHash string
		if err := rows.Scan(&blockNumber, &txHash); err != nil {
			return nil, fmt.Errorf("scan trade tx key: %w", err)
		}
		keys = append(keys, domain.TxKey{ChainID: chainID, BlockNumber: uint64(blockNumber), TxHash: txHash})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade tx keys: %w", err)
	}
	return keys, nil
}

// ListMultiLogTxs returns tx hashes with more than one record on a chain.
func (s *TradeStore) ListMultiLogTxs(ctx context.Context, chainID int64) ([]string, error) {
	query := `
		SELECT tx_hash
		FROM trades
		WHERE chain_id = $1
		GROUP BY tx_hash
		HAVING COUNT(*) > 1
		ORDER BY MIN(block_number) ASC
	`

	rows, err := s.pool.Query(ctx, query, chainID)
	if err != nil {
		return nil, fmt.Errorf("list multi-log trade txs: %w", err)
	}
	defer rows.Close()

	var txs []string
	for rows.Next() {
		var tx string
		if err := rows.Scan(&tx); err != nil {
			return nil, fmt.Errorf("scan trade tx hash: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade tx hashes: %w", err)
	}
	return txs, nil
}

// DeleteTx removes all records for a transaction.
func (s *TradeStore) DeleteTx(ctx context.Context, chainID int64, txHash string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM trades WHERE chain_id = $1 AND tx_hash = $2`, chainID, txHash)
	if err != nil {
		return fmt.Errorf("delete trades by tx: %w", err)
	}
	return nil
}

// ListByTokenRange retrieves records for a token with block_time in [from, to).
func (s *TradeStore) ListByTokenRange(ctx context.Context, tokenID int64, from, to int64) ([]*domain.TradeRecord, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE token_id = $1 AND block_time >= $2 AND block_time < $3
		ORDER BY block_time ASC, log_index ASC
	`

	rows, err := s.pool.Query(ctx, query, tokenID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list trades by range: %w", err)
	}
	defer rows.Close()

	return scanTrades(rows)
}

// EarliestTs returns the earliest trade block_time for a token. Returns
// ErrNotFound when the token has no trades.
func (s *TradeStore) EarliestTs(ctx context.Context, tokenID int64) (int64, error) {
	query := `SELECT MIN(block_time) FROM trades WHERE token_id = $1`

	var ts *int64
	if err := s.pool.QueryRow(ctx, query, tokenID).Scan(&ts); err != nil {
		return 0, fmt.Errorf("earliest trade ts: %w", err)
	}
	if ts == nil {
		return 0, storage.ErrNotFound
	}
	return *ts, nil
}

// LatestPrice returns the price of the most recent trade for a token.
// Returns ErrNotFound when the token has no trades.
func (s *TradeStore) LatestPrice(ctx context.Context, tokenID int64) (float64, error) {
	query := `
		SELECT price
		FROM trades
		WHERE token_id = $1
		ORDER BY block_time DESC, log_index DESC
		LIMIT 1
	`

	var price float64
	err := s.pool.QueryRow(ctx, query, tokenID).Scan(&price)
	if err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("latest trade price: %w", err)
	}
	return price, nil
}

// scanTrades scans multiple rows into a slice of TradeRecord.
func scanTrades(rows pgx.Rows) ([]*domain.TradeRecord, error) {
	var records []*domain.TradeRecord

	for rows.Next() {
		var rec domain.TradeRecord
		var blockNumber, logIndex int64
		var side string

		err := rows.Scan(
			&rec.TokenID,
			&rec.ChainID,
			&rec.TxHash,
			&logIndex,
			&blockNumber,
			&rec.BlockTime,
			&rec.Trader,
			&side,
			&rec.TokenAmount,
			&rec.EthAmount,
			&rec.Price,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade row: %w", err)
		}
		rec.BlockNumber = uint64(blockNumber)
		rec.LogIndex = uint32(logIndex)
		rec.Side = domain.TradeSide(side)

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade rows: %w", err)
	}
	return records, nil
}
