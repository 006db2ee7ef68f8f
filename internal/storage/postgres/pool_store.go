package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// PoolStore implements storage.PoolStore using PostgreSQL. Rows are written
// by the pool-discovery collaborator; the pipeline only reads them.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

const poolColumns = `
	token_id, chain_id, pool_address, base_asset_address,
	base_decimals, quote_decimals, reserve_base, reserve_quote, reserve_updated_at
`

// GetByToken retrieves the pool for a token. Returns ErrNotFound when the
// token has not graduated to a pool yet.
func (s *PoolStore) GetByToken(ctx context.Context, tokenID int64) (*domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE token_id = $1`

	row := s.pool.QueryRow(ctx, query, tokenID)
	pool, err := scanPool(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool by token: %w", err)
	}
	return pool, nil
}

// ListByChain retrieves all pools on a chain.
func (s *PoolStore) ListByChain(ctx context.Context, chainID int64) ([]*domain.Pool, error) {
	query := `SELECT ` + poolColumns + ` FROM pools WHERE chain_id = $1 ORDER BY token_id ASC`

	rows, err := s.pool.Query(ctx, query, chainID)
	if err != nil {
		return nil, fmt.Errorf("list pools by chain: %w", err)
	}
	defer rows.Close()

	var pools []*domain.Pool
	for rows.Next() {
		pool, err := scanPool(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pool row: %w", err)
		}
		pools = append(pools, pool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool rows: %w", err)
	}
	return pools, nil
}

// scanPool scans a single pool row.
func scanPool(row pgx.Row) (*domain.Pool, error) {
	var pool domain.Pool
	err := row.Scan(
		&pool.TokenID,
		&pool.ChainID,
		&pool.PoolAddress,
		&pool.BaseAsset,
		&pool.BaseDecimals,
		&pool.QuoteDecimals,
		&pool.ReserveBase,
		&pool.ReserveQuote,
		&pool.ReserveUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &pool, nil
}
