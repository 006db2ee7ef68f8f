package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL. Registry rows
// are created by the upstream registration flow; the pipeline only writes
// deployment_block, holder_count and the summary cache columns.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

const tokenColumns = `
	token_id, chain_id, contract_address, creator_address, created_at,
	total_supply, base_price, deployment_block, holder_count,
	current_price, liquidity_eth, liquidity_usd, fdv, market_cap, on_dex
`

// GetByID retrieves a token. Returns ErrNotFound if not exists.
func (s *TokenStore) GetByID(ctx context.Context, tokenID int64) (*domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE token_id = $1`

	row := s.pool.QueryRow(ctx, query, tokenID)
	token, err := scanToken(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token by id: %w", err)
	}
	return token, nil
}

// ListByChain retrieves all tokens deployed on a chain, ordered by token_id.
func (s *TokenStore) ListByChain(ctx context.Context, chainID int64) ([]*domain.Token, error) {
	query := `SELECT ` + tokenColumns + ` FROM tokens WHERE chain_id = $1 ORDER BY token_id ASC`

	rows, err := s.pool.Query(ctx, query, chainID)
	if err != nil {
		return nil, fmt.Errorf("list tokens by chain: %w", err)
	}
	defer rows.Close()

	var tokens []*domain.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate token rows: %w", err)
	}
	return tokens, nil
}

// SetDeploymentBlock caches a lazily resolved deployment block.
func (s *TokenStore) SetDeploymentBlock(ctx context.Context, tokenID int64, block uint64) error {
	query := `UPDATE tokens SET deployment_block = $2 WHERE token_id = $1`

	tag, err := s.pool.Exec(ctx, query, tokenID, int64(block))
	if err != nil {
		return fmt.Errorf("set deployment block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateHolderCount stores the recomputed positive-balance row count.
func (s *TokenStore) UpdateHolderCount(ctx context.Context, tokenID int64, count int64) error {
	query := `UPDATE tokens SET holder_count = $2 WHERE token_id = $1`

	tag, err := s.pool.Exec(ctx, query, tokenID, count)
	if err != nil {
		return fmt.Errorf("update holder count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateSummary stores the derived cache fields. on_dex is monotonic: a
// stored true is never overwritten with false.
func (s *TokenStore) UpdateSummary(ctx context.Context, tokenID int64, sum *domain.TokenSummary) error {
	query := `
		UPDATE tokens SET
			current_price = $2,
			liquidity_eth = $3,
			liquidity_usd = $4,
			fdv = $5,
			market_cap = $6,
			on_dex = on_dex OR $7
		WHERE token_id = $1
	`

	tag, err := s.pool.Exec(ctx, query, tokenID,
		sum.CurrentPrice, sum.LiquidityEth, sum.LiquidityUsd, sum.FDV, sum.MarketCap, sum.OnDex)
	if err != nil {
		return fmt.Errorf("update token summary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanToken scans a single token row.
func scanToken(row pgx.Row) (*domain.Token, error) {
	var token domain.Token
	var deploymentBlock *int64

	err := row.Scan(
		&token.TokenID,
		&token.ChainID,
		&token.Contract,
		&token.Creator,
		&token.CreatedAt,
		&token.TotalSupply,
		&token.BasePrice,
		&deploymentBlock,
		&token.HolderCount,
		&token.CurrentPrice,
		&token.LiquidityEth,
		&token.LiquidityUsd,
		&token.FDV,
		&token.MarketCap,
		&token.OnDex,
	)
	if err != nil {
		return nil, err
	}
	if deploymentBlock != nil {
		b := uint64(*deploymentBlock)
		token.DeploymentBlock = &b
	}
	return &token, nil
}
