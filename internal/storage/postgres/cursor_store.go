package postgres

import (
	"context"
	"fmt"

	"launchpad-indexer/internal/storage"
)

// CursorStore implements storage.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *Pool
}

// NewCursorStore creates a new CursorStore.
func NewCursorStore(pool *Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// Get returns the watermark for a chain. Returns ErrNotFound when the chain
// has never been scanned.
func (s *CursorStore) Get(ctx context.Context, chainID int64) (uint64, error) {
	query := `SELECT last_processed_block FROM chain_cursors WHERE chain_id = $1`

	var block int64
	err := s.pool.QueryRow(ctx, query, chainID).Scan(&block)
	if err != nil {
		if isNotFoundError(err) {
			return 0, storage.ErrNotFound
		}
		return 0, fmt.Errorf("get cursor: %w", err)
	}
	return uint64(block), nil
}

// Set advances the watermark.
func (s *CursorStore) Set(ctx context.Context, chainID int64, block uint64) error {
	query := `
		INSERT INTO chain_cursors (chain_id, last_processed_block)
		VALUES ($1, $2)
		ON CONFLICT (chain_id) DO UPDATE SET last_processed_block = EXCLUDED.last_processed_block
	`

	_, err := s.pool.Exec(ctx, query, chainID, int64(block))
	if err != nil {
		return fmt.Errorf("set cursor: %w", err)
	}
	return nil
}
