// Package postgres implements the ledger-side stores on PostgreSQL via pgx:
// cursors, tokens, pools, both ledgers, balances and the advisory-lock run
// lease.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// PoolOptions tunes the connection pool. Zero values keep the pgx defaults.
type PoolOptions struct {
	// MaxConns caps the pool. The window commit holds one transaction per
	// scanned chain, so a small cap is enough.
	MaxConns int32

	// ConnLifetime recycles connections, keeping long-running loop and watch
	// modes from pinning stale server processes.
	ConnLifetime time.Duration
}

// NewPool creates a Postgres connection pool and verifies it with a ping.
// opts may be nil.
func NewPool(ctx context.Context, dsn string, opts *PoolOptions) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if opts != nil {
		if opts.MaxConns > 0 {
			cfg.MaxConns = opts.MaxConns
		}
		if opts.ConnLifetime > 0 {
			cfg.MaxConnLifetime = opts.ConnLifetime
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
