package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"launchpad-indexer/internal/storage"
)

// runLockKey identifies the pipeline's advisory lock. Stable across releases
// so two versions of the binary still exclude each other.
const runLockKey = int64(0x1a7c4ad1)

// RunLock implements storage.RunLock with a session-level Postgres advisory
// lock. The lock is bound to a dedicated connection held for the lease's
// lifetime, so a crashed process releases it when its session dies.
type RunLock struct {
	pool *Pool

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewRunLock creates a new RunLock.
func NewRunLock(pool *Pool) *RunLock {
	return &RunLock{pool: pool}
}

// Compile-time interface check.
var _ storage.RunLock = (*RunLock)(nil)

// Acquire takes the lease. Returns ErrLockHeld when another run holds it.
func (l *RunLock) Acquire(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return storage.ErrLockHeld
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire lock connection: %w", err)
	}

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, runLockKey).Scan(&locked); err != nil {
		conn.Release()
		return fmt.Errorf("try advisory lock: %w", err)
	}
	if !locked {
		conn.Release()
		return storage.ErrLockHeld
	}

	l.conn = conn
	return nil
}

// Release returns the lease. Safe to call when not held.
func (l *RunLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	_, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, runLockKey)
	l.conn.Release()
	l.conn = nil
	if err != nil {
		return fmt.Errorf("advisory unlock: %w", err)
	}
	return nil
}
