package clickhouse

import (
	"context"
	"fmt"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// DailyAggStore implements storage.DailyAggStore using ClickHouse.
type DailyAggStore struct {
	conn *Conn
}

// NewDailyAggStore creates a new DailyAggStore.
func NewDailyAggStore(conn *Conn) *DailyAggStore {
	return &DailyAggStore{conn: conn}
}

// Compile-time interface check.
var _ storage.DailyAggStore = (*DailyAggStore)(nil)

// Upsert inserts or replaces aggregates by (token_id, day).
func (s *DailyAggStore) Upsert(ctx context.Context, aggs []*domain.DailyAgg) error {
	if len(aggs) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO daily_aggregates (
			token_id, chain_id, day, transfers,
			unique_senders, unique_receivers, unique_traders,
			volume_token, volume_eth, holders_count
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare daily batch: %w", err)
	}

	for _, a := range aggs {
		err = batch.Append(
			a.TokenID, a.ChainID, uint64(a.Day), a.Transfers,
			a.UniqueSenders, a.UniqueReceivers, a.UniqueTraders,
			a.VolumeToken, a.VolumeEth, a.HoldersCount,
		)
		if err != nil {
			return fmt.Errorf("append daily to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send daily batch: %w", err)
	}
	return nil
}

// LatestDay returns the most recent day start for a token. Returns
// ErrNotFound when no aggregates exist yet.
func (s *DailyAggStore) LatestDay(ctx context.Context, tokenID int64) (int64, error) {
	query := `SELECT max(day) FROM daily_aggregates WHERE token_id = ?`

	var day uint64
	err := s.conn.QueryRow(ctx, query, tokenID).Scan(&day)
	if err != nil {
		return 0, fmt.Errorf("latest daily day: %w", err)
	}
	if day == 0 {
		return 0, storage.ErrNotFound
	}
	return int64(day), nil
}

// ListRange retrieves aggregates with day in [from, to), ordered by day.
func (s *DailyAggStore) ListRange(ctx context.Context, tokenID int64, from, to int64) ([]*domain.DailyAgg, error) {
	query := `
		SELECT token_id, chain_id, day, transfers,
			unique_senders, unique_receivers, unique_traders,
			volume_token, volume_eth, holders_count
		FROM daily_aggregates FINAL
		WHERE token_id = ? AND day >= ? AND day < ?
		ORDER BY day ASC
	`

	rows, err := s.conn.Query(ctx, query, tokenID, uint64(from), uint64(to))
	if err != nil {
		return nil, fmt.Errorf("list dailies by range: %w", err)
	}
	defer rows.Close()

	var aggs []*domain.DailyAgg
	for rows.Next() {
		var a domain.DailyAgg
		var day uint64

		err := rows.Scan(
			&a.TokenID, &a.ChainID, &day, &a.Transfers,
			&a.UniqueSenders, &a.UniqueReceivers, &a.UniqueTraders,
			&a.VolumeToken, &a.VolumeEth, &a.HoldersCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan daily row: %w", err)
		}
		a.Day = int64(day)
		aggs = append(aggs, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily rows: %w", err)
	}
	return aggs, nil
}
