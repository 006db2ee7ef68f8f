package clickhouse

import (
	"context"
	"fmt"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// UpsertBulk inserts or replaces candles by (token_id, interval, ts). The
// ReplacingMergeTree engine keeps the latest inserted version per key.
func (s *CandleStore) UpsertBulk(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			token_id, chain_id, interval, ts,
			open, high, low, close, volume_token, volume_eth, trade_count
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare candle batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.TokenID, c.ChainID, string(c.Interval), uint64(c.Ts),
			c.Open, c.High, c.Low, c.Close, c.VolumeToken, c.VolumeEth, c.TradeCount,
		)
		if err != nil {
			return fmt.Errorf("append candle to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send candle batch: %w", err)
	}
	return nil
}

// LatestTs returns the most recent bucket start for a token/interval.
// Returns ErrNotFound when no candles exist yet.
func (s *CandleStore) LatestTs(ctx context.Context, tokenID int64, interval domain.CandleInterval) (int64, error) {
	query := `
		SELECT max(ts) FROM candles
		WHERE token_id = ? AND interval = ?
	`

	var ts uint64
	err := s.conn.QueryRow(ctx, query, tokenID, string(interval)).Scan(&ts)
	if err != nil {
		return 0, fmt.Errorf("latest candle ts: %w", err)
	}
	if ts == 0 {
		return 0, storage.ErrNotFound
	}
	return int64(ts), nil
}

// ListRange retrieves candles with ts in [from, to), ordered by ts ASC.
func (s *CandleStore) ListRange(ctx context.Context, tokenID int64, interval domain.CandleInterval, from, to int64) ([]*domain.Candle, error) {
	query := `
		SELECT token_id, chain_id, interval, ts,
			open, high, low, close, volume_token, volume_eth, trade_count
		FROM candles FINAL
		WHERE token_id = ? AND interval = ? AND ts >= ? AND ts < ?
		ORDER BY ts ASC
	`

	rows, err := s.conn.Query(ctx, query, tokenID, string(interval), uint64(from), uint64(to))
	if err != nil {
		return nil, fmt.Errorf("list candles by range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// scanCandles scans multiple rows into a slice of Candle.
func scanCandles(rows chRows) ([]*domain.Candle, error) {
	var candles []*domain.Candle

	for rows.Next() {
		var c domain.Candle
		var interval string
		var ts uint64

		err := rows.Scan(
			&c.TokenID, &c.ChainID, &interval, &ts,
			&c.Open, &c.High, &c.Low, &c.Close,
			&c.VolumeToken, &c.VolumeEth, &c.TradeCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Interval = domain.CandleInterval(interval)
		c.Ts = int64(ts)

		candles = append(candles, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}
