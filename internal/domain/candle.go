package domain

// CandleInterval is a fixed time bucket width for OHLCV aggregation.
type CandleInterval string

// Supported candle intervals. Hour candles are a deterministic roll-up of
// committed minute candles and never re-scan raw trades.
const (
	IntervalMinute CandleInterval = "1m"
	IntervalHour   CandleInterval = "1h"
)

// Seconds returns the bucket width in seconds.
func (i CandleInterval) Seconds() int64 {
	switch i {
	case IntervalHour:
		return 3600
	default:
		return 60
	}
}

// Candle is an OHLCV summary for one token over one time bucket.
// Corresponds to candles table in ClickHouse (ReplacingMergeTree keyed on
// token_id, interval, ts). Upsert-only, never deleted.
type Candle struct {
	TokenID     int64
	ChainID     int64
	Interval    CandleInterval
	Ts          int64 // bucket start, Unix seconds
	Open        float64
	High        float64
	Low         float64
	Close       float64
	VolumeToken float64
	VolumeEth   float64
	TradeCount  uint32
}

// DailyAgg is a per-UTC-day activity summary for one token.
// Corresponds to daily_aggregates table in ClickHouse.
type DailyAgg struct {
	TokenID         int64
	ChainID         int64
	Day             int64 // UTC day start, Unix seconds
	Transfers       uint32
	UniqueSenders   uint32
	UniqueReceivers uint32
	UniqueTraders   uint32
	VolumeToken     float64
	VolumeEth       float64
	HoldersCount    int64
}
