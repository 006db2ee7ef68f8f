package aggregate

import (
	"context"
	"errors"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// buildMinuteCandles groups trade-ledger rows by minute from the last
// committed bucket forward. The bucket containing now is left open.
func (a *Aggregator) buildMinuteCandles(ctx context.Context, token *domain.Token) (int, error) {
	step := domain.IntervalMinute.Seconds()

	from, err := a.minuteStart(ctx, token.TokenID, step)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil // no trades yet
		}
		return 0, err
	}
	end := truncate(a.now().Unix(), step)
	if from >= end {
		return 0, nil
	}

	trades, err := a.trades.ListByTokenRange(ctx, token.TokenID, from, end)
	if err != nil {
		return 0, err
	}
	if len(trades) == 0 {
		return 0, nil
	}

	// Rows arrive ordered by block_time then log index, so the first row in
	// a bucket sets open and the last sets close.
	var candles []*domain.Candle
	var cur *domain.Candle
	for _, tr := range trades {
		ts := truncate(tr.BlockTime, step)
		if cur == nil || cur.Ts != ts {
			cur = &domain.Candle{
				TokenID:  token.TokenID,
				ChainID:  token.ChainID,
				Interval: domain.IntervalMinute,
				Ts:       ts,
				Open:     tr.Price,
				High:     tr.Price,
				Low:      tr.Price,
			}
			candles = append(candles, cur)
		}
		cur.Close = tr.Price
		if tr.Price > cur.High {
			cur.High = tr.Price
		}
		if tr.Price < cur.Low {
			cur.Low = tr.Price
		}
		cur.VolumeToken += tr.TokenAmount
		cur.VolumeEth += tr.EthAmount
		cur.TradeCount++
	}

	if err := a.candles.UpsertBulk(ctx, candles); err != nil {
		return 0, err
	}
	return len(candles), nil
}

// minuteStart returns the first minute bucket still needing a build.
func (a *Aggregator) minuteStart(ctx context.Context, tokenID, step int64) (int64, error) {
	latest, err := a.candles.LatestTs(ctx, tokenID, domain.IntervalMinute)
	if err == nil {
		return latest + step, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	earliest, err := a.trades.EarliestTs(ctx, tokenID)
	if err != nil {
		return 0, err
	}
	return truncate(earliest, step), nil
}

// rollupHourCandles derives hour candles from committed minute candles. Hours
// before the current one have all their minutes committed already, so the
// roll-up never re-scans raw trades.
func (a *Aggregator) rollupHourCandles(ctx context.Context, token *domain.Token) (int, error) {
	step := domain.IntervalHour.Seconds()

	var from int64
	latest, err := a.candles.LatestTs(ctx, token.TokenID, domain.IntervalHour)
	switch {
	case err == nil:
		from = latest + step
	case errors.Is(err, storage.ErrNotFound):
		earliest, err := a.trades.EarliestTs(ctx, token.TokenID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return 0, nil
			}
			return 0, err
		}
		from = truncate(earliest, step)
	default:
		return 0, err
	}

	end := truncate(a.now().Unix(), step)
	if from >= end {
		return 0, nil
	}

	minutes, err := a.candles.ListRange(ctx, token.TokenID, domain.IntervalMinute, from, end)
	if err != nil {
		return 0, err
	}
	if len(minutes) == 0 {
		return 0, nil
	}

	var hours []*domain.Candle
	var cur *domain.Candle
	for _, m := range minutes {
		ts := truncate(m.Ts, step)
		if cur == nil || cur.Ts != ts {
			cur = &domain.Candle{
				TokenID:  token.TokenID,
				ChainID:  token.ChainID,
				Interval: domain.IntervalHour,
				Ts:       ts,
				Open:     m.Open,
				High:     m.High,
				Low:      m.Low,
			}
			hours = append(hours, cur)
		}
		cur.Close = m.Close
		if m.High > cur.High {
			cur.High = m.High
		}
		if m.Low < cur.Low {
			cur.Low = m.Low
		}
		cur.VolumeToken += m.VolumeToken
		cur.VolumeEth += m.VolumeEth
		cur.TradeCount += m.TradeCount
	}

	if err := a.candles.UpsertBulk(ctx, hours); err != nil {
		return 0, err
	}
	return len(hours), nil
}
