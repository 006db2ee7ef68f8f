package aggregate

import (
	"context"
	"errors"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

const daySeconds = int64(86400)

// buildDailies maintains the per-UTC-day activity rows. The last stored day
// is rebuilt in full so a day that was partial when last aggregated heals
// itself, and the current partial day is written eagerly for the same reason.
func (a *Aggregator) buildDailies(ctx context.Context, token *domain.Token) (int, error) {
	var from int64
	latest, err := a.dailies.LatestDay(ctx, token.TokenID)
	switch {
	case err == nil:
		from = latest
	case errors.Is(err, storage.ErrNotFound):
		from = truncate(token.CreatedAt, daySeconds)
	default:
		return 0, err
	}

	today := truncate(a.now().Unix(), daySeconds)
	var aggs []*domain.DailyAgg
	for day := from; day <= today; day += daySeconds {
		agg, err := a.buildDay(ctx, token, day)
		if err != nil {
			return 0, err
		}
		if agg != nil {
			aggs = append(aggs, agg)
		}
	}
	if len(aggs) == 0 {
		return 0, nil
	}
	if err := a.dailies.Upsert(ctx, aggs); err != nil {
		return 0, err
	}
	return len(aggs), nil
}

// buildDay aggregates both ledgers over one UTC day. Returns nil for a day
// with no activity.
func (a *Aggregator) buildDay(ctx context.Context, token *domain.Token, day int64) (*domain.DailyAgg, error) {
	transfers, err := a.transfers.ListByTokenRange(ctx, token.TokenID, day, day+daySeconds)
	if err != nil {
		return nil, err
	}
	trades, err := a.trades.ListByTokenRange(ctx, token.TokenID, day, day+daySeconds)
	if err != nil {
		return nil, err
	}
	if len(transfers) == 0 && len(trades) == 0 {
		return nil, nil
	}

	agg := &domain.DailyAgg{
		TokenID:      token.TokenID,
		ChainID:      token.ChainID,
		Day:          day,
		Transfers:    uint32(len(transfers) + len(trades)),
		HoldersCount: token.HolderCount,
	}

	senders := make(map[string]struct{})
	receivers := make(map[string]struct{})
	for _, rec := range transfers {
		senders[rec.From] = struct{}{}
		receivers[rec.To] = struct{}{}
		agg.VolumeToken += rec.Amount
		if rec.EthAmount != nil {
			agg.VolumeEth += *rec.EthAmount
		}
	}
	traders := make(map[string]struct{})
	for _, tr := range trades {
		traders[tr.Trader] = struct{}{}
		agg.VolumeToken += tr.TokenAmount
		agg.VolumeEth += tr.EthAmount
	}
	agg.UniqueSenders = uint32(len(senders))
	agg.UniqueReceivers = uint32(len(receivers))
	agg.UniqueTraders = uint32(len(traders))

	return agg, nil
}
