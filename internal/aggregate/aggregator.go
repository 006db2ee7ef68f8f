// Package aggregate builds the derived read models: minute/hour OHLCV
// candles, daily activity aggregates, and the per-token summary cache. Every
// pass is windowed and idempotent, processing from the last completed bucket
// forward; the current, still-open bucket is never finalized.
package aggregate

import (
	"context"
	"fmt"
	"log"
	"time"

	"launchpad-indexer/internal/storage"
)

const rateCacheTTL = 10 * time.Minute

// Aggregator runs the aggregation passes for one chain.
type Aggregator struct {
	tokens    storage.TokenStore
	pools     storage.PoolStore
	transfers storage.TransferStore
	trades    storage.TradeStore
	ledger    storage.LedgerStore
	candles   storage.CandleStore
	dailies   storage.DailyAggStore
	rates     RateProvider
	now       func() time.Time
	verbose   bool

	cachedRate    float64
	rateFetchedAt time.Time
}

// Options for creating an Aggregator.
type Options struct {
	TokenStore    storage.TokenStore
	PoolStore     storage.PoolStore
	TransferStore storage.TransferStore
	TradeStore    storage.TradeStore
	LedgerStore   storage.LedgerStore
	CandleStore   storage.CandleStore
	DailyAggStore storage.DailyAggStore
	Rates         RateProvider     // nil disables USD conversion
	Now           func() time.Time // nil uses time.Now
	Verbose       bool
}

// New creates a new Aggregator.
func New(opts Options) *Aggregator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Aggregator{
		tokens:    opts.TokenStore,
		pools:     opts.PoolStore,
		transfers: opts.TransferStore,
		trades:    opts.TradeStore,
		ledger:    opts.LedgerStore,
		candles:   opts.CandleStore,
		dailies:   opts.DailyAggStore,
		rates:     opts.Rates,
		now:       now,
		verbose:   opts.Verbose,
	}
}

// Stats summarizes one aggregation pass.
type Stats struct {
	Candles   int
	Dailies   int
	Summaries int
	Errors    []string
}

// Run executes all passes for every token on a chain. A failure on one token
// is logged and skipped; the remaining tokens still aggregate.
func (a *Aggregator) Run(ctx context.Context, chainID int64) (*Stats, error) {
	tokens, err := a.tokens.ListByChain(ctx, chainID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	for _, token := range tokens {
		n, err := a.buildMinuteCandles(ctx, token)
		if err != nil {
			stats.fail("token %d minute candles: %v", token.TokenID, err)
			continue
		}
		stats.Candles += n

		n, err = a.rollupHourCandles(ctx, token)
		if err != nil {
			stats.fail("token %d hour candles: %v", token.TokenID, err)
			continue
		}
		stats.Candles += n

		n, err = a.buildDailies(ctx, token)
		if err != nil {
			stats.fail("token %d dailies: %v", token.TokenID, err)
			continue
		}
		stats.Dailies += n

		if err := a.refreshSummary(ctx, token); err != nil {
			stats.fail("token %d summary: %v", token.TokenID, err)
			continue
		}
		stats.Summaries++
	}

	a.log("chain %d: candles=%d dailies=%d summaries=%d errors=%d",
		chainID, stats.Candles, stats.Dailies, stats.Summaries, len(stats.Errors))
	return stats, nil
}

// truncate returns the start of the bucket containing ts.
func truncate(ts, step int64) int64 {
	return ts - ts%step
}

func (s *Stats) fail(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.Errors = append(s.Errors, msg)
	log.Printf("[aggregate] %s", msg)
}

func (a *Aggregator) log(format string, args ...interface{}) {
	if a.verbose {
		log.Printf("[aggregate] "+format, args...)
	}
}
