package aggregate

import (
	"context"
	"errors"
	"log"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/storage"
)

// RateProvider supplies the native-currency to USD exchange rate used for
// display-currency liquidity. Implementations may hit an external feed; the
// Aggregator caches the value across a run.
type RateProvider interface {
	EthUsdRate(ctx context.Context) (float64, error)
}

// StaticRate is a fixed-rate provider, used when no feed is configured.
type StaticRate float64

func (r StaticRate) EthUsdRate(context.Context) (float64, error) {
	return float64(r), nil
}

var _ RateProvider = StaticRate(0)

// refreshSummary recomputes the token's cache fields. Price priority:
// pool-reserve implied price, latest trade price, static base price.
func (a *Aggregator) refreshSummary(ctx context.Context, token *domain.Token) error {
	sum := &domain.TokenSummary{}

	var price float64
	pool, err := a.pools.GetByToken(ctx, token.TokenID)
	switch {
	case err == nil:
		sum.OnDex = true
		price = pool.Price()
		// Both sides of a constant-product pool are assumed economically
		// equal at the current price.
		sum.LiquidityEth = 2 * pool.ReserveQuote
		sum.LiquidityUsd = sum.LiquidityEth * a.usdRate(ctx)
	case errors.Is(err, storage.ErrNotFound):
		// not graduated to a pool yet
	default:
		return err
	}

	if price == 0 {
		p, err := a.trades.LatestPrice(ctx, token.TokenID)
		switch {
		case err == nil:
			price = p
		case errors.Is(err, storage.ErrNotFound):
		default:
			return err
		}
	}
	if price == 0 {
		price = token.BasePrice
	}

	sum.CurrentPrice = price
	sum.FDV = token.TotalSupply * price

	circulating, err := a.ledger.SumPositive(ctx, token.TokenID)
	if err != nil {
		return err
	}
	sum.MarketCap = circulating * price

	return a.tokens.UpdateSummary(ctx, token.TokenID, sum)
}

// usdRate returns the cached exchange rate, refreshing it when stale. A feed
// failure degrades to the last known rate (or 0) instead of failing the pass.
func (a *Aggregator) usdRate(ctx context.Context) float64 {
	if a.rates == nil {
		return 0
	}
	if !a.rateFetchedAt.IsZero() && a.now().Sub(a.rateFetchedAt) < rateCacheTTL {
		return a.cachedRate
	}
	rate, err := a.rates.EthUsdRate(ctx)
	if err != nil {
		log.Printf("[aggregate] usd rate fetch failed: %v", err)
		return a.cachedRate
	}
	a.cachedRate = rate
	a.rateFetchedAt = a.now()
	return rate
}
