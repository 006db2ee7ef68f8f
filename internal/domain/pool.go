package domain

// Pool is the external-market liquidity pool for a graduated token, supplied
// by the pool-discovery collaborator. Corresponds to pools table in
// PostgreSQL; read-only from the pipeline's perspective.
type Pool struct {
	TokenID       int64
	ChainID       int64
	PoolAddress   string // lowercase hex
	BaseAsset     string // pooled token contract address
	BaseDecimals  int
	QuoteDecimals int

	// Latest reserve snapshot, normalized by decimals.
	ReserveBase      float64 // token side
	ReserveQuote     float64 // native-currency side
	ReserveUpdatedAt int64   // Unix seconds, 0 when no snapshot yet
}

// Price returns the reserve-implied price (eth per token), or 0 when the
// snapshot cannot imply one.
func (p *Pool) Price() float64 {
	if p.ReserveBase <= 0 || p.ReserveQuote <= 0 {
		return 0
	}
	return p.ReserveQuote / p.ReserveBase
}
