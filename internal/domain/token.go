package domain

// Token represents a tracked launchpad token contract.
// Corresponds to tokens table in PostgreSQL.
//
// Registry fields are written by the upstream registration flow; the pipeline
// only writes DeploymentBlock, HolderCount and the summary cache fields.
// Token amounts throughout the pipeline are normalized assuming 18 decimals,
// the launchpad contract family's fixed precision.
type Token struct {
	TokenID     int64   // PRIMARY KEY
	ChainID     int64   // network the contract is deployed on
	Contract    string  // contract address (lowercase hex)
	Creator     string  // deployer address (lowercase hex)
	CreatedAt   int64   // registration timestamp (seconds)
	TotalSupply float64 // declared total supply, normalized
	BasePrice   float64 // static fallback price when no trades exist

	// Resolved lazily via binary search over block timestamps, then cached.
	DeploymentBlock *uint64

	// Cache fields maintained by the pipeline.
	HolderCount  int64
	CurrentPrice float64
	LiquidityEth float64
	LiquidityUsd float64
	FDV          float64
	MarketCap    float64
	OnDex        bool // monotonic: never reset to false once true
}

// TokenSummary holds the derived cache fields recomputed each aggregator pass.
type TokenSummary struct {
	CurrentPrice float64
	LiquidityEth float64
	LiquidityUsd float64
	FDV          float64
	MarketCap    float64
	OnDex        bool
}
