package domain

// TradeSide is the direction of a pool swap from the trader's perspective.
type TradeSide string

// Trade sides.
const (
	SideBuy  TradeSide = "BUY"
	SideSell TradeSide = "SELL"
)

// TradeRecord is one log-event belonging to an external-market swap.
// Corresponds to trades table in PostgreSQL.
// Mutually exclusive with TransferRecord for the same
// (chain_id, block_number, tx_hash); the reconciler enforces this.
type TradeRecord struct {
	TokenID     int64     // FK to tokens
	ChainID     int64     // network identifier
	TxHash      string    // transaction hash (lowercase hex)
	LogIndex    uint32    // log position within the transaction
	BlockNumber uint64    // block containing the swap
	BlockTime   int64     // Unix timestamp in seconds
	Trader      string    // swap initiator address
	Side        TradeSide // BUY or SELL
	TokenAmount float64   // token amount, normalized by decimals
	EthAmount   float64   // native amount in ether
	Price       float64   // eth per token
	CreatedAt   int64     // record creation timestamp (seconds)
}
