package domain

// TransferKind classifies the business meaning of a raw Transfer event.
type TransferKind string

// Transfer kinds. GRADUATION is sticky: once a record is stored with it,
// later upserts never overwrite it.
const (
	KindBuy          TransferKind = "BUY"
	KindSell         TransferKind = "SELL"
	KindBuyAndLock   TransferKind = "BUY_AND_LOCK"
	KindUnlock       TransferKind = "UNLOCK"
	KindGraduation   TransferKind = "GRADUATION"
	KindClaimAirdrop TransferKind = "CLAIM_AIRDROP"
	KindTransfer     TransferKind = "TRANSFER"
	KindOther        TransferKind = "OTHER"
)

// TransferRecord is one raw Transfer event not attributable to a pool swap.
// Corresponds to transfers table in PostgreSQL.
// Primary key (chain_id, tx_hash, log_index) is the natural idempotency key.
type TransferRecord struct {
	TokenID     int64        // FK to tokens
	ChainID     int64        // network identifier
	Contract    string       // token contract address (lowercase hex)
	BlockNumber uint64       // block containing the event
	BlockTime   int64        // Unix timestamp in seconds
	TxHash      string       // transaction hash (lowercase hex)
	LogIndex    uint32       // log position within the transaction
	From        string       // sender address
	To          string       // receiver address
	Amount      float64      // token amount, normalized by decimals
	EthAmount   *float64     // native amount in ether, nil when not yet known
	Price       *float64     // eth per token, nil when not yet known
	Kind        TransferKind // semantic classification
	CreatedAt   int64        // record creation timestamp (seconds)
}

// TxKey identifies a transaction within a chain. Used for cross-ledger
// exclusivity checks.
type TxKey struct {
	ChainID     int64
	BlockNumber uint64
	TxHash      string
}
