package domain

// BalanceEntry is the running balance of one holder for one token.
// Corresponds to balances table in PostgreSQL.
//
// Derived from TransferRecord activity only; trade-ledger rows do not move
// balances. Pool addresses are excluded from holder accounting, balances are
// clamped at zero, and zero rows are pruned opportunistically.
type BalanceEntry struct {
	TokenID int64
	Holder  string // lowercase hex address
	Balance float64
}

// BalanceKey identifies one balance row.
type BalanceKey struct {
	TokenID int64
	Holder  string
}

// TransferDelta carries the balance movements implied by one transfer row,
// keyed by the row's natural key within the batch's chain. The commit applies
// a delta only when its row was absent before the upsert, so the reorg-cushion
// rescan replays rows without double-counting balances.
type TransferDelta struct {
	TxHash   string
	LogIndex uint32
	Entries  map[BalanceKey]float64
}

// WindowBatch is the unit of atomic commit for one scanned block window:
// transfer and trade upserts, per-row balance deltas, the set of tokens whose
// holder counts must be recomputed, and the cursor advance. Either all apply
// or none do.
type WindowBatch struct {
	ChainID   int64
	ToBlock   uint64 // cursor advances to this block on commit
	Transfers []*TransferRecord
	Trades    []*TradeRecord // pool swaps; never move balances
	Deltas    []TransferDelta
	Touched   map[int64]struct{} // token IDs with balance changes
}

// NewWindowBatch creates an empty batch for a chain window.
func NewWindowBatch(chainID int64, toBlock uint64) *WindowBatch {
	return &WindowBatch{
		ChainID: chainID,
		ToBlock: toBlock,
		Touched: make(map[int64]struct{}),
	}
}
