// Package classify labels raw Transfer events with business meaning the
// chain itself does not encode. Classification is a pure function over
// explicit inputs; any remaining ambiguity resolves to a generic kind and is
// eligible for later backfill rather than guessed deeper in the pipeline.
package classify

import (
	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/evm"
)

// SelectorTable maps 4-byte call-data selectors to transfer kinds. The
// mapping is specific to one contract family, so it is injected rather than
// hard-coded in the decision logic.
type SelectorTable map[string]domain.TransferKind

// DefaultSelectors returns the launchpad contract family's selector mapping.
func DefaultSelectors() SelectorTable {
	return SelectorTable{
		"0xd96a094a": domain.KindBuy,          // buy(uint256)
		"0xe4849b32": domain.KindSell,         // sell(uint256)
		"0x2f52ebb7": domain.KindBuyAndLock,   // buyAndLock(uint256)
		"0x8fa8b790": domain.KindUnlock,       // unlockTokens()
		"0x9e3a5e35": domain.KindClaimAirdrop, // claimAirdrop(bytes32[])
	}
}

// Input carries everything the classifier may consult. The caller supplies
// the creator and contract addresses; the classifier performs no I/O.
type Input struct {
	From     string  // transfer sender (lowercase hex)
	To       string  // transfer receiver (lowercase hex)
	Amount   float64 // token amount, normalized
	Contract string  // token contract address
	Creator  string  // contract creator address
	TxFrom   string  // transaction sender
	TxValue  float64 // native value sent with the transaction, in ether
	Selector string  // 4-byte call-data selector, "" when no data
}

// Classify returns the semantic kind of a transfer. Decision order, first
// match wins:
//
//  1. Known call-data selector.
//  2. Mint (from == zero): positive value is BUY, or BUY_AND_LOCK when the
//     sender is the creator; zero value to the contract itself is GRADUATION;
//     otherwise TRANSFER.
//  3. Burn (to == zero): positive value is SELL, zero value TRANSFER.
//  4. From the contract is UNLOCK; to the contract is SELL.
//  5. Positive value with no other match is BUY.
//  6. Otherwise TRANSFER.
func Classify(in Input, selectors SelectorTable) domain.TransferKind {
	if in.Selector != "" {
		if kind, ok := selectors[in.Selector]; ok {
			return kind
		}
	}

	switch {
	case in.From == evm.ZeroAddress:
		switch {
		case in.TxValue > 0 && in.TxFrom == in.Creator:
			return domain.KindBuyAndLock
		case in.TxValue > 0:
			return domain.KindBuy
		case in.To == in.Contract:
			return domain.KindGraduation
		default:
			return domain.KindTransfer
		}

	case in.To == evm.ZeroAddress:
		if in.TxValue > 0 {
			return domain.KindSell
		}
		return domain.KindTransfer

	case in.From == in.Contract:
		return domain.KindUnlock

	case in.To == in.Contract:
		return domain.KindSell
	}

	if in.TxValue > 0 {
		return domain.KindBuy
	}
	return domain.KindTransfer
}
