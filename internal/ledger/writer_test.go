package ledger

import (
	"fmt"
	"testing"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/evm"
)

const (
	userA    = "0xaaaa000000000000000000000000000000000001"
	userB    = "0xbbbb000000000000000000000000000000000002"
	poolAddr = "0xcccc000000000000000000000000000000000003"
)

func rec(tokenID int64, from, to string, amount float64) *domain.TransferRecord {
	return &domain.TransferRecord{
		TokenID:  tokenID,
		ChainID:  1,
		TxHash:   fmt.Sprintf("0xtx%s%s", from[:6], to[:6]),
		LogIndex: 0,
		From:     from,
		To:       to,
		Amount:   amount,
		Kind:     domain.KindTransfer,
	}
}

// deltaSum folds the per-record deltas down to one holder's net movement.
func deltaSum(batch *domain.WindowBatch, key domain.BalanceKey) float64 {
	var sum float64
	for _, d := range batch.Deltas {
		sum += d.Entries[key]
	}
	return sum
}

// holdsKey reports whether any record's delta touches the given holder.
func holdsKey(batch *domain.WindowBatch, key domain.BalanceKey) bool {
	for _, d := range batch.Deltas {
		if _, ok := d.Entries[key]; ok {
			return true
		}
	}
	return false
}

func TestBatchBuilder_MintAndTransfer(t *testing.T) {
	b := NewBatchBuilder(1, 100, nil)

	b.Add(rec(7, evm.ZeroAddress, userA, 10)) // mint
	b.Add(rec(7, userA, userB, 4))

	batch := b.Batch()
	if len(batch.Transfers) != 2 {
		t.Fatalf("got %d transfers, want 2", len(batch.Transfers))
	}

	if len(batch.Deltas) != 2 {
		t.Fatalf("got %d delta groups, want one per record", len(batch.Deltas))
	}
	if got := deltaSum(batch, domain.BalanceKey{TokenID: 7, Holder: userA}); got != 6 {
		t.Errorf("userA delta = %f, want 6", got)
	}
	if got := deltaSum(batch, domain.BalanceKey{TokenID: 7, Holder: userB}); got != 4 {
		t.Errorf("userB delta = %f, want 4", got)
	}
	if holdsKey(batch, domain.BalanceKey{TokenID: 7, Holder: evm.ZeroAddress}) {
		t.Error("zero address must not accumulate a balance")
	}
	if _, ok := batch.Touched[7]; !ok {
		t.Error("token 7 should be marked touched")
	}
}

func TestBatchBuilder_PoolsExcluded(t *testing.T) {
	pools := map[string]struct{}{poolAddr: {}}
	b := NewBatchBuilder(1, 100, pools)

	// Swap into a pool: only the user side moves.
	b.Add(rec(7, userA, poolAddr, 5))

	batch := b.Batch()
	if got := deltaSum(batch, domain.BalanceKey{TokenID: 7, Holder: userA}); got != -5 {
		t.Errorf("userA delta = %f, want -5", got)
	}
	if holdsKey(batch, domain.BalanceKey{TokenID: 7, Holder: poolAddr}) {
		t.Error("pool address must not accumulate a balance")
	}
	if _, ok := batch.Touched[7]; !ok {
		t.Error("token 7 should be marked touched when the user side moved")
	}
}

func TestBatchBuilder_DeltasKeyedByRecord(t *testing.T) {
	b := NewBatchBuilder(1, 100, nil)
	r := rec(7, evm.ZeroAddress, userA, 10)
	r.TxHash = "0xfeed"
	r.LogIndex = 3
	b.Add(r)

	batch := b.Batch()
	if len(batch.Deltas) != 1 {
		t.Fatalf("got %d delta groups, want 1", len(batch.Deltas))
	}
	if d := batch.Deltas[0]; d.TxHash != "0xfeed" || d.LogIndex != 3 {
		t.Errorf("delta keyed by %s/%d, want 0xfeed/3", d.TxHash, d.LogIndex)
	}
}

func TestBatchBuilder_PoolToPoolNotTouched(t *testing.T) {
	otherPool := "0xdddd000000000000000000000000000000000004"
	pools := map[string]struct{}{poolAddr: {}, otherPool: {}}
	b := NewBatchBuilder(1, 100, pools)

	b.Add(rec(7, poolAddr, otherPool, 5))

	batch := b.Batch()
	if len(batch.Deltas) != 0 {
		t.Errorf("got %d deltas, want 0", len(batch.Deltas))
	}
	if _, ok := batch.Touched[7]; ok {
		t.Error("token must not be touched when no balance moved")
	}
	if len(batch.Transfers) != 1 {
		t.Error("record itself should still be appended")
	}
}

func TestBatchBuilder_ZeroAmountSkipsDeltas(t *testing.T) {
	b := NewBatchBuilder(1, 100, nil)

	b.Add(rec(7, userA, userB, 0))

	batch := b.Batch()
	if len(batch.Deltas) != 0 || len(batch.Touched) != 0 {
		t.Errorf("zero amount produced deltas=%d touched=%d", len(batch.Deltas), len(batch.Touched))
	}
	if len(batch.Transfers) != 1 {
		t.Error("zero-amount record should still be stored")
	}
}

func TestBatchBuilder_Empty(t *testing.T) {
	b := NewBatchBuilder(1, 250, nil)
	if !b.Empty() {
		t.Error("fresh builder should be empty")
	}

	batch := b.Batch()
	if batch.ChainID != 1 || batch.ToBlock != 250 {
		t.Errorf("batch identity = %d/%d, want 1/250", batch.ChainID, batch.ToBlock)
	}

	b.Add(rec(7, userA, userB, 1))
	if b.Empty() {
		t.Error("builder with a record should not be empty")
	}
}
