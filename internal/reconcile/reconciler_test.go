package reconcile

import (
	"context"
	"testing"
	"time"

	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/evm"
	"launchpad-indexer/internal/evm/stub"
	"launchpad-indexer/internal/storage/memory"
)

const (
	testContract = "0xc0ffee0000000000000000000000000000000001"
	testCreator  = "0xc4ea0000000000000000000000000000000000ee"
	testUser     = "0xaaaa000000000000000000000000000000000001"
	testPool     = "0xbeef000000000000000000000000000000000002"
)

type fixture struct {
	client *stub.Client
	xfers  *memory.TransferStore
	trades *memory.TradeStore
	tokens *memory.TokenStore
	pools  *memory.PoolStore
	ledger *memory.LedgerStore
}

func newFixture() *fixture {
	f := &fixture{
		client: stub.New(),
		xfers:  memory.NewTransferStore(),
		trades: memory.NewTradeStore(),
		tokens: memory.NewTokenStore(),
		pools:  memory.NewPoolStore(),
	}
	f.ledger = memory.NewLedgerStore(f.xfers, f.trades, memory.NewCursorStore(), f.tokens)
	f.tokens.Put(&domain.Token{
		TokenID:   1,
		ChainID:   1,
		Contract:  testContract,
		Creator:   testCreator,
		CreatedAt: 1_700_000_000,
	})
	return f
}

func (f *fixture) reconciler() *Reconciler {
	return New(Options{
		TransferStore: f.xfers,
		TradeStore:    f.trades,
		TokenStore:    f.tokens,
		PoolStore:     f.pools,
		LedgerStore:   f.ledger,
		Client:        f.client,
		Now:           func() time.Time { return time.Unix(1_800_000_000, 0) },
	})
}

// seedBalances mirrors what the scan would have committed for the given
// records: amount out of From, into To, skipping the zero address.
func seedBalances(t *testing.T, f *fixture, recs []*domain.TransferRecord) {
	t.Helper()
	batch := domain.NewWindowBatch(1, 200)
	for _, rec := range recs {
		entries := make(map[domain.BalanceKey]float64, 2)
		if rec.From != evm.ZeroAddress {
			entries[domain.BalanceKey{TokenID: rec.TokenID, Holder: rec.From}] -= rec.Amount
		}
		if rec.To != evm.ZeroAddress {
			entries[domain.BalanceKey{TokenID: rec.TokenID, Holder: rec.To}] += rec.Amount
		}
		batch.Deltas = append(batch.Deltas, domain.TransferDelta{
			TxHash: rec.TxHash, LogIndex: rec.LogIndex, Entries: entries,
		})
		batch.Touched[rec.TokenID] = struct{}{}
	}
	batch.Transfers = recs
	if err := f.ledger.CommitWindow(context.Background(), batch); err != nil {
		t.Fatalf("seed balances failed: %v", err)
	}
}

func transfer(txHash string, logIndex uint32, kind domain.TransferKind, amount float64) *domain.TransferRecord {
	return &domain.TransferRecord{
		TokenID:     1,
		ChainID:     1,
		Contract:    testContract,
		BlockNumber: 150,
		BlockTime:   1_700_000_150,
		TxHash:      txHash,
		LogIndex:    logIndex,
		From:        evm.ZeroAddress,
		To:          testUser,
		Amount:      amount,
		Kind:        kind,
	}
}

func withPrice(rec *domain.TransferRecord, eth float64) *domain.TransferRecord {
	p := eth / rec.Amount
	rec.EthAmount = &eth
	rec.Price = &p
	return rec
}

func TestRun_ConsolidatesGraduationTransfers(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	// One graduation transaction producing three transfer logs: the anchor
	// carries value, the others distribute tokens.
	recs := []*domain.TransferRecord{
		withPrice(transfer("0xgrad", 0, domain.KindBuy, 100), 2.0),
		transfer("0xgrad", 1, domain.KindTransfer, 40),
		transfer("0xgrad", 2, domain.KindTransfer, 60),
	}
	if err := f.xfers.Upsert(ctx, recs); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	stats, err := f.reconciler().Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Consolidated != 1 {
		t.Errorf("Consolidated = %d, want 1", stats.Consolidated)
	}

	got, err := f.xfers.GetByTx(ctx, 1, "0xgrad")
	if err != nil {
		t.Fatalf("GetByTx failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d records after consolidation, want 1", len(got))
	}
	syn := got[0]
	if syn.Kind != domain.KindGraduation {
		t.Errorf("kind = %s, want GRADUATION", syn.Kind)
	}
	if syn.Amount != 200 {
		t.Errorf("amount = %f, want summed 200", syn.Amount)
	}
	if syn.EthAmount == nil || *syn.EthAmount != 2.0 {
		t.Errorf("eth amount = %v, want 2.0", syn.EthAmount)
	}
	if syn.Price == nil || *syn.Price != 0.01 {
		t.Errorf("price = %v, want 0.01", syn.Price)
	}
}

func TestRun_MultiLogWithoutAnchorLeftAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	// Airdrop-style fan-out: several logs, none carrying value.
	recs := []*domain.TransferRecord{
		transfer("0xdrop", 0, domain.KindTransfer, 10),
		transfer("0xdrop", 1, domain.KindTransfer, 10),
	}
	if err := f.xfers.Upsert(ctx, recs); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	stats, err := f.reconciler().Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Consolidated != 1 {
		// The tx is visited but its shape keeps per-log records.
		t.Errorf("Consolidated = %d, want 1 visited", stats.Consolidated)
	}
	got, _ := f.xfers.GetByTx(ctx, 1, "0xdrop")
	if len(got) != 2 {
		t.Errorf("got %d records, want 2 untouched", len(got))
	}
}

func TestRun_ConsolidatesGraduationTrades(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	trades := []*domain.TradeRecord{
		{TokenID: 1, ChainID: 1, TxHash: "0xgrad", LogIndex: 0, BlockNumber: 150, BlockTime: 1_700_000_150,
			Trader: testUser, Side: domain.SideBuy, TokenAmount: 100, EthAmount: 1.5, Price: 0.015},
		{TokenID: 1, ChainID: 1, TxHash: "0xgrad", LogIndex: 1, BlockNumber: 150, BlockTime: 1_700_000_150,
			Trader: testUser, Side: domain.SideBuy, TokenAmount: 100, EthAmount: 0.5, Price: 0.005},
	}
	if err := f.trades.Upsert(ctx, trades); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	stats, err := f.reconciler().Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Consolidated != 1 {
		t.Errorf("Consolidated = %d, want 1", stats.Consolidated)
	}

	if f.trades.Count() != 0 {
		t.Errorf("trades = %d, want 0 after consolidation", f.trades.Count())
	}
	got, _ := f.xfers.GetByTx(ctx, 1, "0xgrad")
	if len(got) != 1 {
		t.Fatalf("got %d transfer records, want 1 synthetic", len(got))
	}
	syn := got[0]
	if syn.Kind != domain.KindGraduation || syn.Amount != 200 {
		t.Errorf("synthetic = %s/%f, want GRADUATION/200", syn.Kind, syn.Amount)
	}
	if syn.From != testUser || syn.To != testContract {
		t.Errorf("synthetic endpoints = %s -> %s", syn.From, syn.To)
	}
	if syn.EthAmount == nil || *syn.EthAmount != 2.0 {
		t.Errorf("eth amount = %v, want 2.0", syn.EthAmount)
	}
}

func TestRun_RemovesOverlaps(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	trade := &domain.TradeRecord{TokenID: 1, ChainID: 1, TxHash: "0xswap", LogIndex: 3,
		BlockNumber: 200, BlockTime: 1_700_000_200, Trader: testUser, Side: domain.SideSell,
		TokenAmount: 50, EthAmount: 0.5, Price: 0.01}
	if err := f.trades.Upsert(ctx, []*domain.TradeRecord{trade}); err != nil {
		t.Fatalf("seed trade failed: %v", err)
	}
	// The scanner also saw the raw Transfer for the same tx.
	if err := f.xfers.Upsert(ctx, []*domain.TransferRecord{transfer("0xswap", 0, domain.KindSell, 50)}); err != nil {
		t.Fatalf("seed transfer failed: %v", err)
	}

	stats, err := f.reconciler().Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Overlaps != 1 {
		t.Errorf("Overlaps = %d, want 1", stats.Overlaps)
	}
	if got, _ := f.xfers.GetByTx(ctx, 1, "0xswap"); len(got) != 0 {
		t.Errorf("transfer records remain for a traded tx: %d", len(got))
	}
	if f.trades.Count() != 1 {
		t.Errorf("trade record lost: count = %d", f.trades.Count())
	}
}

func TestRun_RebuildsBalancesAfterRowRemoval(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.pools.Put(&domain.Pool{TokenID: 1, ChainID: 1, PoolAddress: testPool, BaseAsset: testContract})

	// Scanned before pool discovery: the sell into the pool moved balances,
	// including a phantom pool holding.
	mint := transfer("0xmint", 0, domain.KindTransfer, 100)
	sell := withPrice(transfer("0xdup", 0, domain.KindSell, 30), 0.3)
	sell.From = testUser
	sell.To = testPool
	seedBalances(t, f, []*domain.TransferRecord{mint, sell})

	// The same tx later landed in the trade ledger; overlap removal deletes
	// the transfer row, leaving its scan-time deltas orphaned.
	trade := &domain.TradeRecord{TokenID: 1, ChainID: 1, TxHash: "0xdup", LogIndex: 0,
		BlockNumber: 150, BlockTime: 1_700_000_150, Trader: testUser, Side: domain.SideSell,
		TokenAmount: 30, EthAmount: 0.3, Price: 0.01}
	if err := f.trades.Upsert(ctx, []*domain.TradeRecord{trade}); err != nil {
		t.Fatalf("seed trade failed: %v", err)
	}

	if bal, _ := f.ledger.GetBalance(ctx, 1, testUser); bal != 70 {
		t.Fatalf("seeded balance = %f, want 70", bal)
	}

	stats, err := f.reconciler().Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Overlaps != 1 {
		t.Errorf("Overlaps = %d, want 1", stats.Overlaps)
	}
	if stats.Rebuilt != 1 {
		t.Errorf("Rebuilt = %d, want 1", stats.Rebuilt)
	}

	// Balances match the surviving ledger: only the mint remains, and the
	// pool address never holds.
	if bal, _ := f.ledger.GetBalance(ctx, 1, testUser); bal != 100 {
		t.Errorf("user balance = %f, want rebuilt 100", bal)
	}
	if bal, _ := f.ledger.GetBalance(ctx, 1, testPool); bal != 0 {
		t.Errorf("pool balance = %f, want 0", bal)
	}
	if sum, _ := f.ledger.SumPositive(ctx, 1); sum != 100 {
		t.Errorf("circulating supply = %f, want 100", sum)
	}
	tok, _ := f.tokens.GetByID(ctx, 1)
	if tok.HolderCount != 1 {
		t.Errorf("holder count = %d, want 1", tok.HolderCount)
	}
}

func TestRun_MigratesMisclassifiedBuys(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.pools.Put(&domain.Pool{TokenID: 1, ChainID: 1, PoolAddress: testPool, BaseAsset: testContract})

	// Graduated token with a pool: BUYs whose tokens came out of the pool
	// are market trades. The bonding-curve mint stays a transfer.
	buy := withPrice(transfer("0xbuy", 0, domain.KindBuy, 20), 0.4)
	buy.From = testPool
	if err := f.xfers.Upsert(ctx, []*domain.TransferRecord{
		withPrice(transfer("0xgrad", 0, domain.KindGraduation, 100), 1.0),
		withPrice(transfer("0xmint", 0, domain.KindBuy, 10), 0.1),
		buy,
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	sender := "0xdddd000000000000000000000000000000000004"
	f.client.Transactions["0xbuy"] = &evm.Transaction{Hash: "0xbuy", From: sender, BlockNumber: 150}

	stats, err := f.reconciler().Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Migrated != 1 {
		t.Errorf("Migrated = %d, want 1", stats.Migrated)
	}

	if got, _ := f.xfers.GetByTx(ctx, 1, "0xbuy"); len(got) != 0 {
		t.Errorf("migrated transfer still present: %d", len(got))
	}
	trades, _ := f.trades.GetByTx(ctx, 1, "0xbuy")
	if len(trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades))
	}
	tr := trades[0]
	if tr.Side != domain.SideBuy || tr.TokenAmount != 20 || tr.EthAmount != 0.4 {
		t.Errorf("trade = %s/%f/%f", tr.Side, tr.TokenAmount, tr.EthAmount)
	}
	if tr.Trader != sender {
		t.Errorf("trader = %s, want tx sender %s", tr.Trader, sender)
	}
	if got, _ := f.xfers.GetByTx(ctx, 1, "0xmint"); len(got) != 1 {
		t.Errorf("bonding-curve mint migrated: %d records", len(got))
	}
}

func TestRun_MigrationNeedsPoolAndGraduation(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	// Pool exists but the token never graduated: BUYs stay put.
	f.pools.Put(&domain.Pool{TokenID: 1, ChainID: 1, PoolAddress: testPool, BaseAsset: testContract})
	if err := f.xfers.Upsert(ctx, []*domain.TransferRecord{
		withPrice(transfer("0xbuy", 0, domain.KindBuy, 20), 0.4),
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	stats, err := f.reconciler().Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Migrated != 0 {
		t.Errorf("Migrated = %d, want 0 without graduation", stats.Migrated)
	}
	if got, _ := f.xfers.GetByTx(ctx, 1, "0xbuy"); len(got) != 1 {
		t.Errorf("buy record = %d, want untouched", len(got))
	}
}

func TestRun_BackfillsFromTransactionValue(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	rec := transfer("0xbuy", 0, domain.KindOther, 10)
	if err := f.xfers.Upsert(ctx, []*domain.TransferRecord{rec}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	f.client.Transactions["0xbuy"] = &evm.Transaction{
		Hash: "0xbuy", From: testUser, To: testContract,
		Value: evm.EtherToWei(1.0), BlockNumber: 150,
	}

	stats, err := f.reconciler().Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Backfilled != 1 {
		t.Errorf("Backfilled = %d, want 1", stats.Backfilled)
	}

	got, _ := f.xfers.GetByTx(ctx, 1, "0xbuy")
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].Kind != domain.KindBuy {
		t.Errorf("kind = %s, want re-classified BUY", got[0].Kind)
	}
	if got[0].EthAmount == nil || *got[0].EthAmount != 1.0 {
		t.Errorf("eth amount = %v, want 1.0", got[0].EthAmount)
	}
	if got[0].Price == nil || *got[0].Price != 0.1 {
		t.Errorf("price = %v, want 0.1", got[0].Price)
	}
}

func TestRun_BackfillsSellViaHistoricalQuote(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	rec := transfer("0xsell", 0, domain.KindSell, 10)
	rec.From = testUser
	rec.To = evm.ZeroAddress
	if err := f.xfers.Upsert(ctx, []*domain.TransferRecord{rec}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	// Sell transactions carry no native value; proceeds come from the quote
	// function at the block before.
	f.client.Transactions["0xsell"] = &evm.Transaction{
		Hash: "0xsell", From: testUser, To: testContract,
		Input: "0xe4849b32" + evm.EncodeUint256(evm.EtherToWei(10)), BlockNumber: 150,
	}
	data := evm.EncodeCall(DefaultQuoteSelector, evm.EncodeUint256(evm.EtherToWei(10.0)))
	f.client.CallResults[stub.CallKey(testContract, data, 149)] =
		"0x" + evm.EncodeUint256(evm.EtherToWei(0.5))

	stats, err := f.reconciler().Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Backfilled != 1 {
		t.Fatalf("Backfilled = %d, want 1 (errors: %v)", stats.Backfilled, stats.Errors)
	}

	got, _ := f.xfers.GetByTx(ctx, 1, "0xsell")
	if len(got) != 1 {
		t.Fatalf("got %d records, want 1", len(got))
	}
	if got[0].EthAmount == nil || *got[0].EthAmount != 0.5 {
		t.Errorf("eth amount = %v, want quoted 0.5", got[0].EthAmount)
	}
	if got[0].Price == nil || *got[0].Price != 0.05 {
		t.Errorf("price = %v, want 0.05", got[0].Price)
	}
}

func TestRun_BackfillQuoteFailureIsBestEffort(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	rec := transfer("0xsell", 0, domain.KindSell, 10)
	rec.From = testUser
	rec.To = evm.ZeroAddress
	if err := f.xfers.Upsert(ctx, []*domain.TransferRecord{rec}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	// Transaction resolvable, no scripted quote result: the record stays
	// pending without failing the pass.
	f.client.Transactions["0xsell"] = &evm.Transaction{
		Hash: "0xsell", From: testUser, To: testContract,
		Input: "0xe4849b32" + evm.EncodeUint256(evm.EtherToWei(10)), BlockNumber: 150,
	}

	stats, err := f.reconciler().Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Backfilled != 0 {
		t.Errorf("Backfilled = %d, want 0", stats.Backfilled)
	}
	if len(stats.Errors) != 0 {
		t.Errorf("quote failure recorded as pass error: %v", stats.Errors)
	}
}

func TestRun_ErrorsIsolatedPerTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	// Two backfill candidates; only one has a resolvable transaction.
	if err := f.xfers.Upsert(ctx, []*domain.TransferRecord{
		transfer("0xmissing", 0, domain.KindOther, 5),
		transfer("0xbuy", 0, domain.KindOther, 10),
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	f.client.Transactions["0xbuy"] = &evm.Transaction{
		Hash: "0xbuy", From: testUser, Value: evm.EtherToWei(1.0), BlockNumber: 150,
	}

	stats, err := f.reconciler().Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Backfilled != 1 {
		t.Errorf("Backfilled = %d, want 1", stats.Backfilled)
	}
	if len(stats.Errors) != 1 {
		t.Errorf("Errors = %v, want one entry for the missing tx", stats.Errors)
	}
}
