package scanner

import (
	"context"
	"math/big"
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
	client  *stub.Client
	tokens  *memory.TokenStore
	pools   *memory.PoolStore
	cursors *memory.CursorStore
	ledger  *memory.LedgerStore
	xfers   *memory.TransferStore
	trades  *memory.TradeStore
}

func newFixture() *fixture {
	tokens := memory.NewTokenStore()
	pools := memory.NewPoolStore()
	cursors := memory.NewCursorStore()
	xfers := memory.NewTransferStore()
	trades := memory.NewTradeStore()
	return &fixture{
		client:  stub.New(),
		tokens:  tokens,
		pools:   pools,
		cursors: cursors,
		ledger:  memory.NewLedgerStore(xfers, trades, cursors, tokens),
		xfers:   xfers,
		trades:  trades,
	}
}

func (f *fixture) scanner(cfg *Config, now func() time.Time) *Scanner {
	return New(Options{
		Client:      f.client,
		TokenStore:  f.tokens,
		PoolStore:   f.pools,
		CursorStore: f.cursors,
		LedgerStore: f.ledger,
		Config:      cfg,
		Now:         now,
	})
}

func ptr[T any](v T) *T { return &v }

func topicAddr(addr string) string {
	return "0x000000000000000000000000" + addr[2:]
}

func transferLog(block uint64, txHash string, logIndex uint32, from, to string, amount float64) evm.Log {
	return evm.Log{
		Address:     testContract,
		Topics:      []string{evm.TransferTopic, topicAddr(from), topicAddr(to)},
		Data:        "0x" + evm.EncodeUint256(evm.EtherToWei(amount)),
		BlockNumber: block,
		TxHash:      txHash,
		LogIndex:    logIndex,
	}
}

func seedToken(f *fixture, deployBlock uint64) {
	f.tokens.Put(&domain.Token{
		TokenID:         1,
		ChainID:         1,
		Contract:        testContract,
		Creator:         testCreator,
		CreatedAt:       1_700_000_000,
		TotalSupply:     1_000_000,
		DeploymentBlock: ptr(deployBlock),
	})
}

func TestScanChain_ClassifiesAndCommits(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	seedToken(f, 90)

	f.client.Head = 110
	f.client.Timestamps[90] = 1_700_000_000
	f.client.Logs = []evm.Log{transferLog(100, "0xtx1", 0, evm.ZeroAddress, testUser, 10)}
	f.client.Transactions["0xtx1"] = &evm.Transaction{
		Hash:        "0xtx1",
		From:        testUser,
		To:          testContract,
		Value:       evm.EtherToWei(1.0),
		Input:       "0xd96a094a" + evm.EncodeUint256(big.NewInt(0)),
		BlockNumber: 100,
	}

	stats, err := f.scanner(nil, nil).ScanChain(ctx, 1)
	if err != nil {
		t.Fatalf("ScanChain failed: %v", err)
	}
	if stats.Transfers != 1 {
		t.Fatalf("stats.Transfers = %d, want 1", stats.Transfers)
	}
	if stats.FromBlock != 90 || stats.ToBlock != 110 {
		t.Errorf("scan span = [%d, %d], want [90, 110]", stats.FromBlock, stats.ToBlock)
	}

	recs, err := f.xfers.GetByTx(ctx, 1, "0xtx1")
	if err != nil || len(recs) != 1 {
		t.Fatalf("GetByTx = %d records, %v", len(recs), err)
	}
	rec := recs[0]
	if rec.Kind != domain.KindBuy {
		t.Errorf("kind = %s, want BUY", rec.Kind)
	}
	if rec.Amount != 10 {
		t.Errorf("amount = %f, want 10", rec.Amount)
	}
	if rec.EthAmount == nil || *rec.EthAmount != 1.0 {
		t.Errorf("eth amount = %v, want 1.0", rec.EthAmount)
	}
	if rec.Price == nil || *rec.Price != 0.1 {
		t.Errorf("price = %v, want 0.1", rec.Price)
	}
	if rec.BlockTime != 1_700_000_010 {
		t.Errorf("block time = %d, want interpolated 1700000010", rec.BlockTime)
	}

	if bal, _ := f.ledger.GetBalance(ctx, 1, testUser); bal != 10 {
		t.Errorf("user balance = %f, want 10", bal)
	}
	if block, err := f.cursors.Get(ctx, 1); err != nil || block != 110 {
		t.Errorf("cursor = %d, %v, want 110", block, err)
	}
}

func TestScanChain_NoTokensIsNoop(t *testing.T) {
	f := newFixture()
	f.client.Head = 100

	stats, err := f.scanner(nil, nil).ScanChain(context.Background(), 1)
	if err != nil {
		t.Fatalf("ScanChain failed: %v", err)
	}
	if stats.Windows != 0 || stats.Transfers != 0 {
		t.Errorf("stats = %+v, want zero", stats)
	}
	if f.client.Calls["blockNumber"] != 0 {
		t.Error("no RPC calls expected for an empty registry")
	}
}

func TestScanChain_ShrinksChunkOnRateLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	seedToken(f, 1)

	f.client.Head = 800
	f.client.Timestamps[1] = 1_700_000_000
	f.client.RateLimitSpan = 100
	f.client.Logs = []evm.Log{transferLog(500, "0xtx1", 0, evm.ZeroAddress, testUser, 5)}
	f.client.Transactions["0xtx1"] = &evm.Transaction{
		Hash: "0xtx1", From: testUser, Value: evm.EtherToWei(0.5), BlockNumber: 500,
	}

	cfg := DefaultConfig()
	cfg.ChunkSize = 800
	cfg.MinChunkSize = 100

	stats, err := f.scanner(&cfg, nil).ScanChain(ctx, 1)
	if err != nil {
		t.Fatalf("ScanChain failed: %v", err)
	}
	if stats.Transfers != 1 {
		t.Errorf("stats.Transfers = %d, want 1", stats.Transfers)
	}
	// 800 blocks at the 100-block floor: 8 committed windows plus the three
	// rejected attempts at 800/400/200.
	if stats.Windows != 8 {
		t.Errorf("stats.Windows = %d, want 8", stats.Windows)
	}
	if got := f.client.Calls["getLogs"]; got != 11 {
		t.Errorf("getLogs calls = %d, want 11", got)
	}
}

func TestScanChain_CushionedRescanIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	seedToken(f, 90)

	f.client.Head = 110
	f.client.Timestamps[90] = 1_700_000_000
	f.client.Logs = []evm.Log{transferLog(100, "0xtx1", 0, evm.ZeroAddress, testUser, 10)}
	f.client.Transactions["0xtx1"] = &evm.Transaction{
		Hash: "0xtx1", From: testUser, Value: evm.EtherToWei(1.0), BlockNumber: 100,
	}

	sc := f.scanner(nil, nil)
	if _, err := sc.ScanChain(ctx, 1); err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	if bal, _ := f.ledger.GetBalance(ctx, 1, testUser); bal != 10 {
		t.Fatalf("balance = %f after first scan, want 10", bal)
	}

	// The second run re-scans [cursor-cushion, head]; the mint at block 100
	// falls inside it and must not double-count.
	if _, err := sc.ScanChain(ctx, 1); err != nil {
		t.Fatalf("second scan failed: %v", err)
	}

	if n := f.xfers.Count(); n != 1 {
		t.Errorf("transfers = %d after rescan, want 1", n)
	}
	if bal, _ := f.ledger.GetBalance(ctx, 1, testUser); bal != 10 {
		t.Errorf("balance = %f after rescan, want 10", bal)
	}
	if sum, _ := f.ledger.SumPositive(ctx, 1); sum != 10 {
		t.Errorf("circulating supply = %f after rescan, want 10", sum)
	}
}

func TestScanChain_ResolvesDeploymentBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	// No cached deployment block: binary search over timestamps.
	f.tokens.Put(&domain.Token{
		TokenID:   1,
		ChainID:   1,
		Contract:  testContract,
		Creator:   testCreator,
		CreatedAt: 1_700_000_050, // 50s after block 1
	})
	f.client.Head = 200
	f.client.Timestamps[1] = 1_700_000_000 // block n is 1700000000 + (n-1)

	stats, err := f.scanner(nil, nil).ScanChain(ctx, 1)
	if err != nil {
		t.Fatalf("ScanChain failed: %v", err)
	}

	// First block with timestamp >= CreatedAt is block 51.
	if stats.FromBlock != 51 {
		t.Errorf("FromBlock = %d, want 51", stats.FromBlock)
	}
	tok, err := f.tokens.GetByID(ctx, 1)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if tok.DeploymentBlock == nil || *tok.DeploymentBlock != 51 {
		t.Errorf("deployment block = %v, want cached 51", tok.DeploymentBlock)
	}

	// A rescan reuses the cache instead of searching again.
	searches := f.client.Calls["blockTimestamp"]
	if _, err := f.scanner(nil, nil).ScanChain(ctx, 1); err != nil {
		t.Fatalf("rescan failed: %v", err)
	}
	if f.client.Calls["blockTimestamp"] != searches {
		t.Error("deployment block resolved again despite cached value")
	}
}

func TestScanChain_WallClockFallbackOnTimestampRateLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	seedToken(f, 90)

	f.client.Head = 110
	f.client.RateLimitTimestamps = true
	f.client.Logs = []evm.Log{transferLog(100, "0xtx1", 0, evm.ZeroAddress, testUser, 10)}
	f.client.Transactions["0xtx1"] = &evm.Transaction{
		Hash: "0xtx1", From: testUser, Value: evm.EtherToWei(1.0), BlockNumber: 100,
	}

	fixed := time.Unix(1_800_000_000, 0)
	sc := f.scanner(nil, func() time.Time { return fixed })
	if _, err := sc.ScanChain(ctx, 1); err != nil {
		t.Fatalf("ScanChain failed: %v", err)
	}

	recs, _ := f.xfers.GetByTx(ctx, 1, "0xtx1")
	if len(recs) != 1 {
		t.Fatalf("got %d records, want 1", len(recs))
	}
	if recs[0].BlockTime != fixed.Unix() {
		t.Errorf("block time = %d, want wall clock %d", recs[0].BlockTime, fixed.Unix())
	}
}

func TestScanChain_PurgesPoolBalances(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	seedToken(f, 90)
	f.pools.Put(&domain.Pool{TokenID: 1, ChainID: 1, PoolAddress: testPool, BaseAsset: testContract})

	// A balance already attributed to the pool from before discovery.
	seedBatch := domain.NewWindowBatch(1, 80)
	seedBatch.Transfers = []*domain.TransferRecord{{
		TokenID: 1, ChainID: 1, TxHash: "0xseed", LogIndex: 0,
		To: testPool, Amount: 100, Kind: domain.KindBuy,
	}}
	seedBatch.Deltas = []domain.TransferDelta{{
		TxHash:  "0xseed",
		Entries: map[domain.BalanceKey]float64{{TokenID: 1, Holder: testPool}: 100},
	}}
	seedBatch.Touched[1] = struct{}{}
	if err := f.ledger.CommitWindow(ctx, seedBatch); err != nil {
		t.Fatalf("seed commit failed: %v", err)
	}

	f.client.Head = 110
	f.client.Timestamps[90] = 1_700_000_000

	if _, err := f.scanner(nil, nil).ScanChain(ctx, 1); err != nil {
		t.Fatalf("ScanChain failed: %v", err)
	}

	if bal, _ := f.ledger.GetBalance(ctx, 1, testPool); bal != 0 {
		t.Errorf("pool balance = %f, want purged to 0", bal)
	}
}

func TestScanChain_CapturesPoolSwaps(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	seedToken(f, 90)
	f.pools.Put(&domain.Pool{
		TokenID: 1, ChainID: 1, PoolAddress: testPool, BaseAsset: testContract,
		ReserveBase: 1000, ReserveQuote: 10, // implied price 0.01
	})

	f.client.Head = 110
	f.client.Timestamps[90] = 1_700_000_000
	f.client.Logs = []evm.Log{
		// Sell: tokens into the pool, no tx value; price from reserves.
		transferLog(100, "0xsell", 0, testUser, testPool, 50),
		// Buy: tokens out of the pool, tx carried the exact eth spent.
		transferLog(105, "0xbuy", 0, testPool, testUser, 20),
	}
	f.client.Transactions["0xsell"] = &evm.Transaction{Hash: "0xsell", From: testUser, BlockNumber: 100}
	f.client.Transactions["0xbuy"] = &evm.Transaction{
		Hash: "0xbuy", From: testUser, Value: evm.EtherToWei(0.4), BlockNumber: 105,
	}

	stats, err := f.scanner(nil, nil).ScanChain(ctx, 1)
	if err != nil {
		t.Fatalf("ScanChain failed: %v", err)
	}
	if stats.Transfers != 0 || stats.Trades != 2 {
		t.Errorf("stats = %d transfers / %d trades, want 0/2", stats.Transfers, stats.Trades)
	}

	sells, _ := f.trades.GetByTx(ctx, 1, "0xsell")
	if len(sells) != 1 {
		t.Fatalf("got %d sell trades, want 1", len(sells))
	}
	if sells[0].Side != domain.SideSell || sells[0].Price != 0.01 || sells[0].EthAmount != 0.5 {
		t.Errorf("sell = %s/%f/%f, want SELL/0.01/0.5", sells[0].Side, sells[0].Price, sells[0].EthAmount)
	}
	if sells[0].Trader != testUser {
		t.Errorf("sell trader = %s, want %s", sells[0].Trader, testUser)
	}

	buys, _ := f.trades.GetByTx(ctx, 1, "0xbuy")
	if len(buys) != 1 {
		t.Fatalf("got %d buy trades, want 1", len(buys))
	}
	if buys[0].Side != domain.SideBuy || buys[0].Price != 0.02 || buys[0].EthAmount != 0.4 {
		t.Errorf("buy = %s/%f/%f, want BUY/0.02/0.4", buys[0].Side, buys[0].Price, buys[0].EthAmount)
	}

	// Swaps never move balances; neither endpoint gained a row.
	if bal, _ := f.ledger.GetBalance(ctx, 1, testUser); bal != 0 {
		t.Errorf("user balance = %f, want 0", bal)
	}
	if f.xfers.Count() != 0 {
		t.Errorf("transfer rows = %d, want 0 for pure swaps", f.xfers.Count())
	}
}
