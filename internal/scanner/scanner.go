// Package scanner drives chunked, address-batched log queries from a chain's
// cursor to its head, classifies the resulting transfers, and commits them
// window-by-window through the ledger writer.
package scanner

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"launchpad-indexer/internal/cache"
	"launchpad-indexer/internal/classify"
	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/evm"
	"launchpad-indexer/internal/ledger"
	"launchpad-indexer/internal/retry"
	"launchpad-indexer/internal/storage"
)

// Config holds scan tuning knobs.
type Config struct {
	// ChunkSize is the initial block-window width. It halves on provider
	// rate limiting, down to MinChunkSize, and never grows back in-run.
	ChunkSize    uint64
	MinChunkSize uint64

	// AddressBatchSize bounds addresses per log query to respect provider
	// query-breadth limits.
	AddressBatchSize int

	// ReorgCushion is re-scanned behind the watermark to absorb shallow
	// reorganizations.
	ReorgCushion uint64

	// Block-timestamp cache bounds.
	TimestampCacheSize int
	TimestampCacheTTL  time.Duration
}

// DefaultConfig returns the scan defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:          2000,
		MinChunkSize:       100,
		AddressBatchSize:   20,
		ReorgCushion:       12,
		TimestampCacheSize: 4096,
		TimestampCacheTTL:  10 * time.Minute,
	}
}

// Scanner scans one or more chains for tracked-contract transfer events.
type Scanner struct {
	client    evm.Client
	tokens    storage.TokenStore
	pools     storage.PoolStore
	cursors   storage.CursorStore
	ledger    storage.LedgerStore
	selectors classify.SelectorTable
	cfg       Config
	tsCache   *cache.LRU[uint64, int64]
	now       func() time.Time
	verbose   bool
}

// Options for creating a Scanner.
type Options struct {
	Client      evm.Client
	TokenStore  storage.TokenStore
	PoolStore   storage.PoolStore
	CursorStore storage.CursorStore
	LedgerStore storage.LedgerStore
	Selectors   classify.SelectorTable // nil uses DefaultSelectors
	Config      *Config                // nil uses DefaultConfig
	Now         func() time.Time       // nil uses time.Now
	Verbose     bool
}

// New creates a new Scanner.
func New(opts Options) *Scanner {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	selectors := opts.Selectors
	if selectors == nil {
		selectors = classify.DefaultSelectors()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scanner{
		client:    opts.Client,
		tokens:    opts.TokenStore,
		pools:     opts.PoolStore,
		cursors:   opts.CursorStore,
		ledger:    opts.LedgerStore,
		selectors: selectors,
		cfg:       cfg,
		tsCache:   cache.NewLRU[uint64, int64](cfg.TimestampCacheSize, cfg.TimestampCacheTTL),
		now:       now,
		verbose:   opts.Verbose,
	}
}

// Stats summarizes one chain scan.
type Stats struct {
	Windows   int
	Transfers int
	Trades    int
	FromBlock uint64
	ToBlock   uint64
}

// ScanChain scans [cursor − cushion, head] for a chain, committing one atomic
// window at a time. A crash mid-window re-runs the window (upserts are
// idempotent); a crash after commit resumes from the advanced cursor.
func (s *Scanner) ScanChain(ctx context.Context, chainID int64) (*Stats, error) {
	stats := &Stats{}

	tokens, err := s.tokens.ListByChain(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	if len(tokens) == 0 {
		return stats, nil
	}

	poolsByAddr, err := s.purgePoolBalances(ctx, chainID)
	if err != nil {
		return nil, err
	}

	head, err := s.client.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain head: %w", err)
	}

	minDeploy, err := s.ensureDeploymentBlocks(ctx, head, tokens)
	if err != nil {
		return nil, err
	}

	start, err := s.startBlock(ctx, chainID, minDeploy)
	if err != nil {
		return nil, err
	}
	if start > head {
		return stats, nil
	}
	stats.FromBlock = start
	stats.ToBlock = head

	byContract := make(map[string]*domain.Token, len(tokens))
	addresses := make([]string, 0, len(tokens))
	for _, t := range tokens {
		addr := evm.NormalizeAddress(t.Contract)
		byContract[addr] = t
		addresses = append(addresses, addr)
	}

	chunk := s.cfg.ChunkSize
	from := start
	for from <= head {
		to := from + chunk - 1
		if to > head {
			to = head
		}

		logs, err := s.fetchWindow(ctx, addresses, from, to)
		if err != nil {
			if retry.IsRateLimit(err) && chunk > s.cfg.MinChunkSize {
				chunk = chunk / 2
				if chunk < s.cfg.MinChunkSize {
					chunk = s.cfg.MinChunkSize
				}
				s.log("chain %d: rate limited, shrinking chunk to %d blocks", chainID, chunk)
				continue // retry the same window
			}
			return stats, fmt.Errorf("fetch window [%d, %d]: %w", from, to, err)
		}

		batch, err := s.buildBatch(ctx, chainID, to, logs, byContract, poolsByAddr)
		if err != nil {
			return stats, fmt.Errorf("build window [%d, %d]: %w", from, to, err)
		}

		if err := s.ledger.CommitWindow(ctx, batch); err != nil {
			return stats, fmt.Errorf("commit window [%d, %d]: %w", from, to, err)
		}

		stats.Windows++
		stats.Transfers += len(batch.Transfers)
		stats.Trades += len(batch.Trades)
		from = to + 1
	}

	s.log("chain %d: scanned [%d, %d], %d transfers and %d trades in %d windows",
		chainID, start, head, stats.Transfers, stats.Trades, stats.Windows)
	return stats, nil
}

// purgePoolBalances removes balance rows already attributed to pool
// addresses; pools are excluded from holder accounting. Returns the chain's
// pools keyed by address for swap detection during the scan.
func (s *Scanner) purgePoolBalances(ctx context.Context, chainID int64) (map[string]*domain.Pool, error) {
	pools, err := s.pools.ListByChain(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("list pools: %w", err)
	}

	byAddr := make(map[string]*domain.Pool, len(pools))
	for _, p := range pools {
		addr := evm.NormalizeAddress(p.PoolAddress)
		byAddr[addr] = p
		if err := s.ledger.RemoveHolder(ctx, p.TokenID, addr); err != nil {
			return nil, fmt.Errorf("purge pool balance: %w", err)
		}
	}
	return byAddr, nil
}

// ensureDeploymentBlocks resolves and caches missing deployment blocks and
// returns the minimum across the chain's tokens.
func (s *Scanner) ensureDeploymentBlocks(ctx context.Context, head uint64, tokens []*domain.Token) (uint64, error) {
	var min uint64
	first := true

	for _, t := range tokens {
		block := uint64(0)
		if t.DeploymentBlock != nil {
			block = *t.DeploymentBlock
		} else {
			resolved, err := s.resolveDeploymentBlock(ctx, head, t)
			if err != nil {
				return 0, fmt.Errorf("resolve deployment block for token %d: %w", t.TokenID, err)
			}
			if err := s.tokens.SetDeploymentBlock(ctx, t.TokenID, resolved); err != nil {
				return 0, fmt.Errorf("cache deployment block for token %d: %w", t.TokenID, err)
			}
			block = resolved
			t.DeploymentBlock = &resolved
		}
		if first || block < min {
			min = block
			first = false
		}
	}
	return min, nil
}

// resolveDeploymentBlock binary-searches block timestamps for the earliest
// block at or after the token's creation time.
func (s *Scanner) resolveDeploymentBlock(ctx context.Context, head uint64, t *domain.Token) (uint64, error) {
	lo, hi := uint64(1), head
	for lo < hi {
		mid := lo + (hi-lo)/2
		ts, err := s.client.BlockTimestamp(ctx, mid)
		if err != nil {
			return 0, err
		}
		if ts < t.CreatedAt {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, nil
}

// startBlock determines where the scan begins: the cushioned cursor, or the
// minimum deployment block when no cursor exists yet.
func (s *Scanner) startBlock(ctx context.Context, chainID int64, minDeploy uint64) (uint64, error) {
	cursor, err := s.cursors.Get(ctx, chainID)
	if err == storage.ErrNotFound {
		return minDeploy, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}

	start := uint64(0)
	if cursor > s.cfg.ReorgCushion {
		start = cursor - s.cfg.ReorgCushion
	}
	if start < minDeploy {
		start = minDeploy
	}
	return start, nil
}

// fetchWindow queries one block window across fixed-size address batches and
// merges the results in (block, log index) order.
func (s *Scanner) fetchWindow(ctx context.Context, addresses []string, from, to uint64) ([]evm.Log, error) {
	var merged []evm.Log
	for i := 0; i < len(addresses); i += s.cfg.AddressBatchSize {
		end := i + s.cfg.AddressBatchSize
		if end > len(addresses) {
			end = len(addresses)
		}
		logs, err := s.client.GetLogs(ctx, addresses[i:end], evm.TransferTopic, from, to)
		if err != nil {
			return nil, err
		}
		merged = append(merged, logs...)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].BlockNumber != merged[j].BlockNumber {
			return merged[i].BlockNumber < merged[j].BlockNumber
		}
		return merged[i].LogIndex < merged[j].LogIndex
	})
	return merged, nil
}

// buildBatch classifies a window's logs into a ledger batch. Transfers that
// move tokens into or out of a known pool are swaps and land in the trade
// ledger instead; when the pool is not yet discovered they land as transfers
// and the reconciler migrates them later.
func (s *Scanner) buildBatch(ctx context.Context, chainID int64, toBlock uint64, logs []evm.Log,
	byContract map[string]*domain.Token, poolsByAddr map[string]*domain.Pool) (*domain.WindowBatch, error) {

	poolSet := make(map[string]struct{}, len(poolsByAddr))
	for addr := range poolsByAddr {
		poolSet[addr] = struct{}{}
	}
	builder := ledger.NewBatchBuilder(chainID, toBlock, poolSet)
	txCache := make(map[string]*evm.Transaction)

	for _, lg := range logs {
		token, ok := byContract[lg.Address]
		if !ok {
			continue
		}

		from, to, amountWei, err := evm.ParseTransfer(lg)
		if err != nil {
			log.Printf("[scanner] chain %d: skipping malformed log %s/%d: %v", chainID, lg.TxHash, lg.LogIndex, err)
			continue
		}

		tx, ok := txCache[lg.TxHash]
		if !ok {
			tx, err = s.client.TransactionByHash(ctx, lg.TxHash)
			if err != nil {
				return nil, fmt.Errorf("transaction %s: %w", lg.TxHash, err)
			}
			txCache[lg.TxHash] = tx
		}

		blockTime, err := s.blockTime(ctx, lg.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("block %d timestamp: %w", lg.BlockNumber, err)
		}

		amount := evm.WeiToEther(amountWei)
		value := 0.0
		txFrom, selector := "", ""
		if tx != nil {
			value = evm.WeiToEther(tx.Value)
			txFrom = tx.From
			selector = evm.Selector(tx.Input)
		} else {
			log.Printf("[scanner] chain %d: tx %s not found, classifying without call data", chainID, lg.TxHash)
		}

		if trade := s.swapTrade(token, poolsByAddr, lg, from, to, amount, value, txFrom, blockTime); trade != nil {
			builder.AddTrade(trade)
			continue
		}

		kind := classify.Classify(classify.Input{
			From:     from,
			To:       to,
			Amount:   amount,
			Contract: lg.Address,
			Creator:  evm.NormalizeAddress(token.Creator),
			TxFrom:   txFrom,
			TxValue:  value,
			Selector: selector,
		}, s.selectors)

		rec := &domain.TransferRecord{
			TokenID:     token.TokenID,
			ChainID:     chainID,
			Contract:    lg.Address,
			BlockNumber: lg.BlockNumber,
			BlockTime:   blockTime,
			TxHash:      lg.TxHash,
			LogIndex:    lg.LogIndex,
			From:        from,
			To:          to,
			Amount:      amount,
			Kind:        kind,
			CreatedAt:   s.now().Unix(),
		}

		// Native amount is only knowable at scan time when the transaction
		// itself carried value (buys). Sell proceeds flow contract-to-sender
		// and are recovered by the reconciler's backfill.
		if value > 0 && amount > 0 {
			v := value
			p := value / amount
			rec.EthAmount = &v
			rec.Price = &p
		}

		builder.Add(rec)
	}

	return builder.Batch(), nil
}

// swapTrade builds a TradeRecord when a transfer moves tokens into or out of
// the token's own pool. Returns nil for non-swap transfers. Sell proceeds are
// not observable from the transaction, so price falls back to the pool's
// reserve-implied price when the transaction carried no value.
func (s *Scanner) swapTrade(token *domain.Token, poolsByAddr map[string]*domain.Pool,
	lg evm.Log, from, to string, amount, value float64, txFrom string, blockTime int64) *domain.TradeRecord {

	var pool *domain.Pool
	var side domain.TradeSide
	if p, ok := poolsByAddr[to]; ok && p.TokenID == token.TokenID {
		pool, side = p, domain.SideSell
	} else if p, ok := poolsByAddr[from]; ok && p.TokenID == token.TokenID {
		pool, side = p, domain.SideBuy
	}
	if pool == nil {
		return nil
	}

	price := 0.0
	eth := 0.0
	switch {
	case value > 0 && amount > 0:
		price = value / amount
		eth = value
	case amount > 0:
		price = pool.Price()
		eth = amount * price
	}

	trader := txFrom
	if trader == "" {
		if side == domain.SideSell {
			trader = from
		} else {
			trader = to
		}
	}

	return &domain.TradeRecord{
		TokenID:     token.TokenID,
		ChainID:     token.ChainID,
		TxHash:      lg.TxHash,
		LogIndex:    lg.LogIndex,
		BlockNumber: lg.BlockNumber,
		BlockTime:   blockTime,
		Trader:      trader,
		Side:        side,
		TokenAmount: amount,
		EthAmount:   eth,
		Price:       price,
		CreatedAt:   s.now().Unix(),
	}
}

// blockTime resolves a block timestamp through the LRU cache. On persistent
// provider rate limiting it degrades to wall-clock time for the block rather
// than failing the chunk.
func (s *Scanner) blockTime(ctx context.Context, block uint64) (int64, error) {
	if ts, ok := s.tsCache.Get(block); ok {
		return ts, nil
	}

	ts, err := s.client.BlockTimestamp(ctx, block)
	if err != nil {
		if retry.IsRateLimit(err) {
			log.Printf("[scanner] block %d timestamp rate limited, using wall clock", block)
			return s.now().Unix(), nil
		}
		return 0, err
	}

	s.tsCache.Put(block, ts)
	return ts, nil
}

func (s *Scanner) log(format string, args ...interface{}) {
	if s.verbose {
		log.Printf("[scanner] "+format, args...)
	}
}
