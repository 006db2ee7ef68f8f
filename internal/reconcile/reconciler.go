// Package reconcile cleans the two ledgers after a scan: it consolidates
// multi-log graduation transactions, removes cross-ledger overlaps, migrates
// misclassified market trades, and backfills missing price data. Pool
// discovery can lag behind scanning, so ingestion is allowed to be wrong on
// the first attempt and corrected here, idempotently.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"launchpad-indexer/internal/classify"
	"launchpad-indexer/internal/domain"
	"launchpad-indexer/internal/evm"
	"launchpad-indexer/internal/storage"
)

// DefaultQuoteSelector is the launchpad contract's sell-quote function,
// getEthAmountBySale(uint256). Called at a historical block to recover sell
// proceeds the scan could not observe.
const DefaultQuoteSelector = "0x4423c5f1"

// Reconciler runs the post-scan cleanup passes for one chain.
type Reconciler struct {
	transfers     storage.TransferStore
	trades        storage.TradeStore
	tokens        storage.TokenStore
	pools         storage.PoolStore
	ledger        storage.LedgerStore
	client        evm.Client
	selectors     classify.SelectorTable
	quoteSelector string
	now           func() time.Time
	verbose       bool
}

// Options for creating a Reconciler.
type Options struct {
	TransferStore storage.TransferStore
	TradeStore    storage.TradeStore
	TokenStore    storage.TokenStore
	PoolStore     storage.PoolStore
	LedgerStore   storage.LedgerStore
	Client        evm.Client
	Selectors     classify.SelectorTable // nil uses DefaultSelectors
	QuoteSelector string                 // "" uses DefaultQuoteSelector
	Now           func() time.Time       // nil uses time.Now
	Verbose       bool
}

// New creates a new Reconciler.
func New(opts Options) *Reconciler {
	selectors := opts.Selectors
	if selectors == nil {
		selectors = classify.DefaultSelectors()
	}
	quote := opts.QuoteSelector
	if quote == "" {
		quote = DefaultQuoteSelector
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		transfers:     opts.TransferStore,
		trades:        opts.TradeStore,
		tokens:        opts.TokenStore,
		pools:         opts.PoolStore,
		ledger:        opts.LedgerStore,
		client:        opts.Client,
		selectors:     selectors,
		quoteSelector: quote,
		now:           now,
		verbose:       opts.Verbose,
	}
}

// Stats summarizes one reconciliation pass.
type Stats struct {
	Consolidated int
	Overlaps     int
	Migrated     int
	Backfilled   int
	Rebuilt      int
	Errors       []string
}

// Run executes the sub-passes in order, then rebuilds balances for every
// token whose transfer rows were deleted, replaced or migrated, so the
// balance table keeps matching the surviving ledger. A failure on one
// transaction is logged and skipped, never aborting the pass.
func (r *Reconciler) Run(ctx context.Context, chainID int64) (*Stats, error) {
	stats := &Stats{}
	affected := make(map[int64]struct{})

	if err := r.consolidateGraduations(ctx, chainID, stats, affected); err != nil {
		return stats, fmt.Errorf("graduation consolidation: %w", err)
	}
	if err := r.removeOverlaps(ctx, chainID, stats, affected); err != nil {
		return stats, fmt.Errorf("overlap removal: %w", err)
	}
	if err := r.migrateMisclassified(ctx, chainID, stats, affected); err != nil {
		return stats, fmt.Errorf("misclassification migration: %w", err)
	}
	if err := r.backfill(ctx, chainID, stats); err != nil {
		return stats, fmt.Errorf("backfill: %w", err)
	}
	r.rebuildAffected(ctx, stats, affected)

	r.log("chain %d: consolidated=%d overlaps=%d migrated=%d backfilled=%d rebuilt=%d errors=%d",
		chainID, stats.Consolidated, stats.Overlaps, stats.Migrated, stats.Backfilled, stats.Rebuilt, len(stats.Errors))
	return stats, nil
}

// rebuildAffected re-derives balances for tokens whose rows changed shape.
// The scan applied deltas for rows that no longer exist (or exist with a
// different amount), so only a rebuild from the surviving rows restores the
// sum-of-transfers invariant. Zero and pool addresses stay excluded, same as
// during scanning.
func (r *Reconciler) rebuildAffected(ctx context.Context, stats *Stats, affected map[int64]struct{}) {
	for tokenID := range affected {
		excluded := []string{evm.ZeroAddress}
		pool, err := r.pools.GetByToken(ctx, tokenID)
		if err == nil {
			excluded = append(excluded, evm.NormalizeAddress(pool.PoolAddress))
		} else if !errors.Is(err, storage.ErrNotFound) {
			stats.fail("rebuild pool lookup token %d: %v", tokenID, err)
			continue
		}
		if err := r.ledger.RebuildBalances(ctx, tokenID, excluded); err != nil {
			stats.fail("rebuild balances token %d: %v", tokenID, err)
			continue
		}
		stats.Rebuilt++
	}
}

// consolidateGraduations collapses each multi-log graduation transaction into
// one synthetic GRADUATION TransferRecord. A graduation atomically touches
// several addresses in one transaction; downstream consumers need one row.
func (r *Reconciler) consolidateGraduations(ctx context.Context, chainID int64, stats *Stats, affected map[int64]struct{}) error {
	txs, err := r.transfers.ListMultiLogTxs(ctx, chainID)
	if err != nil {
		return err
	}
	for _, txHash := range txs {
		if err := r.consolidateTransferTx(ctx, chainID, txHash, affected); err != nil {
			stats.fail("consolidate transfer tx %s: %v", txHash, err)
			continue
		}
		stats.Consolidated++
	}

	tradeTxs, err := r.trades.ListMultiLogTxs(ctx, chainID)
	if err != nil {
		return err
	}
	for _, txHash := range tradeTxs {
		if err := r.consolidateTradeTx(ctx, chainID, txHash, affected); err != nil {
			stats.fail("consolidate trade tx %s: %v", txHash, err)
			continue
		}
		stats.Consolidated++
	}
	return nil
}

func (r *Reconciler) consolidateTransferTx(ctx context.Context, chainID int64, txHash string, affected map[int64]struct{}) error {
	recs, err := r.transfers.GetByTx(ctx, chainID, txHash)
	if err != nil {
		return err
	}
	if len(recs) < 2 {
		return nil
	}

	var anchor *domain.TransferRecord
	var tokenTotal, ethTotal float64
	for _, rec := range recs {
		tokenTotal += rec.Amount
		if rec.EthAmount != nil {
			ethTotal += *rec.EthAmount
		}
		if anchor == nil && rec.Amount > 0 && rec.EthAmount != nil && *rec.EthAmount > 0 {
			anchor = rec
		}
	}
	if anchor == nil {
		// Not a graduation shape; leave the per-log records alone.
		return nil
	}

	synthetic := *anchor
	synthetic.Amount = tokenTotal
	synthetic.EthAmount = &ethTotal
	synthetic.Kind = domain.KindGraduation
	if tokenTotal > 0 && ethTotal > 0 {
		p := ethTotal / tokenTotal
		synthetic.Price = &p
	}

	if err := r.transfers.ReplaceTx(ctx, chainID, txHash, &synthetic); err != nil {
		return err
	}
	for _, rec := range recs {
		affected[rec.TokenID] = struct{}{}
	}
	return nil
}

func (r *Reconciler) consolidateTradeTx(ctx context.Context, chainID int64, txHash string, affected map[int64]struct{}) error {
	recs, err := r.trades.GetByTx(ctx, chainID, txHash)
	if err != nil {
		return err
	}
	if len(recs) < 2 {
		return nil
	}

	var anchor *domain.TradeRecord
	var tokenTotal, ethTotal float64
	for _, rec := range recs {
		tokenTotal += rec.TokenAmount
		ethTotal += rec.EthAmount
		if anchor == nil && rec.TokenAmount > 0 && rec.EthAmount > 0 {
			anchor = rec
		}
	}
	if anchor == nil {
		return nil
	}

	token, err := r.tokens.GetByID(ctx, anchor.TokenID)
	if err != nil {
		return err
	}

	eth := ethTotal
	synthetic := &domain.TransferRecord{
		TokenID:     anchor.TokenID,
		ChainID:     chainID,
		Contract:    evm.NormalizeAddress(token.Contract),
		BlockNumber: anchor.BlockNumber,
		BlockTime:   anchor.BlockTime,
		TxHash:      txHash,
		LogIndex:    anchor.LogIndex,
		From:        anchor.Trader,
		To:          evm.NormalizeAddress(token.Contract),
		Amount:      tokenTotal,
		EthAmount:   &eth,
		Kind:        domain.KindGraduation,
		CreatedAt:   r.now().Unix(),
	}
	if tokenTotal > 0 && ethTotal > 0 {
		p := ethTotal / tokenTotal
		synthetic.Price = &p
	}

	if err := r.transfers.Upsert(ctx, []*domain.TransferRecord{synthetic}); err != nil {
		return err
	}
	if err := r.trades.DeleteTx(ctx, chainID, txHash); err != nil {
		return err
	}
	affected[anchor.TokenID] = struct{}{}
	return nil
}

// removeOverlaps enforces ledger exclusivity: a transaction already captured
// as a TradeRecord loses its duplicate TransferRecords.
func (r *Reconciler) removeOverlaps(ctx context.Context, chainID int64, stats *Stats, affected map[int64]struct{}) error {
	keys, err := r.trades.ListTxKeys(ctx, chainID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		recs, err := r.transfers.GetByTx(ctx, chainID, key.TxHash)
		if err != nil {
			stats.fail("overlap lookup tx %s: %v", key.TxHash, err)
			continue
		}
		if len(recs) == 0 {
			continue
		}
		if err := r.transfers.DeleteTx(ctx, chainID, key.TxHash); err != nil {
			stats.fail("overlap delete tx %s: %v", key.TxHash, err)
			continue
		}
		stats.Overlaps += len(recs)
		for _, rec := range recs {
			affected[rec.TokenID] = struct{}{}
		}
	}
	return nil
}

// migrateMisclassified moves bonding-curve BUY records that are actually
// market trades (captured before pool discovery ran) into the trade ledger.
func (r *Reconciler) migrateMisclassified(ctx context.Context, chainID int64, stats *Stats, affected map[int64]struct{}) error {
	tokens, err := r.tokens.ListByChain(ctx, chainID)
	if err != nil {
		return err
	}

	for _, token := range tokens {
		pool, err := r.pools.GetByToken(ctx, token.TokenID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return err
		}
		graduated, err := r.transfers.HasGraduation(ctx, token.TokenID)
		if err != nil {
			return err
		}
		if !graduated {
			continue
		}

		recs, err := r.transfers.ListByTokenKind(ctx, token.TokenID, domain.KindBuy)
		if err != nil {
			return err
		}
		poolAddr := evm.NormalizeAddress(pool.PoolAddress)
		for _, rec := range recs {
			if rec.EthAmount == nil || rec.Price == nil {
				continue
			}
			// Bonding-curve buys mint from the zero address; only tokens
			// that left the pool identify a market trade.
			if evm.NormalizeAddress(rec.From) != poolAddr {
				continue
			}
			if err := r.migrateRecord(ctx, rec); err != nil {
				stats.fail("migrate tx %s/%d: %v", rec.TxHash, rec.LogIndex, err)
				continue
			}
			stats.Migrated++
			affected[rec.TokenID] = struct{}{}
		}
	}
	return nil
}

func (r *Reconciler) migrateRecord(ctx context.Context, rec *domain.TransferRecord) error {
	trader := rec.To
	tx, err := r.client.TransactionByHash(ctx, rec.TxHash)
	if err == nil && tx != nil {
		trader = tx.From
	}

	trade := &domain.TradeRecord{
		TokenID:     rec.TokenID,
		ChainID:     rec.ChainID,
		TxHash:      rec.TxHash,
		LogIndex:    rec.LogIndex,
		BlockNumber: rec.BlockNumber,
		BlockTime:   rec.BlockTime,
		Trader:      trader,
		Side:        domain.SideBuy,
		TokenAmount: rec.Amount,
		EthAmount:   *rec.EthAmount,
		Price:       *rec.Price,
		CreatedAt:   r.now().Unix(),
	}
	if err := r.trades.Upsert(ctx, []*domain.TradeRecord{trade}); err != nil {
		return err
	}
	return r.transfers.DeleteLog(ctx, rec.ChainID, rec.TxHash, rec.LogIndex)
}

// backfill re-derives records still missing price data or carrying a generic
// kind, using freshly fetched transaction data and, for sells, a historical
// quote call at the block before the transaction. Best-effort: the quoted
// contract may have been upgraded or paused since.
func (r *Reconciler) backfill(ctx context.Context, chainID int64, stats *Stats) error {
	recs, err := r.transfers.ListNeedingBackfill(ctx, chainID)
	if err != nil {
		return err
	}

	for _, rec := range recs {
		changed, err := r.backfillRecord(ctx, rec)
		if err != nil {
			stats.fail("backfill tx %s/%d: %v", rec.TxHash, rec.LogIndex, err)
			continue
		}
		if changed {
			stats.Backfilled++
		}
	}
	return nil
}

func (r *Reconciler) backfillRecord(ctx context.Context, rec *domain.TransferRecord) (bool, error) {
	token, err := r.tokens.GetByID(ctx, rec.TokenID)
	if err != nil {
		return false, err
	}

	tx, err := r.client.TransactionByHash(ctx, rec.TxHash)
	if err != nil {
		return false, err
	}
	if tx == nil {
		return false, fmt.Errorf("transaction not found")
	}

	changed := false
	value := evm.WeiToEther(tx.Value)

	kind := classify.Classify(classify.Input{
		From:     rec.From,
		To:       rec.To,
		Amount:   rec.Amount,
		Contract: rec.Contract,
		Creator:  evm.NormalizeAddress(token.Creator),
		TxFrom:   tx.From,
		TxValue:  value,
		Selector: evm.Selector(tx.Input),
	}, r.selectors)
	if kind != rec.Kind && rec.Kind != domain.KindGraduation {
		rec.Kind = kind
		changed = true
	}

	if rec.EthAmount == nil && value > 0 && rec.Amount > 0 {
		v := value
		p := value / rec.Amount
		rec.EthAmount = &v
		rec.Price = &p
		changed = true
	}

	if rec.EthAmount == nil && rec.Kind == domain.KindSell && rec.Amount > 0 && rec.BlockNumber > 0 {
		eth, err := r.quoteSellProceeds(ctx, rec)
		if err != nil {
			log.Printf("[reconcile] quote for tx %s/%d failed: %v", rec.TxHash, rec.LogIndex, err)
		} else if eth > 0 {
			p := eth / rec.Amount
			rec.EthAmount = &eth
			rec.Price = &p
			changed = true
		}
	}

	if !changed {
		return false, nil
	}
	return true, r.transfers.Upsert(ctx, []*domain.TransferRecord{rec})
}

// quoteSellProceeds calls the contract's sell-quote function at the block
// immediately preceding the transaction to recover the historical price.
func (r *Reconciler) quoteSellProceeds(ctx context.Context, rec *domain.TransferRecord) (float64, error) {
	data := evm.EncodeCall(r.quoteSelector, evm.EncodeUint256(evm.EtherToWei(rec.Amount)))
	result, err := r.client.Call(ctx, rec.Contract, data, rec.BlockNumber-1)
	if err != nil {
		return 0, err
	}
	wei, err := evm.DecodeUint256(result)
	if err != nil {
		return 0, err
	}
	return evm.WeiToEther(wei), nil
}

func (s *Stats) fail(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	s.Errors = append(s.Errors, msg)
	log.Printf("[reconcile] %s", msg)
}

func (r *Reconciler) log(format string, args ...interface{}) {
	if r.verbose {
		log.Printf("[reconcile] "+format, args...)
	}
}
