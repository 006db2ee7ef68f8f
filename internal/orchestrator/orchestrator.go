// Package orchestrator sequences one full pipeline run: acquire the singleton
// run lease, health-check every chain, then scan, reconcile and aggregate.
// Each stage is a complete pass over all chains before the next begins, so
// later stages always see a fully-settled ledger for the run.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"launchpad-indexer/internal/aggregate"
	"launchpad-indexer/internal/classify"
	"launchpad-indexer/internal/evm"
	"launchpad-indexer/internal/reconcile"
	"launchpad-indexer/internal/scanner"
	"launchpad-indexer/internal/storage"
)

// DefaultHealthTimeout bounds the per-chain liveness probe.
const DefaultHealthTimeout = 10 * time.Second

// Chain is one network target: its numeric ID and a ready RPC client.
type Chain struct {
	ID     int64
	Name   string
	Client evm.Client
}

// Stores bundles the datastore handles a run needs.
type Stores struct {
	Cursors   storage.CursorStore
	Tokens    storage.TokenStore
	Pools     storage.PoolStore
	Transfers storage.TransferStore
	Trades    storage.TradeStore
	Ledger    storage.LedgerStore
	Candles   storage.CandleStore
	Dailies   storage.DailyAggStore
}

// Orchestrator owns the run loop for a fixed set of chains.
type Orchestrator struct {
	chains        []Chain
	stores        Stores
	lock          storage.RunLock
	selectors     classify.SelectorTable
	rates         aggregate.RateProvider
	scanConfig    scanner.Config
	healthTimeout time.Duration
	now           func() time.Time
	verbose       bool
}

// Options for creating an Orchestrator.
type Options struct {
	Chains        []Chain
	Stores        Stores
	RunLock       storage.RunLock
	Selectors     classify.SelectorTable // nil uses DefaultSelectors
	Rates         aggregate.RateProvider // nil disables USD conversion
	ScanConfig    *scanner.Config        // nil uses scanner.DefaultConfig
	HealthTimeout time.Duration          // 0 uses DefaultHealthTimeout
	Now           func() time.Time       // nil uses time.Now
	Verbose       bool
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	selectors := opts.Selectors
	if selectors == nil {
		selectors = classify.DefaultSelectors()
	}
	scanConfig := scanner.DefaultConfig()
	if opts.ScanConfig != nil {
		scanConfig = *opts.ScanConfig
	}
	healthTimeout := opts.HealthTimeout
	if healthTimeout == 0 {
		healthTimeout = DefaultHealthTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		chains:        opts.Chains,
		stores:        opts.Stores,
		lock:          opts.RunLock,
		selectors:     selectors,
		rates:         opts.Rates,
		scanConfig:    scanConfig,
		healthTimeout: healthTimeout,
		now:           now,
		verbose:       opts.Verbose,
	}
}

// ChainResult records one chain's outcome within a run.
type ChainResult struct {
	ChainID   int64
	Skipped   bool // failed health check
	Scan      *scanner.Stats
	Reconcile *reconcile.Stats
	Aggregate *aggregate.Stats
	Err       error
}

// RunResult summarizes one pipeline run.
type RunResult struct {
	RunID    string
	Started  time.Time
	Duration time.Duration
	Chains   []*ChainResult
}

// Run executes one full pipeline pass. Returns storage.ErrLockHeld when
// another run is already in flight. Per-chain failures are recorded on the
// result, never fatal for the run; only structural failures (lease,
// datastore enumeration) return an error.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	if err := o.lock.Acquire(ctx); err != nil {
		return nil, err
	}
	defer func() {
		if err := o.lock.Release(context.Background()); err != nil {
			log.Printf("[orchestrator] lease release failed: %v", err)
		}
	}()

	result := &RunResult{
		RunID:   uuid.NewString(),
		Started: o.now(),
	}
	log.Printf("[orchestrator] run %s: %d chain(s)", result.RunID, len(o.chains))

	live := o.healthCheck(ctx, result)

	// Stage 1: scan every live chain.
	for _, chain := range live {
		cr := result.chain(chain.ID)
		stats, err := o.newScanner(chain).ScanChain(ctx, chain.ID)
		cr.Scan = stats
		if err != nil {
			cr.Err = fmt.Errorf("scan: %w", err)
			log.Printf("[orchestrator] run %s chain %d scan failed: %v", result.RunID, chain.ID, err)
		}
	}

	// Stage 2: reconcile every chain that scanned, even partially. The
	// reconciler is idempotent over whatever the scan managed to commit.
	for _, chain := range live {
		cr := result.chain(chain.ID)
		stats, err := o.newReconciler(chain).Run(ctx, chain.ID)
		cr.Reconcile = stats
		if err != nil {
			cr.setErr(fmt.Errorf("reconcile: %w", err))
			log.Printf("[orchestrator] run %s chain %d reconcile failed: %v", result.RunID, chain.ID, err)
		}
	}

	// Stage 3: aggregate.
	for _, chain := range live {
		cr := result.chain(chain.ID)
		stats, err := o.newAggregator().Run(ctx, chain.ID)
		cr.Aggregate = stats
		if err != nil {
			cr.setErr(fmt.Errorf("aggregate: %w", err))
			log.Printf("[orchestrator] run %s chain %d aggregate failed: %v", result.RunID, chain.ID, err)
		}
	}

	result.Duration = o.now().Sub(result.Started)
	log.Printf("[orchestrator] run %s done in %s", result.RunID, result.Duration.Round(time.Millisecond))
	return result, nil
}

// healthCheck probes each chain's head with a bounded timeout. A failing
// chain is skipped for the run; its tokens are revisited on the next run.
func (o *Orchestrator) healthCheck(ctx context.Context, result *RunResult) []Chain {
	var live []Chain
	for _, chain := range o.chains {
		cr := result.chain(chain.ID)
		probeCtx, cancel := context.WithTimeout(ctx, o.healthTimeout)
		head, err := chain.Client.BlockNumber(probeCtx)
		cancel()
		if err != nil {
			cr.Skipped = true
			cr.Err = fmt.Errorf("health check: %w", err)
			log.Printf("[orchestrator] chain %d (%s) failed health check, skipping: %v", chain.ID, chain.Name, err)
			continue
		}
		o.log("chain %d (%s) healthy at block %d", chain.ID, chain.Name, head)
		live = append(live, chain)
	}
	return live
}

func (o *Orchestrator) newScanner(chain Chain) *scanner.Scanner {
	return scanner.New(scanner.Options{
		Client:      chain.Client,
		TokenStore:  o.stores.Tokens,
		PoolStore:   o.stores.Pools,
		CursorStore: o.stores.Cursors,
		LedgerStore: o.stores.Ledger,
		Selectors:   o.selectors,
		Config:      &o.scanConfig,
		Now:         o.now,
		Verbose:     o.verbose,
	})
}

func (o *Orchestrator) newReconciler(chain Chain) *reconcile.Reconciler {
	return reconcile.New(reconcile.Options{
		TransferStore: o.stores.Transfers,
		TradeStore:    o.stores.Trades,
		TokenStore:    o.stores.Tokens,
		PoolStore:     o.stores.Pools,
		LedgerStore:   o.stores.Ledger,
		Client:        chain.Client,
		Selectors:     o.selectors,
		Now:           o.now,
		Verbose:       o.verbose,
	})
}

func (o *Orchestrator) newAggregator() *aggregate.Aggregator {
	return aggregate.New(aggregate.Options{
		TokenStore:    o.stores.Tokens,
		PoolStore:     o.stores.Pools,
		TransferStore: o.stores.Transfers,
		TradeStore:    o.stores.Trades,
		LedgerStore:   o.stores.Ledger,
		CandleStore:   o.stores.Candles,
		DailyAggStore: o.stores.Dailies,
		Rates:         o.rates,
		Now:           o.now,
		Verbose:       o.verbose,
	})
}

// chain returns the per-chain result, creating it on first use.
func (r *RunResult) chain(chainID int64) *ChainResult {
	for _, cr := range r.Chains {
		if cr.ChainID == chainID {
			return cr
		}
	}
	cr := &ChainResult{ChainID: chainID}
	r.Chains = append(r.Chains, cr)
	return cr
}

func (cr *ChainResult) setErr(err error) {
	if cr.Err == nil {
		cr.Err = err
	}
}

func (o *Orchestrator) log(format string, args ...interface{}) {
	if o.verbose {
		log.Printf("[orchestrator] "+format, args...)
	}
}
