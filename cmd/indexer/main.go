// Package main runs the indexing pipeline: a single pass by default, a
// fixed-interval loop with -interval, or a new-block-triggered loop with
// -watch (requires ws endpoints in CHAINS).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"launchpad-indexer/internal/aggregate"
	"launchpad-indexer/internal/config"
	"launchpad-indexer/internal/evm"
	"launchpad-indexer/internal/orchestrator"
	"launchpad-indexer/internal/scanner"
	"launchpad-indexer/internal/storage"
	"launchpad-indexer/internal/storage/clickhouse"
	"launchpad-indexer/internal/storage/migrations"
	"launchpad-indexer/internal/storage/postgres"
)

func main() {
	interval := flag.Duration("interval", 0, "Run continuously at this interval (0 = single run)")
	watch := flag.Bool("watch", false, "Trigger runs on new blocks via websocket newHeads")
	verbose := flag.Bool("verbose", false, "Verbose output")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if *verbose {
		cfg.Verbose = true
	}

	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN, &postgres.PoolOptions{
		MaxConns:     cfg.PostgresMaxConns,
		ConnLifetime: cfg.PostgresConnLifetime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Postgres error: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		fmt.Fprintf(os.Stderr, "Postgres migrations error: %v\n", err)
		os.Exit(1)
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ClickHouse error: %v\n", err)
		os.Exit(1)
	}
	defer chConn.Close()

	orch := buildOrchestrator(cfg, pool, chConn)

	switch {
	case *watch:
		runWatch(ctx, orch, cfg)
	case *interval > 0:
		runLoop(ctx, orch, *interval)
	default:
		if err := runOnce(ctx, orch); err != nil {
			os.Exit(1)
		}
	}
}

func buildOrchestrator(cfg *config.Config, pool *postgres.Pool, chConn *clickhouse.Conn) *orchestrator.Orchestrator {
	var chains []orchestrator.Chain
	for _, chain := range cfg.Chains {
		client := evm.NewHTTPClient(chain.RPCURL,
			evm.WithTimeout(cfg.RPCTimeout),
			evm.WithRateLimit(cfg.RPCRateLimit),
		)
		chains = append(chains, orchestrator.Chain{ID: chain.ID, Name: chain.Name, Client: client})
	}

	scanConfig := scanner.DefaultConfig()
	scanConfig.ChunkSize = cfg.ChunkSize
	scanConfig.MinChunkSize = cfg.MinChunkSize
	scanConfig.AddressBatchSize = cfg.AddressBatchSize
	scanConfig.ReorgCushion = cfg.ReorgCushion

	var rates aggregate.RateProvider
	if cfg.EthUsdRate > 0 {
		rates = aggregate.StaticRate(cfg.EthUsdRate)
	}

	return orchestrator.New(orchestrator.Options{
		Chains: chains,
		Stores: orchestrator.Stores{
			Cursors:   postgres.NewCursorStore(pool),
			Tokens:    postgres.NewTokenStore(pool),
			Pools:     postgres.NewPoolStore(pool),
			Transfers: postgres.NewTransferStore(pool),
			Trades:    postgres.NewTradeStore(pool),
			Ledger:    postgres.NewLedgerStore(pool),
			Candles:   clickhouse.NewCandleStore(chConn),
			Dailies:   clickhouse.NewDailyAggStore(chConn),
		},
		RunLock:    postgres.NewRunLock(pool),
		Rates:      rates,
		ScanConfig: &scanConfig,
		Verbose:    cfg.Verbose,
	})
}

// runOnce executes a single pipeline pass. A held lease is a structural
// failure like any other: the pass did no work, so the error propagates and a
// single run exits non-zero. The recurring modes log it and retry on the next
// tick instead.
func runOnce(ctx context.Context, orch *orchestrator.Orchestrator) error {
	result, err := orch.Run(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrLockHeld) {
			log.Printf("[indexer] another run holds the lease")
			return err
		}
		fmt.Fprintf(os.Stderr, "Run error: %v\n", err)
		return err
	}

	for _, cr := range result.Chains {
		if cr.Err != nil {
			log.Printf("[indexer] chain %d: %v", cr.ChainID, cr.Err)
		}
	}
	return nil
}

func runLoop(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := runOnce(ctx, orch); err != nil {
			log.Printf("[indexer] run failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runWatch triggers a run whenever any watched chain announces a new head,
// with an initial run at startup. Chains without a ws endpoint are still
// scanned on every triggered run; they just cannot trigger one themselves.
func runWatch(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config) {
	trigger := make(chan struct{}, 1)
	watching := 0
	for _, chain := range cfg.Chains {
		if chain.WSURL == "" {
			continue
		}
		watching++
		watcher := evm.NewHeadWatcher(chain.WSURL, nil)
		go watcher.Run(ctx)
		go func() {
			for range watcher.Heads() {
				select {
				case trigger <- struct{}{}:
				default: // a run is already pending
				}
			}
		}()
	}
	if watching == 0 {
		fmt.Fprintln(os.Stderr, "-watch requires at least one chain with a ws endpoint in CHAINS")
		os.Exit(1)
	}
	log.Printf("[indexer] watching %d chain(s) for new heads", watching)

	if err := runOnce(ctx, orch); err != nil {
		log.Printf("[indexer] run failed: %v", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-trigger:
			if err := runOnce(ctx, orch); err != nil {
				log.Printf("[indexer] run failed: %v", err)
			}
		}
	}
}
