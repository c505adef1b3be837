// Command shred-etl runs the Shred Aggregation & Persistence Core: it
// connects to the upstream shred feed, aggregates fragments into blocks in
// memory, and persists completed blocks to Postgres. Reconnection behavior
// (3s delay, run until interrupted) is grounded on
// original_source/packages/etl/src/main.rs's main loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/risechain/rise-indexer/internal/config"
	"github.com/risechain/rise-indexer/internal/dbstore"
	"github.com/risechain/rise-indexer/internal/feed"
	"github.com/risechain/rise-indexer/internal/filterexpr"
	"github.com/risechain/rise-indexer/internal/logctx"
	"github.com/risechain/rise-indexer/internal/metrics"
	"github.com/risechain/rise-indexer/internal/shred"
)

const reconnectDelay = 3 * time.Second

func main() {
	app := &cli.App{
		Name:  "shred-etl",
		Usage: "aggregate and persist shreds from the upstream feed",
		Flags: config.ShredFlags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := config.ShredFromContext(cliCtx)
	if err != nil {
		return err
	}
	logctx.Setup(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := dbstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	filter, err := filterexpr.Compile(cfg.BlockFilter)
	if err != nil {
		return fmt.Errorf("shred-etl: invalid block filter: %w", err)
	}

	manager := shred.NewManager(store, filter, cfg.Retry)
	handler := shred.NewHandler(manager)

	client, err := feed.New(cfg.WebsocketURL, handler.HandleText)
	if err != nil {
		return err
	}

	go runScanTicker(ctx, manager)
	go runStatusTicker(ctx, manager)

	log.Info("shred-etl: starting", "feed", cfg.WebsocketURL)
	for {
		if ctx.Err() != nil {
			break
		}
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("shred-etl: feed connection failed", "err", err)
		}
		if ctx.Err() != nil {
			break
		}
		log.Info("shred-etl: reconnecting", "delay", reconnectDelay)
		select {
		case <-ctx.Done():
		case <-time.After(reconnectDelay):
		}
	}

	log.Info("shred-etl: shutting down, flushing in-flight blocks")
	manager.Shutdown()
	return nil
}

func runScanTicker(ctx context.Context, manager *shred.Manager) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			manager.Tick(now)
		}
	}
}

// runStatusTicker logs a 60s summary line — a feature the distilled spec
// left unspecified; grounded on the periodic status reporting pattern in
// original_source/packages/etl/src/main.rs.
func runStatusTicker(ctx context.Context, manager *shred.Manager) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := manager.Stats()
			metrics.ShredActiveBlocks.Set(float64(s.ActiveBlocks))
			log.Info("shred-etl: status",
				"active_blocks", s.ActiveBlocks,
				"duplicate_count", s.DuplicateCount,
				"blocks_dropped", s.BlocksDropped,
				"shreds_last_60s", s.ShredsSinceLast,
				"buffer_bytes", manager.MemStats())
		}
	}
}
