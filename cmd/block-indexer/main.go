// Command block-indexer runs the Historical Backfill Core: it catches the
// store up to the chain tip via the BlockFetcher/BackfillController, then
// hands off to the LiveFollower for ongoing head tracking. An optional
// advisory lock file (gofrs/flock, a direct teacher dependency) prevents two
// instances from backfilling the same store concurrently.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/risechain/rise-indexer/internal/backfill"
	"github.com/risechain/rise-indexer/internal/chainmodel"
	"github.com/risechain/rise-indexer/internal/config"
	"github.com/risechain/rise-indexer/internal/dbstore"
	"github.com/risechain/rise-indexer/internal/filterexpr"
	"github.com/risechain/rise-indexer/internal/live"
	"github.com/risechain/rise-indexer/internal/logctx"
	"github.com/risechain/rise-indexer/internal/metrics"
	"github.com/risechain/rise-indexer/internal/queue"
	"github.com/risechain/rise-indexer/internal/rpcclient"
	"github.com/risechain/rise-indexer/internal/writer"
)

func main() {
	app := &cli.App{
		Name:   "block-indexer",
		Usage:  "backfill and live-follow header-only blocks into Postgres",
		Flags:  config.IndexerFlags(),
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	cfg, err := config.IndexerFromContext(cliCtx)
	if err != nil {
		return err
	}
	logctx.Setup(cfg.Logging)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.LockFile != "" {
		lock := flock.New(cfg.LockFile)
		locked, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("block-indexer: acquiring lock file %s: %w", cfg.LockFile, err)
		}
		if !locked {
			return fmt.Errorf("block-indexer: lock file %s is held by another instance", cfg.LockFile)
		}
		defer lock.Unlock()
	}

	store, err := dbstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	rpc, err := rpcclient.Dial(ctx, cfg.HTTPProviderURL, cfg.WSProviderURL)
	if err != nil {
		return err
	}
	defer rpc.Close()

	filter, err := filterexpr.Compile(cfg.BlockFilter)
	if err != nil {
		return fmt.Errorf("block-indexer: invalid block filter: %w", err)
	}

	q := queue.NewBounded[*chainmodel.Block](cfg.BlockQueueSize)
	pool := writer.New[*chainmodel.Block](q, dbstore.IndexerBlocks{Store: store}, cfg.DBWorkers)
	pool.SetFilter(filter)

	go metricsLoop(ctx, q)
	go func() {
		if err := metrics.Serve(":9090"); err != nil {
			log.Warn("block-indexer: metrics server stopped", "err", err)
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		pool.Start(ctx)
	}()

	controller := backfill.New(rpc, store, q, cfg)
	if err := controller.Run(ctx); err != nil {
		cancel()
		<-writerDone
		return err
	}

	if ctx.Err() == nil && cfg.WSProviderURL != "" {
		watermark, err := store.LatestBlockNumber(ctx)
		if err != nil {
			cancel()
			<-writerDone
			return err
		}
		follower := live.New(rpc, q, cfg, uint64(watermark))
		log.Info("block-indexer: handing off to live follower", "watermark", watermark)
		if err := follower.Run(ctx); err != nil {
			log.Error("block-indexer: live follower exited with error", "err", err)
		}
	}

	cancel()
	<-writerDone
	return nil
}

func metricsLoop(ctx context.Context, q *queue.Bounded[*chainmodel.Block]) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.IndexerQueueFill.Set(q.FillRatio())
		}
	}
}
