// Command block-watcher is an operator utility that LISTENs on the
// new_block Postgres channel and prints each notification as it arrives.
// Grounded on original_source/packages/indexer/src/bin/block_watcher.rs,
// which does the same thing against sqlx's PgListener; here jackc/pgx/v5's
// dedicated LISTEN/NOTIFY connection plays that role.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/urfave/cli/v2"

	"github.com/ethereum/go-ethereum/log"

	"github.com/risechain/rise-indexer/internal/config"
	"github.com/risechain/rise-indexer/internal/logctx"
)

// blockNotification mirrors the NOTIFY payload that dbstore's
// InsertIndexerBlock emits after a successful upsert.
type blockNotification struct {
	Number           uint64 `json:"number"`
	Hash             string `json:"hash"`
	Timestamp        uint64 `json:"timestamp"`
	TransactionCount int    `json:"transaction_count"`
}

func main() {
	app := &cli.App{
		Name:  "block-watcher",
		Usage: "watch the new_block notification channel",
		Flags: []cli.Flag{
			config.DatabaseURLFlag,
			config.LogJSONFlag, config.LogFileFlag, config.VerbosityFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	logctx.Setup(config.LoggingFromContext(cliCtx))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	databaseURL := cliCtx.String(config.DatabaseURLFlag.Name)
	conn, err := pgx.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("block-watcher: connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN new_block"); err != nil {
		return fmt.Errorf("block-watcher: listen: %w", err)
	}

	log.Info("block-watcher: listening for new blocks")
	for {
		waitCtx, waitCancel := context.WithTimeout(ctx, 30*time.Second)
		notification, err := conn.WaitForNotification(waitCtx)
		waitCancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if waitCtx.Err() != nil {
				continue // idle timeout, keep the connection warm
			}
			log.Error("block-watcher: listener error, retrying", "err", err)
			time.Sleep(time.Second)
			continue
		}

		var b blockNotification
		if err := json.Unmarshal([]byte(notification.Payload), &b); err != nil {
			log.Warn("block-watcher: invalid notification payload", "err", err, "payload", notification.Payload)
			continue
		}
		log.Info("new block indexed",
			"number", b.Number, "hash", b.Hash,
			"timestamp", time.Unix(int64(b.Timestamp), 0).Format(time.RFC3339),
			"tx_count", b.TransactionCount)
	}
}
