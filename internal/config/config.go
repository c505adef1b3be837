// Package config binds the environment variables from spec §6 to
// urfave/cli flags, in the style of ethereum-mive's cmd/utils flag
// definitions (category-grouped cli.Flag values with env fallbacks) rather
// than a TOML file layer — this system is env-driven end to end.
package config

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
)

const (
	categoryStore  = "STORE"
	categoryFeed   = "FEED"
	categoryRPC    = "RPC"
	categoryQueue  = "QUEUE"
	categoryRetry  = "RETRY"
	categoryDebug  = "DEBUG"
)

var (
	DatabaseURLFlag = &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Postgres connection string for the block store",
		EnvVars:  []string{"DATABASE_URL"},
		Category: categoryStore,
		Required: true,
	}
	WebsocketURLFlag = &cli.StringFlag{
		Name:     "websocket-url",
		Usage:    "Upstream shred feed endpoint",
		EnvVars:  []string{"WEBSOCKET_URL"},
		Category: categoryFeed,
	}
	HTTPProviderURLFlag = &cli.StringFlag{
		Name:     "http-provider-url",
		Usage:    "HTTP JSON-RPC endpoint used for historical backfill",
		EnvVars:  []string{"HTTP_PROVIDER_URL"},
		Category: categoryRPC,
	}
	WSProviderURLFlag = &cli.StringFlag{
		Name:     "ws-provider-url",
		Usage:    "WebSocket JSON-RPC endpoint used for the live follower",
		EnvVars:  []string{"WS_PROVIDER_URL"},
		Category: categoryRPC,
	}
	StartBlockFlag = &cli.Uint64Flag{
		Name:     "start-block",
		Usage:    "Lower bound for backfill when the store is empty",
		EnvVars:  []string{"START_BLOCK"},
		Category: categoryRPC,
	}
	BlocksFromTipFlag = &cli.Uint64Flag{
		Name:     "blocks-from-tip",
		Usage:    "Cap on backfill depth measured from the chain tip (unset = no cap)",
		EnvVars:  []string{"BLOCKS_FROM_TIP"},
		Category: categoryRPC,
	}
	BatchSizeFlag = &cli.IntFlag{
		Name:     "batch-size",
		Usage:    "Outer batch width driven by the backfill controller",
		Value:    2000,
		EnvVars:  []string{"BATCH_SIZE"},
		Category: categoryRPC,
	}
	RPCBatchSizeFlag = &cli.IntFlag{
		Name:     "rpc-batch-size",
		Usage:    "Maximum block count per batched RPC call",
		Value:    50,
		EnvVars:  []string{"RPC_BATCH_SIZE"},
		Category: categoryRPC,
	}
	MaxConcurrentRequestsFlag = &cli.IntFlag{
		Name:     "max-concurrent-requests",
		Usage:    "Rate limit on batch RPC calls per second, shared by all fetcher workers",
		Value:    4,
		EnvVars:  []string{"MAX_CONCURRENT_REQUESTS"},
		Category: categoryRPC,
	}
	MaxConcurrentBatchesFlag = &cli.IntFlag{
		Name:     "max-concurrent-batches",
		Usage:    "Number of fetcher worker goroutines",
		Value:    8,
		EnvVars:  []string{"MAX_CONCURRENT_BATCHES"},
		Category: categoryRPC,
	}
	BlockQueueSizeFlag = &cli.IntFlag{
		Name:     "block-queue-size",
		Usage:    "Bounded queue capacity between fetchers/handler and writers",
		Value:    500,
		EnvVars:  []string{"BLOCK_QUEUE_SIZE"},
		Category: categoryQueue,
	}
	DBWorkersFlag = &cli.IntFlag{
		Name:     "db-workers",
		Usage:    "Writer pool size",
		Value:    4,
		EnvVars:  []string{"DB_WORKERS"},
		Category: categoryQueue,
	}
	RetryDelayFlag = &cli.IntFlag{
		Name:     "retry-delay",
		Usage:    "Backoff base delay in milliseconds",
		Value:    250,
		EnvVars:  []string{"RETRY_DELAY"},
		Category: categoryRetry,
	}
	MaxRetriesFlag = &cli.IntFlag{
		Name:     "max-retries",
		Usage:    "Maximum retry attempts before an RPC/DB operation fails",
		Value:    8,
		EnvVars:  []string{"MAX_RETRIES"},
		Category: categoryRetry,
	}
	MaxParallelBlocksFlag = &cli.IntFlag{
		Name:     "max-parallel-blocks",
		Usage:    "Concurrency bound for live-follower gap fills",
		Value:    8,
		EnvVars:  []string{"MAX_PARALLEL_BLOCKS"},
		Category: categoryRPC,
	}
	PollingIntervalFlag = &cli.IntFlag{
		Name:     "polling-interval-seconds",
		Usage:    "Fallback poll period when the new-heads subscription is unavailable",
		Value:    4,
		EnvVars:  []string{"POLLING_INTERVAL_S"},
		Category: categoryRPC,
	}
	LockFileFlag = &cli.StringFlag{
		Name:     "lock-file",
		Usage:    "Path to an advisory lock file preventing concurrent backfill runs against the same store",
		EnvVars:  []string{"LOCK_FILE"},
		Category: categoryDebug,
	}
	BlockFilterFlag = &cli.StringFlag{
		Name:     "debug-block-filter",
		Usage:    "go-bexpr expression; matching blocks get a verbose debug log line",
		EnvVars:  []string{"DEBUG_BLOCK_FILTER"},
		Category: categoryDebug,
	}
	LogJSONFlag = &cli.BoolFlag{
		Name:     "log-json",
		Usage:    "Emit structured JSON logs instead of the terminal format",
		EnvVars:  []string{"LOG_JSON"},
		Category: categoryDebug,
	}
	LogFileFlag = &cli.StringFlag{
		Name:     "log-file",
		Usage:    "Rotate logs into this file in addition to stderr (empty = stderr only)",
		EnvVars:  []string{"LOG_FILE"},
		Category: categoryDebug,
	}
	VerbosityFlag = &cli.IntFlag{
		Name:     "verbosity",
		Usage:    "Log verbosity: 0=crit 1=error 2=warn 3=info 4=debug 5=trace",
		Value:    3,
		EnvVars:  []string{"VERBOSITY"},
		Category: categoryDebug,
	}
)

// Logging is the subset of configuration every binary shares for log setup.
type Logging struct {
	JSON      bool
	File      string
	Verbosity int
}

func LoggingFromContext(ctx *cli.Context) Logging {
	return Logging{
		JSON:      ctx.Bool(LogJSONFlag.Name),
		File:      ctx.String(LogFileFlag.Name),
		Verbosity: ctx.Int(VerbosityFlag.Name),
	}
}

// Retry holds the exponential-backoff knobs from spec §5/§6.
type Retry struct {
	BaseDelay  time.Duration
	MaxRetries int
	MaxDelay   time.Duration
}

func RetryFromContext(ctx *cli.Context) Retry {
	return Retry{
		BaseDelay:  time.Duration(ctx.Int(RetryDelayFlag.Name)) * time.Millisecond,
		MaxRetries: ctx.Int(MaxRetriesFlag.Name),
		MaxDelay:   60 * time.Second,
	}
}

// ShredConfig configures cmd/shred-etl.
type ShredConfig struct {
	DatabaseURL  string
	WebsocketURL string
	Retry        Retry
	Logging      Logging
	BlockFilter  string
}

func ShredFromContext(ctx *cli.Context) (ShredConfig, error) {
	cfg := ShredConfig{
		DatabaseURL:  ctx.String(DatabaseURLFlag.Name),
		WebsocketURL: ctx.String(WebsocketURLFlag.Name),
		Retry:        RetryFromContext(ctx),
		Logging:      LoggingFromContext(ctx),
		BlockFilter:  ctx.String(BlockFilterFlag.Name),
	}
	if cfg.WebsocketURL == "" {
		return cfg, fmt.Errorf("config: WEBSOCKET_URL is required")
	}
	return cfg, nil
}

// IndexerConfig configures cmd/block-indexer.
type IndexerConfig struct {
	DatabaseURL           string
	HTTPProviderURL       string
	WSProviderURL         string
	StartBlock            uint64
	BlocksFromTip         *uint64
	BatchSize             int
	RPCBatchSize          int
	MaxConcurrentRequests int
	MaxConcurrentBatches  int
	BlockQueueSize        int
	DBWorkers             int
	MaxParallelBlocks     int
	PollingInterval       time.Duration
	Retry                 Retry
	Logging               Logging
	LockFile              string
	BlockFilter           string
}

func IndexerFromContext(ctx *cli.Context) (IndexerConfig, error) {
	cfg := IndexerConfig{
		DatabaseURL:           ctx.String(DatabaseURLFlag.Name),
		HTTPProviderURL:       ctx.String(HTTPProviderURLFlag.Name),
		WSProviderURL:         ctx.String(WSProviderURLFlag.Name),
		StartBlock:            ctx.Uint64(StartBlockFlag.Name),
		BatchSize:             ctx.Int(BatchSizeFlag.Name),
		RPCBatchSize:          ctx.Int(RPCBatchSizeFlag.Name),
		MaxConcurrentRequests: ctx.Int(MaxConcurrentRequestsFlag.Name),
		MaxConcurrentBatches:  ctx.Int(MaxConcurrentBatchesFlag.Name),
		BlockQueueSize:        ctx.Int(BlockQueueSizeFlag.Name),
		DBWorkers:             ctx.Int(DBWorkersFlag.Name),
		MaxParallelBlocks:     ctx.Int(MaxParallelBlocksFlag.Name),
		PollingInterval:       time.Duration(ctx.Int(PollingIntervalFlag.Name)) * time.Second,
		Retry:                 RetryFromContext(ctx),
		Logging:               LoggingFromContext(ctx),
		LockFile:              ctx.String(LockFileFlag.Name),
		BlockFilter:           ctx.String(BlockFilterFlag.Name),
	}
	if cfg.HTTPProviderURL == "" {
		return cfg, fmt.Errorf("config: HTTP_PROVIDER_URL is required")
	}
	if ctx.IsSet(BlocksFromTipFlag.Name) {
		v := ctx.Uint64(BlocksFromTipFlag.Name)
		cfg.BlocksFromTip = &v
	}
	return cfg, nil
}

// ShredFlags and IndexerFlags return the cli.Flag sets for each binary.
func ShredFlags() []cli.Flag {
	return []cli.Flag{
		DatabaseURLFlag, WebsocketURLFlag,
		RetryDelayFlag, MaxRetriesFlag,
		LogJSONFlag, LogFileFlag, VerbosityFlag, BlockFilterFlag,
	}
}

func IndexerFlags() []cli.Flag {
	return []cli.Flag{
		DatabaseURLFlag, HTTPProviderURLFlag, WSProviderURLFlag,
		StartBlockFlag, BlocksFromTipFlag, BatchSizeFlag, RPCBatchSizeFlag,
		MaxConcurrentRequestsFlag, MaxConcurrentBatchesFlag,
		BlockQueueSizeFlag, DBWorkersFlag, MaxParallelBlocksFlag,
		PollingIntervalFlag, RetryDelayFlag, MaxRetriesFlag,
		LogJSONFlag, LogFileFlag, VerbosityFlag, LockFileFlag, BlockFilterFlag,
	}
}
