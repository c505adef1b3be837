// Package backfill implements the BackfillController (C6): start-block
// computation, the outer-batch loop driving the fetcher across the full
// range, the ETA monitor, and drain-on-completion.
package backfill

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/risechain/rise-indexer/internal/apperr"
	"github.com/risechain/rise-indexer/internal/chainmodel"
	"github.com/risechain/rise-indexer/internal/config"
	"github.com/risechain/rise-indexer/internal/fetcher"
	"github.com/risechain/rise-indexer/internal/metrics"
	"github.com/risechain/rise-indexer/internal/queue"
)

const (
	etaInterval  = 30 * time.Second
	drainCeiling = 10 * time.Minute
)

// Provider is the RPC surface the controller and its fetcher need.
type Provider interface {
	fetcher.Provider
	BlockNumber(ctx context.Context) (uint64, error)
}

// Store is the read side of C1 the controller needs before it can compute
// its start block.
type Store interface {
	LatestBlockNumber(ctx context.Context) (int64, error)
}

// Controller drives the historical backfill to completion and reports
// whether the pipeline is clear to hand off to the live follower.
type Controller struct {
	provider Provider
	store    Store
	q        *queue.Bounded[*chainmodel.Block]
	cfg      config.IndexerConfig

	watermark      atomic.Uint64
	startWatermark uint64
	lastWatermark  uint64
	lastSample     time.Time
	startedAt      time.Time
}

func New(provider Provider, store Store, q *queue.Bounded[*chainmodel.Block], cfg config.IndexerConfig) *Controller {
	return &Controller{provider: provider, store: store, q: q, cfg: cfg}
}

// Run executes the full backfill per spec §4.4 and returns once
// historic_sync_complete would be true, or a fatal error occurs.
func (c *Controller) Run(ctx context.Context) error {
	latest, err := c.store.LatestBlockNumber(ctx)
	if err != nil {
		return err
	}
	tip, err := c.provider.BlockNumber(ctx)
	if err != nil {
		return apperr.New(apperr.Provider, "backfill.tip", err)
	}

	start := computeStart(latest, tip, c.cfg.StartBlock, c.cfg.BlocksFromTip)
	if start >= tip {
		log.Info("backfill: already at or past tip, nothing to do", "start", start, "tip", tip)
		return nil
	}

	log.Info("backfill: starting", "start", start, "tip", tip)
	c.watermark.Store(start)
	c.startWatermark = start
	c.lastWatermark = start
	c.startedAt = time.Now()
	c.lastSample = c.startedAt

	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		c.runETAMonitor(monitorCtx, tip)
	}()

	for cur := start; cur < tip; cur += uint64(c.cfg.BatchSize) {
		end := cur + uint64(c.cfg.BatchSize) - 1
		if end >= tip {
			end = tip - 1
		}
		batchID := uuid.NewString()
		log.Debug("backfill: outer batch starting", "batch_id", batchID, "start", cur, "end", end)
		if err := fetcher.Fetch(ctx, c.provider, c.q, c.cfg.Retry, cur, end, c.cfg.RPCBatchSize, c.cfg.MaxConcurrentBatches, c.cfg.MaxConcurrentRequests); err != nil {
			log.Error("backfill: outer batch failed", "batch_id", batchID, "err", err)
			cancelMonitor()
			<-monitorDone
			return err
		}
		c.watermark.Store(end + 1)
		metrics.IndexerWatermark.Set(float64(c.watermark.Load()))
		c.q.ThrottleOnFill(ctx)
	}

	cancelMonitor()
	<-monitorDone

	if err := c.drain(ctx); err != nil {
		return err
	}
	log.Info("backfill: historic sync complete", "watermark", c.watermark.Load())
	return nil
}

// computeStart implements spec §4.4's exact precedence rules.
func computeStart(latestInStore int64, tip, configuredStart uint64, blocksFromTip *uint64) uint64 {
	if blocksFromTip != nil {
		candidate := int64(0)
		if tip > *blocksFromTip {
			candidate = int64(tip - *blocksFromTip)
		}
		start := candidate
		if int64(configuredStart) > start {
			start = int64(configuredStart)
		}
		if latestInStore > start {
			start = latestInStore
		}
		if start < 0 {
			start = 0
		}
		return uint64(start)
	}
	if latestInStore >= 0 {
		return uint64(latestInStore)
	}
	return configuredStart
}

func (c *Controller) runETAMonitor(ctx context.Context, initialTip uint64) {
	ticker := time.NewTicker(etaInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tip, err := c.provider.BlockNumber(ctx)
			if err != nil {
				log.Warn("backfill: ETA monitor failed to refresh tip", "err", err)
				continue
			}
			now := time.Now()
			watermark := c.watermark.Load()

			shortElapsed := now.Sub(c.lastSample).Seconds()
			shortRate := 0.0
			if shortElapsed > 0 {
				shortRate = float64(diff(watermark, c.lastWatermark)) / shortElapsed
			}
			overallElapsed := now.Sub(c.startedAt).Seconds()
			overallRate := 0.0
			if overallElapsed > 0 {
				overallRate = float64(diff(watermark, c.startWatermark)) / overallElapsed
			}
			lag := diff(tip, watermark)

			etaShort, etaOverall := "n/a", "n/a"
			if shortRate > 0 {
				etaShort = time.Duration(float64(lag) / shortRate * float64(time.Second)).Round(time.Second).String()
			}
			if overallRate > 0 {
				etaOverall = time.Duration(float64(lag) / overallRate * float64(time.Second)).Round(time.Second).String()
			}

			log.Info("backfill: progress",
				"watermark", watermark, "tip", tip, "lag", lag,
				"rate_short_bps", fmt.Sprintf("%.1f", shortRate),
				"rate_overall_bps", fmt.Sprintf("%.1f", overallRate),
				"eta_short", etaShort, "eta_overall", etaOverall)

			c.lastWatermark = watermark
			c.lastSample = now

			if watermark >= tip {
				return
			}
		}
	}
}

func diff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return 0
}

// drain waits for the queue to empty, bounded by a 10-minute ceiling.
func (c *Controller) drain(ctx context.Context) error {
	deadline := time.Now().Add(drainCeiling)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.q.IsEmpty() {
			return nil
		}
		if time.Now().After(deadline) {
			return apperr.New(apperr.Other, "backfill.drain", fmt.Errorf("queue did not drain within %s", drainCeiling))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
