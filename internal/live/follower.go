// Package live implements the LiveFollower (C7): the
// Disconnected/Subscribing/Streaming/FallbackPolling state machine from
// spec §4.5, gap-fill on arrival, and the lag severity monitor.
package live

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/risechain/rise-indexer/internal/apperr"
	"github.com/risechain/rise-indexer/internal/chainmodel"
	"github.com/risechain/rise-indexer/internal/config"
	"github.com/risechain/rise-indexer/internal/metrics"
	"github.com/risechain/rise-indexer/internal/queue"
	"github.com/risechain/rise-indexer/internal/retry"
)

type state int

const (
	disconnected state = iota
	subscribing
	streaming
	fallbackPolling
)

// Provider is the RPC surface the live follower needs: single-block fetch
// for gap fills, tip polling for the fallback path, and the subscription.
type Provider interface {
	GetBlockByNumber(ctx context.Context, number uint64) (*chainmodel.Block, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SubscribeNewHeads(ctx context.Context, ch chan<- []byte) (*rpc.ClientSubscription, error)
}

// Follower owns the state machine. It must only be started once the
// historical backfill has completed (spec §4.5's precondition).
type Follower struct {
	provider  Provider
	q         *queue.Bounded[*chainmodel.Block]
	cfg       config.IndexerConfig
	watermark uint64
}

func New(provider Provider, q *queue.Bounded[*chainmodel.Block], cfg config.IndexerConfig, watermark uint64) *Follower {
	return &Follower{provider: provider, q: q, cfg: cfg, watermark: watermark}
}

// Run drives the state machine until ctx is cancelled.
func (f *Follower) Run(ctx context.Context) error {
	st := disconnected
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		switch st {
		case disconnected:
			st = subscribing
		case subscribing:
			headCh := make(chan []byte, 64)
			sub, err := f.provider.SubscribeNewHeads(ctx, headCh)
			if err != nil {
				log.Warn("live: subscribe failed, falling back to polling", "err", err)
				st = fallbackPolling
				continue
			}
			st = f.streamUntilBroken(ctx, sub, headCh)
		case fallbackPolling:
			st = f.pollOnce(ctx)
		}
	}
}

func (f *Follower) streamUntilBroken(ctx context.Context, sub *rpc.ClientSubscription, headCh <-chan []byte) state {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return disconnected
		case err := <-sub.Err():
			log.Warn("live: subscription closed", "err", err)
			return disconnected
		case raw := <-headCh:
			b, err := chainmodel.DecodeRPCHeader(raw)
			if err != nil {
				log.Warn("live: dropping undecodable head notification", "err", err)
				continue
			}
			if err := f.ingestTo(ctx, b.Number); err != nil {
				log.Error("live: ingest failed", "number", b.Number, "err", err)
				return disconnected
			}
		}
	}
}

func (f *Follower) pollOnce(ctx context.Context) state {
	select {
	case <-ctx.Done():
		return disconnected
	case <-time.After(f.cfg.PollingInterval):
	}
	tip, err := f.provider.BlockNumber(ctx)
	if err != nil {
		log.Warn("live: fallback poll failed to read tip", "err", err)
		return fallbackPolling
	}
	if tip <= f.watermark {
		return fallbackPolling
	}
	if err := f.ingestTo(ctx, tip); err != nil {
		log.Error("live: fallback ingest failed", "tip", tip, "err", err)
		return fallbackPolling
	}
	return subscribing
}

// ingestTo fetches and pushes every block from watermark+1 through n,
// bounded by max_parallel_blocks concurrency, then logs the lag severity.
func (f *Follower) ingestTo(ctx context.Context, n uint64) error {
	if n <= f.watermark {
		return nil
	}
	from := f.watermark + 1
	gap := n - from // blocks that had to be gap-filled before n itself
	if err := f.fetchRange(ctx, from, n); err != nil {
		return err
	}
	f.watermark = n
	metrics.IndexerWatermark.Set(float64(f.watermark))
	f.logLag(gap)
	return nil
}

func (f *Follower) fetchRange(ctx context.Context, from, to uint64) error {
	sem := make(chan struct{}, f.cfg.MaxParallelBlocks)
	errCh := make(chan error, to-from+1)
	for n := from; n <= to; n++ {
		sem <- struct{}{}
		go func(number uint64) {
			defer func() { <-sem }()
			b, err := retry.Do(ctx, f.cfg.Retry, "live.fetch_block", func(ctx context.Context) (*chainmodel.Block, error) {
				return f.provider.GetBlockByNumber(ctx, number)
			})
			if err != nil {
				errCh <- apperr.New(apperr.Provider, "live.fetch_block", err)
				return
			}
			if err := f.q.PushWithBackpressure(ctx, b); err != nil {
				errCh <- err
				return
			}
			errCh <- nil
		}(n)
	}
	for i := uint64(0); i < to-from+1; i++ {
		if err := <-errCh; err != nil {
			return err
		}
	}
	return nil
}

func (f *Follower) logLag(extra uint64) {
	lag := extra
	switch {
	case lag == 0:
		log.Debug("live: caught up", "watermark", f.watermark)
	case lag <= 2:
		log.Info("live: small lag", "watermark", f.watermark, "lag", lag)
	case lag <= 10:
		log.Warn("live: growing lag", "watermark", f.watermark, "lag", lag)
	default:
		log.Error("live: large lag", "watermark", f.watermark, "lag", lag)
	}
}
