// Package fetcher implements the BlockFetcher (C5): a bounded pool of
// worker goroutines that partition a contiguous block range into batched RPC
// calls and push converted blocks onto the shared queue, with the
// back-pressure and queue-fill throttle rules from spec §4.3.
package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/risechain/rise-indexer/internal/apperr"
	"github.com/risechain/rise-indexer/internal/chainmodel"
	"github.com/risechain/rise-indexer/internal/config"
	"github.com/risechain/rise-indexer/internal/queue"
	"github.com/risechain/rise-indexer/internal/retry"
)

// Provider is the RPC surface the fetcher needs.
type Provider interface {
	GetBlocksByNumber(ctx context.Context, start uint64, count int) ([]*chainmodel.Block, error)
}

// subrange is one unit of work: a contiguous [start, start+count) slice of
// the overall range, tagged with an index purely for deterministic logging.
type subrange struct {
	index int
	start uint64
	count int
}

const staggerMs = 50

// Fetch partitions [start, end] (inclusive) into sub-ranges of width <= R,
// runs W worker goroutines against them, and blocks until the whole range
// has been pushed to q or fetched with a fatal error. It returns nil on
// success and the first sub-range error otherwise.
func Fetch(ctx context.Context, provider Provider, q *queue.Bounded[*chainmodel.Block], retryCfg config.Retry, start, end uint64, rpcBatchSize, maxConcurrentBatches, maxConcurrentRequests int) error {
	if start > end {
		return nil
	}
	work := partition(start, end, rpcBatchSize)

	workCh := make(chan subrange, len(work))
	for _, sr := range work {
		workCh <- sr
	}
	close(workCh)

	// limiter bounds the rate of outbound batch RPC calls across every
	// worker, independent of maxConcurrentBatches' concurrency bound.
	limiter := rate.NewLimiter(rate.Limit(maxConcurrentRequests), maxConcurrentRequests)

	var wg sync.WaitGroup
	errCh := make(chan error, maxConcurrentBatches)

	for workerID := 0; workerID < maxConcurrentBatches; workerID++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			select {
			case <-time.After(time.Duration(id*staggerMs) * time.Millisecond):
			case <-ctx.Done():
				return
			}
			for sr := range workCh {
				if err := limiter.Wait(ctx); err != nil {
					return
				}
				if err := runSubrange(ctx, provider, q, retryCfg, sr); err != nil {
					select {
					case errCh <- err:
					default:
					}
					return
				}
				q.ThrottleOnFill(ctx)
			}
		}(workerID)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		if err != nil {
			return err
		}
	}
	return nil
}

func partition(start, end uint64, width int) []subrange {
	var out []subrange
	idx := 0
	for cur := start; cur <= end; {
		remaining := end - cur + 1
		count := uint64(width)
		if remaining < count {
			count = remaining
		}
		out = append(out, subrange{index: idx, start: cur, count: int(count)})
		idx++
		cur += count
	}
	return out
}

func runSubrange(ctx context.Context, provider Provider, q *queue.Bounded[*chainmodel.Block], retryCfg config.Retry, sr subrange) error {
	blocks, err := retry.Do(ctx, retryCfg, "fetcher.batch", func(ctx context.Context) ([]*chainmodel.Block, error) {
		return provider.GetBlocksByNumber(ctx, sr.start, sr.count)
	})
	if err != nil {
		return apperr.New(apperr.Provider, "fetch_subrange", err)
	}

	for _, b := range blocks {
		if err := q.PushWithBackpressure(ctx, b); err != nil {
			return err
		}
	}
	log.Debug("fetcher: subrange complete", "index", sr.index, "start", sr.start, "count", sr.count)
	return nil
}
