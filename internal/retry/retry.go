// Package retry implements the bounded exponential-backoff wrapper (C2)
// used by the fetcher, the live follower and the shred manager around
// fallible RPC/DB calls.
//
// Grounded on original_source/packages/indexer/src/utils/retry.rs:
// base delay doubles per attempt, capped at 60s, jittered ±20%.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/risechain/rise-indexer/internal/config"
)

// Do runs fn, retrying on error with exponential backoff until it succeeds,
// ctx is cancelled, or cfg.MaxRetries retries (cfg.MaxRetries+1 attempts in
// all) have failed (0 means try exactly once with no retry).
func Do[T any](ctx context.Context, cfg config.Retry, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var attempt int
	for {
		attempt++
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt > cfg.MaxRetries {
			log.Error("operation failed, giving up", "op", op, "attempts", attempt, "err", err)
			var zero T
			return zero, err
		}

		backoff := exponentialBackoff(cfg.BaseDelay, cfg.MaxDelay, attempt)
		log.Warn("operation failed, retrying", "op", op, "attempt", attempt, "max_retries", cfg.MaxRetries, "err", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func exponentialBackoff(base, maxDelay time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	exp := base << (attempt - 1) // base * 2^(attempt-1)
	if exp <= 0 || exp > maxDelay {
		exp = maxDelay
	}
	jitter := (rand.Float64()*0.4 - 0.2) * float64(exp)
	d := time.Duration(float64(exp) + jitter)
	if d < 0 {
		d = 0
	}
	return d
}
