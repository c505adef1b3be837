// Package queue implements the bounded, back-pressured FIFO (C3) used by the
// indexer pipeline between the backfill/live fetchers and the writer pool
// (the shred manager hands blocks to its worker over its own channel).
// Capacity is enforced with a counting semaphore
// (golang.org/x/sync/semaphore), grounded on the teacher's go.mod already
// carrying golang.org/x/sync transitively through go-ethereum.
package queue

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/risechain/rise-indexer/internal/apperr"
)

// Bounded is a multi-producer, multi-consumer FIFO queue of capacity N.
// Ownership of an element transfers to the queue on a successful push and
// to the caller on a successful pop — callers must not retain a reference
// to a value after pushing it.
type Bounded[T any] struct {
	cap     int64
	permits *semaphore.Weighted

	mu       sync.Mutex
	items    []T
	closed   bool
	closeCh  chan struct{}
	closeOne sync.Once
}

// NewBounded creates a queue with the given capacity. Capacity must be > 0.
func NewBounded[T any](capacity int) *Bounded[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Bounded[T]{
		cap:     int64(capacity),
		permits: semaphore.NewWeighted(int64(capacity)),
		closeCh: make(chan struct{}),
	}
}

// Cap returns the configured capacity.
func (q *Bounded[T]) Cap() int { return int(q.cap) }

// Len returns the current number of queued elements.
func (q *Bounded[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// IsEmpty reports whether the queue currently holds no elements.
func (q *Bounded[T]) IsEmpty() bool { return q.Len() == 0 }

// FillRatio returns Len()/Cap() as a float in [0,1], used by the adaptive
// throttles in the fetcher and backfill controller.
func (q *Bounded[T]) FillRatio() float64 {
	return float64(q.Len()) / float64(q.cap)
}

// TryPush attempts to enqueue v without blocking. It returns false if the
// queue is at capacity or has been shut down.
func (q *Bounded[T]) TryPush(v T) bool {
	if !q.permits.TryAcquire(1) {
		return false
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.permits.Release(1)
		return false
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	return true
}

// Push blocks until capacity is available or the queue is shut down.
func (q *Bounded[T]) Push(ctx context.Context, v T) error {
	acquireCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-q.closeCh:
			cancel()
		case <-acquireCtx.Done():
		}
	}()
	if err := q.permits.Acquire(acquireCtx, 1); err != nil {
		if q.Closed() && ctx.Err() == nil {
			return apperr.ErrQueueShutdown
		}
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.permits.Release(1)
		return apperr.ErrQueueShutdown
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	return nil
}

// TryPop returns the head element, if any, releasing one permit.
func (q *Bounded[T]) TryPop() (T, bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		var zero T
		return zero, false
	}
	v := q.items[0]
	var zero T
	q.items[0] = zero // drop the reference so it can be GC'd
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil // compact: release the backing array instead of growing it forever
	}
	q.mu.Unlock()
	q.permits.Release(1)
	return v, true
}

// Close marks the queue shut down. Subsequent pushes fail; elements already
// queued remain poppable.
func (q *Bounded[T]) Close() {
	q.closeOne.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.closeCh)
	})
}

// Closed reports whether Close has been called.
func (q *Bounded[T]) Closed() bool {
	select {
	case <-q.closeCh:
		return true
	default:
		return false
	}
}

const (
	backpressureTries  = 5
	backpressureWaitMs = 500
)

// PushWithBackpressure implements spec §4.3's "try up to 5 times with waits
// of 500*attempt ms; on the 6th attempt fall back to blocking push", shared
// by the historical fetcher and the live follower's gap-fill path.
func (q *Bounded[T]) PushWithBackpressure(ctx context.Context, v T) error {
	for attempt := 1; attempt <= backpressureTries; attempt++ {
		if q.TryPush(v) {
			return nil
		}
		select {
		case <-time.After(time.Duration(attempt*backpressureWaitMs) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return q.Push(ctx, v)
}

// ThrottleOnFill sleeps according to the fill-level thresholds shared by the
// fetcher and backfill controller (spec §4.3/§4.4): 5s at >=90% full, 1s at
// >=75%, 500ms at >=50%, no delay otherwise.
func (q *Bounded[T]) ThrottleOnFill(ctx context.Context) {
	ratio := q.FillRatio()
	var wait time.Duration
	switch {
	case ratio >= 0.90:
		wait = 5000 * time.Millisecond
	case ratio >= 0.75:
		wait = 1000 * time.Millisecond
	case ratio >= 0.50:
		wait = 500 * time.Millisecond
	default:
		return
	}
	select {
	case <-time.After(wait):
	case <-ctx.Done():
	}
}
