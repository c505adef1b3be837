// Package writer implements the fixed-size writer pool (C4) that drains a
// bounded queue and persists each item through a Store. Grounded on the
// tri-state Running/Paused/Stopped control surface from spec §4.2 and on
// the worker-loop shape common to the pack's miner/worker.go files (pop,
// process, repeat, observe a control flag each iteration).
package writer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/risechain/rise-indexer/internal/filterexpr"
	"github.com/risechain/rise-indexer/internal/metrics"
	"github.com/risechain/rise-indexer/internal/queue"
)

// State is the pool's tri-state control surface. Transitions are monotonic
// except Paused<->Running.
type State int32

const (
	Running State = iota
	Paused
	Stopped
)

// Store is the minimal persistence surface a writer pool needs.
type Store[T any] interface {
	Save(ctx context.Context, item T) error
}

// Pool drains q with a fixed number of worker goroutines.
type Pool[T any] struct {
	q       *queue.Bounded[T]
	store   Store[T]
	workers int
	state   atomic.Int32
	filter  *filterexpr.BlockFilter

	pauseDelay time.Duration
}

// New builds a pool of the given worker count. It starts in the Running
// state once Start is called.
func New[T any](q *queue.Bounded[T], store Store[T], workers int) *Pool[T] {
	if workers < 1 {
		workers = 1
	}
	return &Pool[T]{q: q, store: store, workers: workers, pauseDelay: 200 * time.Millisecond}
}

// SetFilter attaches the operator debug-block filter (spec's
// DEBUG_BLOCK_FILTER knob). Items that don't implement
// filterexpr.Summarizable are silently skipped by the filter check.
func (p *Pool[T]) SetFilter(f *filterexpr.BlockFilter) { p.filter = f }

// SetState transitions the pool's control state.
func (p *Pool[T]) SetState(s State) { p.state.Store(int32(s)) }

// Stateof returns the current control state.
func (p *Pool[T]) Stateof() State { return State(p.state.Load()) }

// Start launches the worker goroutines and blocks until ctx is cancelled and
// every worker has drained the queue once more and exited.
func (p *Pool[T]) Start(ctx context.Context) {
	done := make(chan struct{}, p.workers)
	for id := 0; id < p.workers; id++ {
		go func(id int) {
			p.runWorker(ctx, id)
			done <- struct{}{}
		}(id)
	}
	for i := 0; i < p.workers; i++ {
		<-done
	}
}

func (p *Pool[T]) runWorker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			p.drainOnce(ctx, id)
			return
		default:
		}

		switch p.Stateof() {
		case Paused:
			time.Sleep(p.pauseDelay)
			continue
		case Stopped:
			p.drainOnce(ctx, id)
			return
		}

		item, ok := p.q.TryPop()
		if !ok {
			time.Sleep(p.pauseDelay)
			continue
		}
		p.persist(ctx, id, item)
	}
}

// drainOnce empties whatever remains in the queue exactly once more before a
// worker exits, per spec §4.2 ("Stopped workers drain whatever is already in
// the queue once more and exit").
func (p *Pool[T]) drainOnce(ctx context.Context, id int) {
	for {
		item, ok := p.q.TryPop()
		if !ok {
			return
		}
		p.persist(context.Background(), id, item)
	}
}

func (p *Pool[T]) persist(ctx context.Context, id int, item T) {
	if err := p.store.Save(ctx, item); err != nil {
		taskID := uuid.NewString()
		log.Error("writer: save failed, re-enqueueing", "worker", id, "task_id", taskID, "err", err)
		if !p.q.TryPush(item) {
			log.Error("writer: queue full on re-enqueue, dropping block", "worker", id, "task_id", taskID)
		}
		return
	}
	metrics.IndexerBlocksWritten.Inc()
	p.maybeLogFiltered(item)
}

func (p *Pool[T]) maybeLogFiltered(item T) {
	if p.filter == nil {
		return
	}
	summarizable, ok := any(item).(filterexpr.Summarizable)
	if !ok {
		return
	}
	match, err := p.filter.Match(summarizable)
	if err != nil {
		log.Debug("writer: block filter evaluation failed", "err", err)
		return
	}
	if match {
		number, _, txCount, _ := summarizable.FilterSummary()
		log.Debug("writer: filtered block persisted", "number", number, "transaction_count", txCount)
	}
}
