package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/risechain/rise-indexer/internal/queue"
)

type fakeStore struct {
	mu     sync.Mutex
	saved  []int
	failFn func(item int) bool
}

func (s *fakeStore) Save(ctx context.Context, item int) error {
	if s.failFn != nil && s.failFn(item) {
		return context.DeadlineExceeded
	}
	s.mu.Lock()
	s.saved = append(s.saved, item)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saved)
}

func TestPoolDrainsQueueUntilContextCancelled(t *testing.T) {
	q := queue.NewBounded[int](100)
	for i := 0; i < 10; i++ {
		q.TryPush(i)
	}
	store := &fakeStore{}
	p := New[int](q, store, 2)

	ctx, cancel := context.WithCancel(context.Background())
	startDone := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(startDone)
	}()

	require.Eventually(t, func() bool { return store.count() == 10 }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-startDone:
	case <-time.After(time.Second):
		t.Fatal("pool did not shut down after context cancellation")
	}
}

func TestPoolPausedStopsConsumingUntilResumed(t *testing.T) {
	q := queue.NewBounded[int](100)
	store := &fakeStore{}
	p := New[int](q, store, 1)
	p.SetState(Paused)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	startDone := make(chan struct{})
	go func() {
		p.Start(ctx)
		close(startDone)
	}()

	q.TryPush(1)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 0, store.count(), "paused pool must not consume from the queue")

	p.SetState(Running)
	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, time.Millisecond)

	cancel()
	<-startDone
}

func TestPoolStoppedDrainsOnceThenExits(t *testing.T) {
	q := queue.NewBounded[int](100)
	for i := 0; i < 5; i++ {
		q.TryPush(i)
	}
	store := &fakeStore{}
	p := New[int](q, store, 3)
	p.SetState(Stopped)

	done := make(chan struct{})
	go func() {
		p.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("stopped pool did not exit after draining")
	}
	require.Equal(t, 5, store.count())
}

func TestPersistReenqueuesOnFailureWhenQueueHasRoom(t *testing.T) {
	var attempts atomic.Int32
	q := queue.NewBounded[int](1)
	store := &fakeStore{failFn: func(item int) bool {
		attempts.Add(1)
		return true // always fails
	}}
	p := New[int](q, store, 1)

	// Push and pop one item so the queue is empty and the re-enqueue attempt
	// inside persist has room.
	q.TryPush(1)
	q.TryPop() // drain it so persist() can run directly below

	p.persist(context.Background(), 0, 99)
	require.Equal(t, int32(1), attempts.Load())
	require.Equal(t, 0, store.count())

	v, ok := q.TryPop()
	require.True(t, ok, "failed item should have been re-enqueued since the queue had room")
	require.Equal(t, 99, v)
}

func TestPersistDropsItemWhenReenqueueQueueIsFull(t *testing.T) {
	q := queue.NewBounded[int](1)
	q.TryPush(0) // occupy the only slot so re-enqueue has nowhere to go
	store := &fakeStore{failFn: func(item int) bool { return true }}
	p := New[int](q, store, 1)

	p.persist(context.Background(), 0, 99)

	// Queue should still only contain the original occupant; 99 was dropped.
	v, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, 0, v)
	_, ok = q.TryPop()
	require.False(t, ok)
}
