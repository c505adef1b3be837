package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBoundedTryPushRespectsCapacity(t *testing.T) {
	q := NewBounded[int](2)
	require.True(t, q.TryPush(1))
	require.True(t, q.TryPush(2))
	require.False(t, q.TryPush(3))
	require.Equal(t, 2, q.Len())
}

func TestBoundedTryPopFIFO(t *testing.T) {
	q := NewBounded[int](3)
	q.TryPush(1)
	q.TryPush(2)
	q.TryPush(3)

	v, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = q.TryPop()
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestBoundedPopEmptyReturnsFalse(t *testing.T) {
	q := NewBounded[int](1)
	_, ok := q.TryPop()
	require.False(t, ok)
}

func TestBoundedPushBlocksUntilCapacity(t *testing.T) {
	q := NewBounded[int](1)
	require.True(t, q.TryPush(1))

	pushed := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Push(ctx, 2)
		close(pushed)
	}()

	select {
	case <-pushed:
		t.Fatal("Push should have blocked while queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	_, _ = q.TryPop()
	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("Push did not unblock after capacity freed")
	}
}

func TestBoundedFillRatio(t *testing.T) {
	q := NewBounded[int](4)
	require.Equal(t, 0.0, q.FillRatio())
	q.TryPush(1)
	q.TryPush(2)
	require.Equal(t, 0.5, q.FillRatio())
}

func TestBoundedClosePreventsNewPushesButAllowsDrain(t *testing.T) {
	q := NewBounded[int](2)
	q.TryPush(1)
	q.Close()

	require.True(t, q.Closed())
	require.False(t, q.TryPush(2))

	v, ok := q.TryPop()
	require.True(t, ok)
	require.Equal(t, 1, v)
}
