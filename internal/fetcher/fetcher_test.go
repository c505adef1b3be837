package fetcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/risechain/rise-indexer/internal/chainmodel"
	"github.com/risechain/rise-indexer/internal/config"
	"github.com/risechain/rise-indexer/internal/queue"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    []subrange
	failOnce map[uint64]bool
}

func (p *fakeProvider) GetBlocksByNumber(ctx context.Context, start uint64, count int) ([]*chainmodel.Block, error) {
	p.mu.Lock()
	p.calls = append(p.calls, subrange{start: start, count: count})
	fail := p.failOnce[start]
	if fail {
		p.failOnce[start] = false
	}
	p.mu.Unlock()

	if fail {
		return nil, fmt.Errorf("transient provider error")
	}

	blocks := make([]*chainmodel.Block, count)
	for i := 0; i < count; i++ {
		n := start + uint64(i)
		blocks[i] = &chainmodel.Block{Number: n, Hash: common.Hash{}}
	}
	return blocks, nil
}

func TestFetchCoversEntireRangeExactlyOnce(t *testing.T) {
	provider := &fakeProvider{failOnce: map[uint64]bool{}}
	q := queue.NewBounded[*chainmodel.Block](2000)
	retryCfg := config.Retry{BaseDelay: time.Millisecond, MaxDelay: time.Second, MaxRetries: 2}

	err := Fetch(context.Background(), provider, q, retryCfg, 0, 999, 50, 4, 100)
	require.NoError(t, err)
	require.Equal(t, 1000, q.Len())

	seen := make(map[uint64]bool)
	for {
		b, ok := q.TryPop()
		if !ok {
			break
		}
		require.False(t, seen[b.Number], "block %d pushed more than once", b.Number)
		seen[b.Number] = true
	}
	require.Len(t, seen, 1000)
}

func TestFetchRetriesTransientProviderErrors(t *testing.T) {
	provider := &fakeProvider{failOnce: map[uint64]bool{0: true}}
	q := queue.NewBounded[*chainmodel.Block](1000)
	retryCfg := config.Retry{BaseDelay: time.Millisecond, MaxDelay: time.Second, MaxRetries: 3}

	err := Fetch(context.Background(), provider, q, retryCfg, 0, 49, 50, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 50, q.Len())
}

func TestFetchGivesUpAfterRetriesExhausted(t *testing.T) {
	callCount := 0
	brokenProvider := providerFunc(func(ctx context.Context, start uint64, count int) ([]*chainmodel.Block, error) {
		callCount++
		return nil, fmt.Errorf("permanent failure")
	})

	q := queue.NewBounded[*chainmodel.Block](100)
	retryCfg := config.Retry{BaseDelay: time.Millisecond, MaxDelay: time.Second, MaxRetries: 1}

	err := Fetch(context.Background(), brokenProvider, q, retryCfg, 0, 9, 10, 1, 100)
	require.Error(t, err)
	require.Equal(t, 2, callCount) // initial attempt + 1 retry
}

func TestFetchEmptyRangeIsNoop(t *testing.T) {
	provider := &fakeProvider{failOnce: map[uint64]bool{}}
	q := queue.NewBounded[*chainmodel.Block](10)
	retryCfg := config.Retry{BaseDelay: time.Millisecond, MaxDelay: time.Second, MaxRetries: 1}

	err := Fetch(context.Background(), provider, q, retryCfg, 5, 4, 50, 2, 100)
	require.NoError(t, err)
	require.Equal(t, 0, q.Len())
}

type providerFunc func(ctx context.Context, start uint64, count int) ([]*chainmodel.Block, error)

func (f providerFunc) GetBlocksByNumber(ctx context.Context, start uint64, count int) ([]*chainmodel.Block, error) {
	return f(ctx, start, count)
}
