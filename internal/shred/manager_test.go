package shred

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/risechain/rise-indexer/internal/config"
)

type fakeStore struct {
	mu     sync.Mutex
	blocks []*Block
}

func (s *fakeStore) InsertShredBlock(ctx context.Context, b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, b)
	return nil
}

func (s *fakeStore) snapshot() []*Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Block, len(s.blocks))
	copy(out, s.blocks)
	return out
}

func testRetryCfg() config.Retry {
	return config.Retry{BaseDelay: time.Millisecond, MaxDelay: time.Second, MaxRetries: 2}
}

// waitForPersistCount polls until the store has at least n blocks or the
// deadline passes, since persistence happens asynchronously on the worker
// goroutine.
func waitForPersistCount(t *testing.T, store *fakeStore, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(store.snapshot()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d persisted blocks, got %d", n, len(store.snapshot()))
}

func TestIngestDuplicateShredResetsBlock(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, nil, testRetryCfg())
	defer m.Shutdown()

	now := time.Now()
	m.Ingest(Shred{BlockNumber: 10, ShredIdx: 0}, now)
	m.Ingest(Shred{BlockNumber: 10, ShredIdx: 1}, now)

	stats := m.Stats()
	require.Equal(t, int64(0), stats.DuplicateCount)

	// Re-send shred_idx 0: this is a duplicate within block 10's buffer.
	m.Ingest(Shred{BlockNumber: 10, ShredIdx: 0}, now.Add(time.Millisecond))

	stats = m.Stats()
	require.Equal(t, int64(1), stats.DuplicateCount)
	require.Equal(t, int64(1), stats.BlocksDropped)

	m.mu.Lock()
	b := m.blocks[10]
	m.mu.Unlock()
	require.Equal(t, int64(1), b.ShredCount, "block should have been reset to only the triggering shred")
}

func TestIngestBoundaryFlushesLowerUnpersistedBlocks(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, nil, testRetryCfg())
	defer m.Shutdown()

	now := time.Now()
	m.Ingest(Shred{BlockNumber: 10, ShredIdx: 0}, now)
	m.Ingest(Shred{BlockNumber: 10, ShredIdx: 1}, now)

	m.mu.Lock()
	_, stillPresent := m.blocks[10]
	m.mu.Unlock()
	require.True(t, stillPresent)

	// Arrival of a shred for block 11 means block 10 is complete.
	m.Ingest(Shred{BlockNumber: 11, ShredIdx: 0}, now.Add(time.Millisecond))

	m.mu.Lock()
	_, tenStillPresent := m.blocks[10]
	m.mu.Unlock()
	require.False(t, tenStillPresent, "block 10 should have been removed from the active map on boundary detection")

	waitForPersistCount(t, store, 1)
	persisted := store.snapshot()
	require.Equal(t, int64(10), persisted[0].Number)
	require.Equal(t, int64(2), persisted[0].ShredCount)
}

func TestIngestFlushesImmediatelyAtMaxBufferSize(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, nil, testRetryCfg())
	defer m.Shutdown()

	now := time.Now()
	for i := int64(0); i < MaxBufferSize; i++ {
		m.Ingest(Shred{BlockNumber: 20, ShredIdx: i}, now)
	}

	waitForPersistCount(t, store, 1)
	persisted := store.snapshot()
	require.Equal(t, int64(20), persisted[0].Number)
	require.Equal(t, int64(MaxBufferSize), persisted[0].ShredCount)

	m.mu.Lock()
	b, stillTracked := m.blocks[20]
	m.mu.Unlock()
	require.True(t, stillTracked, "a block flushed for size still stays in the map marked persisted")
	require.True(t, b.Persisted)
}

func TestTickFlushesTimeBasedBuffer(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, nil, testRetryCfg())
	defer m.Shutdown()

	now := time.Now()
	m.Ingest(Shred{BlockNumber: 30, ShredIdx: 0}, now)

	// Simulate BufferTimeSecs having elapsed without another shred arriving.
	m.Tick(now.Add((BufferTimeSecs + 1) * time.Second))

	waitForPersistCount(t, store, 1)
	persisted := store.snapshot()
	require.Equal(t, int64(30), persisted[0].Number)

	m.mu.Lock()
	b := m.blocks[30]
	m.mu.Unlock()
	require.True(t, b.Persisted)
}

func TestTickReapsPersistedBlocksFarBehindHighest(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, nil, testRetryCfg())
	defer m.Shutdown()

	now := time.Now()
	m.Ingest(Shred{BlockNumber: 100, ShredIdx: 0}, now)

	// A time-based flush marks block 100 persisted but keeps it in the map.
	m.Tick(now.Add((BufferTimeSecs + 1) * time.Second))
	waitForPersistCount(t, store, 1)

	// Boundary detection skips persisted blocks, so 100 is still tracked.
	m.Ingest(Shred{BlockNumber: 100 + reapBehind + 1, ShredIdx: 0}, now)
	m.mu.Lock()
	_, presentBeforeReap := m.blocks[100]
	m.mu.Unlock()
	require.True(t, presentBeforeReap, "persisted block should remain tracked until reaped")

	m.Tick(now)

	m.mu.Lock()
	_, present := m.blocks[100]
	m.mu.Unlock()
	require.False(t, present, "block far enough behind the highest tracked number should be reaped")
}

func TestShutdownFlushesRemainingUnpersistedBlocks(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(store, nil, testRetryCfg())

	now := time.Now()
	m.Ingest(Shred{BlockNumber: 40, ShredIdx: 0}, now)
	m.Shutdown()

	persisted := store.snapshot()
	require.Len(t, persisted, 1)
	require.Equal(t, int64(40), persisted[0].Number)
}
