package shred

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/fjl/memsize"

	"github.com/risechain/rise-indexer/internal/config"
	"github.com/risechain/rise-indexer/internal/filterexpr"
	"github.com/risechain/rise-indexer/internal/metrics"
	"github.com/risechain/rise-indexer/internal/retry"
)

const (
	// MaxBufferSize triggers an immediate flush once a block's buffered
	// shred count reaches it (spec §4.6).
	MaxBufferSize = 1000
	// BufferTimeSecs is the time-based flush threshold for an
	// otherwise-idle-but-unpersisted block.
	BufferTimeSecs = 60
	// staleAfter marks a block stale if no shred has arrived in this long.
	staleAfter = 180 * time.Second
	// scanInterval is how often the periodic background scan runs.
	scanInterval = 30 * time.Second
	// reapBehind is how far behind the highest tracked block number a
	// persisted block must be before it's removed from the map.
	reapBehind = 5
	// persistQueueDepth bounds the channel between ingest/scan and the
	// single persistence worker.
	persistQueueDepth = 256
)

// Store is the persistence surface the manager's worker writes through.
// It mirrors C1's insert-block-with-fragments contract (spec §4.6/§6).
type Store interface {
	InsertShredBlock(ctx context.Context, b *Block) error
}

type persistMsg struct {
	block *Block
}

type shutdownMsg struct{}

// Stats is a snapshot of the manager's rolling counters, reported on the
// 60s status cadence described in spec §7 (a feature the distillation left
// unspecified; grounded on original_source/packages/etl/src/main.rs status
// logging).
type Stats struct {
	DuplicateCount    int64
	BlocksDropped     int64
	ActiveBlocks      int
	ShredsSinceLast   int64
}

// Manager is the process-wide BlockManager (C8): a single critical section
// guarding a block_number -> Block map, with a dedicated goroutine owning
// the only write path to the store.
type Manager struct {
	store     Store
	filter    *filterexpr.BlockFilter
	retryCfg  config.Retry

	mu     sync.Mutex
	blocks map[int64]*Block

	duplicateCount   atomic.Int64
	blocksDropped    atomic.Int64
	shredsSinceStats atomic.Int64

	persistCh chan any // persistMsg | shutdownMsg
	done      chan struct{}

	lastArrival   time.Time
	lastArrivalMu sync.Mutex
}

// NewManager constructs a Manager backed by store. filter may be nil.
func NewManager(store Store, filter *filterexpr.BlockFilter, retryCfg config.Retry) *Manager {
	m := &Manager{
		store:     store,
		filter:    filter,
		retryCfg:  retryCfg,
		blocks:    make(map[int64]*Block),
		persistCh: make(chan any, persistQueueDepth),
		done:      make(chan struct{}),
	}
	go m.persistWorker()
	return m
}

// NoteArrival stamps the interval_ms field per spec §4.7: the delta since
// the previously received shred across the whole stream, only when positive.
func (m *Manager) NoteArrival(s *Shred, now time.Time) {
	m.lastArrivalMu.Lock()
	defer m.lastArrivalMu.Unlock()
	if !m.lastArrival.IsZero() {
		delta := now.Sub(m.lastArrival).Milliseconds()
		if delta > 0 {
			s.IntervalMs = &delta
		}
	}
	m.lastArrival = now
	s.ReceivedAt = now
}

// Ingest applies spec §4.6's arrival path. It never blocks on I/O while
// holding the map lock: the clone-and-enqueue step happens after unlock.
func (m *Manager) Ingest(s Shred, now time.Time) {
	var toPersist []*Block

	m.mu.Lock()
	if existing, ok := m.blocks[s.BlockNumber]; ok && existing.hasShredIdx(s.ShredIdx) {
		// Duplicate policy (step 1): drop-and-restart, no persist message.
		m.duplicateCount.Add(1)
		m.blocksDropped.Add(1)
		metrics.ShredDuplicateShreds.Inc()
		fresh := NewBlock(s.BlockNumber, now)
		fresh.updateWithShred(s, now)
		m.blocks[s.BlockNumber] = fresh
		m.mu.Unlock()
		m.maybeLogFiltered(fresh, "duplicate")
		return
	}

	// Boundary detection (step 2): any unpersisted block strictly below
	// this shred's block number is now complete.
	for num, b := range m.blocks {
		if num < s.BlockNumber && !b.Persisted {
			toPersist = append(toPersist, b.Clone())
			delete(m.blocks, num)
		}
	}

	// Upsert current block (step 3).
	cur, ok := m.blocks[s.BlockNumber]
	if !ok {
		cur = NewBlock(s.BlockNumber, now)
		m.blocks[s.BlockNumber] = cur
	}
	cur.updateWithShred(s, now)
	m.shredsSinceStats.Add(1)

	var immediate *Block
	if len(cur.Buffered) >= MaxBufferSize {
		cur.Persisted = true
		immediate = cur.Clone()
	}
	m.mu.Unlock()

	for _, b := range toPersist {
		m.enqueuePersist(b)
	}
	if immediate != nil {
		m.enqueuePersist(immediate)
	}
	m.maybeLogFiltered(cur, "ingest")
}

func (m *Manager) maybeLogFiltered(b *Block, stage string) {
	if m.filter == nil {
		return
	}
	match, err := m.filter.Match(b)
	if err != nil {
		log.Debug("shred: block filter evaluation failed", "err", err)
		return
	}
	if match {
		log.Debug("shred: filtered block matched", "stage", stage, "number", b.Number, "shred_count", b.ShredCount)
	}
}

func (m *Manager) enqueuePersist(b *Block) {
	select {
	case m.persistCh <- persistMsg{block: b}:
	case <-m.done:
	}
}

// Tick runs one pass of the periodic background scan described in spec
// §4.6: stale-block flush, time-based flush, and reaping. Call this on a
// 30s ticker from the owning binary.
func (m *Manager) Tick(now time.Time) {
	var toPersist []*Block
	var toReap []int64

	m.mu.Lock()
	var highest int64 = -1
	for num := range m.blocks {
		if num > highest {
			highest = num
		}
	}
	for num, b := range m.blocks {
		switch {
		case !b.Persisted && now.Sub(b.LastShredTs) >= staleAfter && !b.LastShredTs.IsZero():
			toPersist = append(toPersist, b.Clone())
			delete(m.blocks, num)
		case !b.Persisted && now.Sub(b.LastUpdate) >= BufferTimeSecs*time.Second:
			b.Persisted = true
			toPersist = append(toPersist, b.Clone())
		case b.Persisted && highest-num > reapBehind:
			toReap = append(toReap, num)
		}
	}
	for _, num := range toReap {
		delete(m.blocks, num)
	}
	m.mu.Unlock()

	for _, b := range toPersist {
		m.enqueuePersist(b)
	}
}

// Stats returns and resets the since-last-call shred counter.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	active := len(m.blocks)
	m.mu.Unlock()
	return Stats{
		DuplicateCount:  m.duplicateCount.Load(),
		BlocksDropped:   m.blocksDropped.Load(),
		ActiveBlocks:    active,
		ShredsSinceLast: m.shredsSinceStats.Swap(0),
	}
}

// MemStats reports the resident size in bytes of the in-flight block map,
// for the periodic status line (spec §7's supplemented status-reporting
// feature). Grounded on fjl/memsize's deep-scan API, one of the teacher's
// dependencies that otherwise had no home in the domain logic.
func (m *Manager) MemStats() uint64 {
	m.mu.Lock()
	sizes := memsize.Scan(&m.blocks)
	m.mu.Unlock()
	return sizes.Total
}

// Shutdown flushes every unpersisted block with buffered shreds, then stops
// the persistence worker and waits for it to drain.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	var pending []*Block
	for num, b := range m.blocks {
		if !b.Persisted && len(b.Buffered) > 0 {
			pending = append(pending, b.Clone())
		}
		_ = num
	}
	m.mu.Unlock()

	for _, b := range pending {
		m.enqueuePersist(b)
	}

	select {
	case m.persistCh <- shutdownMsg{}:
	case <-m.done:
	}
	<-m.done
}

// persistWorker is the single goroutine holding the only write path into
// the store (spec §4.6 "Persistence worker").
func (m *Manager) persistWorker() {
	defer close(m.done)
	for msg := range m.persistCh {
		switch v := msg.(type) {
		case shutdownMsg:
			return
		case persistMsg:
			m.persistOne(v.block)
		}
	}
}

// persistOne writes b through the store. Per the redesign note in spec §9
// ("Split-write atomicity"), InsertShredBlock wraps header + shreds + child
// rows in a single transaction, which makes a failure retriable rather than
// inherently a split-write. A transient error is retried with backoff; if
// retries are exhausted the run still terminates per spec §4.6 step 5's
// intent — the buffered shreds for this block only exist in the message
// already pulled off the channel, so a failed write after retries means the
// process must restart to avoid silently losing that block's data.
func (m *Manager) persistOne(b *Block) {
	_, err := retry.Do(context.Background(), m.retryCfg, "shred.persist", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, m.store.InsertShredBlock(ctx, b)
	})
	if err != nil {
		log.Crit("shred: persistence failed after retries, terminating process", "block", b.Number, "err", err)
		os.Exit(1)
	}
	metrics.ShredBlocksPersisted.Inc()
}
