// Package shred implements the Shred Aggregation & Persistence Core: the
// Shred/Block aggregate model (spec §3), the BlockManager (C8, spec §4.6),
// and the message handler (C9, spec §4.7).
package shred

import (
	"encoding/json"
	"time"
)

// TxPair is an opaque transaction body/receipt pair. Spec §9's open question
// on the wire shape is resolved in favor of this opaque form over a typed
// EIP-1559 envelope — see DESIGN.md.
type TxPair struct {
	Body    json.RawMessage `json:"body"`
	Receipt json.RawMessage `json:"receipt"`
}

// StateChange is an address-scoped state delta carried by a shred.
type StateChange struct {
	Nonce   *uint64         `json:"nonce,omitempty"`
	Balance *string         `json:"balance,omitempty"`
	Storage map[string]string `json:"storage,omitempty"`
	Code    *string         `json:"code,omitempty"`
}

// Shred is one partial block fragment as received from the feed.
type Shred struct {
	BlockNumber   int64                  `json:"block_number"`
	ShredIdx      int64                  `json:"shred_idx"`
	Transactions  []TxPair               `json:"transactions"`
	StateChanges  map[string]StateChange `json:"state_changes"`
	ReceivedAt    time.Time              `json:"-"`
	IntervalMs    *int64                 `json:"-"`
}

// Block is the in-memory, shred-side aggregate for one block number.
// Invariants (spec §3): while Persisted is false, every shred in Buffered
// has shred.BlockNumber == Number, no two share a ShredIdx, and ShredCount
// equals len(Buffered) (nothing has been written yet). Counts are monotone
// non-decreasing. FirstShredIdx <= LastShredIdx whenever both are set.
type Block struct {
	Number      int64
	FirstSeenAt time.Time

	TransactionCount int64
	ShredCount       int64
	StateChangeCount int64

	FirstShredIdx *int64
	LastShredIdx  *int64
	FirstShredTs  time.Time
	LastShredTs   time.Time

	BlockTimeMs        *int64
	AvgTPS             *float64
	AvgShredIntervalMs *float64

	Buffered []Shred

	Persisted  bool
	LastUpdate time.Time
}

// NewBlock creates a fresh, empty aggregate for number n.
func NewBlock(n int64, now time.Time) *Block {
	return &Block{Number: n, FirstSeenAt: now, LastUpdate: now}
}

// Clone returns a deep-enough copy suitable for handing off to the
// persistence worker: Buffered is copied by value (each Shred's slices/maps
// are shared, which is safe because nothing mutates a Shred's slices/maps
// after it is buffered). A map entry that stays tracked after being cloned
// (size or time-based flush) may still grow by append, which only touches
// the original's Buffered, never the clone's copy.
func (b *Block) Clone() *Block {
	cp := *b
	cp.Buffered = make([]Shred, len(b.Buffered))
	copy(cp.Buffered, b.Buffered)
	return &cp
}

// FilterSummary implements filterexpr.Summarizable.
func (b *Block) FilterSummary() (number, shredCount, txCount int64, persisted bool) {
	return b.Number, b.ShredCount, b.TransactionCount, b.Persisted
}

// hasShredIdx reports whether idx is already present in Buffered.
func (b *Block) hasShredIdx(idx int64) bool {
	for i := range b.Buffered {
		if b.Buffered[i].ShredIdx == idx {
			return true
		}
	}
	return false
}

// updateWithShred applies the mutation rules from spec §4.6. Callers must
// hold the manager's lock.
func (b *Block) updateWithShred(s Shred, now time.Time) {
	b.TransactionCount += int64(len(s.Transactions))
	b.ShredCount++
	b.StateChangeCount += int64(len(s.StateChanges))

	if b.FirstShredIdx == nil || s.ShredIdx < *b.FirstShredIdx {
		idx := s.ShredIdx
		b.FirstShredIdx = &idx
		b.FirstShredTs = s.ReceivedAt
	}
	if b.LastShredIdx == nil || s.ShredIdx > *b.LastShredIdx {
		idx := s.ShredIdx
		b.LastShredIdx = &idx
		b.LastShredTs = s.ReceivedAt
	}

	b.recomputeDerived()

	b.Buffered = append(b.Buffered, s)
	b.Persisted = false
	b.LastUpdate = now
}

// recomputeDerived applies the formulas from spec §3.
func (b *Block) recomputeDerived() {
	if !b.FirstShredTs.IsZero() && !b.LastShredTs.IsZero() {
		ms := b.LastShredTs.Sub(b.FirstShredTs).Milliseconds()
		b.BlockTimeMs = &ms

		if ms > 0 && b.TransactionCount > 0 {
			tps := float64(b.TransactionCount) / (float64(ms) / 1000.0)
			b.AvgTPS = &tps
		} else {
			b.AvgTPS = nil
		}
	}
	if b.BlockTimeMs != nil && b.ShredCount >= 2 {
		interval := float64(*b.BlockTimeMs) / float64(b.ShredCount-1)
		b.AvgShredIntervalMs = &interval
	}
}
