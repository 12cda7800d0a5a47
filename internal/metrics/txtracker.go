package metrics

import (
	"sync"
	"time"

	"github.com/gateway-fm/rollupsim/internal/rollup"
)

// DefaultMaxTrackedTxs bounds the number of accepted transactions awaiting
// confirmation.
const DefaultMaxTrackedTxs = 100000

// TrackedTx is an accepted transaction awaiting confirmation.
type TrackedTx struct {
	Hash       rollup.TxHash
	Kind       rollup.TxKind
	AcceptedAt time.Time
}

// TxTracker remembers when accepted transactions were acknowledged, so
// confirmation latency can be measured. Memory is bounded by a ring buffer:
// once full, each insert evicts the oldest entry.
type TxTracker struct {
	mu sync.RWMutex

	entries map[rollup.TxHash]TrackedTx

	// insertion order; slots may refer to hashes already removed
	ring    []rollup.TxHash
	head    int
	evicted uint64
}

// NewTxTracker creates a tracker holding up to DefaultMaxTrackedTxs entries.
func NewTxTracker() *TxTracker {
	return NewTxTrackerWithSize(DefaultMaxTrackedTxs)
}

// NewTxTrackerWithSize creates a tracker holding up to maxSize entries.
func NewTxTrackerWithSize(maxSize int) *TxTracker {
	if maxSize <= 0 {
		maxSize = DefaultMaxTrackedTxs
	}
	return &TxTracker{
		entries: make(map[rollup.TxHash]TrackedTx),
		ring:    make([]rollup.TxHash, maxSize),
	}
}

// Add records an accepted transaction.
func (t *TxTracker) Add(hash rollup.TxHash, kind rollup.TxKind, acceptedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[hash]; exists {
		t.entries[hash] = TrackedTx{Hash: hash, Kind: kind, AcceptedAt: acceptedAt}
		return
	}

	if old := t.ring[t.head]; old != (rollup.TxHash{}) {
		if _, live := t.entries[old]; live {
			delete(t.entries, old)
			t.evicted++
		}
	}
	t.entries[hash] = TrackedTx{Hash: hash, Kind: kind, AcceptedAt: acceptedAt}
	t.ring[t.head] = hash
	t.head = (t.head + 1) % len(t.ring)
}

// Get returns the tracked entry for hash.
func (t *TxTracker) Get(hash rollup.TxHash) (TrackedTx, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	tx, ok := t.entries[hash]
	return tx, ok
}

// Remove returns the tracked entry and forgets it. The ring slot is left in
// place and skipped when it is overwritten.
func (t *TxTracker) Remove(hash rollup.TxHash) (TrackedTx, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tx, ok := t.entries[hash]
	if ok {
		delete(t.entries, hash)
	}
	return tx, ok
}

// Pending returns the tracked transactions, oldest first.
func (t *TxTracker) Pending() []TrackedTx {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TrackedTx, 0, len(t.entries))
	n := len(t.ring)
	for i := 0; i < n; i++ {
		hash := t.ring[(t.head+i)%n]
		if tx, ok := t.entries[hash]; ok && hash != (rollup.TxHash{}) {
			out = append(out, tx)
		}
	}
	return out
}

// Size returns the number of tracked transactions.
func (t *TxTracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Evicted returns how many entries were dropped to stay within bounds.
func (t *TxTracker) Evicted() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.evicted
}

// Reset clears all tracked transactions.
func (t *TxTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries = make(map[rollup.TxHash]TrackedTx)
	clear(t.ring)
	t.head = 0
	t.evicted = 0
}
