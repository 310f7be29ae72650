package snapshot

import (
	"sync"

	"github.com/google/btree"
)

const DefaultCapacity = 16

// Manager is a bounded set of records ordered by sequence. Adding beyond
// capacity evicts the oldest record.
type Manager struct {
	mu       sync.RWMutex
	capacity int
	tree     *btree.BTreeG[*Record]
}

func bySequence(a, b *Record) bool {
	return a.Sequence < b.Sequence
}

func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Manager{
		capacity: capacity,
		tree:     btree.NewG[*Record](8, bySequence),
	}
}

// Add stores rec, replacing any record with the same sequence, and
// returns the number of records evicted to stay within capacity.
func (m *Manager) Add(rec *Record) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tree.ReplaceOrInsert(rec)
	evicted := 0
	for m.tree.Len() > m.capacity {
		m.tree.DeleteMin()
		evicted++
	}
	return evicted
}

func (m *Manager) Latest() (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Max()
}

func (m *Manager) Oldest() (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Min()
}

// AtOrBefore returns the newest record with Sequence <= seq.
func (m *Manager) AtOrBefore(seq uint64) (*Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *Record
	m.tree.DescendLessOrEqual(&Record{Sequence: seq}, func(r *Record) bool {
		found = r
		return false
	})
	return found, found != nil
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len()
}

// Sequences lists stored sequences in ascending order.
func (m *Manager) Sequences() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]uint64, 0, m.tree.Len())
	m.tree.Ascend(func(r *Record) bool {
		out = append(out, r.Sequence)
		return true
	})
	return out
}

func (m *Manager) Clear() {
	m.mu.Lock()
	m.tree.Clear(false)
	m.mu.Unlock()
}
