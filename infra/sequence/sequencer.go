// Package sequence hands out event-log positions.
package sequence

import "sync/atomic"

// Sequencer generates strictly monotonic log positions.
// It is deterministic and replay-safe.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer whose first Next returns start+1.
// On fresh start → start = 0
// On recovery → start = last position found in the log
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

// Next returns the next log position.
func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued position.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Observe moves the sequencer forward to v if it is behind.
func (s *Sequencer) Observe(v uint64) {
	for {
		cur := s.next.Load()
		if v <= cur || s.next.CompareAndSwap(cur, v) {
			return
		}
	}
}
