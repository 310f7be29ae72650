package service

import "sync/atomic"

// Stats is a copy of a replay engine's counters.
type Stats struct {
	Session        string
	Symbol         string
	LastSequence   uint64
	LogPosition    uint64
	BufferLen      int
	RecoveryNeeded bool

	Received         uint64
	Applied          uint64
	Unsequenced      uint64
	Duplicates       uint64
	Buffered         uint64
	Backfilled       uint64
	Evicted          uint64
	Discarded        uint64
	GapEvents        uint64
	RecoveryRequests uint64
	ChecksumFailures uint64
	SequenceErrors   uint64
	Snapshots        uint64
	Deltas           uint64
	Trades           uint64
	Rejected         uint64
	UnknownCancels   uint64
	Checkpoints      uint64
}

type counters struct {
	received         atomic.Uint64
	applied          atomic.Uint64
	unsequenced      atomic.Uint64
	duplicates       atomic.Uint64
	buffered         atomic.Uint64
	backfilled       atomic.Uint64
	evicted          atomic.Uint64
	discarded        atomic.Uint64
	gapEvents        atomic.Uint64
	recoveryRequests atomic.Uint64
	checksumFailures atomic.Uint64
	sequenceErrors   atomic.Uint64
	snapshots        atomic.Uint64
	deltas           atomic.Uint64
	trades           atomic.Uint64
	rejected         atomic.Uint64
	unknownCancels   atomic.Uint64
	checkpoints      atomic.Uint64
}

func (c *counters) fill(s *Stats) {
	s.Received = c.received.Load()
	s.Applied = c.applied.Load()
	s.Unsequenced = c.unsequenced.Load()
	s.Duplicates = c.duplicates.Load()
	s.Buffered = c.buffered.Load()
	s.Backfilled = c.backfilled.Load()
	s.Evicted = c.evicted.Load()
	s.Discarded = c.discarded.Load()
	s.GapEvents = c.gapEvents.Load()
	s.RecoveryRequests = c.recoveryRequests.Load()
	s.ChecksumFailures = c.checksumFailures.Load()
	s.SequenceErrors = c.sequenceErrors.Load()
	s.Snapshots = c.snapshots.Load()
	s.Deltas = c.deltas.Load()
	s.Trades = c.trades.Load()
	s.Rejected = c.rejected.Load()
	s.UnknownCancels = c.unknownCancels.Load()
	s.Checkpoints = c.checkpoints.Load()
}
