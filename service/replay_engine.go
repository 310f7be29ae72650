package service

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/tidwall/btree"
	"go.uber.org/zap"

	"lobcore/domain/analytics"
	"lobcore/domain/event"
	"lobcore/domain/orderbook"
	"lobcore/snapshot"
)

const (
	DefaultMaxSequenceGap = 100
	DefaultBufferCapacity = 10000
)

type EngineConfig struct {
	Symbol string
	// MaxSequenceGap is the largest gap tolerated before a snapshot
	// recovery is requested.
	MaxSequenceGap uint64
	// BufferCapacity bounds the out-of-order buffer.
	BufferCapacity int
	// SnapshotCapacity bounds the in-memory snapshot ring.
	SnapshotCapacity int
	// SnapshotEvery captures a checkpoint after that many applied
	// sequenced events. Zero disables periodic checkpoints.
	SnapshotEvery uint64
	ChecksumDepth int
}

// RecoveryRequest asks an upstream collaborator for a fresh snapshot.
type RecoveryRequest struct {
	Symbol       string
	Session      uuid.UUID
	LastSequence uint64
	Received     uint64
	Reason       string
	At           time.Time
}

type EngineOption func(*ReplayEngine)

func WithLogger(l *zap.Logger) EngineOption {
	return func(e *ReplayEngine) { e.logger = l }
}

func WithAnalytics(m *analytics.Microstructure) EngineOption {
	return func(e *ReplayEngine) { e.analytics = m }
}

// WithRecoveryHandler is invoked (under the engine lock) each time the
// engine enters the recovery-needed state.
func WithRecoveryHandler(fn func(RecoveryRequest)) EngineOption {
	return func(e *ReplayEngine) { e.onRecovery = fn }
}

// WithCheckpointHandler is invoked with every captured checkpoint.
func WithCheckpointHandler(fn func(*snapshot.Record)) EngineOption {
	return func(e *ReplayEngine) { e.onCheckpoint = fn }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *ReplayEngine) { e.now = now }
}

// ReplayEngine turns a stream of sequenced feed events into book mutations.
//
// Events with sequence last+1 apply at once and then drain any buffered
// successors. Later sequences wait in an ordered buffer; earlier ones are
// dropped as duplicates. Snapshots resynchronize the book and deltas are
// only valid against the exact last applied sequence. The engine is the
// single writer of its book; all processing is serialized by mu.
type ReplayEngine struct {
	cfg     EngineConfig
	session uuid.UUID
	logger  *zap.Logger
	log     *zap.SugaredLogger
	now     func() time.Time

	book         *orderbook.OrderBook
	analytics    *analytics.Microstructure
	snapshots    *snapshot.Manager
	feedLatency  *analytics.LatencyTracker
	applyLatency *analytics.LatencyTracker

	onRecovery   func(RecoveryRequest)
	onCheckpoint func(*snapshot.Record)

	mu            sync.Mutex
	buffer        btree.Map[uint64, event.Event]
	sinceSnapshot uint64

	lastSeq   atomic.Uint64
	logSeq    atomic.Uint64
	bufLen    atomic.Int64
	recovery  atomic.Bool
	status    atomic.Uint32
	lastPrice atomic.Int64

	stats counters
}

func NewReplayEngine(cfg EngineConfig, opts ...EngineOption) *ReplayEngine {
	if cfg.MaxSequenceGap == 0 {
		cfg.MaxSequenceGap = DefaultMaxSequenceGap
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = DefaultBufferCapacity
	}
	if cfg.SnapshotCapacity <= 0 {
		cfg.SnapshotCapacity = snapshot.DefaultCapacity
	}

	e := &ReplayEngine{
		cfg:          cfg,
		session:      uuid.New(),
		now:          time.Now,
		snapshots:    snapshot.NewManager(cfg.SnapshotCapacity),
		feedLatency:  analytics.NewLatencyTracker(),
		applyLatency: analytics.NewLatencyTracker(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.log = e.logger.Named("replay").Sugar().With("symbol", cfg.Symbol, "session", e.session.String())
	e.book = orderbook.NewOrderBook(orderbook.Config{
		Symbol:        cfg.Symbol,
		ChecksumDepth: cfg.ChecksumDepth,
		Logger:        e.logger,
	})
	return e
}

// ProcessEvent routes one event through the sequencing state machine.
// Only snapshot checksum mismatches, delta sequence gaps and malformed
// levels are returned as errors; see Fatal.
func (e *ReplayEngine) ProcessEvent(ev event.Event) error {
	return e.process(ev, 0)
}

// ProcessLogged is ProcessEvent for an event read from, or written to, the
// event log at position logSeq. Checkpoints record that position so a
// restart can resume the log right after it.
func (e *ReplayEngine) ProcessLogged(ev event.Event, logSeq uint64) error {
	return e.process(ev, logSeq)
}

func (e *ReplayEngine) process(ev event.Event, logSeq uint64) error {
	if ev == nil {
		return errors.Wrap(ErrUnknownEvent, "nil event")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	if logSeq > 0 {
		e.logSeq.Store(logSeq)
	}
	e.stats.received.Add(1)
	if d, ok := ev.Times().FeedLatency(); ok {
		e.feedLatency.Record(time.Duration(d))
	}

	err := e.route(ev)
	e.bufLen.Store(int64(e.buffer.Len()))
	e.applyLatency.Record(e.now().Sub(start))
	return err
}

func (e *ReplayEngine) route(ev event.Event) error {
	seq := ev.Seq()
	if seq == 0 {
		e.stats.unsequenced.Add(1)
		return e.apply(ev)
	}
	last := e.lastSeq.Load()

	switch ev := ev.(type) {
	case *event.SnapshotEvent:
		if seq <= last {
			e.dropStale(ev, last)
			return nil
		}
		return e.resync(ev)

	case *event.DeltaEvent:
		if seq <= last {
			e.dropStale(ev, last)
			return nil
		}
		if err := e.applyDelta(ev); err != nil {
			return err
		}
		e.discardThrough(seq)
		e.advance(seq)
		return e.drain()
	}

	switch {
	case seq <= last:
		e.dropStale(ev, last)
		return nil
	case seq == last+1:
		if err := e.apply(ev); err != nil {
			return err
		}
		e.advance(seq)
		return e.drain()
	default:
		e.hold(ev, last)
		return nil
	}
}

func (e *ReplayEngine) dropStale(ev event.Event, last uint64) {
	e.stats.duplicates.Add(1)
	e.log.Debugw("dropping stale event", "kind", ev.Kind(), "seq", ev.Seq(), "last", last)
}

// hold buffers an event that arrived ahead of its predecessors.
func (e *ReplayEngine) hold(ev event.Event, last uint64) {
	seq := ev.Seq()
	if _, dup := e.buffer.Get(seq); dup {
		e.stats.duplicates.Add(1)
		e.log.Debugw("dropping duplicate buffered event", "seq", seq)
		return
	}

	gap := seq - last - 1
	e.stats.gapEvents.Add(1)
	if gap > e.cfg.MaxSequenceGap {
		e.requestRecovery(last, seq, "sequence gap exceeds tolerance")
	} else {
		e.log.Warnw("sequence gap, buffering", "last", last, "seq", seq, "gap", gap)
	}

	if e.buffer.Len() >= e.cfg.BufferCapacity {
		oldest, lost, _ := e.buffer.PopMin()
		e.stats.evicted.Add(1)
		e.log.Errorw("event buffer full, evicting oldest event",
			"evicted_seq", oldest, "evicted_kind", lost.Kind(), "capacity", e.cfg.BufferCapacity)
	}
	e.buffer.Set(seq, ev)
	e.stats.buffered.Add(1)
}

// drain applies buffered events while the next expected sequence is present.
func (e *ReplayEngine) drain() error {
	for {
		next := e.lastSeq.Load() + 1
		ev, ok := e.buffer.Get(next)
		if !ok {
			return nil
		}
		e.buffer.Delete(next)

		if err := e.apply(ev); err != nil {
			return errors.Wrapf(err, "buffered event %d", next)
		}
		e.stats.backfilled.Add(1)
		e.advance(next)
	}
}

// discardThrough drops buffered events made obsolete by a jump to seq.
func (e *ReplayEngine) discardThrough(seq uint64) {
	for {
		k, _, ok := e.buffer.Min()
		if !ok || k > seq {
			return
		}
		e.buffer.Delete(k)
		e.stats.discarded.Add(1)
	}
}

func (e *ReplayEngine) advance(seq uint64) {
	e.lastSeq.Store(seq)
	e.stats.applied.Add(1)

	e.sinceSnapshot++
	if e.cfg.SnapshotEvery > 0 && e.sinceSnapshot >= e.cfg.SnapshotEvery && e.buffer.Len() == 0 {
		e.checkpointLocked()
	}
}

func (e *ReplayEngine) requestRecovery(last, received uint64, reason string) {
	if e.recovery.Swap(true) {
		return
	}
	e.stats.recoveryRequests.Add(1)
	e.log.Errorw("requesting snapshot recovery", "last", last, "seq", received, "reason", reason)

	if e.onRecovery != nil {
		e.onRecovery(RecoveryRequest{
			Symbol:       e.cfg.Symbol,
			Session:      e.session,
			LastSequence: last,
			Received:     received,
			Reason:       reason,
			At:           e.now(),
		})
	}
}

// ---- appliers ----

func (e *ReplayEngine) apply(ev event.Event) error {
	switch ev := ev.(type) {
	case *event.OrderEvent:
		e.applyOrder(ev)
		return nil
	case *event.TradeEvent:
		e.applyTrade(ev)
		return nil
	case *event.SnapshotEvent:
		return e.applySnapshot(ev)
	case *event.DeltaEvent:
		return e.applyDelta(ev)
	case *event.MarketEvent:
		e.applyMarket(ev)
		return nil
	default:
		return errors.Wrapf(ErrUnknownEvent, "%T", ev)
	}
}

// applyOrder never fails the session: a rejected add or an unknown cancel
// is logged and counted, and the sequence still advances.
func (e *ReplayEngine) applyOrder(ev *event.OrderEvent) {
	switch ev.Update {
	case event.Add:
		e.addOrder(ev)
	case event.Modify:
		// Any modify loses queue priority.
		e.book.CancelOrder(ev.OrderID)
		if ev.Qty > 0 {
			e.addOrder(ev)
		}
	case event.Delete:
		if e.book.CancelOrder(ev.OrderID) == nil {
			e.stats.unknownCancels.Add(1)
			e.log.Debugw("cancel for unknown order", "order_id", ev.OrderID, "seq", ev.Sequence)
		}
	default:
		e.stats.rejected.Add(1)
		e.log.Errorw("unknown order update type", "update", ev.Update, "seq", ev.Sequence)
	}
}

func (e *ReplayEngine) addOrder(ev *event.OrderEvent) {
	if _, err := e.book.AddOrder(ev.Order()); err != nil {
		e.stats.rejected.Add(1)
		e.log.Errorw("order rejected", "order_id", ev.OrderID, "seq", ev.Sequence, "error", err)
	}
}

// Trades only feed analytics; resting depth is not depleted here.
func (e *ReplayEngine) applyTrade(ev *event.TradeEvent) {
	e.stats.trades.Add(1)
	e.lastPrice.Store(ev.Price)
	if e.analytics != nil {
		e.analytics.OnTrade(ev.Price, ev.Qty, ev.Aggressor, ev.ExchangeTime)
	}
}

func (e *ReplayEngine) applyMarket(ev *event.MarketEvent) {
	prev := event.MarketStatus(e.status.Swap(uint32(ev.Status)))
	if ev.LastPrice > 0 {
		e.lastPrice.Store(ev.LastPrice)
	}
	if prev != ev.Status {
		e.log.Infow("market status", "from", prev, "to", ev.Status)
	}
}

// applySnapshot validates the declared checksum against the supplied
// levels before touching the book, so a bad snapshot leaves the current
// state intact.
func (e *ReplayEngine) applySnapshot(ev *event.SnapshotEvent) error {
	bids := normalize(ev.Bids, orderbook.Bid)
	asks := normalize(ev.Asks, orderbook.Ask)

	computed := orderbook.ComputeChecksum(bids, asks, e.book.ChecksumDepth())
	if computed != ev.Checksum {
		return e.checksumMismatch(ev, computed)
	}
	if err := e.book.LoadSnapshot(bids, asks); err != nil {
		return errors.Wrapf(err, "snapshot %d", ev.Sequence)
	}
	if got := e.book.Checksum(); got != ev.Checksum {
		return e.checksumMismatch(ev, got)
	}

	e.stats.snapshots.Add(1)
	return nil
}

func (e *ReplayEngine) checksumMismatch(ev *event.SnapshotEvent, computed uint32) error {
	e.stats.checksumFailures.Add(1)
	e.log.Errorw("snapshot checksum mismatch", "seq", ev.Sequence,
		"declared", ev.Checksum, "computed", computed)
	return errors.Wrapf(ErrChecksumMismatch, "snapshot %d: declared %08x, computed %08x",
		ev.Sequence, ev.Checksum, computed)
}

// resync loads a snapshot ahead of the current sequence, discarding any
// buffered events it supersedes.
func (e *ReplayEngine) resync(ev *event.SnapshotEvent) error {
	if err := e.applySnapshot(ev); err != nil {
		return err
	}
	seq := ev.Sequence
	if e.recovery.Swap(false) {
		e.log.Infow("recovered from snapshot", "seq", seq)
	}
	e.discardThrough(seq)
	e.lastSeq.Store(seq)
	e.stats.applied.Add(1)

	if err := e.drain(); err != nil {
		return err
	}
	if e.buffer.Len() == 0 {
		e.checkpointLocked()
	}
	return nil
}

func (e *ReplayEngine) applyDelta(ev *event.DeltaEvent) error {
	last := e.lastSeq.Load()
	if ev.PrevSequence != last {
		e.stats.sequenceErrors.Add(1)
		e.log.Errorw("delta does not follow last applied sequence",
			"seq", ev.Sequence, "prev", ev.PrevSequence, "last", last)
		return errors.Wrapf(ErrSequenceGap, "delta %d: prev_sequence %d, last applied %d",
			ev.Sequence, ev.PrevSequence, last)
	}
	for _, set := range [][]orderbook.Level{ev.BidUpdates, ev.AskUpdates} {
		for _, l := range set {
			if l.Price <= 0 || l.Qty < 0 || l.Orders < 0 {
				return errors.Wrapf(orderbook.ErrInvalidLevel, "delta %d: price=%d qty=%d", ev.Sequence, l.Price, l.Qty)
			}
		}
	}

	for _, p := range ev.BidDeletions {
		e.book.RemoveLevel(orderbook.Bid, p)
	}
	for _, p := range ev.AskDeletions {
		e.book.RemoveLevel(orderbook.Ask, p)
	}
	for _, l := range ev.BidUpdates {
		if err := e.book.SetLevel(orderbook.Bid, l); err != nil {
			return errors.Wrapf(err, "delta %d", ev.Sequence)
		}
	}
	for _, l := range ev.AskUpdates {
		if err := e.book.SetLevel(orderbook.Ask, l); err != nil {
			return errors.Wrapf(err, "delta %d", ev.Sequence)
		}
	}

	e.stats.deltas.Add(1)
	return nil
}

// normalize drops empty levels and sorts best price first.
func normalize(levels []orderbook.Level, side orderbook.Side) []orderbook.Level {
	out := make([]orderbook.Level, 0, len(levels))
	for _, l := range levels {
		if l.Qty != 0 {
			out = append(out, l)
		}
	}
	slices.SortFunc(out, func(a, b orderbook.Level) int {
		if side == orderbook.Bid {
			return compareInt64(b.Price, a.Price)
		}
		return compareInt64(a.Price, b.Price)
	})
	return out
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ---- checkpoints ----

// Checkpoint captures the current book into the snapshot ring. It fails
// while out-of-order events are buffered, because a record must describe
// every event up to its log position.
func (e *ReplayEngine) Checkpoint() (*snapshot.Record, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.buffer.Len() > 0 {
		return nil, false
	}
	return e.checkpointLocked(), true
}

func (e *ReplayEngine) checkpointLocked() *snapshot.Record {
	s := e.book.Snapshot()
	rec := &snapshot.Record{
		Symbol:      e.cfg.Symbol,
		Sequence:    e.lastSeq.Load(),
		LogSeq:      e.logSeq.Load(),
		Created:     e.now(),
		Bids:        s.Bids,
		Asks:        s.Asks,
		Checksum:    s.Checksum,
		Fingerprint: e.book.Fingerprint(),
		Orders:      e.book.Export(),
	}
	e.snapshots.Add(rec)
	e.sinceSnapshot = 0
	e.stats.checkpoints.Add(1)

	if e.onCheckpoint != nil {
		e.onCheckpoint(rec)
	}
	return rec
}

// Restore rebuilds the book from a stored record and resumes sequencing
// after it.
func (e *ReplayEngine) Restore(rec *snapshot.Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	if len(rec.Orders) > 0 {
		err = e.book.Import(rec.Orders)
	} else {
		err = e.book.LoadSnapshot(rec.Bids, rec.Asks)
	}
	if err != nil {
		return errors.Wrapf(err, "restore %s@%d", rec.Symbol, rec.Sequence)
	}
	if got := e.book.Checksum(); got != rec.Checksum {
		e.book.Clear()
		e.stats.checksumFailures.Add(1)
		return errors.Wrapf(ErrChecksumMismatch, "restore %s@%d: stored %08x, rebuilt %08x",
			rec.Symbol, rec.Sequence, rec.Checksum, got)
	}
	if len(rec.Orders) > 0 && rec.Fingerprint != ([32]byte{}) && e.book.Fingerprint() != rec.Fingerprint {
		e.book.Clear()
		e.stats.checksumFailures.Add(1)
		return errors.Wrapf(ErrChecksumMismatch, "restore %s@%d: fingerprint differs", rec.Symbol, rec.Sequence)
	}

	e.buffer.Clear()
	e.bufLen.Store(0)
	e.lastSeq.Store(rec.Sequence)
	e.logSeq.Store(rec.LogSeq)
	e.recovery.Store(false)
	e.sinceSnapshot = 0
	e.snapshots.Add(rec)

	e.log.Infow("restored from snapshot", "seq", rec.Sequence, "log_seq", rec.LogSeq)
	return nil
}

// Reset tears the session state down to an empty book.
func (e *ReplayEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.book.Clear()
	e.buffer.Clear()
	e.bufLen.Store(0)
	e.snapshots.Clear()
	e.lastSeq.Store(0)
	e.logSeq.Store(0)
	e.recovery.Store(false)
	e.status.Store(uint32(event.StatusUnknown))
	e.lastPrice.Store(0)
	e.sinceSnapshot = 0
	if e.analytics != nil {
		e.analytics.Reset()
	}
}

// ---- readers ----

func (e *ReplayEngine) Symbol() string { return e.cfg.Symbol }
func (e *ReplayEngine) Session() uuid.UUID { return e.session }
func (e *ReplayEngine) Book() *orderbook.OrderBook { return e.book }
func (e *ReplayEngine) Analytics() *analytics.Microstructure { return e.analytics }
func (e *ReplayEngine) Snapshots() *snapshot.Manager { return e.snapshots }
func (e *ReplayEngine) FeedLatency() *analytics.LatencyTracker { return e.feedLatency }
func (e *ReplayEngine) ApplyLatency() *analytics.LatencyTracker { return e.applyLatency }
func (e *ReplayEngine) LastSequence() uint64 { return e.lastSeq.Load() }
func (e *ReplayEngine) LogPosition() uint64 { return e.logSeq.Load() }
func (e *ReplayEngine) RecoveryNeeded() bool { return e.recovery.Load() }
func (e *ReplayEngine) BufferLen() int { return int(e.bufLen.Load()) }
func (e *ReplayEngine) LastPrice() int64 { return e.lastPrice.Load() }

func (e *ReplayEngine) MarketStatus() event.MarketStatus {
	return event.MarketStatus(e.status.Load())
}

func (e *ReplayEngine) Stats() Stats {
	s := Stats{
		Session:        e.session.String(),
		Symbol:         e.cfg.Symbol,
		LastSequence:   e.lastSeq.Load(),
		LogPosition:    e.logSeq.Load(),
		BufferLen:      e.BufferLen(),
		RecoveryNeeded: e.recovery.Load(),
	}
	e.stats.fill(&s)
	return s
}
