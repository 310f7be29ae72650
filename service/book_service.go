package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lobcore/domain/analytics"
	"lobcore/domain/event"
	"lobcore/infra/codec"
	"lobcore/infra/wal/entry"
)

/*
BookService is the ONLY write entry point into the books.

Every inbound event is:
- journaled to the entry WAL
- routed to the replay engine of its symbol
- checked for session-ending errors

A symbol whose engine fails fatally is marked stale and refuses every
event except a snapshot until it has been resynchronized.
*/

// RecoveryPublisher asks upstream for a fresh snapshot.
type RecoveryPublisher interface {
	PublishRecovery(ctx context.Context, req RecoveryRequest) error
}

type ServiceConfig struct {
	Symbols []string
	// AutoCreate registers unknown symbols on first event instead of
	// rejecting them.
	AutoCreate bool
	// Engine is the template for every symbol's engine; Symbol is
	// overwritten.
	Engine    EngineConfig
	Analytics analytics.Config
	TickSize  decimal.Decimal
}

type symbolBook struct {
	engine *ReplayEngine
	stale  atomic.Bool
	reason atomic.Value // string
}

type ServiceOption func(*BookService)

// WithJournal journals every accepted event before it is applied.
func WithJournal(w *entry.WAL) ServiceOption {
	return func(s *BookService) { s.journal = w }
}

func WithRecoveryPublisher(p RecoveryPublisher) ServiceOption {
	return func(s *BookService) { s.publisher = p }
}

func WithServiceLogger(l *zap.Logger) ServiceOption {
	return func(s *BookService) { s.logger = l }
}

type BookService struct {
	cfg       ServiceConfig
	logger    *zap.Logger
	log       *zap.SugaredLogger
	journal   *entry.WAL
	publisher RecoveryPublisher

	mu    sync.RWMutex
	books map[string]*symbolBook

	recoveries chan RecoveryRequest
	dropped    atomic.Uint64
	rejected   atomic.Uint64
}

// NewBookService wires all dependencies.
// No globals. No magic.
func NewBookService(cfg ServiceConfig, opts ...ServiceOption) *BookService {
	if cfg.TickSize.IsZero() {
		cfg.TickSize = decimal.NewFromInt(1)
	}
	s := &BookService{
		cfg:        cfg,
		books:      make(map[string]*symbolBook),
		recoveries: make(chan RecoveryRequest, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.log = s.logger.Named("books").Sugar()

	for _, sym := range cfg.Symbols {
		s.AddSymbol(sym)
	}
	return s
}

//
// ──────────────────────────────────────────────────────────
// Registry
// ──────────────────────────────────────────────────────────
//

// AddSymbol registers symbol and returns its engine. It is a no-op for a
// known symbol.
func (s *BookService) AddSymbol(symbol string) *ReplayEngine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(symbol).engine
}

func (s *BookService) addLocked(symbol string) *symbolBook {
	if sb, ok := s.books[symbol]; ok {
		return sb
	}
	cfg := s.cfg.Engine
	cfg.Symbol = symbol

	sb := &symbolBook{}
	sb.engine = NewReplayEngine(cfg,
		WithLogger(s.logger),
		WithAnalytics(analytics.NewMicrostructure(s.cfg.Analytics)),
		WithRecoveryHandler(s.enqueue),
	)
	s.books[symbol] = sb
	s.log.Infow("symbol registered", "symbol", symbol, "session", sb.engine.Session().String())
	return sb
}

func (s *BookService) lookup(symbol string) (*symbolBook, error) {
	s.mu.RLock()
	sb, ok := s.books[symbol]
	s.mu.RUnlock()
	if ok {
		return sb, nil
	}
	if !s.cfg.AutoCreate || symbol == "" {
		return nil, errors.Wrap(ErrUnknownSymbol, symbol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(symbol), nil
}

// Engine returns the replay engine of symbol.
func (s *BookService) Engine(symbol string) (*ReplayEngine, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sb, ok := s.books[symbol]
	if !ok {
		return nil, false
	}
	return sb.engine, true
}

// Symbols lists registered symbols in order.
func (s *BookService) Symbols() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.books))
	for sym := range s.books {
		out = append(out, sym)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Stale reports whether symbol awaits a resynchronizing snapshot.
func (s *BookService) Stale(symbol string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sb, ok := s.books[symbol]
	return ok && sb.stale.Load()
}

func (s *BookService) TickSize() decimal.Decimal { return s.cfg.TickSize }
func (s *BookService) Rejected() uint64 { return s.rejected.Load() }
func (s *BookService) DroppedRecoveries() uint64 { return s.dropped.Load() }

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// Handle journals ev and applies it to the book of symbol.
func (s *BookService) Handle(ctx context.Context, symbol string, ev event.Event) error {
	if ev == nil {
		return errors.Wrap(ErrUnknownEvent, "nil event")
	}
	sb, err := s.lookup(symbol)
	if err != nil {
		s.rejected.Add(1)
		return err
	}
	if sb.stale.Load() && ev.Kind() != event.KindSnapshot {
		s.rejected.Add(1)
		return errors.Wrapf(ErrSymbolStale, "%s: %s event seq %d", symbol, ev.Kind(), ev.Seq())
	}

	var logSeq uint64
	if s.journal != nil {
		data, err := codec.Encode(symbol, ev)
		if err != nil {
			s.rejected.Add(1)
			return err
		}
		if logSeq, err = s.journal.Append(entry.RecordEvent, data); err != nil {
			return errors.Wrapf(err, "journal %s seq %d", symbol, ev.Seq())
		}
	}
	err = s.apply(symbol, sb, ev, logSeq)
	if Fatal(err) {
		if merr := s.Mark("resubscribe " + symbol + ": " + err.Error()); merr != nil {
			s.log.Warnw("journal marker failed", "symbol", symbol, "error", merr)
		}
	}
	return err
}

// Mark journals an operator note. It is a no-op without a journal.
func (s *BookService) Mark(note string) error {
	if s.journal == nil {
		return nil
	}
	_, err := s.journal.Append(entry.RecordMarker, []byte(note))
	return errors.Wrap(err, "journal marker")
}

// apply runs ev through the engine and keeps the stale flag in step. It is
// shared by the live path and journal replay so both reach the same state.
func (s *BookService) apply(symbol string, sb *symbolBook, ev event.Event, logSeq uint64) error {
	if sb.stale.Load() && ev.Kind() != event.KindSnapshot {
		return errors.Wrap(ErrSymbolStale, symbol)
	}

	loaded := sb.engine.stats.snapshots.Load()
	err := sb.engine.ProcessLogged(ev, logSeq)
	if err != nil {
		if Fatal(err) {
			s.markStale(symbol, sb, err)
		}
		return err
	}

	// a stale or duplicate snapshot is dropped without loading
	if sb.engine.stats.snapshots.Load() > loaded && sb.stale.CompareAndSwap(true, false) {
		s.log.Infow("order book resynchronized", "symbol", symbol, "seq", ev.Seq())
	}
	return nil
}

func (s *BookService) markStale(symbol string, sb *symbolBook, cause error) {
	sb.reason.Store(cause.Error())
	if sb.stale.Swap(true) {
		return
	}
	s.log.Errorw("order book for symbol "+symbol+" is stale/unavailable, resubscribing", "error", cause)

	e := sb.engine
	s.enqueue(RecoveryRequest{
		Symbol:       symbol,
		Session:      e.Session(),
		LastSequence: e.LastSequence(),
		Reason:       cause.Error(),
		At:           time.Now(),
	})
}

// StaleReason is the error that made symbol stale, if any.
func (s *BookService) StaleReason(symbol string) string {
	s.mu.RLock()
	sb, ok := s.books[symbol]
	s.mu.RUnlock()
	if !ok || !sb.stale.Load() {
		return ""
	}
	r, _ := sb.reason.Load().(string)
	return r
}

//
// ──────────────────────────────────────────────────────────
// Recovery requests
// ──────────────────────────────────────────────────────────
//

// enqueue never blocks: engines call it while holding their lock.
func (s *BookService) enqueue(req RecoveryRequest) {
	select {
	case s.recoveries <- req:
	default:
		s.dropped.Add(1)
		s.log.Warnw("recovery queue full, request dropped", "symbol", req.Symbol)
	}
}

// Start publishes queued recovery requests until ctx is done.
func (s *BookService) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-s.recoveries:
				if s.publisher == nil {
					s.log.Warnw("no recovery publisher, request not sent", "symbol", req.Symbol, "reason", req.Reason)
					continue
				}
				if err := s.publisher.PublishRecovery(ctx, req); err != nil {
					s.log.Errorw("recovery publish failed", "symbol", req.Symbol, "error", err)
				}
			}
		}
	}()
}
