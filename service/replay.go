package service

import (
	"context"

	"github.com/cockroachdb/errors"

	"lobcore/infra/codec"
	"lobcore/infra/wal/entry"
	"lobcore/snapshot"
)

// RecoveryReport summarizes a startup recovery.
type RecoveryReport struct {
	Restored []string
	// From is the journal position replay started after.
	From     uint64
	LastSeq  uint64
	Replayed int
	Skipped  int
	Failed   int
	// Markers counts operator notes found past From.
	Markers int
}

/*
ReplayFromWAL rebuilds in-memory books from the newest stored snapshot of
each symbol plus the entry WAL written after it.

IMPORTANT:
- This MUST run before accepting traffic
- Events are applied without being journaled again
*/
func (s *BookService) ReplayFromWAL(ctx context.Context, walDir string, store snapshot.Store) (RecoveryReport, error) {
	var rep RecoveryReport
	after := make(map[string]uint64)

	// auto-created symbols are only known to the store after a restart
	if store != nil && s.cfg.AutoCreate {
		stored, err := store.Symbols()
		if err != nil {
			return rep, errors.Wrap(err, "list stored symbols")
		}
		for _, sym := range stored {
			s.AddSymbol(sym)
		}
	}

	haveAll := true
	for _, sym := range s.Symbols() {
		if store == nil {
			haveAll = false
			break
		}
		rec, err := store.Latest(sym)
		if errors.Is(err, snapshot.ErrNotFound) {
			haveAll = false
			continue
		}
		if err != nil {
			return rep, errors.Wrapf(err, "load snapshot for %s", sym)
		}

		e, _ := s.Engine(sym)
		if err := e.Restore(rec); err != nil {
			s.log.Errorw("stored snapshot rejected, replaying full journal", "symbol", sym, "error", err)
			haveAll = false
			continue
		}
		after[sym] = rec.LogSeq
		rep.Restored = append(rep.Restored, sym)
	}

	// with auto_create an unpersisted symbol can hide anywhere in the
	// journal, so only per-symbol positions are skipped
	if haveAll && len(after) > 0 && !s.cfg.AutoCreate {
		rep.From = ^uint64(0)
		for _, seq := range after {
			rep.From = min(rep.From, seq)
		}
	}

	last, err := entry.ReplayAfter(walDir, rep.From, func(rec *entry.Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rec.Type == entry.RecordMarker {
			rep.Markers++
			s.log.Infow("journal marker", "log_seq", rec.Seq, "note", string(rec.Data))
			return nil
		}
		if rec.Type != entry.RecordEvent {
			return nil
		}

		symbol, ev, err := codec.Decode(rec.Data)
		if err != nil {
			return errors.Wrapf(err, "journal record %d", rec.Seq)
		}
		if rec.Seq <= after[symbol] {
			rep.Skipped++
			return nil
		}
		sb, err := s.lookup(symbol)
		if err != nil {
			rep.Skipped++
			return nil
		}

		rep.Replayed++
		if err := s.apply(symbol, sb, ev, rec.Seq); err != nil {
			rep.Failed++
			s.log.Debugw("journal event not applied", "symbol", symbol, "log_seq", rec.Seq, "error", err)
		}
		return nil
	})
	rep.LastSeq = last
	if err != nil {
		return rep, errors.Wrap(err, "replay journal")
	}

	s.log.Infow("journal replay completed",
		"restored", len(rep.Restored), "from", rep.From, "last_seq", last,
		"replayed", rep.Replayed, "skipped", rep.Skipped, "failed", rep.Failed, "markers", rep.Markers)
	return rep, nil
}
