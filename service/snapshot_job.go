package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"lobcore/infra/wal/entry"
	"lobcore/snapshot"
)

// pruner is implemented by stores that can drop old records.
type pruner interface {
	Prune(symbol string, keep int) (int, error)
}

// SnapshotJob periodically persists a checkpoint of every book and
// truncates the journal below the oldest position still needed.
type SnapshotJob struct {
	svc   *BookService
	store snapshot.Store
	wal   *entry.WAL
	keep  int
	log   *zap.SugaredLogger

	mu sync.Mutex
	// symbol -> log position of its newest persisted record
	persisted map[string]uint64
}

func NewSnapshotJob(svc *BookService, store snapshot.Store, wal *entry.WAL, keep int) *SnapshotJob {
	return &SnapshotJob{
		svc:       svc,
		store:     store,
		wal:       wal,
		keep:      keep,
		log:       svc.logger.Named("snapshot_job").Sugar(),
		persisted: make(map[string]uint64),
	}
}

func (j *SnapshotJob) Start(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				j.RunOnce()
			}
		}
	}()
}

// RunOnce checkpoints every symbol that is in a consistent state and then
// truncates the journal. It returns how many records were persisted.
func (j *SnapshotJob) RunOnce() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	written := 0
	for _, sym := range j.svc.Symbols() {
		if j.svc.Stale(sym) {
			continue
		}
		e, ok := j.svc.Engine(sym)
		if !ok {
			continue
		}
		rec, ok := e.Checkpoint()
		if !ok {
			j.log.Debugw("checkpoint deferred, events buffered", "symbol", sym, "buffered", e.BufferLen())
			continue
		}
		if err := j.store.Put(rec); err != nil {
			j.log.Errorw("snapshot persist failed", "symbol", sym, "error", err)
			continue
		}
		j.persisted[sym] = rec.LogSeq
		written++

		if p, ok := j.store.(pruner); ok && j.keep > 0 {
			if _, err := p.Prune(sym, j.keep); err != nil {
				j.log.Warnw("snapshot prune failed", "symbol", sym, "error", err)
			}
		}
	}

	if through, ok := j.truncatable(); ok && j.wal != nil {
		if _, err := j.wal.TruncateBefore(through); err != nil {
			j.log.Errorw("wal truncate failed", "through", through, "error", err)
		}
	}
	return written
}

// truncatable is the highest journal position covered by a persisted
// record of every symbol that has journaled events.
func (j *SnapshotJob) truncatable() (uint64, bool) {
	through := ^uint64(0)
	for _, sym := range j.svc.Symbols() {
		e, _ := j.svc.Engine(sym)
		seq, ok := j.persisted[sym]
		switch {
		case ok && seq > 0:
			through = min(through, seq)
		case e.LogPosition() > 0:
			return 0, false
		}
	}
	if through == ^uint64(0) {
		return 0, false
	}
	return through, true
}
