// Package entry is the inbound event journal. Every feed event is framed,
// checksummed and appended to size- or time-rotated segment files before
// it reaches a replay engine, so a restart can rebuild books from the last
// stored snapshot plus the journal tail.
package entry

import (
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"lobcore/infra/memory"
	"lobcore/infra/sequence"
)

const DefaultSegmentSize = 64 << 20

type Config struct {
	Dir             string
	SegmentSize     int64
	SegmentDuration time.Duration
	// SyncEveryWrite fsyncs after each append.
	SyncEveryWrite bool
	Logger         *zap.Logger
}

type WAL struct {
	mu sync.Mutex

	dir         string
	segSize     int64
	segDuration time.Duration
	syncWrites  bool
	log         *zap.SugaredLogger

	current    *segment
	lastRotate time.Time
	// segment index -> last sequence it holds
	segLast map[int]uint64

	seq    *sequence.Sequencer
	frames *memory.Buffers
	closed bool
	failed error
}

// Open recovers the journal in cfg.Dir. A torn record at the tail of the
// newest segment is truncated away and sequencing resumes after the last
// intact record.
func Open(cfg Config) (*WAL, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = DefaultSegmentSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &WAL{
		dir:         cfg.Dir,
		segSize:     cfg.SegmentSize,
		segDuration: cfg.SegmentDuration,
		syncWrites:  cfg.SyncEveryWrite,
		log:         logger.Named("wal").Sugar(),
		segLast:     make(map[int]uint64),
		frames:      memory.NewBuffers(4096, 1<<20),
		seq:         sequence.New(0),
	}

	segs, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	var last uint64
	for i, idx := range segs {
		path := segmentPath(cfg.Dir, idx)
		res, err := scanSegment(path, 0, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "recover %s", path)
		}
		if res.torn != nil {
			if i != len(segs)-1 {
				return nil, res.torn
			}
			w.log.Warnw("truncating torn wal tail", "segment", path, "offset", res.valid, "error", res.torn)
			if err := os.Truncate(path, res.valid); err != nil {
				return nil, errors.Wrap(err, "truncate torn tail")
			}
		}
		if res.last != 0 {
			if res.first <= last {
				return nil, errors.Wrapf(ErrNonMonotonic, "%s starts at %d after %d", path, res.first, last)
			}
			last = res.last
			w.seq.Observe(last)
		}
		w.segLast[idx] = res.last
	}

	next := 0
	if len(segs) > 0 {
		next = segs[len(segs)-1]
	}
	seg, err := openSegment(cfg.Dir, next)
	if err != nil {
		return nil, err
	}
	w.current = seg
	w.lastRotate = time.Now()

	w.log.Infow("wal opened", "dir", cfg.Dir, "segments", len(segs), "last_seq", last)
	return w, nil
}

// Append journals one record and returns its log position.
func (w *WAL) Append(t RecordType, data []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.New("wal: closed")
	}
	if w.failed != nil {
		return 0, w.failed
	}
	if len(data) > MaxPayload {
		return 0, errors.Newf("wal: payload of %d bytes exceeds limit", len(data))
	}

	rec := Record{Type: t, Seq: w.seq.Current() + 1, Time: time.Now().UnixNano(), Data: data}

	buf := w.frames.Get()
	*buf = appendFrame((*buf)[:0], &rec)
	err := w.current.append(*buf)
	w.frames.Put(buf)
	if err != nil {
		if errors.Is(err, ErrFailed) {
			w.failed = err
			w.log.Errorw("torn wal write could not be repaired, appends disabled", "segment", w.current.index, "error", err)
		}
		return 0, errors.Wrap(err, "wal append")
	}

	w.seq.Next()
	w.segLast[w.current.index] = rec.Seq

	if w.syncWrites {
		if err := w.current.sync(); err != nil {
			return rec.Seq, err
		}
	}
	if w.current.offset >= w.segSize ||
		(w.segDuration > 0 && time.Since(w.lastRotate) >= w.segDuration) {
		if err := w.rotate(); err != nil {
			return rec.Seq, err
		}
	}
	return rec.Seq, nil
}

func (w *WAL) rotate() error {
	if err := w.current.sync(); err != nil {
		return err
	}
	_ = w.current.close()

	seg, err := openSegment(w.dir, w.current.index+1)
	if err != nil {
		return err
	}
	w.current = seg
	w.lastRotate = time.Now()
	w.log.Debugw("wal segment rotated", "index", seg.index)
	return nil
}

// LastSeq is the position of the last appended record.
func (w *WAL) LastSeq() uint64 {
	return w.seq.Current()
}

func (w *WAL) Dir() string { return w.dir }

func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	return w.current.sync()
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.current.sync(); err != nil {
		_ = w.current.close()
		return err
	}
	return w.current.close()
}

// TruncateBefore removes sealed segments whose records are all at or below
// seq. The segment being written is never removed.
func (w *WAL) TruncateBefore(seq uint64) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	removed := 0
	for idx, last := range w.segLast {
		if idx == w.current.index || last > seq {
			continue
		}
		if err := os.Remove(segmentPath(w.dir, idx)); err != nil && !os.IsNotExist(err) {
			return removed, errors.Wrapf(err, "remove segment %d", idx)
		}
		delete(w.segLast, idx)
		removed++
	}
	if removed > 0 {
		w.log.Infow("wal truncated", "through_seq", seq, "segments", removed)
	}
	return removed, nil
}

// Segments reports how many segment files the journal holds.
func (w *WAL) Segments() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := len(w.segLast)
	if _, ok := w.segLast[w.current.index]; !ok {
		n++
	}
	return n
}
