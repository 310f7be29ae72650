package entry

import (
	"github.com/cockroachdb/errors"
)

type ReplayHandler func(*Record) error

// Replay feeds every record in dir to fn in sequence order.
func Replay(dir string, fn ReplayHandler) (lastSeq uint64, err error) {
	return ReplayAfter(dir, 0, fn)
}

// ReplayAfter feeds records with Seq > after to fn. A damaged frame is
// tolerated only at the tail of the newest segment, where an interrupted
// write leaves it; anywhere else it is ErrCorruptRecord.
func ReplayAfter(dir string, after uint64, fn ReplayHandler) (lastSeq uint64, err error) {
	segs, err := listSegments(dir)
	if err != nil {
		return 0, err
	}

	for i, idx := range segs {
		path := segmentPath(dir, idx)
		res, err := scanSegment(path, after, func(rec *Record) error {
			if rec.Seq <= lastSeq {
				return errors.Wrapf(ErrNonMonotonic, "seq %d after %d", rec.Seq, lastSeq)
			}
			return fn(rec)
		})
		if err != nil {
			return lastSeq, err
		}
		if res.last != 0 {
			if res.first <= lastSeq {
				return lastSeq, errors.Wrapf(ErrNonMonotonic, "%s starts at %d after %d", path, res.first, lastSeq)
			}
			lastSeq = res.last
		}
		if res.torn != nil && i != len(segs)-1 {
			return lastSeq, res.torn
		}
	}
	return lastSeq, nil
}
