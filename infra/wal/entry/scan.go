package entry

import (
	"bufio"
	"io"
	"os"

	"github.com/cockroachdb/errors"
)

// scanResult describes one segment after a full read.
type scanResult struct {
	first, last uint64
	// valid is the offset just past the last intact record.
	valid int64
	// torn is set when the segment ends in a damaged frame.
	torn error
}

// scanSegment reads every intact record of a segment in order. fn may be
// nil. A damaged frame stops the scan and is reported in torn; errors from
// fn and sequence regressions are returned.
func scanSegment(path string, after uint64, fn func(*Record) error) (scanResult, error) {
	var res scanResult

	f, err := os.Open(path)
	if err != nil {
		return res, err
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64<<10)
	for {
		rec, n, err := readRecord(r)
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			res.torn = errors.Wrapf(err, "%s at offset %d", path, res.valid)
			return res, nil
		}

		if res.last != 0 && rec.Seq <= res.last {
			return res, errors.Wrapf(ErrNonMonotonic, "%s: seq %d after %d", path, rec.Seq, res.last)
		}
		if res.first == 0 {
			res.first = rec.Seq
		}
		res.last = rec.Seq
		res.valid += int64(n)

		if fn != nil && rec.Seq > after {
			if err := fn(rec); err != nil {
				return res, err
			}
		}
	}
}
