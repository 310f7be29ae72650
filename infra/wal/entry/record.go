package entry

import (
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

type RecordType uint8

const (
	// RecordEvent carries one encoded feed event.
	RecordEvent RecordType = iota + 1
	// RecordMarker carries an operator note (restarts, resubscribes).
	RecordMarker
)

func (t RecordType) String() string {
	switch t {
	case RecordEvent:
		return "event"
	case RecordMarker:
		return "marker"
	default:
		return "unknown"
	}
}

type Record struct {
	Type RecordType
	Seq  uint64
	Time int64
	Data []byte
}

// Frame:
// [type:1][seq:8][time:8][len:4][payload][crc:4]
const (
	headerSize  = 1 + 8 + 8 + 4
	trailerSize = 4

	// MaxPayload bounds a single record; larger length fields are corrupt.
	MaxPayload = 64 << 20
)

var (
	ErrCorruptRecord = errors.New("wal: corrupt record")
	ErrNonMonotonic  = errors.New("wal: non-monotonic sequence")

	// ErrFailed means a torn write could not be cut back; the journal
	// refuses further appends until it is reopened.
	ErrFailed = errors.New("wal: failed")
)

// appendFrame appends the framed encoding of r to b.
func appendFrame(b []byte, r *Record) []byte {
	start := len(b)
	b = append(b, byte(r.Type))
	b = binary.BigEndian.AppendUint64(b, r.Seq)
	b = binary.BigEndian.AppendUint64(b, uint64(r.Time))
	b = binary.BigEndian.AppendUint32(b, uint32(len(r.Data)))
	b = append(b, r.Data...)
	return binary.BigEndian.AppendUint32(b, CRC32(b[start:]))
}

// readRecord reads one frame. It returns io.EOF at a clean end of input,
// and ErrCorruptRecord for a short or damaged frame.
func readRecord(r io.Reader) (*Record, int, error) {
	var header [headerSize]byte
	if n, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, 0, io.EOF
		}
		return nil, n, errors.Wrap(ErrCorruptRecord, "short header")
	}

	l := binary.BigEndian.Uint32(header[17:21])
	if l > MaxPayload {
		return nil, headerSize, errors.Wrapf(ErrCorruptRecord, "payload length %d", l)
	}

	data := make([]byte, headerSize+int(l)+trailerSize)
	copy(data, header[:])
	if n, err := io.ReadFull(r, data[headerSize:]); err != nil {
		return nil, headerSize + n, errors.Wrap(ErrCorruptRecord, "short payload")
	}

	body := data[:headerSize+int(l)]
	crc := binary.BigEndian.Uint32(data[headerSize+int(l):])
	if !CRC32Valid(body, crc) {
		return nil, len(data), errors.Wrap(ErrCorruptRecord, "crc mismatch")
	}

	return &Record{
		Type: RecordType(header[0]),
		Seq:  binary.BigEndian.Uint64(header[1:9]),
		Time: int64(binary.BigEndian.Uint64(header[9:17])),
		Data: data[headerSize : headerSize+int(l)],
	}, len(data), nil
}
