package snapshot

import (
	"time"

	"github.com/cockroachdb/errors"

	"lobcore/domain/orderbook"
)

// ErrNotFound is returned by a Store holding no record for a symbol.
var ErrNotFound = errors.New("snapshot: not found")

// Record is one captured book image.
type Record struct {
	Symbol string
	// Sequence is the last feed sequence applied when the image was taken.
	Sequence uint64
	// LogSeq is the event-log position of that event, 0 if not journaled.
	LogSeq  uint64
	Created time.Time

	Bids        []orderbook.Level
	Asks        []orderbook.Level
	Checksum    uint32
	Fingerprint [32]byte
	// Orders is the full L3 queue state in Export layout. Records
	// without it restore from Bids and Asks alone.
	Orders      []orderbook.Order
}

// Store persists records across restarts. Latest is the record written
// at the highest event-log position, so a venue that resets its feed
// sequence does not resurrect an older image.
type Store interface {
	Put(rec *Record) error
	Latest(symbol string) (*Record, error)
	// Symbols lists every symbol holding at least one record.
	Symbols() ([]string, error)
}
