package service

import (
	"github.com/cockroachdb/errors"

	"lobcore/domain/orderbook"
)

var (
	ErrChecksumMismatch = errors.New("replay: snapshot checksum mismatch")
	ErrSequenceGap      = errors.New("replay: delta does not follow last applied sequence")
	ErrUnknownEvent     = errors.New("replay: unknown event")
	ErrSymbolStale      = errors.New("book service: symbol is stale, awaiting snapshot")
	ErrUnknownSymbol    = errors.New("book service: unknown symbol")
)

// Fatal reports whether err ends the replay session of its symbol. The
// caller has to resynchronize from a fresh snapshot.
func Fatal(err error) bool {
	return errors.Is(err, ErrChecksumMismatch) ||
		errors.Is(err, ErrSequenceGap) ||
		errors.Is(err, orderbook.ErrInvalidLevel)
}
