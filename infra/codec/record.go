package codec

import (
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"lobcore/domain/orderbook"
	"lobcore/snapshot"
)

// EncodeRecord serializes a snapshot record.
func EncodeRecord(rec *snapshot.Record) []byte {
	b := make([]byte, 0, 64+16*(len(rec.Bids)+len(rec.Asks)))
	b = appendString(b, 1, rec.Symbol)
	b = appendUvarint(b, 2, rec.Sequence)
	b = appendUvarint(b, 3, rec.LogSeq)
	b = appendSvarint(b, 4, rec.Created.UnixNano())
	b = appendLevels(b, 5, rec.Bids)
	b = appendLevels(b, 6, rec.Asks)
	b = appendFixed32(b, 7, rec.Checksum)
	b = appendMessage(b, 8, rec.Fingerprint[:])
	for i := range rec.Orders {
		b = appendOrderEntry(b, 9, &rec.Orders[i])
	}
	return b
}

func DecodeRecord(b []byte) (*snapshot.Record, error) {
	rec := &snapshot.Record{}
	var created int64
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeString(typ, b, &rec.Symbol)
		case 2:
			return consumeUvarint(typ, b, &rec.Sequence)
		case 3:
			return consumeUvarint(typ, b, &rec.LogSeq)
		case 4:
			return consumeSvarint(typ, b, &created)
		case 5:
			return consumeLevel(typ, b, &rec.Bids)
		case 6:
			return consumeLevel(typ, b, &rec.Asks)
		case 7:
			return consumeFixed32(typ, b, &rec.Checksum)
		case 8:
			var fp []byte
			n := consumeBytes(typ, b, &fp)
			if n >= 0 && copy(rec.Fingerprint[:], fp) != len(rec.Fingerprint) {
				return -1
			}
			return n
		case 9:
			return consumeOrderEntry(typ, b, &rec.Orders)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return nil, errors.Wrap(err, "snapshot record")
	}
	rec.Created = time.Unix(0, created).UTC()
	return rec, nil
}

const (
	flagSynthetic = 1 << iota
	flagIceberg
)

func appendOrderEntry(b []byte, num protowire.Number, o *orderbook.Order) []byte {
	var flags uint64
	if o.Synthetic {
		flags |= flagSynthetic
	}
	if o.Iceberg {
		flags |= flagIceberg
	}
	var body []byte
	body = appendUvarint(body, 1, o.ID)
	body = appendUvarint(body, 2, uint64(o.Side))
	body = appendSvarint(body, 3, o.Price)
	body = appendSvarint(body, 4, o.Qty)
	body = appendSvarint(body, 5, o.OrigQty)
	body = appendSvarint(body, 6, o.Timestamp)
	body = appendUvarint(body, 7, flags)
	body = appendSvarint(body, 8, o.VisibleQty)
	return appendMessage(b, num, body)
}

func consumeOrderEntry(typ protowire.Type, b []byte, dst *[]orderbook.Order) int {
	var body []byte
	n := consumeBytes(typ, b, &body)
	if n < 0 {
		return n
	}
	var (
		o           orderbook.Order
		side, flags uint64
	)
	err := walk(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeUvarint(typ, b, &o.ID)
		case 2:
			return consumeUvarint(typ, b, &side)
		case 3:
			return consumeSvarint(typ, b, &o.Price)
		case 4:
			return consumeSvarint(typ, b, &o.Qty)
		case 5:
			return consumeSvarint(typ, b, &o.OrigQty)
		case 6:
			return consumeSvarint(typ, b, &o.Timestamp)
		case 7:
			return consumeUvarint(typ, b, &flags)
		case 8:
			return consumeSvarint(typ, b, &o.VisibleQty)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return -1
	}
	o.Side = orderbook.Side(side)
	o.Synthetic = flags&flagSynthetic != 0
	o.Iceberg = flags&flagIceberg != 0
	*dst = append(*dst, o)
	return n
}
