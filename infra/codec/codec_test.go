package codec

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"lobcore/domain/event"
	"lobcore/domain/orderbook"
	"lobcore/snapshot"
)

func hdr(seq uint64) event.Header {
	return event.Header{Sequence: seq, ExchangeTime: 1_700_000_000_000_000_000, LocalTime: 1_700_000_000_000_250_000}
}

func TestEventRoundTrip(t *testing.T) {
	cases := []event.Event{
		&event.OrderEvent{Header: hdr(7), OrderID: 42, Side: orderbook.Ask, Price: 10050, Qty: 3, Update: event.Modify, Iceberg: true, VisibleQty: 1},
		&event.TradeEvent{Header: hdr(8), TradeID: 9, Price: 10000, Qty: 5, Aggressor: orderbook.Bid},
		&event.SnapshotEvent{
			Header:   hdr(9),
			Bids:     []orderbook.Level{{Price: 10000, Qty: 10, Orders: 2}, {Price: 9990, Qty: 4, Orders: 1}},
			Asks:     []orderbook.Level{{Price: 10010, Qty: 7, Orders: 3}},
			Checksum: 0xdeadbeef,
		},
		&event.DeltaEvent{
			Header:       hdr(10),
			PrevSequence: 9,
			BidUpdates:   []orderbook.Level{{Price: 10000, Qty: 12, Orders: 3}},
			AskDeletions: []int64{10010, 10020},
		},
		&event.MarketEvent{Header: event.Header{}, Status: event.StatusHalted, LastPrice: 10005},
	}

	for _, ev := range cases {
		t.Run(ev.Kind().String(), func(t *testing.T) {
			b, err := Encode("BTC-USD", ev)
			require.NoError(t, err)

			sym, got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, "BTC-USD", sym)
			assert.Equal(t, ev, got)
		})
	}
}

func TestAppendEventReusesBuffer(t *testing.T) {
	buf := make([]byte, 0, 256)
	a, err := AppendEvent(buf, "X", &event.TradeEvent{Header: hdr(1), Price: 1, Qty: 1})
	require.NoError(t, err)
	b, err := AppendEvent(a[:0], "X", &event.TradeEvent{Header: hdr(1), Price: 1, Qty: 1})
	require.NoError(t, err)
	assert.Equal(t, len(a), len(b))
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	b, err := Encode("ETH-USD", &event.TradeEvent{Header: hdr(3), TradeID: 1, Price: 200, Qty: 2})
	require.NoError(t, err)

	b = protowire.AppendTag(b, 99, protowire.BytesType)
	b = protowire.AppendString(b, "future field")
	b = protowire.AppendTag(b, 100, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, 1)

	_, ev, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), ev.Seq())
}

func TestDecodeMalformed(t *testing.T) {
	b, err := Encode("ETH-USD", &event.OrderEvent{Header: hdr(3), OrderID: 1, Side: orderbook.Bid, Price: 1, Qty: 1, Update: event.Add})
	require.NoError(t, err)

	_, _, err = Decode(b[:len(b)-2])
	assert.True(t, errors.Is(err, ErrMalformed), "truncated: %v", err)

	// symbol sent as a varint
	bad := protowire.AppendTag(nil, envSymbol, protowire.VarintType)
	bad = protowire.AppendVarint(bad, 5)
	_, _, err = Decode(bad)
	assert.True(t, errors.Is(err, ErrMalformed))
}

func TestDecodeUnknownKind(t *testing.T) {
	b := appendString(nil, envSymbol, "X")
	b = appendUvarint(b, envKind, 77)
	_, _, err := Decode(b)
	assert.True(t, errors.Is(err, ErrUnknownKind))

	_, err = Encode("X", nil)
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestRecordRoundTrip(t *testing.T) {
	rec := &snapshot.Record{
		Symbol:   "BTC-USD",
		Sequence: 1200,
		LogSeq:   3400,
		Created:  time.Unix(1_700_000_000, 123).UTC(),
		Bids:     []orderbook.Level{{Price: 100, Qty: 5, Orders: 1}},
		Asks:     []orderbook.Level{{Price: 101, Qty: 6, Orders: 2}},
		Checksum: 12345,
		Orders: []orderbook.Order{
			{ID: 7, Side: orderbook.Bid, Price: 100, Qty: 5, OrigQty: 6, Timestamp: 9, Iceberg: true, VisibleQty: 1},
			{Side: orderbook.Ask, Price: 101, Qty: 6, OrigQty: 6, Synthetic: true},
		},
	}
	rec.Fingerprint[0], rec.Fingerprint[31] = 0xAA, 0x55

	got, err := DecodeRecord(EncodeRecord(rec))
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestRecordBadFingerprint(t *testing.T) {
	b := appendString(nil, 1, "X")
	b = appendMessage(b, 8, []byte{1, 2, 3})
	_, err := DecodeRecord(b)
	assert.True(t, errors.Is(err, ErrMalformed))
}
