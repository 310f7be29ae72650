// Package codec is the binary wire format for feed events and snapshot
// records. Messages use the protobuf wire encoding so any protobuf reader
// can decode them with the field numbers below.
//
//	Envelope  1 symbol, 2 kind, 3 sequence, 4 exchange_time, 5 local_time,
//	          10 order, 11 trade, 12 snapshot, 13 delta, 14 market
//	Order     1 order_id, 2 side, 3 price, 4 qty, 5 update, 6 iceberg, 7 visible_qty
//	Trade     1 trade_id, 2 price, 3 qty, 4 aggressor
//	Snapshot  1 bids, 2 asks, 3 checksum
//	Delta     1 prev_sequence, 2 bid_updates, 3 ask_updates, 4 bid_deletions, 5 ask_deletions
//	Market    1 status, 2 last_price
//	Level     1 price, 2 qty, 3 orders
//	Record    1 symbol, 2 sequence, 3 log_seq, 4 created, 5 bids, 6 asks,
//	          7 checksum, 8 fingerprint, 9 orders
//	Entry     1 id, 2 side, 3 price, 4 qty, 5 orig_qty, 6 timestamp,
//	          7 flags (1 synthetic, 2 iceberg), 8 visible_qty
//
// Signed integers are zigzag encoded; checksums are fixed32.
package codec

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"lobcore/domain/event"
	"lobcore/infra/memory"
)

var (
	ErrMalformed   = errors.New("codec: malformed message")
	ErrUnknownKind = errors.New("codec: unknown event kind")
)

const (
	envSymbol       protowire.Number = 1
	envKind         protowire.Number = 2
	envSequence     protowire.Number = 3
	envExchangeTime protowire.Number = 4
	envLocalTime    protowire.Number = 5
	envOrder        protowire.Number = 10
	envTrade        protowire.Number = 11
	envSnapshot     protowire.Number = 12
	envDelta        protowire.Number = 13
	envMarket       protowire.Number = 14
)

var scratch = memory.NewBuffers(512, 1<<20)

// Encode serializes ev for symbol.
func Encode(symbol string, ev event.Event) ([]byte, error) {
	return AppendEvent(nil, symbol, ev)
}

// AppendEvent appends the encoding of ev to b.
func AppendEvent(b []byte, symbol string, ev event.Event) ([]byte, error) {
	if ev == nil {
		return b, errors.Wrap(ErrUnknownKind, "nil event")
	}
	h := ev.Times()

	b = appendString(b, envSymbol, symbol)
	b = appendUvarint(b, envKind, uint64(ev.Kind()))
	b = appendUvarint(b, envSequence, h.Sequence)
	b = appendSvarint(b, envExchangeTime, h.ExchangeTime)
	b = appendSvarint(b, envLocalTime, h.LocalTime)

	body := scratch.Get()
	defer scratch.Put(body)

	var num protowire.Number
	switch ev := ev.(type) {
	case *event.OrderEvent:
		num, *body = envOrder, appendOrder(*body, ev)
	case *event.TradeEvent:
		num, *body = envTrade, appendTrade(*body, ev)
	case *event.SnapshotEvent:
		num, *body = envSnapshot, appendSnapshot(*body, ev)
	case *event.DeltaEvent:
		num, *body = envDelta, appendDelta(*body, ev)
	case *event.MarketEvent:
		num, *body = envMarket, appendMarket(*body, ev)
	default:
		return b, errors.Wrapf(ErrUnknownKind, "%T", ev)
	}
	return appendMessage(b, num, *body), nil
}

// Decode parses one envelope.
func Decode(b []byte) (string, event.Event, error) {
	var (
		symbol string
		kind   event.Kind
		h      event.Header
		body   []byte
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case envSymbol:
			return consumeString(typ, b, &symbol)
		case envKind:
			var v uint64
			n := consumeUvarint(typ, b, &v)
			kind = event.Kind(v)
			return n
		case envSequence:
			return consumeUvarint(typ, b, &h.Sequence)
		case envExchangeTime:
			return consumeSvarint(typ, b, &h.ExchangeTime)
		case envLocalTime:
			return consumeSvarint(typ, b, &h.LocalTime)
		case envOrder, envTrade, envSnapshot, envDelta, envMarket:
			return consumeBytes(typ, b, &body)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return "", nil, err
	}

	var ev event.Event
	switch kind {
	case event.KindOrder:
		ev, err = decodeOrder(h, body)
	case event.KindTrade:
		ev, err = decodeTrade(h, body)
	case event.KindSnapshot:
		ev, err = decodeSnapshot(h, body)
	case event.KindDelta:
		ev, err = decodeDelta(h, body)
	case event.KindMarket:
		ev, err = decodeMarket(h, body)
	default:
		return symbol, nil, errors.Wrapf(ErrUnknownKind, "kind %d", kind)
	}
	if err != nil {
		return symbol, nil, errors.Wrapf(err, "%s event seq %d", kind, h.Sequence)
	}
	return symbol, ev, nil
}
