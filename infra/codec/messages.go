package codec

import (
	"google.golang.org/protobuf/encoding/protowire"

	"lobcore/domain/event"
	"lobcore/domain/orderbook"
)

func appendOrder(b []byte, e *event.OrderEvent) []byte {
	b = appendUvarint(b, 1, e.OrderID)
	b = appendUvarint(b, 2, uint64(e.Side))
	b = appendSvarint(b, 3, e.Price)
	b = appendSvarint(b, 4, e.Qty)
	b = appendUvarint(b, 5, uint64(e.Update))
	if e.Iceberg {
		b = appendUvarint(b, 6, protowire.EncodeBool(true))
	}
	return appendSvarint(b, 7, e.VisibleQty)
}

func decodeOrder(h event.Header, body []byte) (*event.OrderEvent, error) {
	e := &event.OrderEvent{Header: h}
	err := walk(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
		var v uint64
		switch num {
		case 1:
			return consumeUvarint(typ, b, &e.OrderID)
		case 2:
			n := consumeUvarint(typ, b, &v)
			e.Side = orderbook.Side(v)
			return n
		case 3:
			return consumeSvarint(typ, b, &e.Price)
		case 4:
			return consumeSvarint(typ, b, &e.Qty)
		case 5:
			n := consumeUvarint(typ, b, &v)
			e.Update = event.UpdateType(v)
			return n
		case 6:
			n := consumeUvarint(typ, b, &v)
			e.Iceberg = protowire.DecodeBool(v)
			return n
		case 7:
			return consumeSvarint(typ, b, &e.VisibleQty)
		}
		return skip(num, typ, b)
	})
	return e, err
}

func appendTrade(b []byte, e *event.TradeEvent) []byte {
	b = appendUvarint(b, 1, e.TradeID)
	b = appendSvarint(b, 2, e.Price)
	b = appendSvarint(b, 3, e.Qty)
	return appendUvarint(b, 4, uint64(e.Aggressor))
}

func decodeTrade(h event.Header, body []byte) (*event.TradeEvent, error) {
	e := &event.TradeEvent{Header: h}
	err := walk(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeUvarint(typ, b, &e.TradeID)
		case 2:
			return consumeSvarint(typ, b, &e.Price)
		case 3:
			return consumeSvarint(typ, b, &e.Qty)
		case 4:
			var v uint64
			n := consumeUvarint(typ, b, &v)
			e.Aggressor = orderbook.Side(v)
			return n
		}
		return skip(num, typ, b)
	})
	return e, err
}

func appendSnapshot(b []byte, e *event.SnapshotEvent) []byte {
	b = appendLevels(b, 1, e.Bids)
	b = appendLevels(b, 2, e.Asks)
	return appendFixed32(b, 3, e.Checksum)
}

func decodeSnapshot(h event.Header, body []byte) (*event.SnapshotEvent, error) {
	e := &event.SnapshotEvent{Header: h}
	err := walk(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeLevel(typ, b, &e.Bids)
		case 2:
			return consumeLevel(typ, b, &e.Asks)
		case 3:
			return consumeFixed32(typ, b, &e.Checksum)
		}
		return skip(num, typ, b)
	})
	return e, err
}

func appendDelta(b []byte, e *event.DeltaEvent) []byte {
	b = appendUvarint(b, 1, e.PrevSequence)
	b = appendLevels(b, 2, e.BidUpdates)
	b = appendLevels(b, 3, e.AskUpdates)
	b = appendPacked(b, 4, e.BidDeletions)
	return appendPacked(b, 5, e.AskDeletions)
}

func decodeDelta(h event.Header, body []byte) (*event.DeltaEvent, error) {
	e := &event.DeltaEvent{Header: h}
	err := walk(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeUvarint(typ, b, &e.PrevSequence)
		case 2:
			return consumeLevel(typ, b, &e.BidUpdates)
		case 3:
			return consumeLevel(typ, b, &e.AskUpdates)
		case 4:
			return consumePacked(typ, b, &e.BidDeletions)
		case 5:
			return consumePacked(typ, b, &e.AskDeletions)
		}
		return skip(num, typ, b)
	})
	return e, err
}

func appendMarket(b []byte, e *event.MarketEvent) []byte {
	b = appendUvarint(b, 1, uint64(e.Status))
	return appendSvarint(b, 2, e.LastPrice)
}

func decodeMarket(h event.Header, body []byte) (*event.MarketEvent, error) {
	e := &event.MarketEvent{Header: h}
	err := walk(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			var v uint64
			n := consumeUvarint(typ, b, &v)
			e.Status = event.MarketStatus(v)
			return n
		case 2:
			return consumeSvarint(typ, b, &e.LastPrice)
		}
		return skip(num, typ, b)
	})
	return e, err
}

func appendLevels(b []byte, num protowire.Number, levels []orderbook.Level) []byte {
	var body []byte
	for _, l := range levels {
		body = body[:0]
		body = appendSvarint(body, 1, l.Price)
		body = appendSvarint(body, 2, l.Qty)
		body = appendSvarint(body, 3, l.Orders)
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendBytes(b, body)
	}
	return b
}

func consumeLevel(typ protowire.Type, b []byte, dst *[]orderbook.Level) int {
	var body []byte
	n := consumeBytes(typ, b, &body)
	if n < 0 {
		return n
	}
	var l orderbook.Level
	err := walk(body, func(num protowire.Number, typ protowire.Type, b []byte) int {
		switch num {
		case 1:
			return consumeSvarint(typ, b, &l.Price)
		case 2:
			return consumeSvarint(typ, b, &l.Qty)
		case 3:
			return consumeSvarint(typ, b, &l.Orders)
		}
		return skip(num, typ, b)
	})
	if err != nil {
		return -1
	}
	*dst = append(*dst, l)
	return n
}
