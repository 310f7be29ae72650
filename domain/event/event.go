// Package event defines the decoded feed events consumed by the replay
// engine: order updates, trades, L2 snapshots, L2 deltas and unsequenced
// market status events.
package event

import (
	"fmt"

	"lobcore/domain/orderbook"
)

type Kind uint8

const (
	KindOrder Kind = iota + 1
	KindTrade
	KindSnapshot
	KindDelta
	KindMarket
)

func (k Kind) String() string {
	switch k {
	case KindOrder:
		return "order"
	case KindTrade:
		return "trade"
	case KindSnapshot:
		return "snapshot"
	case KindDelta:
		return "delta"
	case KindMarket:
		return "market"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Event is one decoded feed message. Sequence 0 marks an unsequenced event
// that is applied on arrival.
type Event interface {
	Kind() Kind
	Seq() uint64
	Times() Header
}

// Header carries the sequence number and timestamps (unix nanos) common to
// every event. LocalTime is zero when the receiver did not stamp it.
type Header struct {
	Sequence     uint64
	ExchangeTime int64
	LocalTime    int64
}

func (h Header) Seq() uint64 { return h.Sequence }
func (h Header) Times() Header { return h }

// FeedLatency is LocalTime - ExchangeTime, or false when either is unset.
func (h Header) FeedLatency() (int64, bool) {
	if h.LocalTime == 0 || h.ExchangeTime == 0 {
		return 0, false
	}
	return h.LocalTime - h.ExchangeTime, true
}

func (h *Header) stamp(ns int64) {
	if h.LocalTime == 0 {
		h.LocalTime = ns
	}
}

// Stamp sets the receive time of ev when the producer left it unset.
func Stamp(ev Event, ns int64) {
	if s, ok := ev.(interface{ stamp(int64) }); ok {
		s.stamp(ns)
	}
}

type UpdateType uint8

const (
	Add UpdateType = iota + 1
	Modify
	Delete
)

func (u UpdateType) String() string {
	switch u {
	case Add:
		return "add"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	default:
		return fmt.Sprintf("update(%d)", uint8(u))
	}
}

// OrderEvent adds, modifies or deletes one L3 order.
type OrderEvent struct {
	Header
	OrderID    uint64
	Side       orderbook.Side
	Price      int64
	Qty        int64
	Update     UpdateType
	Iceberg    bool
	VisibleQty int64
}

func (OrderEvent) Kind() Kind { return KindOrder }

// Order builds the book order described by e.
func (e *OrderEvent) Order() *orderbook.Order {
	return &orderbook.Order{
		ID:         e.OrderID,
		Side:       e.Side,
		Price:      e.Price,
		Qty:        e.Qty,
		OrigQty:    e.Qty,
		Timestamp:  e.ExchangeTime,
		Iceberg:    e.Iceberg,
		VisibleQty: e.VisibleQty,
	}
}

// TradeEvent is a trade print. Aggressor is the side that initiated it.
type TradeEvent struct {
	Header
	TradeID   uint64
	Price     int64
	Qty       int64
	Aggressor orderbook.Side
}

func (TradeEvent) Kind() Kind { return KindTrade }

// SnapshotEvent is a full L2 image with the publisher's declared checksum.
type SnapshotEvent struct {
	Header
	Bids     []orderbook.Level
	Asks     []orderbook.Level
	Checksum uint32
}

func (SnapshotEvent) Kind() Kind { return KindSnapshot }

// DeltaEvent is an L2 diff valid only against the state at PrevSequence.
// Updates overwrite a level's aggregate, deletions drop it.
type DeltaEvent struct {
	Header
	PrevSequence uint64
	BidUpdates   []orderbook.Level
	AskUpdates   []orderbook.Level
	BidDeletions []int64
	AskDeletions []int64
}

func (DeltaEvent) Kind() Kind { return KindDelta }

type MarketStatus uint8

const (
	StatusUnknown MarketStatus = iota
	StatusOpen
	StatusHalted
	StatusClosed
)

func (s MarketStatus) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusHalted:
		return "halted"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarketEvent carries venue-wide state. It is normally unsequenced.
type MarketEvent struct {
	Header
	Status    MarketStatus
	LastPrice int64
}

func (MarketEvent) Kind() Kind { return KindMarket }
