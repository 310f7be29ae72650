package orderbook

import "fmt"

type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// Valid reports whether s is Bid or Ask.
func (s Side) Valid() bool {
	return s == Bid || s == Ask
}

// Order is a resting L3 order. Prices are integer ticks, quantities integer lots.
type Order struct {
	ID        uint64
	Side      Side
	Price     int64
	Qty       int64 // remaining
	OrigQty   int64
	Timestamp int64 // unix nanos

	Iceberg    bool
	VisibleQty int64

	// Synthetic orders stand in for an aggregate L2 level loaded from a
	// snapshot. They carry no exchange identity and are never indexed.
	Synthetic bool

	next *Order
	prev *Order
}

// Hidden returns the portion of an iceberg order not shown on the book.
func (o *Order) Hidden() int64 {
	if !o.Iceberg {
		return 0
	}
	h := o.Qty - o.VisibleQty
	if h < 0 {
		return 0
	}
	return h
}

// Next walks to the next order in the same level (time priority).
func (o *Order) Next() *Order {
	return o.next
}

func (o *Order) detach() {
	o.next = nil
	o.prev = nil
}
