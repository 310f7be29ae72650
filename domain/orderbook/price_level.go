package orderbook

import "sync/atomic"

// PriceLevel is a FIFO queue of orders at one price.
//
// The order list is guarded by the owning side's lock. The counters are
// atomics so readers can peek at a level without that lock. Add bumps
// quantity before count and remove drops count before quantity, so a
// reader may see a short skew between them but never a count for an order
// whose quantity is missing.
type PriceLevel struct {
	Price int64

	head *Order
	tail *Order

	totalQty   atomic.Int64
	orderCount atomic.Int64
	hiddenQty  atomic.Int64
	lastUpdate atomic.Int64
}

func newPriceLevel(price int64) *PriceLevel {
	return &PriceLevel{Price: price}
}

// AddOrder appends o at the back of the queue.
func (p *PriceLevel) AddOrder(o *Order) {
	if p.head == nil {
		p.head = o
		p.tail = o
	} else {
		p.tail.next = o
		o.prev = p.tail
		p.tail = o
	}

	p.totalQty.Add(o.Qty)
	p.hiddenQty.Add(o.Hidden())
	p.orderCount.Add(1)
	p.lastUpdate.Store(o.Timestamp)
}

// RemoveOrder unlinks the order with the given id. Remaining orders keep
// their relative priority. Returns nil when the id is not at this level.
func (p *PriceLevel) RemoveOrder(id uint64) *Order {
	for o := p.head; o != nil; o = o.next {
		if o.ID == id && !o.Synthetic {
			p.unlink(o)
			return o
		}
	}
	return nil
}

func (p *PriceLevel) unlink(o *Order) {
	if o.prev != nil {
		o.prev.next = o.next
	} else {
		p.head = o.next
	}
	if o.next != nil {
		o.next.prev = o.prev
	} else {
		p.tail = o.prev
	}
	o.detach()

	p.orderCount.Add(-1)
	p.hiddenQty.Add(-o.Hidden())
	p.totalQty.Add(-o.Qty)
}

// PopHead removes and returns the order with the highest time priority.
func (p *PriceLevel) PopHead() *Order {
	o := p.head
	if o == nil {
		return nil
	}
	p.unlink(o)
	return o
}

func (p *PriceLevel) Quantity() int64 {
	return p.totalQty.Load()
}

func (p *PriceLevel) OrderCount() int64 {
	return p.orderCount.Load()
}

func (p *PriceLevel) HiddenQuantity() int64 {
	return p.hiddenQty.Load()
}

func (p *PriceLevel) LastUpdate() int64 {
	return p.lastUpdate.Load()
}

func (p *PriceLevel) Empty() bool {
	return p.head == nil
}

// Head is a read-only helper; the caller must hold the side lock.
func (p *PriceLevel) Head() *Order {
	return p.head
}

// Level returns the L2 view of p.
func (p *PriceLevel) Level() Level {
	return Level{
		Price:  p.Price,
		Qty:    p.Quantity(),
		Orders: p.OrderCount(),
	}
}
