package orderbook

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

var (
	ErrInvalidOrder   = errors.New("orderbook: invalid order")
	ErrDuplicateOrder = errors.New("orderbook: duplicate order id")
	ErrInvalidLevel   = errors.New("orderbook: invalid level")
)

// Sentinels stored in the BBO cache for an empty side.
const (
	emptyBid int64 = 0
	emptyAsk int64 = math.MaxInt64
)

// Level is the L2 view of one price: aggregate quantity and order count.
type Level struct {
	Price  int64
	Qty    int64
	Orders int64
}

// BBO is the cached top of book. HasBid/HasAsk are false for an empty side.
type BBO struct {
	Bid    int64
	Ask    int64
	HasBid bool
	HasAsk bool
}

// Snapshot is a full-depth L2 copy of the book.
type Snapshot struct {
	Sequence uint64
	Bids     []Level
	Asks     []Level
	Checksum uint32
}

type location struct {
	side  Side
	price int64
}

type bookSide struct {
	mu   sync.RWMutex
	side Side
	tree *RBTree
}

// key maps a price onto the tree key. Bids are negated so that ascending
// iteration yields the highest bid first on both sides.
func (s *bookSide) key(price int64) int64 {
	if s.side == Bid {
		return -price
	}
	return price
}

func (s *bookSide) depth(n int) []Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.depthLocked(n)
}

func (s *bookSide) depthLocked(n int) []Level {
	size := s.tree.Size()
	if n > 0 && n < size {
		size = n
	}
	out := make([]Level, 0, size)
	s.tree.ForEachAscending(func(l *PriceLevel) bool {
		out = append(out, l.Level())
		return n <= 0 || len(out) < n
	})
	return out
}

type Config struct {
	Symbol        string
	ChecksumDepth int
	Logger        *zap.Logger
}

// OrderBook is a price-time priority L3 book for a single instrument.
//
// Each side map sits behind its own RWMutex. BBO, volumes, sequence and
// checksum are atomics readable without any lock. The order index has a
// separate mutex; lock order is index, bids, asks. The book expects a
// single writer; readers may call any getter concurrently.
type OrderBook struct {
	symbol string
	depth  int
	log    *zap.SugaredLogger

	bids *bookSide
	asks *bookSide

	bestBid   atomic.Int64
	bestAsk   atomic.Int64
	bidVolume atomic.Int64
	askVolume atomic.Int64
	seq       atomic.Uint64
	checksum  atomic.Uint32

	crossed      atomic.Bool
	crossedCount atomic.Uint64

	idxMu sync.Mutex
	index map[uint64]location
}

func NewOrderBook(cfg Config) *OrderBook {
	if cfg.ChecksumDepth <= 0 {
		cfg.ChecksumDepth = DefaultChecksumDepth
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	b := &OrderBook{
		symbol: cfg.Symbol,
		depth:  cfg.ChecksumDepth,
		log:    cfg.Logger.Named("orderbook").Sugar().With("symbol", cfg.Symbol),
		bids:   &bookSide{side: Bid, tree: NewRBTree()},
		asks:   &bookSide{side: Ask, tree: NewRBTree()},
		index:  make(map[uint64]location),
	}
	b.bestBid.Store(emptyBid)
	b.bestAsk.Store(emptyAsk)
	b.updateChecksum()
	return b
}

func (b *OrderBook) Symbol() string { return b.symbol }

// ChecksumDepth is the number of levels per side covered by Checksum.
func (b *OrderBook) ChecksumDepth() int { return b.depth }

// ---- write path ----

// AddOrder inserts o at the back of its price level and returns the book
// sequence assigned to the mutation. The book takes ownership of o.
func (b *OrderBook) AddOrder(o *Order) (uint64, error) {
	if err := validateOrder(o); err != nil {
		return 0, err
	}
	if o.OrigQty == 0 {
		o.OrigQty = o.Qty
	}

	b.idxMu.Lock()
	if _, ok := b.index[o.ID]; ok {
		b.idxMu.Unlock()
		return 0, errors.Wrapf(ErrDuplicateOrder, "order %d", o.ID)
	}
	seq := b.seq.Add(1)
	b.index[o.ID] = location{side: o.Side, price: o.Price}

	s := b.sideOf(o.Side)
	s.mu.Lock()
	b.insertLocked(s, o)
	s.mu.Unlock()
	b.idxMu.Unlock()

	b.afterMutation()
	return seq, nil
}

// CancelOrder removes the order with the given id. Unknown ids are a
// no-op and return nil; duplicate cancels are expected during replay.
func (b *OrderBook) CancelOrder(id uint64) *Order {
	b.idxMu.Lock()
	loc, ok := b.index[id]
	if !ok {
		b.idxMu.Unlock()
		return nil
	}

	s := b.sideOf(loc.side)
	s.mu.Lock()
	o := b.removeLocked(s, loc.price, id)
	s.mu.Unlock()
	delete(b.index, id)
	b.idxMu.Unlock()

	if o == nil {
		b.log.Errorw("index entry without resting order", "order_id", id, "side", loc.side, "price", loc.price)
		return nil
	}

	b.seq.Add(1)
	b.afterMutation()
	return o
}

// SetLevel overwrites the aggregate at l.Price with synthetic orders.
// Real orders resting at that price are dropped from the index. A zero
// quantity removes the level.
func (b *OrderBook) SetLevel(side Side, l Level) error {
	if err := validateLevel(side, l); err != nil {
		return err
	}
	if l.Qty == 0 {
		b.RemoveLevel(side, l.Price)
		return nil
	}

	s := b.sideOf(side)
	b.idxMu.Lock()
	s.mu.Lock()
	b.dropLevelLocked(s, l.Price)
	b.fillLevelLocked(s, l)
	s.mu.Unlock()
	b.idxMu.Unlock()

	b.seq.Add(1)
	b.afterMutation()
	return nil
}

// RemoveLevel deletes every order at price. Reports whether a level existed.
func (b *OrderBook) RemoveLevel(side Side, price int64) bool {
	s := b.sideOf(side)
	b.idxMu.Lock()
	s.mu.Lock()
	removed := b.dropLevelLocked(s, price)
	s.mu.Unlock()
	b.idxMu.Unlock()

	if !removed {
		return false
	}
	b.seq.Add(1)
	b.afterMutation()
	return true
}

// LoadSnapshot replaces the whole book with the given L2 levels. Each level
// is rebuilt from Orders synthetic orders whose quantities sum to Qty, so
// L2 aggregates survive exactly while per-order identity is lost until
// live order updates resume. Invalid input leaves the book untouched.
func (b *OrderBook) LoadSnapshot(bids, asks []Level) error {
	if err := validateLevels(Bid, bids); err != nil {
		return err
	}
	if err := validateLevels(Ask, asks); err != nil {
		return err
	}

	b.lockAll()
	b.clearLocked()
	for _, l := range bids {
		if l.Qty > 0 {
			b.fillLevelLocked(b.bids, l)
		}
	}
	for _, l := range asks {
		if l.Qty > 0 {
			b.fillLevelLocked(b.asks, l)
		}
	}
	b.unlockAll()

	b.seq.Store(1)
	b.afterMutation()
	return nil
}

// Clear empties the book and resets every counter.
func (b *OrderBook) Clear() {
	b.lockAll()
	b.clearLocked()
	b.unlockAll()

	b.seq.Store(0)
	b.updateChecksum()
}

// ---- read path ----

func (b *OrderBook) BBO() BBO {
	bid := b.bestBid.Load()
	ask := b.bestAsk.Load()
	return BBO{
		Bid:    bid,
		Ask:    ask,
		HasBid: bid != emptyBid,
		HasAsk: ask != emptyAsk,
	}
}

// Spread returns ask minus bid in ticks when both sides are populated.
func (b *OrderBook) Spread() (int64, bool) {
	q := b.BBO()
	if !q.HasBid || !q.HasAsk {
		return 0, false
	}
	return q.Ask - q.Bid, true
}

// Mid returns the midpoint in ticks (rounded down).
func (b *OrderBook) Mid() (int64, bool) {
	q := b.BBO()
	if !q.HasBid || !q.HasAsk {
		return 0, false
	}
	return q.Bid + (q.Ask-q.Bid)/2, true
}

// Depth returns up to n levels per side, best price first. n <= 0 returns
// every level.
func (b *OrderBook) Depth(n int) (bids, asks []Level) {
	return b.bids.depth(n), b.asks.depth(n)
}

func (b *OrderBook) BidDepth(n int) []Level { return b.bids.depth(n) }
func (b *OrderBook) AskDepth(n int) []Level { return b.asks.depth(n) }

func (b *OrderBook) Checksum() uint32 { return b.checksum.Load() }
func (b *OrderBook) Sequence() uint64 { return b.seq.Load() }
func (b *OrderBook) BidVolume() int64 { return b.bidVolume.Load() }
func (b *OrderBook) AskVolume() int64 { return b.askVolume.Load() }
func (b *OrderBook) CrossedCount() uint64 { return b.crossedCount.Load() }

// IsCrossed reports best bid >= best ask with both sides populated.
func (b *OrderBook) IsCrossed() bool {
	q := b.BBO()
	return q.HasBid && q.HasAsk && q.Bid >= q.Ask
}

// Len returns the number of indexed (non-synthetic) orders.
func (b *OrderBook) Len() int {
	b.idxMu.Lock()
	defer b.idxMu.Unlock()
	return len(b.index)
}

// Levels returns the number of price levels per side.
func (b *OrderBook) Levels() (bids, asks int) {
	b.bids.mu.RLock()
	bids = b.bids.tree.Size()
	b.bids.mu.RUnlock()
	b.asks.mu.RLock()
	asks = b.asks.tree.Size()
	b.asks.mu.RUnlock()
	return bids, asks
}

// Orders returns copies of the orders at price in time priority.
func (b *OrderBook) Orders(side Side, price int64) []Order {
	s := b.sideOf(side)
	s.mu.RLock()
	defer s.mu.RUnlock()

	lvl := s.tree.FindLevel(s.key(price))
	if lvl == nil {
		return nil
	}
	out := make([]Order, 0, lvl.OrderCount())
	for o := lvl.Head(); o != nil; o = o.Next() {
		c := *o
		c.detach()
		out = append(out, c)
	}
	return out
}

// Export copies every resting order, bids then asks, best price first and
// in time priority within a level. Synthetic orders are included.
func (b *OrderBook) Export() []Order {
	out := make([]Order, 0, b.Len())

	b.bids.mu.RLock()
	b.asks.mu.RLock()
	defer b.asks.mu.RUnlock()
	defer b.bids.mu.RUnlock()

	for _, s := range []*bookSide{b.bids, b.asks} {
		s.tree.ForEachAscending(func(l *PriceLevel) bool {
			for o := l.Head(); o != nil; o = o.Next() {
				c := *o
				c.detach()
				out = append(out, c)
			}
			return true
		})
	}
	return out
}

// Import replaces the book with orders in the layout Export produces.
// Within a level, queue priority follows slice order. Invalid input
// leaves the book untouched.
func (b *OrderBook) Import(orders []Order) error {
	ids := make(map[uint64]struct{}, len(orders))
	for i := range orders {
		c := orders[i]
		c.Synthetic = false
		if err := validateOrder(&c); err != nil {
			return err
		}
		if orders[i].Synthetic {
			continue
		}
		if _, dup := ids[c.ID]; dup {
			return errors.Wrapf(ErrDuplicateOrder, "order %d", c.ID)
		}
		ids[c.ID] = struct{}{}
	}

	b.lockAll()
	b.clearLocked()
	for i := range orders {
		o := orders[i]
		if !o.Synthetic {
			b.index[o.ID] = location{side: o.Side, price: o.Price}
		}
		b.insertLocked(b.sideOf(o.Side), &o)
	}
	b.unlockAll()

	b.seq.Store(1)
	b.afterMutation()
	return nil
}

// Snapshot copies every level of both sides together with the checksum
// of that exact state.
func (b *OrderBook) Snapshot() Snapshot {
	b.bids.mu.RLock()
	b.asks.mu.RLock()
	bids := b.bids.depthLocked(0)
	asks := b.asks.depthLocked(0)
	seq := b.seq.Load()
	b.asks.mu.RUnlock()
	b.bids.mu.RUnlock()

	return Snapshot{
		Sequence: seq,
		Bids:     bids,
		Asks:     asks,
		Checksum: ComputeChecksum(bids, asks, b.depth),
	}
}

// ---- internals ----

func (b *OrderBook) sideOf(side Side) *bookSide {
	if side == Bid {
		return b.bids
	}
	return b.asks
}

func (b *OrderBook) volume(side Side) *atomic.Int64 {
	if side == Bid {
		return &b.bidVolume
	}
	return &b.askVolume
}

func (b *OrderBook) lockAll() {
	b.idxMu.Lock()
	b.bids.mu.Lock()
	b.asks.mu.Lock()
}

func (b *OrderBook) unlockAll() {
	b.asks.mu.Unlock()
	b.bids.mu.Unlock()
	b.idxMu.Unlock()
}

func (b *OrderBook) insertLocked(s *bookSide, o *Order) {
	lvl, _ := s.tree.UpsertLevel(s.key(o.Price), o.Price)
	o.detach()
	lvl.AddOrder(o)
	b.volume(s.side).Add(o.Qty)
	b.improveBest(s.side, o.Price)
}

func (b *OrderBook) removeLocked(s *bookSide, price int64, id uint64) *Order {
	key := s.key(price)
	lvl := s.tree.FindLevel(key)
	if lvl == nil {
		return nil
	}
	o := lvl.RemoveOrder(id)
	if o == nil {
		return nil
	}
	b.volume(s.side).Add(-o.Qty)
	if lvl.Empty() {
		s.tree.DeleteLevel(key)
		b.refreshBest(s)
	}
	return o
}

// dropLevelLocked requires the index lock and the side lock.
func (b *OrderBook) dropLevelLocked(s *bookSide, price int64) bool {
	key := s.key(price)
	lvl := s.tree.FindLevel(key)
	if lvl == nil {
		return false
	}
	b.volume(s.side).Add(-lvl.Quantity())
	for o := lvl.PopHead(); o != nil; o = lvl.PopHead() {
		if !o.Synthetic {
			delete(b.index, o.ID)
		}
	}
	s.tree.DeleteLevel(key)
	b.refreshBest(s)
	return true
}

func (b *OrderBook) fillLevelLocked(s *bookSide, l Level) {
	count := l.Orders
	if count <= 0 {
		count = 1
	}
	base := l.Qty / count
	rem := l.Qty % count

	lvl, _ := s.tree.UpsertLevel(s.key(l.Price), l.Price)
	for i := int64(0); i < count; i++ {
		q := base
		if i < rem {
			q++
		}
		lvl.AddOrder(&Order{
			Side:      s.side,
			Price:     l.Price,
			Qty:       q,
			OrigQty:   q,
			Synthetic: true,
		})
	}
	b.volume(s.side).Add(l.Qty)
	b.improveBest(s.side, l.Price)
}

func (b *OrderBook) clearLocked() {
	b.bids.tree.Clear()
	b.asks.tree.Clear()
	b.index = make(map[uint64]location)
	b.bidVolume.Store(0)
	b.askVolume.Store(0)
	b.bestBid.Store(emptyBid)
	b.bestAsk.Store(emptyAsk)
	b.crossed.Store(false)
}

func (b *OrderBook) improveBest(side Side, price int64) {
	if side == Bid {
		for {
			cur := b.bestBid.Load()
			if price <= cur || b.bestBid.CompareAndSwap(cur, price) {
				return
			}
		}
	}
	for {
		cur := b.bestAsk.Load()
		if price >= cur || b.bestAsk.CompareAndSwap(cur, price) {
			return
		}
	}
}

// refreshBest rescans the top of s. Caller holds the side lock.
func (b *OrderBook) refreshBest(s *bookSide) {
	top := s.tree.MinLevel()
	if s.side == Bid {
		if top == nil {
			b.bestBid.Store(emptyBid)
		} else {
			b.bestBid.Store(top.Price)
		}
		return
	}
	if top == nil {
		b.bestAsk.Store(emptyAsk)
	} else {
		b.bestAsk.Store(top.Price)
	}
}

func (b *OrderBook) afterMutation() {
	b.updateChecksum()

	crossed := b.IsCrossed()
	if crossed && !b.crossed.Load() {
		q := b.BBO()
		b.crossedCount.Add(1)
		b.log.Errorw("crossed book", "bid", q.Bid, "ask", q.Ask, "seq", b.seq.Load())
	}
	b.crossed.Store(crossed)
}

func (b *OrderBook) updateChecksum() {
	bids, asks := b.Depth(b.depth)
	b.checksum.Store(ComputeChecksum(bids, asks, b.depth))
}

func validateOrder(o *Order) error {
	switch {
	case o == nil:
		return errors.Wrap(ErrInvalidOrder, "nil order")
	case !o.Side.Valid():
		return errors.Wrapf(ErrInvalidOrder, "order %d: side %d", o.ID, o.Side)
	case o.Price <= 0:
		return errors.Wrapf(ErrInvalidOrder, "order %d: price %d", o.ID, o.Price)
	case o.Qty <= 0:
		return errors.Wrapf(ErrInvalidOrder, "order %d: qty %d", o.ID, o.Qty)
	case o.Synthetic:
		return errors.Wrapf(ErrInvalidOrder, "order %d: synthetic orders come from snapshots only", o.ID)
	case o.Iceberg && (o.VisibleQty < 0 || o.VisibleQty > o.Qty):
		return errors.Wrapf(ErrInvalidOrder, "order %d: visible qty %d of %d", o.ID, o.VisibleQty, o.Qty)
	}
	return nil
}

func validateLevel(side Side, l Level) error {
	if !side.Valid() {
		return errors.Wrapf(ErrInvalidLevel, "side %d", side)
	}
	if l.Price <= 0 || l.Qty < 0 || l.Orders < 0 {
		return errors.Wrapf(ErrInvalidLevel, "%s level price=%d qty=%d orders=%d", side, l.Price, l.Qty, l.Orders)
	}
	return nil
}

func validateLevels(side Side, levels []Level) error {
	seen := make(map[int64]struct{}, len(levels))
	for _, l := range levels {
		if err := validateLevel(side, l); err != nil {
			return err
		}
		if _, dup := seen[l.Price]; dup {
			return errors.Wrapf(ErrInvalidLevel, "%s level %d repeated", side, l.Price)
		}
		seen[l.Price] = struct{}{}
	}
	return nil
}
