// Package analytics derives read-only market microstructure measures from
// trade prints and book depth. It never mutates the order book.
package analytics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"lobcore/domain/orderbook"
)

// Fixed-point scales for the atomic outputs.
const (
	ratioScale  = 10000
	lambdaScale = 1e6
)

type Config struct {
	BucketWidth time.Duration
	Buckets     int
	// LambdaCap bounds |Kyle's lambda| (ticks per lot) when signed volume
	// barely varies across the window.
	LambdaCap float64
	// InformedThreshold is the |buy-sell|/volume ratio above which a bucket
	// counts as an information event in the PIN estimate.
	InformedThreshold float64
}

func DefaultConfig() Config {
	return Config{
		BucketWidth:       time.Second,
		Buckets:           50,
		LambdaCap:         1000,
		InformedThreshold: 0.5,
	}
}

type bucket struct {
	index      int64
	buy        int64
	sell       int64
	trades     int64
	firstPrice int64
	lastPrice  int64
}

func (b *bucket) volume() int64 { return b.buy + b.sell }

func (b *bucket) imbalance() int64 {
	d := b.buy - b.sell
	if d < 0 {
		return -d
	}
	return d
}

// Metrics is a point-in-time copy of every output.
type Metrics struct {
	VPIN          float64
	FlowImbalance float64
	KyleLambda    float64
	PIN           float64
	BookImbalance float64
	Trades        uint64
	LastPrice     int64
}

// Microstructure keeps a ring of fixed-width volume buckets fed by trades.
// OnTrade and ObserveBook come from the single writer; every getter is a
// lock-free atomic read.
type Microstructure struct {
	cfg Config

	mu     sync.Mutex
	ring   []bucket
	head   int
	filled int

	vpin      atomic.Int64
	flow      atomic.Int64
	lambda    atomic.Int64
	pin       atomic.Int64
	book      atomic.Int64
	trades    atomic.Uint64
	lastPrice atomic.Int64
}

func NewMicrostructure(cfg Config) *Microstructure {
	def := DefaultConfig()
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = def.BucketWidth
	}
	if cfg.Buckets < 2 {
		cfg.Buckets = def.Buckets
	}
	if cfg.LambdaCap <= 0 {
		cfg.LambdaCap = def.LambdaCap
	}
	if cfg.InformedThreshold <= 0 || cfg.InformedThreshold >= 1 {
		cfg.InformedThreshold = def.InformedThreshold
	}
	return &Microstructure{
		cfg:  cfg,
		ring: make([]bucket, cfg.Buckets),
	}
}

// OnTrade folds one trade into the bucket covering ts (unix nanos).
// Timestamps older than the current bucket are charged to it.
func (m *Microstructure) OnTrade(price, qty int64, aggressor orderbook.Side, ts int64) {
	if qty <= 0 || price <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.bucketFor(ts / int64(m.cfg.BucketWidth))
	if aggressor == orderbook.Bid {
		b.buy += qty
	} else {
		b.sell += qty
	}
	if b.trades == 0 {
		b.firstPrice = price
	}
	b.trades++
	b.lastPrice = price

	m.trades.Add(1)
	m.lastPrice.Store(price)
	m.recompute()
}

// ObserveBook records depth imbalance (bid qty - ask qty) / total over the
// given levels.
func (m *Microstructure) ObserveBook(bids, asks []orderbook.Level) {
	var b, a int64
	for _, l := range bids {
		b += l.Qty
	}
	for _, l := range asks {
		a += l.Qty
	}
	if b+a == 0 {
		m.book.Store(0)
		return
	}
	m.book.Store((b - a) * ratioScale / (b + a))
}

// bucketFor returns the bucket for idx, rolling the ring forward and
// inserting empty buckets for idle intervals. Caller holds mu.
func (m *Microstructure) bucketFor(idx int64) *bucket {
	if m.filled == 0 {
		m.ring[m.head] = bucket{index: idx}
		m.filled = 1
		return &m.ring[m.head]
	}

	cur := &m.ring[m.head]
	if idx <= cur.index {
		return cur
	}

	steps := idx - cur.index
	if steps > int64(len(m.ring)) {
		steps = int64(len(m.ring))
	}
	carry := cur.lastPrice
	for i := int64(1); i <= steps; i++ {
		m.head = (m.head + 1) % len(m.ring)
		m.ring[m.head] = bucket{
			index:      idx - steps + i,
			firstPrice: carry,
			lastPrice:  carry,
		}
		if m.filled < len(m.ring) {
			m.filled++
		}
	}
	return &m.ring[m.head]
}

// window returns filled buckets oldest first. Caller holds mu.
func (m *Microstructure) window() []bucket {
	out := make([]bucket, 0, m.filled)
	start := m.head - m.filled + 1
	for i := 0; i < m.filled; i++ {
		out = append(out, m.ring[(start+i+len(m.ring))%len(m.ring)])
	}
	return out
}

func (m *Microstructure) recompute() {
	w := m.window()

	var buy, sell, absImb int64
	for i := range w {
		buy += w[i].buy
		sell += w[i].sell
		absImb += w[i].imbalance()
	}
	total := buy + sell
	if total > 0 {
		m.vpin.Store(absImb * ratioScale / total)
		m.flow.Store((buy - sell) * ratioScale / total)
	}

	m.lambda.Store(int64(math.Round(kyleLambda(w, m.cfg.LambdaCap) * lambdaScale)))
	m.pin.Store(int64(math.Round(pinEstimate(w, m.cfg.InformedThreshold) * ratioScale)))
}

// kyleLambda regresses per-bucket price change on per-bucket signed volume.
func kyleLambda(w []bucket, limit float64) float64 {
	if len(w) < 3 {
		return 0
	}
	n := float64(len(w) - 1)
	var sx, sy float64
	for i := 1; i < len(w); i++ {
		sx += float64(w[i].buy - w[i].sell)
		sy += float64(w[i].lastPrice - w[i-1].lastPrice)
	}
	mx, my := sx/n, sy/n

	var cov, varX float64
	for i := 1; i < len(w); i++ {
		dx := float64(w[i].buy-w[i].sell) - mx
		dy := float64(w[i].lastPrice-w[i-1].lastPrice) - my
		cov += dx * dy
		varX += dx * dx
	}
	if varX < 1e-9 {
		return 0
	}
	return math.Max(-limit, math.Min(limit, cov/varX))
}

// pinEstimate is a moment estimate of PIN = a*mu / (a*mu + 2*eps).
// Buckets whose imbalance ratio exceeds threshold are information events;
// a is their share, mu their mean |buy-sell|. eps is the per-side
// uninformed arrival rate, taken from the remaining buckets.
func pinEstimate(w []bucket, threshold float64) float64 {
	var n, events int
	var informedImb, calmVol, minSide float64
	for i := range w {
		v := w[i].volume()
		if v == 0 {
			continue
		}
		n++
		imb := w[i].imbalance()
		minSide += float64(v-imb) / 2
		if float64(imb)/float64(v) > threshold {
			events++
			informedImb += float64(imb)
		} else {
			calmVol += float64(v)
		}
	}
	if n == 0 || events == 0 {
		return 0
	}

	alpha := float64(events) / float64(n)
	mu := informedImb / float64(events)
	eps := minSide / float64(n)
	if calm := n - events; calm > 0 {
		eps = calmVol / float64(calm) / 2
	}
	den := alpha*mu + 2*eps
	if den == 0 {
		return 0
	}
	return alpha * mu / den
}

// VPIN in [0, 1].
func (m *Microstructure) VPIN() float64 { return float64(m.vpin.Load()) / ratioScale }

// FlowImbalance in [-1, 1]; positive means buyer-initiated volume dominates.
func (m *Microstructure) FlowImbalance() float64 { return float64(m.flow.Load()) / ratioScale }

// KyleLambda is the price impact in ticks per lot of signed volume.
func (m *Microstructure) KyleLambda() float64 { return float64(m.lambda.Load()) / lambdaScale }

// PIN in [0, 1].
func (m *Microstructure) PIN() float64 { return float64(m.pin.Load()) / ratioScale }

// BookImbalance in [-1, 1] from the last ObserveBook call.
func (m *Microstructure) BookImbalance() float64 { return float64(m.book.Load()) / ratioScale }

func (m *Microstructure) Snapshot() Metrics {
	return Metrics{
		VPIN:          m.VPIN(),
		FlowImbalance: m.FlowImbalance(),
		KyleLambda:    m.KyleLambda(),
		PIN:           m.PIN(),
		BookImbalance: m.BookImbalance(),
		Trades:        m.trades.Load(),
		LastPrice:     m.lastPrice.Load(),
	}
}

func (m *Microstructure) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.ring {
		m.ring[i] = bucket{}
	}
	m.head, m.filled = 0, 0
	m.vpin.Store(0)
	m.flow.Store(0)
	m.lambda.Store(0)
	m.pin.Store(0)
	m.book.Store(0)
	m.trades.Store(0)
	m.lastPrice.Store(0)
}
