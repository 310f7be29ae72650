package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lobcore/domain/orderbook"
)

const sec = int64(time.Second)

func TestVPINBalancedFlowIsZero(t *testing.T) {
	m := NewMicrostructure(DefaultConfig())
	for i := int64(0); i < 10; i++ {
		m.OnTrade(100, 5, orderbook.Bid, i*sec)
		m.OnTrade(100, 5, orderbook.Ask, i*sec+1)
	}
	assert.Zero(t, m.VPIN())
	assert.Zero(t, m.FlowImbalance())
	assert.Zero(t, m.PIN())
	assert.EqualValues(t, 20, m.Snapshot().Trades)
}

func TestVPINOneSidedFlowIsOne(t *testing.T) {
	m := NewMicrostructure(DefaultConfig())
	for i := int64(0); i < 5; i++ {
		m.OnTrade(100+i, 10, orderbook.Bid, i*sec)
	}
	assert.InDelta(t, 1.0, m.VPIN(), 1e-9)
	assert.InDelta(t, 1.0, m.FlowImbalance(), 1e-9)
	assert.InDelta(t, 1.0, m.PIN(), 1e-9)
	assert.EqualValues(t, 104, m.Snapshot().LastPrice)
}

func TestVPINMixedBuckets(t *testing.T) {
	m := NewMicrostructure(DefaultConfig())
	// bucket 0: 30 buy / 10 sell, bucket 1: 10 buy / 10 sell
	m.OnTrade(100, 30, orderbook.Bid, 0)
	m.OnTrade(100, 10, orderbook.Ask, 1)
	m.OnTrade(100, 10, orderbook.Bid, sec)
	m.OnTrade(100, 10, orderbook.Ask, sec+1)

	assert.InDelta(t, 20.0/60.0, m.VPIN(), 1e-4)
	assert.InDelta(t, 20.0/60.0, m.FlowImbalance(), 1e-4)
}

func TestPINMixedInformedAndCalmBuckets(t *testing.T) {
	m := NewMicrostructure(DefaultConfig())
	// informed: 40/0 and 25/5; calm: 10/10 and 6/6
	m.OnTrade(100, 40, orderbook.Bid, 0)
	m.OnTrade(100, 10, orderbook.Bid, sec)
	m.OnTrade(100, 10, orderbook.Ask, sec+1)
	m.OnTrade(100, 25, orderbook.Bid, 2*sec)
	m.OnTrade(100, 5, orderbook.Ask, 2*sec+1)
	m.OnTrade(100, 6, orderbook.Bid, 3*sec)
	m.OnTrade(100, 6, orderbook.Ask, 3*sec+1)

	// a = 2/4, mu = (40+20)/2, eps = (20+12)/2/2
	a, mu, eps := 0.5, 30.0, 8.0
	assert.InDelta(t, a*mu/(a*mu+2*eps), m.PIN(), 1e-4)
}

func TestPINEstimate(t *testing.T) {
	tests := []struct {
		name    string
		buckets []bucket
		want    float64
	}{
		{"empty", nil, 0},
		{"no information events", []bucket{{buy: 10, sell: 10}, {buy: 6, sell: 4}}, 0},
		// ratio exactly at the threshold is calm
		{"threshold is calm", []bucket{{buy: 30, sell: 10}}, 0},
		// no calm bucket: eps is the mean matched volume per side
		{"all informed", []bucket{{buy: 40, sell: 10}}, 30.0 / (30.0 + 2*10.0)},
		{"idle buckets skipped", []bucket{{buy: 40}, {}, {buy: 10, sell: 10}}, 0.5 * 40 / (0.5*40 + 2*10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, pinEstimate(tt.buckets, 0.5), 1e-9)
		})
	}
}

func TestKyleLambdaPositiveImpact(t *testing.T) {
	m := NewMicrostructure(DefaultConfig())
	price := int64(1000)
	for i := int64(0); i < 20; i++ {
		qty := int64(1 + i%4)
		side := orderbook.Bid
		if i%3 == 0 {
			side = orderbook.Ask
		}
		signed := qty
		if side == orderbook.Ask {
			signed = -qty
		}
		price += 2 * signed
		m.OnTrade(price, qty, side, i*sec)
	}
	assert.InDelta(t, 2.0, m.KyleLambda(), 1e-6)
}

func TestKyleLambdaCappedWithoutVariance(t *testing.T) {
	m := NewMicrostructure(Config{LambdaCap: 5})
	m.OnTrade(100, 1, orderbook.Bid, 0)
	m.OnTrade(100, 1, orderbook.Bid, sec)
	m.OnTrade(100, 1, orderbook.Bid, 2*sec)
	assert.Zero(t, m.KyleLambda(), "constant signed volume has no variance")

	m = NewMicrostructure(Config{LambdaCap: 5})
	m.OnTrade(100, 1, orderbook.Bid, 0)
	m.OnTrade(100, 1, orderbook.Bid, sec)
	m.OnTrade(5000, 2, orderbook.Bid, 2*sec)
	assert.InDelta(t, 5.0, m.KyleLambda(), 1e-9)
}

func TestRingRollsOverIdleGap(t *testing.T) {
	m := NewMicrostructure(Config{Buckets: 4})
	m.OnTrade(100, 50, orderbook.Bid, 0)
	// a day later the old bucket is out of the window
	m.OnTrade(100, 5, orderbook.Bid, 86400*sec)
	m.OnTrade(100, 5, orderbook.Ask, 86400*sec+1)
	assert.Zero(t, m.VPIN())
}

func TestOutOfOrderTradeChargedToCurrentBucket(t *testing.T) {
	m := NewMicrostructure(DefaultConfig())
	m.OnTrade(100, 5, orderbook.Bid, 10*sec)
	m.OnTrade(100, 5, orderbook.Ask, 3*sec)
	assert.Zero(t, m.VPIN())
}

func TestBookImbalance(t *testing.T) {
	m := NewMicrostructure(DefaultConfig())
	m.ObserveBook(
		[]orderbook.Level{{Price: 100, Qty: 30}, {Price: 99, Qty: 10}},
		[]orderbook.Level{{Price: 101, Qty: 10}},
	)
	assert.InDelta(t, 0.6, m.BookImbalance(), 1e-9)

	m.ObserveBook(nil, nil)
	assert.Zero(t, m.BookImbalance())
}

func TestIgnoresInvalidTrades(t *testing.T) {
	m := NewMicrostructure(DefaultConfig())
	m.OnTrade(0, 5, orderbook.Bid, 0)
	m.OnTrade(100, 0, orderbook.Bid, 0)
	assert.Zero(t, m.Snapshot().Trades)
}

func TestReset(t *testing.T) {
	m := NewMicrostructure(DefaultConfig())
	m.OnTrade(100, 5, orderbook.Bid, 0)
	m.Reset()
	assert.Equal(t, Metrics{}, m.Snapshot())
}
