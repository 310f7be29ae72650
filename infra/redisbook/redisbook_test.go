package redisbook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lobcore/service"
)

func setup(t *testing.T) (*miniredis.Miniredis, *Sink) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, New(client, 30*time.Second)
}

func TestPublishAndQuote(t *testing.T) {
	mr, sink := setup(t)
	ctx := context.Background()

	md := service.MarketData{
		Symbol:    "BTC-USD",
		Sequence:  42,
		Timestamp: time.Unix(1_700_000_000, 0),
		BestBid:   100,
		BestAsk:   101,
		HasBid:    true,
		HasAsk:    true,
		BidPx:     "50",
		AskPx:     "50.5",
		Checksum:  7,
		Status:    "open",
		Bids:      []service.PriceLevel{{Price: 100, Px: "50", Qty: 3, Orders: 1}},
	}
	require.NoError(t, sink.Publish(ctx, md))

	q, err := sink.Quote(ctx, "BTC-USD")
	require.NoError(t, err)
	assert.Equal(t, Quote{Sequence: 42, Bid: 100, Ask: 101, HasBid: true, HasAsk: true}, q)

	assert.Equal(t, "50.5", mr.HGet("lob:BTC-USD:bbo", "ask_px"))
	assert.Equal(t, 30*time.Second, mr.TTL("lob:BTC-USD:bbo"))

	raw, err := mr.Get("lob:BTC-USD:depth")
	require.NoError(t, err)
	var depth struct {
		Bids []service.PriceLevel `json:"bids"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw), &depth))
	assert.Equal(t, md.Bids, depth.Bids)

	mr.FastForward(31 * time.Second)
	_, err = sink.Quote(ctx, "BTC-USD")
	assert.True(t, errors.Is(err, redis.Nil))
}

func TestPublishFailsWhenRedisDown(t *testing.T) {
	mr, sink := setup(t)
	mr.Close()
	assert.Error(t, sink.Publish(context.Background(), service.MarketData{Symbol: "X"}))
}
