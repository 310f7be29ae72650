// Package redisbook mirrors the top of each book into Redis so dashboards
// and other services can read BBO without a gRPC round trip.
package redisbook

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"lobcore/service"
)

// Sink writes two keys per symbol:
//
//	lob:<symbol>:bbo    hash of scalar fields
//	lob:<symbol>:depth  JSON depth, expiring after TTL
type Sink struct {
	client redis.Cmdable
	ttl    time.Duration
}

// New accepts a *redis.Client or *redis.ClusterClient.
func New(client redis.Cmdable, ttl time.Duration) *Sink {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Sink{client: client, ttl: ttl}
}

func bboKey(symbol string) string { return "lob:" + symbol + ":bbo" }
func depthKey(symbol string) string { return "lob:" + symbol + ":depth" }

func (s *Sink) Name() string { return "redis" }

func (s *Sink) Publish(ctx context.Context, md service.MarketData) error {
	depth, err := json.Marshal(struct {
		Bids []service.PriceLevel `json:"bids"`
		Asks []service.PriceLevel `json:"asks"`
	}{md.Bids, md.Asks})
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, bboKey(md.Symbol), map[string]any{
			"seq":      md.Sequence,
			"bid":      md.BestBid,
			"ask":      md.BestAsk,
			"has_bid":  md.HasBid,
			"has_ask":  md.HasAsk,
			"bid_px":   md.BidPx,
			"ask_px":   md.AskPx,
			"mid_px":   md.MidPx,
			"checksum": md.Checksum,
			"vpin":     md.VPIN,
			"pin":      md.PIN,
			"lambda":   md.KyleLambda,
			"flow":     md.FlowImbalance,
			"last":     md.LastPrice,
			"status":   md.Status,
			"stale":    md.Stale,
			"updated":  md.Timestamp.UnixNano(),
		})
		p.Expire(ctx, bboKey(md.Symbol), s.ttl)
		p.Set(ctx, depthKey(md.Symbol), depth, s.ttl)
		return nil
	})
	return errors.Wrapf(err, "redis publish %s", md.Symbol)
}

// Quote is the BBO as read back from Redis.
type Quote struct {
	Sequence uint64
	Bid, Ask int64
	HasBid   bool
	HasAsk   bool
	Stale    bool
}

func (s *Sink) Quote(ctx context.Context, symbol string) (Quote, error) {
	vals, err := s.client.HGetAll(ctx, bboKey(symbol)).Result()
	if err != nil {
		return Quote{}, err
	}
	if len(vals) == 0 {
		return Quote{}, errors.Wrap(redis.Nil, symbol)
	}
	var q Quote
	q.Sequence, _ = strconv.ParseUint(vals["seq"], 10, 64)
	q.Bid, _ = strconv.ParseInt(vals["bid"], 10, 64)
	q.Ask, _ = strconv.ParseInt(vals["ask"], 10, 64)
	q.HasBid = vals["has_bid"] == "1"
	q.HasAsk = vals["has_ask"] == "1"
	q.Stale = vals["stale"] == "1"
	return q, nil
}
