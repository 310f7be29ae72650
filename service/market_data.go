package service

import (
	"time"

	"github.com/shopspring/decimal"

	"lobcore/domain/orderbook"
)

// PriceLevel is one depth row with its price rendered in quote units.
type PriceLevel struct {
	Price  int64  `json:"price"`
	Px     string `json:"px"`
	Qty    int64  `json:"qty"`
	Orders int64  `json:"orders"`
}

// MarketData is the published top-of-book view of one symbol.
type MarketData struct {
	V         int       `json:"v"`
	Symbol    string    `json:"symbol"`
	Session   string    `json:"session"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"ts"`

	BestBid int64  `json:"best_bid"`
	BestAsk int64  `json:"best_ask"`
	HasBid  bool   `json:"has_bid"`
	HasAsk  bool   `json:"has_ask"`
	BidPx   string `json:"bid_px,omitempty"`
	AskPx   string `json:"ask_px,omitempty"`
	Spread  int64  `json:"spread"`
	MidPx   string `json:"mid_px,omitempty"`

	Bids     []PriceLevel `json:"bids"`
	Asks     []PriceLevel `json:"asks"`
	Checksum uint32       `json:"checksum"`
	Crossed  bool         `json:"crossed"`

	VPIN          float64 `json:"vpin"`
	FlowImbalance float64 `json:"flow_imbalance"`
	KyleLambda    float64 `json:"kyle_lambda"`
	PIN           float64 `json:"pin"`
	BookImbalance float64 `json:"book_imbalance"`

	LastPrice      int64  `json:"last_price"`
	Status         string `json:"status"`
	RecoveryNeeded bool   `json:"recovery_needed"`
	Stale          bool   `json:"stale"`
}

// MarketData builds the view of symbol with depth levels per side
// (all levels when depth <= 0).
func (s *BookService) MarketData(symbol string, depth int) (MarketData, error) {
	s.mu.RLock()
	sb, ok := s.books[symbol]
	s.mu.RUnlock()
	if !ok {
		return MarketData{}, ErrUnknownSymbol
	}

	e := sb.engine
	book := e.Book()
	bbo := book.BBO()
	bids, asks := book.Depth(depth)

	md := MarketData{
		V:              1,
		Symbol:         symbol,
		Session:        e.Session().String(),
		Sequence:       e.LastSequence(),
		Timestamp:      time.Now().UTC(),
		BestBid:        bbo.Bid,
		BestAsk:        bbo.Ask,
		HasBid:         bbo.HasBid,
		HasAsk:         bbo.HasAsk,
		Bids:           s.levels(bids),
		Asks:           s.levels(asks),
		Checksum:       book.Checksum(),
		Crossed:        book.IsCrossed(),
		LastPrice:      e.LastPrice(),
		Status:         e.MarketStatus().String(),
		RecoveryNeeded: e.RecoveryNeeded(),
		Stale:          sb.stale.Load(),
	}
	if bbo.HasBid {
		md.BidPx = s.Px(bbo.Bid).String()
	}
	if bbo.HasAsk {
		md.AskPx = s.Px(bbo.Ask).String()
	}
	if spread, ok := book.Spread(); ok {
		md.Spread = spread
		md.MidPx = s.Px(bbo.Bid).Add(decimal.NewFromInt(spread).Mul(s.cfg.TickSize).Div(decimal.NewFromInt(2))).String()
	}

	if a := e.Analytics(); a != nil {
		a.ObserveBook(bids, asks)
		m := a.Snapshot()
		md.VPIN = m.VPIN
		md.FlowImbalance = m.FlowImbalance
		md.KyleLambda = m.KyleLambda
		md.PIN = m.PIN
		md.BookImbalance = m.BookImbalance
	}
	return md, nil
}

func (s *BookService) levels(in []orderbook.Level) []PriceLevel {
	out := make([]PriceLevel, len(in))
	for i, l := range in {
		out[i] = PriceLevel{Price: l.Price, Px: s.Px(l.Price).String(), Qty: l.Qty, Orders: l.Orders}
	}
	return out
}

// Px converts integer ticks to a quote price.
func (s *BookService) Px(ticks int64) decimal.Decimal {
	return decimal.NewFromInt(ticks).Mul(s.cfg.TickSize)
}
