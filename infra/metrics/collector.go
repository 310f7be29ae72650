// Package metrics exports per-symbol book, sequencing, analytics and
// latency state to Prometheus. Values are read at scrape time.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"lobcore/domain/analytics"
	"lobcore/service"
)

const namespace = "lobcore"

type counterDesc struct {
	desc *prometheus.Desc
	get  func(service.Stats) uint64
}

// Collector reads a BookService on every scrape.
type Collector struct {
	svc *service.BookService

	counters []counterDesc

	lastSeq    *prometheus.Desc
	bufferLen  *prometheus.Desc
	recovery   *prometheus.Desc
	stale      *prometheus.Desc
	bestBid    *prometheus.Desc
	bestAsk    *prometheus.Desc
	levels     *prometheus.Desc
	volume     *prometheus.Desc
	checksum   *prometheus.Desc
	crossed    *prometheus.Desc
	vpin       *prometheus.Desc
	flow       *prometheus.Desc
	lambda     *prometheus.Desc
	pin        *prometheus.Desc
	feedLat    *prometheus.Desc
	applyLat   *prometheus.Desc
	rejected   *prometheus.Desc
	recDropped *prometheus.Desc
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

func NewCollector(svc *service.BookService) *Collector {
	c := &Collector{
		svc:        svc,
		lastSeq:    desc("last_sequence", "Last applied feed sequence.", "symbol"),
		bufferLen:  desc("buffered_events", "Events waiting in the out-of-order buffer.", "symbol"),
		recovery:   desc("recovery_needed", "1 while a snapshot recovery is outstanding.", "symbol"),
		stale:      desc("stale", "1 while the book refuses events until resynchronized.", "symbol"),
		bestBid:    desc("best_bid_ticks", "Best bid price in ticks.", "symbol"),
		bestAsk:    desc("best_ask_ticks", "Best ask price in ticks.", "symbol"),
		levels:     desc("price_levels", "Populated price levels.", "symbol", "side"),
		volume:     desc("resting_volume", "Total resting quantity.", "symbol", "side"),
		checksum:   desc("checksum", "Current top-of-book checksum.", "symbol"),
		crossed:    desc("crossed_total", "Times the book became crossed.", "symbol"),
		vpin:       desc("vpin", "Volume-synchronized probability of informed trading.", "symbol"),
		flow:       desc("flow_imbalance", "Signed trade flow imbalance.", "symbol"),
		lambda:     desc("kyle_lambda", "Price impact per unit signed volume.", "symbol"),
		pin:        desc("pin", "Probability of informed trading.", "symbol"),
		feedLat:    desc("feed_latency_seconds", "Exchange to local receive latency.", "symbol"),
		applyLat:   desc("apply_latency_seconds", "Time spent processing one event.", "symbol"),
		rejected:   desc("service_rejected_total", "Events refused by the book service."),
		recDropped: desc("service_recovery_dropped_total", "Recovery requests dropped on a full queue."),
	}

	counter := func(name, help string, get func(service.Stats) uint64) {
		c.counters = append(c.counters, counterDesc{desc(name+"_total", help, "symbol"), get})
	}
	counter("events_received", "Events received.", func(s service.Stats) uint64 { return s.Received })
	counter("events_applied", "Sequenced events applied.", func(s service.Stats) uint64 { return s.Applied })
	counter("events_duplicate", "Stale or duplicate events dropped.", func(s service.Stats) uint64 { return s.Duplicates })
	counter("events_buffered", "Events buffered ahead of a gap.", func(s service.Stats) uint64 { return s.Buffered })
	counter("events_evicted", "Buffered events evicted at capacity.", func(s service.Stats) uint64 { return s.Evicted })
	counter("sequence_gaps", "Out-of-order arrivals.", func(s service.Stats) uint64 { return s.GapEvents })
	counter("recovery_requests", "Snapshot recoveries requested.", func(s service.Stats) uint64 { return s.RecoveryRequests })
	counter("checksum_failures", "Snapshot checksum mismatches.", func(s service.Stats) uint64 { return s.ChecksumFailures })
	counter("sequence_errors", "Deltas that did not follow the last sequence.", func(s service.Stats) uint64 { return s.SequenceErrors })
	counter("orders_rejected", "Order events the book refused.", func(s service.Stats) uint64 { return s.Rejected })
	counter("checkpoints", "Checkpoints captured.", func(s service.Stats) uint64 { return s.Checkpoints })
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, cd := range c.counters {
		ch <- cd.desc
	}
	for _, d := range []*prometheus.Desc{
		c.lastSeq, c.bufferLen, c.recovery, c.stale, c.bestBid, c.bestAsk,
		c.levels, c.volume, c.checksum, c.crossed, c.vpin, c.flow, c.lambda,
		c.pin, c.feedLat, c.applyLat, c.rejected, c.recDropped,
	} {
		ch <- d
	}
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(c.svc.Rejected()))
	ch <- prometheus.MustNewConstMetric(c.recDropped, prometheus.CounterValue, float64(c.svc.DroppedRecoveries()))

	for _, sym := range c.svc.Symbols() {
		e, ok := c.svc.Engine(sym)
		if !ok {
			continue
		}
		st := e.Stats()
		for _, cd := range c.counters {
			ch <- prometheus.MustNewConstMetric(cd.desc, prometheus.CounterValue, float64(cd.get(st)), sym)
		}

		gauge := func(d *prometheus.Desc, v float64, labels ...string) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, append([]string{sym}, labels...)...)
		}
		gauge(c.lastSeq, float64(st.LastSequence))
		gauge(c.bufferLen, float64(st.BufferLen))
		gauge(c.recovery, boolValue(st.RecoveryNeeded))
		gauge(c.stale, boolValue(c.svc.Stale(sym)))

		book := e.Book()
		bbo := book.BBO()
		if bbo.HasBid {
			gauge(c.bestBid, float64(bbo.Bid))
		}
		if bbo.HasAsk {
			gauge(c.bestAsk, float64(bbo.Ask))
		}
		nb, na := book.Levels()
		gauge(c.levels, float64(nb), "bid")
		gauge(c.levels, float64(na), "ask")
		gauge(c.volume, float64(book.BidVolume()), "bid")
		gauge(c.volume, float64(book.AskVolume()), "ask")
		gauge(c.checksum, float64(book.Checksum()))
		ch <- prometheus.MustNewConstMetric(c.crossed, prometheus.CounterValue, float64(book.CrossedCount()), sym)

		if a := e.Analytics(); a != nil {
			m := a.Snapshot()
			gauge(c.vpin, m.VPIN)
			gauge(c.flow, m.FlowImbalance)
			gauge(c.lambda, m.KyleLambda)
			gauge(c.pin, m.PIN)
		}

		ch <- summary(c.feedLat, e.FeedLatency().Summary(), sym)
		ch <- summary(c.applyLat, e.ApplyLatency().Summary(), sym)
	}
}

func summary(d *prometheus.Desc, s analytics.LatencySummary, sym string) prometheus.Metric {
	return prometheus.MustNewConstSummary(d,
		uint64(s.Count),
		s.Mean.Seconds()*float64(s.Count),
		map[float64]float64{
			0.5:   s.P50.Seconds(),
			0.9:   s.P90.Seconds(),
			0.99:  s.P99.Seconds(),
			0.999: s.P999.Seconds(),
		},
		sym,
	)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
