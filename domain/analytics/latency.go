package analytics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Values are tracked in microseconds from 1µs up to one hour with three
// significant digits.
const (
	minTrackable = 1
	maxTrackable = int64(time.Hour / time.Microsecond)
	sigFigs      = 3
)

type LatencySummary struct {
	Count  int64
	Min    time.Duration
	Mean   time.Duration
	P50    time.Duration
	P90    time.Duration
	P99    time.Duration
	P999   time.Duration
	Max    time.Duration
	Clamps uint64
}

// LatencyTracker is a mutex-guarded HDR histogram. Negative samples (clock
// skew between exchange and receiver) are counted and dropped; samples
// above one hour are clamped.
type LatencyTracker struct {
	mu sync.Mutex
	h  *hdrhistogram.Histogram

	negative atomic.Uint64
	clamped  atomic.Uint64
}

func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{h: hdrhistogram.New(minTrackable, maxTrackable, sigFigs)}
}

func (l *LatencyTracker) Record(d time.Duration) {
	if d < 0 {
		l.negative.Add(1)
		return
	}
	us := d.Microseconds()
	if us > maxTrackable {
		us = maxTrackable
		l.clamped.Add(1)
	}

	l.mu.Lock()
	_ = l.h.RecordValue(us)
	l.mu.Unlock()
}

// Quantile returns the latency at q, with q in [0, 100].
func (l *LatencyTracker) Quantile(q float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return micros(l.h.ValueAtQuantile(q))
}

func (l *LatencyTracker) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.h.TotalCount()
}

// Negative is the number of dropped samples with negative latency.
func (l *LatencyTracker) Negative() uint64 { return l.negative.Load() }

func (l *LatencyTracker) Summary() LatencySummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LatencySummary{
		Count:  l.h.TotalCount(),
		Min:    micros(l.h.Min()),
		Mean:   time.Duration(l.h.Mean() * float64(time.Microsecond)),
		P50:    micros(l.h.ValueAtQuantile(50)),
		P90:    micros(l.h.ValueAtQuantile(90)),
		P99:    micros(l.h.ValueAtQuantile(99)),
		P999:   micros(l.h.ValueAtQuantile(99.9)),
		Max:    micros(l.h.Max()),
		Clamps: l.clamped.Load(),
	}
}

func (l *LatencyTracker) Reset() {
	l.mu.Lock()
	l.h.Reset()
	l.mu.Unlock()
	l.negative.Store(0)
	l.clamped.Store(0)
}

func micros(v int64) time.Duration {
	return time.Duration(v) * time.Microsecond
}
