package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyQuantiles(t *testing.T) {
	l := NewLatencyTracker()
	for i := 1; i <= 1000; i++ {
		l.Record(time.Duration(i) * time.Microsecond)
	}

	s := l.Summary()
	assert.EqualValues(t, 1000, s.Count)
	assert.Equal(t, time.Microsecond, s.Min)
	assert.InDelta(t, float64(500*time.Microsecond), float64(s.P50), float64(time.Microsecond))
	assert.InDelta(t, float64(990*time.Microsecond), float64(s.P99), float64(2*time.Microsecond))
	assert.InDelta(t, float64(1000*time.Microsecond), float64(s.Max), float64(2*time.Microsecond))
}

func TestLatencyNegativeAndClamp(t *testing.T) {
	l := NewLatencyTracker()
	l.Record(-time.Millisecond)
	l.Record(3 * time.Hour)

	assert.EqualValues(t, 1, l.Negative())
	assert.EqualValues(t, 1, l.Count())
	s := l.Summary()
	assert.EqualValues(t, 1, s.Clamps)
	assert.InDelta(t, float64(time.Hour), float64(s.Max), float64(time.Hour)/500)

	l.Reset()
	assert.Zero(t, l.Count())
	assert.Zero(t, l.Negative())
}

func BenchmarkLatencyRecord(b *testing.B) {
	l := NewLatencyTracker()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Record(time.Duration(i%5000) * time.Microsecond)
	}
}
