package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStampKeepsProducerTime(t *testing.T) {
	ev := &TradeEvent{Header: Header{Sequence: 1, ExchangeTime: 100}}
	Stamp(ev, 250)
	lat, ok := ev.FeedLatency()
	assert.True(t, ok)
	assert.EqualValues(t, 150, lat)

	Stamp(ev, 900)
	assert.EqualValues(t, 250, ev.LocalTime)

	_, ok = (&OrderEvent{}).FeedLatency()
	assert.False(t, ok)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "delta", KindDelta.String())
	assert.Equal(t, "kind(99)", Kind(99).String())
}
