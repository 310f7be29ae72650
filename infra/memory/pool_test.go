package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuffersResetOnPut(t *testing.T) {
	bufs := NewBuffers(16, 64)
	b := bufs.Get()
	*b = append(*b, "hello"...)
	bufs.Put(b)

	got := bufs.Get()
	assert.Empty(t, *got)
	assert.GreaterOrEqual(t, cap(*got), 16)
}

func TestBuffersDropOversized(t *testing.T) {
	bufs := NewBuffers(4, 8)
	b := bufs.Get()
	*b = append(*b, make([]byte, 100)...)
	bufs.Put(b)

	assert.LessOrEqual(t, cap(*bufs.Get()), 8)
}

func TestPoolRunsReset(t *testing.T) {
	type obj struct{ n int }
	resets := 0
	p := NewPool(func() *obj { return &obj{} }, func(o *obj) { o.n = 0; resets++ })

	o := p.Get()
	o.n = 42
	p.Put(o)
	p.Put(nil)
	assert.Equal(t, 1, resets)
}
