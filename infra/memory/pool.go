package memory

import "sync"

// Pool is a typed wrapper over sync.Pool.
type Pool[T any] struct {
	p     *sync.Pool
	reset func(*T)
}

// NewPool builds a pool. reset, when set, runs on every Put so pooled
// values never leak state between users.
func NewPool[T any](ctor func() *T, reset func(*T)) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
		reset: reset,
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}
	p.p.Put(v)
}

// Buffers is a pool of byte slices with a starting capacity of size.
// Slices that grew beyond max are dropped instead of being retained.
type Buffers struct {
	pool *Pool[[]byte]
	max  int
}

func NewBuffers(size, max int) *Buffers {
	return &Buffers{
		pool: NewPool(
			func() *[]byte { b := make([]byte, 0, size); return &b },
			func(b *[]byte) { *b = (*b)[:0] },
		),
		max: max,
	}
}

func (b *Buffers) Get() *[]byte { return b.pool.Get() }

func (b *Buffers) Put(buf *[]byte) {
	if buf == nil || cap(*buf) > b.max {
		return
	}
	b.pool.Put(buf)
}
