// Package pool provides typed object pools with usage statistics.
//
// Example usage:
//
//	buf := pool.Values.Get(len(schema))
//	defer pool.Values.Put(buf)
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/ajitpratap0/quarry/pkg/types"
)

// Pool is a typed wrapper around sync.Pool. It is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated atomic.Int64
		inUse     atomic.Int64
		gets      atomic.Int64
	}
}

// New creates a pool. reset, when non-nil, runs before an object is
// returned to the pool.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		p.stats.allocated.Add(1)
		return newFn()
	}
	return p
}

// Get takes an object from the pool, allocating one if it is empty.
func (p *Pool[T]) Get() T {
	p.stats.inUse.Add(1)
	p.stats.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns obj to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	p.stats.inUse.Add(-1)
	p.pool.Put(obj)
}

// Stats returns the number of objects allocated, currently checked out,
// and handed out in total.
func (p *Pool[T]) Stats() (allocated, inUse, gets int64) {
	return p.stats.allocated.Load(), p.stats.inUse.Load(), p.stats.gets.Load()
}

// ValuePool hands out row scan buffers of a requested width.
type ValuePool struct {
	p *Pool[*[]types.Value]
}

// NewValuePool creates an empty ValuePool.
func NewValuePool() *ValuePool {
	return &ValuePool{p: New(
		func() *[]types.Value {
			s := make([]types.Value, 0, 16)
			return &s
		},
		func(s *[]types.Value) {
			clear(*s)
			*s = (*s)[:0]
		},
	)}
}

// Get returns a zeroed buffer of length n.
func (v *ValuePool) Get(n int) []types.Value {
	s := v.p.Get()
	if cap(*s) < n {
		*s = make([]types.Value, n)
	}
	return (*s)[:n]
}

// Put returns buf to the pool. buf must not be used afterwards.
func (v *ValuePool) Put(buf []types.Value) {
	v.p.Put(&buf)
}

// Stats reports the statistics of the underlying pool.
func (v *ValuePool) Stats() (allocated, inUse, gets int64) { return v.p.Stats() }

// Values is the process-wide scan buffer pool.
var Values = NewValuePool()
