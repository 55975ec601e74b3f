// Package pool provides typed object pools for the encode and compress hot
// paths.
//
// Example usage:
//
//	buf := pool.GetBuffer()
//	defer pool.PutBuffer(buf)
//
//	row := pool.GetRow(len(header))
//	defer pool.PutRow(row)
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// Pool is a type-safe wrapper around sync.Pool that resets objects on Put and
// keeps allocation statistics.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		gets      int64
	}
}

// New creates a pool. reset, if not nil, is called before an object is
// returned to the pool.
func New[T any](newFn func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return newFn()
	}
	return p
}

// Get retrieves an object, allocating one when the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	atomic.AddInt64(&p.stats.gets, 1)
	return p.pool.Get().(T)
}

// Put resets obj and returns it to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Discard releases an object checked out with Get without pooling it.
func (p *Pool[T]) Discard(T) {
	atomic.AddInt64(&p.stats.inUse, -1)
}

// Stats returns the number of objects allocated, currently checked out, and
// the total number of Get calls. gets-allocated is the number of reuses.
func (p *Pool[T]) Stats() (allocated, inUse, gets int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.gets)
}

// MaxPooledBuffer is the largest buffer capacity kept for reuse. Larger
// buffers, such as the rendering of one very large group, are left to the
// garbage collector so the pool does not pin them.
const MaxPooledBuffer = 16 << 20

var bufferPool = New(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 64<<10)) },
	func(b *bytes.Buffer) { b.Reset() },
)

// GetBuffer returns an empty buffer.
func GetBuffer() *bytes.Buffer {
	return bufferPool.Get()
}

// PutBuffer returns a buffer to the pool unless it has grown too large.
func PutBuffer(b *bytes.Buffer) {
	switch {
	case b == nil:
	case b.Cap() > MaxPooledBuffer:
		bufferPool.Discard(b)
	default:
		bufferPool.Put(b)
	}
}

// BufferStats reports statistics of the shared buffer pool.
func BufferStats() (allocated, inUse, gets int64) {
	return bufferPool.Stats()
}

// Row is a reusable slice of field values.
type Row struct {
	Values []string
}

var rowPool = New(
	func() *Row { return &Row{Values: make([]string, 0, 16)} },
	func(r *Row) {
		clear(r.Values)
		r.Values = r.Values[:0]
	},
)

// GetRow returns a row of n empty values.
func GetRow(n int) *Row {
	r := rowPool.Get()
	if cap(r.Values) < n {
		r.Values = make([]string, n)
	} else {
		r.Values = r.Values[:n]
	}
	return r
}

// PutRow returns a row obtained from GetRow.
func PutRow(r *Row) {
	if r != nil {
		rowPool.Put(r)
	}
}
