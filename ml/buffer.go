package ml

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"gorgonia.org/tensor"
)

// ErrReleased is returned when a buffer is released, or read, after it was already released.
var ErrReleased = errors.New("tensor buffer already released")

// maxFreePerSize bounds how many idle backings of one length the pool keeps around.
const maxFreePerSize = 4

// Pool hands out float32 tensor buffers and takes their backings back on release. It counts every
// buffer it creates and every buffer released, so a caller can verify that nothing outlives the
// scope it was created in.
type Pool struct {
	mu   sync.Mutex
	free map[int][][]float32

	created  atomic.Int64
	released atomic.Int64
}

// NewPool returns an empty pool.
func NewPool() *Pool {
	return &Pool{free: map[int][][]float32{}}
}

// Get returns a zeroed buffer of the given shape.
func (p *Pool) Get(shape ...int) (*Buffer, error) {
	size := ShapeSize(shape)
	if size <= 0 {
		return nil, errors.Errorf("invalid tensor shape %v", shape)
	}
	data := p.takeBacking(size)
	return p.newBuffer(data, shape), nil
}

// Wrap takes ownership of data produced elsewhere (e.g. copied out of a backend) and tracks it
// like any other buffer from this pool.
func (p *Pool) Wrap(data []float32, shape ...int) (*Buffer, error) {
	if size := ShapeSize(shape); size != len(data) || size == 0 {
		return nil, errors.Errorf("cannot wrap %d values as shape %v", len(data), shape)
	}
	return p.newBuffer(data, shape), nil
}

// Created returns how many buffers this pool has handed out.
func (p *Pool) Created() int64 {
	return p.created.Load()
}

// Released returns how many buffers from this pool have been released.
func (p *Pool) Released() int64 {
	return p.released.Load()
}

// Outstanding returns how many buffers are still live.
func (p *Pool) Outstanding() int64 {
	return p.created.Load() - p.released.Load()
}

func (p *Pool) newBuffer(data []float32, shape []int) *Buffer {
	p.created.Inc()
	dims := append([]int(nil), shape...)
	return &Buffer{
		pool:  p,
		data:  data,
		dense: tensor.New(tensor.WithShape(dims...), tensor.WithBacking(data)),
	}
}

func (p *Pool) takeBacking(size int) []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	backings := p.free[size]
	if n := len(backings); n > 0 {
		data := backings[n-1]
		p.free[size] = backings[:n-1]
		clear(data)
		return data
	}
	return make([]float32, size)
}

func (p *Pool) putBacking(data []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free[len(data)]) >= maxFreePerSize {
		return
	}
	p.free[len(data)] = append(p.free[len(data)], data)
}

// Buffer is a float32 tensor owned by exactly one pipeline cycle. It must be released exactly once.
type Buffer struct {
	pool     *Pool
	data     []float32
	dense    *tensor.Dense
	released atomic.Bool
}

// Data returns the flat backing slice in row-major order. It is nil after release.
func (b *Buffer) Data() []float32 {
	if b.released.Load() {
		return nil
	}
	return b.data
}

// Shape returns a copy of the buffer's shape.
func (b *Buffer) Shape() []int {
	return append([]int(nil), b.dense.Shape()...)
}

// Tensor exposes the buffer as a gorgonia dense tensor sharing the same backing.
func (b *Buffer) Tensor() (*tensor.Dense, error) {
	if b.released.Load() {
		return nil, ErrReleased
	}
	return b.dense, nil
}

// Released reports whether Release has been called.
func (b *Buffer) Released() bool {
	return b.released.Load()
}

// Release returns the backing to the pool. Releasing twice returns ErrReleased and does nothing.
func (b *Buffer) Release() error {
	if !b.released.CompareAndSwap(false, true) {
		return ErrReleased
	}
	b.pool.released.Inc()
	b.pool.putBacking(b.data)
	return nil
}
