package spatial

import (
	"sync"
	"sync/atomic"

	"github.com/spatialpump/spatialpump/internal/errors"
)

// ringBuffers is the backing storage of one Source: samples plus the
// parallel position rings, all of the same length.
type ringBuffers struct {
	samples []float32
	xs      []float32
	ys      []float32
	zs      []float32
}

func (rb *ringBuffers) size() int {
	if rb == nil {
		return 0
	}
	return len(rb.samples)
}

// SourcePool recycles ring buffers of destroyed sources. Buffers only go back
// to the pool once no worker read can still be in flight on them.
type SourcePool struct {
	pool      sync.Pool
	size      int
	gets      atomic.Uint64
	news      atomic.Uint64
	discarded atomic.Uint64
}

// SourcePoolStats contains statistics about pool usage
type SourcePoolStats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Discarded uint64 `json:"discarded"`
}

// NewSourcePool creates a pool for rings of the given capacity in samples.
func NewSourcePool(capacity int) (*SourcePool, error) {
	if capacity <= 0 {
		return nil, errors.Newf("invalid source buffer capacity: %d", capacity).
			Component(ComponentSpatial).
			Category(errors.CategoryValidation).
			Context("operation", "create_source_pool").
			Build()
	}

	sp := &SourcePool{size: capacity}
	sp.pool = sync.Pool{
		New: func() any {
			sp.news.Add(1)
			return &ringBuffers{
				samples: make([]float32, capacity),
				xs:      make([]float32, capacity),
				ys:      make([]float32, capacity),
				zs:      make([]float32, capacity),
			}
		},
	}

	return sp, nil
}

// get returns zeroed buffers, allocating when the pool is empty.
func (sp *SourcePool) get() *ringBuffers {
	sp.gets.Add(1)
	rb, ok := sp.pool.Get().(*ringBuffers)
	if !ok {
		sp.news.Add(1)
		return &ringBuffers{
			samples: make([]float32, sp.size),
			xs:      make([]float32, sp.size),
			ys:      make([]float32, sp.size),
			zs:      make([]float32, sp.size),
		}
	}
	clear(rb.samples)
	clear(rb.xs)
	clear(rb.ys)
	clear(rb.zs)
	return rb
}

// put returns buffers to the pool. Wrong-sized or nil buffers are dropped.
func (sp *SourcePool) put(rb *ringBuffers) {
	if rb.size() != sp.size {
		sp.discarded.Add(1)
		return
	}
	sp.pool.Put(rb)
}

// Capacity is the ring size in samples.
func (sp *SourcePool) Capacity() int {
	return sp.size
}

// Stats returns current pool statistics
func (sp *SourcePool) Stats() SourcePoolStats {
	gets := sp.gets.Load()
	news := sp.news.Load()
	hits := uint64(0)
	if gets > news {
		hits = gets - news
	}
	return SourcePoolStats{
		Hits:      hits,
		Misses:    news,
		Discarded: sp.discarded.Load(),
	}
}
