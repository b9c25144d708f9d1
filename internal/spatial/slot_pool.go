package spatial

import (
	"sync"
	"sync/atomic"

	"github.com/spatialpump/spatialpump/internal/errors"
)

// SlotPool tracks the render slots of the connected stream. The usable count
// is written from the renderer's capacity callback and read lock-free; the
// handles are only touched by the pump worker.
type SlotPool struct {
	maxSlots int // configured bound, 0 means whatever the stream offers

	usable atomic.Int64
	limit  atomic.Int64

	onShrink atomic.Pointer[func(limit int)]

	mu       sync.Mutex
	provider SlotProvider
	handles  []SlotHandle
	acquired atomic.Uint64
}

// NewSlotPool creates a pool bounded by maxSlots. Zero leaves the bound to the stream.
func NewSlotPool(maxSlots int) *SlotPool {
	return &SlotPool{maxSlots: max(maxSlots, 0)}
}

// OnShrink installs the hook invoked after the usable count decreases.
func (p *SlotPool) OnShrink(fn func(limit int)) {
	p.onShrink.Store(&fn)
}

// UsableCount returns the current number of usable slots.
func (p *SlotPool) UsableCount() int {
	return int(p.usable.Load())
}

// MaxSlots returns the effective upper bound for the bound stream.
func (p *SlotPool) MaxSlots() int {
	return int(p.limit.Load())
}

// SetUsableCount clamps n to [0, MaxSlots] and stores it, returning the
// previous value. A decrease triggers the shrink hook.
func (p *SlotPool) SetUsableCount(n int) int {
	prev, _ := p.setUsable(n)
	return prev
}

func (p *SlotPool) setUsable(n int) (prev, now int) {
	now = min(max(n, 0), p.MaxSlots())
	prev = int(p.usable.Swap(int64(now)))
	if now < prev {
		if fn := p.onShrink.Load(); fn != nil && *fn != nil {
			(*fn)(now)
		}
	}
	return prev, now
}

// Bind attaches the pool to a new stream offering at most streamMax slots.
// Handles from a previous stream are dropped.
func (p *SlotPool) Bind(provider SlotProvider, streamMax int) {
	limit := max(streamMax, 0)
	if p.maxSlots > 0 {
		limit = min(limit, p.maxSlots)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.provider = provider
	p.handles = make([]SlotHandle, limit)
	p.limit.Store(int64(limit))
}

// Reset unbinds the stream and drops the usable count to zero without
// running the shrink hook. It returns the previous usable count.
func (p *SlotPool) Reset() int {
	prev := int(p.usable.Swap(0))
	p.limit.Store(0)

	p.mu.Lock()
	defer p.mu.Unlock()

	p.provider = nil
	p.handles = nil
	return prev
}

// AcquireSlot returns the handle for slot index, allocating it on first use
// and reallocating it when the renderer reports it inactive.
func (p *SlotPool) AcquireSlot(index int) (SlotHandle, error) {
	if index < 0 || index >= p.UsableCount() {
		return nil, ErrSlotUnavailable
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.provider == nil || index >= len(p.handles) {
		return nil, ErrSlotUnavailable
	}

	h := p.handles[index]
	if h != nil && p.provider.IsActive(h) {
		return h, nil
	}

	h, err := p.provider.Acquire()
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentSpatial).
			Category(errors.CategorySlot).
			Context("slot_index", index).
			Context("operation", "acquire_slot").
			Build()
	}
	p.handles[index] = h
	p.acquired.Add(1)
	return h, nil
}

// Acquisitions counts slots allocated from the renderer since creation.
func (p *SlotPool) Acquisitions() uint64 {
	return p.acquired.Load()
}
