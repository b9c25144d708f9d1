package spatial

import (
	"container/list"
	"math"
	"sync"
	"time"
)

// evictionFunc is told about every source removed from the queue, after the
// queue lock has been released.
type evictionFunc func(src *Source, reason EvictionReason)

// AdmissionQueue is the FIFO of sources that own a slot. Its length never
// exceeds the slot pool's usable count once a shrink has been applied.
type AdmissionQueue struct {
	mu          sync.Mutex
	order       *list.List
	slots       *SlotPool
	lockTimeout time.Duration
	onEvict     evictionFunc
}

// NewAdmissionQueue creates a queue bounded by slots.
func NewAdmissionQueue(slots *SlotPool, lockTimeout time.Duration) *AdmissionQueue {
	return &AdmissionQueue{
		order:       list.New(),
		slots:       slots,
		lockTimeout: lockTimeout,
	}
}

func (q *AdmissionQueue) setEvictionFunc(fn evictionFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onEvict = fn
}

// TryAdmit appends src if there is a free slot. On success the source's read
// position is moved to its most recent write.
func (q *AdmissionQueue) TryAdmit(src *Source) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if src.admitted.Load() {
		return true
	}
	if src.closing.Load() || q.order.Len() >= q.slots.UsableCount() {
		return false
	}
	if !src.resetForAdmission(q.lockTimeout) {
		return false
	}

	src.elem = q.order.PushBack(src)
	src.admitted.Store(true)
	return true
}

// EvictTail removes the n most recently admitted sources.
func (q *AdmissionQueue) EvictTail(n int) []*Source {
	q.mu.Lock()
	var evicted []*Source
	for ; n > 0 && q.order.Len() > 0; n-- {
		evicted = append(evicted, q.removeLocked(q.order.Back()))
	}
	notify := q.onEvict
	q.mu.Unlock()

	q.notify(notify, evicted, EvictCapacity)
	return evicted
}

// FollowShrinks makes every decrease of the slot pool's usable count evict
// the tail down to the count read under the queue lock. The limit handed to
// the shrink hook can be stale by then.
func (q *AdmissionQueue) FollowShrinks() {
	q.slots.OnShrink(func(int) { q.EvictToUsable() })
}

// EvictToUsable removes sources from the tail until the queue fits the
// current usable count.
func (q *AdmissionQueue) EvictToUsable() []*Source {
	return q.EvictTo(math.MaxInt)
}

// EvictTo removes sources from the tail until the queue holds at most
// limit entries and no more than the current usable count.
func (q *AdmissionQueue) EvictTo(limit int) []*Source {
	q.mu.Lock()
	limit = min(max(limit, 0), q.slots.UsableCount())
	var evicted []*Source
	for q.order.Len() > limit {
		evicted = append(evicted, q.removeLocked(q.order.Back()))
	}
	notify := q.onEvict
	q.mu.Unlock()

	q.notify(notify, evicted, EvictCapacity)
	return evicted
}

// EvictStarved removes src if its empty count is still at or above threshold.
// The count is checked under the source lock so a write that resets it
// cannot land between the check and the removal. A source whose lock is
// busy is kept.
func (q *AdmissionQueue) EvictStarved(src *Source, threshold int) bool {
	q.mu.Lock()
	if !src.admitted.Load() || !src.acquire(q.lockTimeout) {
		q.mu.Unlock()
		return false
	}
	starved := src.EmptyCount() >= threshold
	if starved {
		q.removeLocked(src.elem)
	}
	src.release()
	if !starved {
		q.mu.Unlock()
		return false
	}
	notify := q.onEvict
	q.mu.Unlock()

	q.notify(notify, []*Source{src}, EvictStarved)
	return true
}

// Remove takes src out of the queue during teardown.
func (q *AdmissionQueue) Remove(src *Source) bool {
	q.mu.Lock()
	if !src.admitted.Load() {
		q.mu.Unlock()
		return false
	}
	q.removeLocked(src.elem)
	notify := q.onEvict
	q.mu.Unlock()

	q.notify(notify, []*Source{src}, EvictTeardown)
	return true
}

// Clear evicts every source, used when the renderer connection is lost.
func (q *AdmissionQueue) Clear() []*Source {
	q.mu.Lock()
	evicted := make([]*Source, 0, q.order.Len())
	for q.order.Len() > 0 {
		evicted = append(evicted, q.removeLocked(q.order.Front()))
	}
	notify := q.onEvict
	q.mu.Unlock()

	q.notify(notify, evicted, EvictDisconnect)
	return evicted
}

// Snapshot appends the admitted sources in admission order to dst.
func (q *AdmissionQueue) Snapshot(dst []*Source) []*Source {
	q.mu.Lock()
	defer q.mu.Unlock()

	for e := q.order.Front(); e != nil; e = e.Next() {
		dst = append(dst, e.Value.(*Source))
	}
	return dst
}

// Len returns the number of admitted sources.
func (q *AdmissionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.order.Len()
}

func (q *AdmissionQueue) removeLocked(e *list.Element) *Source {
	src := q.order.Remove(e).(*Source)
	src.elem = nil
	src.admitted.Store(false)
	return src
}

func (q *AdmissionQueue) notify(fn evictionFunc, evicted []*Source, reason EvictionReason) {
	if fn == nil {
		return
	}
	for _, src := range evicted {
		fn(src, reason)
	}
}
