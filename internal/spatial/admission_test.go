package spatial

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBoundPool(t *testing.T, maxSlots, usable int) (*SlotPool, *fakeStream) {
	t.Helper()
	s := newFakeStream(maxSlots, usable, DefaultQuantum)
	p := NewSlotPool(0)
	p.Bind(s, maxSlots)
	p.SetUsableCount(usable)
	return p, s
}

func ids(srcs []*Source) []string {
	out := make([]string, len(srcs))
	for i, s := range srcs {
		out[i] = s.ID()
	}
	return out
}

func TestSlotPoolClampsAndShrinks(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 4, 0)
	var shrinks []int
	p.OnShrink(func(limit int) { shrinks = append(shrinks, limit) })

	assert.Equal(t, 0, p.SetUsableCount(10))
	assert.Equal(t, 4, p.UsableCount(), "clamped to the stream maximum")

	assert.Equal(t, 4, p.SetUsableCount(-3))
	assert.Equal(t, 0, p.UsableCount())
	p.SetUsableCount(2)

	assert.Equal(t, []int{0}, shrinks, "only decreases run the hook")

	assert.Equal(t, 2, p.Reset())
	assert.Equal(t, 0, p.UsableCount())
	assert.Equal(t, 0, p.MaxSlots())
	assert.Equal(t, []int{0}, shrinks, "reset does not run the hook")
}

func TestSlotPoolConfiguredMax(t *testing.T) {
	t.Parallel()

	p := NewSlotPool(2)
	p.Bind(newFakeStream(8, 8, DefaultQuantum), 8)
	p.SetUsableCount(8)
	assert.Equal(t, 2, p.MaxSlots())
	assert.Equal(t, 2, p.UsableCount())
}

func TestSlotPoolAcquireSlot(t *testing.T) {
	t.Parallel()

	p, s := newBoundPool(t, 3, 2)

	_, err := p.AcquireSlot(2)
	require.ErrorIs(t, err, ErrSlotUnavailable)
	_, err = p.AcquireSlot(-1)
	require.ErrorIs(t, err, ErrSlotUnavailable)

	h0, err := p.AcquireSlot(0)
	require.NoError(t, err)
	again, err := p.AcquireSlot(0)
	require.NoError(t, err)
	assert.Same(t, h0, again, "active handles are reused")

	s.markInactive(h0.SlotID())
	replaced, err := p.AcquireSlot(0)
	require.NoError(t, err)
	assert.NotEqual(t, h0.SlotID(), replaced.SlotID(), "inactive handles are reacquired")
	assert.Equal(t, uint64(2), p.Acquisitions())

	p.Reset()
	_, err = p.AcquireSlot(0)
	require.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestAdmissionQueueNeverExceedsUsable(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 4, 2)
	q := NewAdmissionQueue(p, time.Millisecond)

	a, b, c := NewSource("a", 16), NewSource("b", 16), NewSource("c", 16)
	assert.True(t, q.TryAdmit(a))
	assert.True(t, q.TryAdmit(b))
	assert.False(t, q.TryAdmit(c), "queue full")
	assert.False(t, c.Admitted())
	assert.True(t, q.TryAdmit(a), "already admitted is a success")
	assert.Equal(t, 2, q.Len())

	p.SetUsableCount(3)
	assert.True(t, q.TryAdmit(c))
	assert.Equal(t, []string{"a", "b", "c"}, ids(q.Snapshot(nil)))
}

func TestAdmissionQueueConcurrentAdmitRespectsBound(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 8, 3)
	q := NewAdmissionQueue(p, time.Millisecond)

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.TryAdmit(NewSource(fmt.Sprintf("s%d", i), 16))
		}()
	}
	wg.Wait()
	assert.Equal(t, 3, q.Len())
}

func TestAdmissionQueueShrinkEvictsNewest(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 4, 4)
	q := NewAdmissionQueue(p, time.Millisecond)
	q.FollowShrinks()

	var reasons []EvictionReason
	q.setEvictionFunc(func(_ *Source, r EvictionReason) { reasons = append(reasons, r) })

	srcs := []*Source{NewSource("a", 16), NewSource("b", 16), NewSource("c", 16), NewSource("d", 16)}
	for _, s := range srcs {
		require.True(t, q.TryAdmit(s))
	}

	p.SetUsableCount(1)
	assert.Equal(t, []string{"a"}, ids(q.Snapshot(nil)))
	for _, s := range srcs[1:] {
		assert.False(t, s.Admitted())
	}
	assert.Equal(t, []EvictionReason{EvictCapacity, EvictCapacity, EvictCapacity}, reasons)
}

func TestAdmissionQueueShrinkUsesLiveCount(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 4, 3)
	q := NewAdmissionQueue(p, time.Millisecond)
	q.FollowShrinks()
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, q.TryAdmit(NewSource(id, 16)))
	}

	// the shrink hook waits for the queue lock while capacity grows back
	q.mu.Lock()
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.SetUsableCount(1)
	}()
	require.Eventually(t, func() bool { return p.UsableCount() == 1 }, time.Second, time.Millisecond)
	p.SetUsableCount(3)
	q.mu.Unlock()
	<-done

	assert.Equal(t, []string{"a", "b", "c"}, ids(q.Snapshot(nil)))
	assert.Equal(t, 3, p.UsableCount())
}

func TestAdmissionQueueConcurrentResizeAndAdmit(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 8, 4)
	q := NewAdmissionQueue(p, time.Millisecond)
	q.FollowShrinks()

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Go(func() {
			for i := range 200 {
				src := NewSource(fmt.Sprintf("w%d-%d", w, i), 16)
				if q.TryAdmit(src) && i%3 == 0 {
					q.Remove(src)
				}
			}
		})
	}
	wg.Go(func() {
		for i := range 200 {
			p.SetUsableCount(2 + 4*(i%2))
		}
	})
	wg.Wait()

	assert.LessOrEqual(t, q.Len(), p.UsableCount())

	p.SetUsableCount(6)
	for i := 0; q.Len() < 6; i++ {
		require.True(t, q.TryAdmit(NewSource(fmt.Sprintf("fill%d", i), 16)))
	}
	before := ids(q.Snapshot(nil))

	p.SetUsableCount(4)
	assert.Equal(t, 4, q.Len(), "a shrink evicts exactly down to the new count")
	assert.Equal(t, before[:4], ids(q.Snapshot(nil)))
	assert.LessOrEqual(t, q.Len(), p.UsableCount())
}

func TestAdmissionQueueEvictTail(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 4, 4)
	q := NewAdmissionQueue(p, time.Millisecond)
	for _, id := range []string{"a", "b", "c"} {
		require.True(t, q.TryAdmit(NewSource(id, 16)))
	}

	assert.Equal(t, []string{"c", "b"}, ids(q.EvictTail(2)))
	assert.Equal(t, []string{"a"}, ids(q.EvictTail(5)))
	assert.Empty(t, q.EvictTail(1))
}

func TestAdmissionQueueEvictStarvedRechecks(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 4, 4)
	q := NewAdmissionQueue(p, time.Millisecond)
	src := NewSource("a", 16)
	require.True(t, q.TryAdmit(src))

	src.emptyCount.Store(4)
	assert.False(t, q.EvictStarved(src, 5))
	assert.True(t, src.Admitted())

	src.emptyCount.Store(5)
	assert.True(t, q.EvictStarved(src, 5))
	assert.False(t, src.Admitted())
	assert.False(t, q.EvictStarved(src, 5), "already gone")
}

func TestAdmissionQueueEvictStarvedYieldsToWrite(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 4, 4)
	q := NewAdmissionQueue(p, time.Second)
	src := NewSource("a", 16)
	require.True(t, q.TryAdmit(src))
	src.emptyCount.Store(5)

	// a write holds the source lock when the eviction starts
	require.True(t, src.acquire(time.Millisecond))
	result := make(chan bool, 1)
	go func() { result <- q.EvictStarved(src, 5) }()
	src.emptyCount.Store(0)
	src.release()

	assert.False(t, <-result)
	assert.True(t, src.Admitted())
	assert.Equal(t, 1, q.Len())
}

func TestAdmissionQueueEvictStarvedKeepsBusySource(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 4, 4)
	q := NewAdmissionQueue(p, time.Millisecond)
	src := NewSource("a", 16)
	require.True(t, q.TryAdmit(src))
	src.emptyCount.Store(5)

	require.True(t, src.acquire(time.Millisecond))
	assert.False(t, q.EvictStarved(src, 5))
	src.release()
	assert.True(t, src.Admitted())

	assert.True(t, q.EvictStarved(src, 5))
}

func TestAdmissionQueueRemoveAndClear(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 4, 4)
	q := NewAdmissionQueue(p, time.Millisecond)

	var got []string
	q.setEvictionFunc(func(s *Source, r EvictionReason) { got = append(got, s.ID()+":"+string(r)) })

	a, b, c := NewSource("a", 16), NewSource("b", 16), NewSource("c", 16)
	for _, s := range []*Source{a, b, c} {
		require.True(t, q.TryAdmit(s))
	}

	assert.True(t, q.Remove(b))
	assert.False(t, q.Remove(b))
	assert.Equal(t, []string{"a", "c"}, ids(q.Clear()))
	assert.Zero(t, q.Len())
	assert.Equal(t, []string{"b:teardown", "a:disconnect", "c:disconnect"}, got)
}

func TestAdmissionQueueRefusesClosingSource(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 4, 4)
	q := NewAdmissionQueue(p, time.Millisecond)
	src := NewSource("a", 16)
	src.closing.Store(true)
	assert.False(t, q.TryAdmit(src))
}

func TestAdmissionDropsStaleData(t *testing.T) {
	t.Parallel()

	p, _ := newBoundPool(t, 4, 4)
	q := NewAdmissionQueue(p, time.Millisecond)
	src := NewSource("a", 32)

	_, err := src.Write(ramp(0, 12), []Position{{}}, time.Millisecond)
	require.NoError(t, err)
	_, err = src.Write(ramp(50, 4), []Position{{X: 5}}, time.Millisecond)
	require.NoError(t, err)

	require.True(t, q.TryAdmit(src))
	dst := make([]float32, 4)
	res, err := src.Read(dst, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, ramp(50, 4), dst)
	assert.Equal(t, Position{X: 5}, res.Position)
}
