package spatial

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}

const testWait = 2 * time.Second

type fakeHandle struct{ id int }

func (h *fakeHandle) SlotID() int { return h.id }

// committedBatch is what one EndBatch flushed, keyed by slot ID.
type committedBatch struct {
	frames    map[int][]float32
	positions map[int]Position
	order     []int
}

// fakeStream is an in-memory stream whose quantum clock is driven by tick.
type fakeStream struct {
	mu        sync.Mutex
	maxSlots  int
	available int
	frames    int
	nextID    int
	inactive  map[int]bool
	pending   *committedBatch
	failEnd   bool
	invalid   error
	closed    bool
	acquired  int
	committed []committedBatch

	ready     chan struct{}
	commits   chan committedBatch
	closeOnce sync.Once
}

func newFakeStream(maxSlots, available, frames int) *fakeStream {
	return &fakeStream{
		maxSlots:  maxSlots,
		available: available,
		frames:    frames,
		inactive:  make(map[int]bool),
		ready:     make(chan struct{}),
		commits:   make(chan committedBatch, 64),
	}
}

func (s *fakeStream) Acquire() (SlotHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquired >= s.maxSlots {
		return nil, errors.NewStd("no free render objects")
	}
	s.acquired++
	s.nextID++
	return &fakeHandle{id: s.nextID}, nil
}

func (s *fakeStream) IsActive(h SlotHandle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inactive[h.SlotID()] {
		delete(s.inactive, h.SlotID())
		s.acquired--
		return false
	}
	return true
}

func (s *fakeStream) BeginBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = &committedBatch{frames: map[int][]float32{}, positions: map[int]Position{}}
	return nil
}

func (s *fakeStream) WriteFrames(h SlotHandle, frames []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.frames[h.SlotID()] = slices.Clone(frames)
	s.pending.order = append(s.pending.order, h.SlotID())
	return nil
}

func (s *fakeStream) SetPosition(h SlotHandle, p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending.positions[h.SlotID()] = p
	return nil
}

func (s *fakeStream) EndBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEnd {
		s.failEnd = false
		return errors.NewStd("commit failed")
	}
	b := *s.pending
	s.committed = append(s.committed, b)
	select {
	case s.commits <- b:
	default:
	}
	return nil
}

func (s *fakeStream) Ready() <-chan struct{} { return s.ready }

func (s *fakeStream) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.invalid
}

func (s *fakeStream) MaxSlots() int { return s.maxSlots }

func (s *fakeStream) AvailableSlots() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.available
}

func (s *fakeStream) FramesPerCycle() int { return s.frames }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// kill closes the quantum clock the way a lost audio session does.
func (s *fakeStream) kill() {
	s.closeOnce.Do(func() { close(s.ready) })
}

func (s *fakeStream) markInactive(slotID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inactive[slotID] = true
}

func (s *fakeStream) failNextCommit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failEnd = true
}

func (s *fakeStream) tick(t *testing.T) committedBatch {
	t.Helper()
	select {
	case s.ready <- struct{}{}:
	case <-time.After(testWait):
		t.Fatal("worker did not take the quantum signal")
	}
	select {
	case b := <-s.commits:
		return b
	case <-time.After(testWait):
		t.Fatal("batch was not committed")
	}
	return committedBatch{}
}

// fakeRenderer hands out fakeStreams and fails the first failures connects.
type fakeRenderer struct {
	mu        sync.Mutex
	maxSlots  int
	available int
	frames    int
	failures  int
	connects  int
	streams   chan *fakeStream
}

func newFakeRenderer(maxSlots, available, frames int) *fakeRenderer {
	return &fakeRenderer{
		maxSlots:  maxSlots,
		available: available,
		frames:    frames,
		streams:   make(chan *fakeStream, 8),
	}
}

func (r *fakeRenderer) Connect(ctx context.Context, _ CapacityListener) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects++
	if r.failures > 0 {
		r.failures--
		return nil, errors.NewStd("audio endpoint unavailable")
	}
	s := newFakeStream(r.maxSlots, r.available, r.frames)
	select {
	case r.streams <- s:
	default:
	}
	return s, nil
}

func (r *fakeRenderer) connectCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects
}

func (r *fakeRenderer) nextStream(t *testing.T) *fakeStream {
	t.Helper()
	select {
	case s := <-r.streams:
		return s
	case <-time.After(testWait):
		t.Fatal("renderer was not connected")
	}
	return nil
}

// recordingPublisher keeps every event it is given.
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) TryPublish(ev Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return true
}

func (p *recordingPublisher) kinds(kind EventKind) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (e *Engine) sourceForTest(id string) *Source {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sources[id]
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.BufferCapacity = 64
	cfg.Quantum = 8
	cfg.ReadyTimeout = 50 * time.Millisecond
	cfg.DestroyTimeout = 20 * time.Millisecond
	cfg.ReconnectInitial = time.Millisecond
	cfg.ReconnectMax = 5 * time.Millisecond
	cfg.LockTimeout = time.Millisecond
	return cfg
}

// newConnectedEngine returns an engine whose worker is bound to a fake stream
// without running the worker goroutine. Tests drive cycles with cycle().
func newConnectedEngine(t *testing.T, cfg Config, maxSlots, available int, opts ...Option) (*Engine, *fakeStream) {
	t.Helper()
	opts = append([]Option{WithLogger(logger.NewTestLogger(t))}, opts...)
	e, err := NewEngine(cfg, newFakeRenderer(maxSlots, available, cfg.Quantum), opts...)
	require.NoError(t, err)

	s := newFakeStream(maxSlots, available, cfg.Quantum)
	e.worker.stream = s
	e.slots.Bind(s, maxSlots)
	e.worker.setState(StateDisconnected, "test")
	e.worker.setState(StateConnected, "test")
	e.capacity.OnCapacityChanged(available)
	return e, s
}

// stereoBlock interleaves mono into two channels, the right one is noise the engine must drop.
func stereoBlock(mono ...float32) []float32 {
	out := make([]float32, 0, 2*len(mono))
	for _, v := range mono {
		out = append(out, v, -99)
	}
	return out
}

func ramp(start float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = start + float32(i)
	}
	return out
}
