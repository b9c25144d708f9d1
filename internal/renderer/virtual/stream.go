package virtual

import (
	"sync"
	"time"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

type handle struct{ id int }

func (h handle) SlotID() int { return h.id }

// Stream is one connection to the virtual renderer. Slot and batch methods
// are called from the pump worker only.
type Stream struct {
	r       *Renderer
	quantum int

	mu      sync.Mutex
	ready   chan struct{}
	stop    chan struct{}
	closed  bool
	invalid bool

	active  map[int]bool
	nextID  int
	inBatch bool
	seq     uint64
	pending []SlotFrame
	index   map[int]int // slot ID to position in pending

	clock sync.WaitGroup
}

func newStream(r *Renderer) *Stream {
	s := &Stream{
		r:       r,
		quantum: r.cfg.Quantum,
		ready:   make(chan struct{}, 1),
		stop:    make(chan struct{}),
		active:  make(map[int]bool),
		index:   make(map[int]int),
	}
	if r.cfg.Clock {
		period := time.Duration(r.cfg.Quantum) * time.Second / time.Duration(r.cfg.SampleRate)
		s.clock.Go(func() { s.runClock(period) })
	}
	return s
}

func (s *Stream) runClock(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.signal()
		}
	}
}

// signal delivers one ready signal without blocking.
func (s *Stream) signal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ready <- struct{}{}:
		return true
	default:
		return false
	}
}

func (s *Stream) invalidate() {
	s.mu.Lock()
	s.invalid = true
	s.mu.Unlock()
}

// shutdown closes the ready channel and stops the clock.
func (s *Stream) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ready)
	close(s.stop)
	s.mu.Unlock()
	s.clock.Wait()
}

func (s *Stream) errClosed(op string) error {
	return errors.Newf("virtual stream closed").
		Component(componentVirtual).
		Category(errors.CategoryRenderer).
		Context("operation", op).
		Build()
}

// Ready implements spatial.Stream.
func (s *Stream) Ready() <-chan struct{} { return s.ready }

// Validate implements spatial.Stream.
func (s *Stream) Validate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.errClosed("validate")
	}
	if s.invalid {
		return errors.Newf("virtual stream invalidated").
			Component(componentVirtual).
			Category(errors.CategoryRenderer).
			Build()
	}
	return nil
}

// MaxSlots implements spatial.Stream.
func (s *Stream) MaxSlots() int { return s.r.cfg.MaxObjects }

// AvailableSlots implements spatial.Stream.
func (s *Stream) AvailableSlots() int { return s.r.Capacity() }

// FramesPerCycle implements spatial.FrameCounter.
func (s *Stream) FramesPerCycle() int { return s.quantum }

// Close implements spatial.Stream.
func (s *Stream) Close() error {
	s.shutdown()
	s.r.detach(s)
	return nil
}

// Acquire implements spatial.SlotProvider.
func (s *Stream) Acquire() (spatial.SlotHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, s.errClosed("acquire")
	}
	if len(s.active) >= s.r.cfg.MaxObjects {
		return nil, ErrNoFreeObject
	}
	h := handle{id: s.nextID}
	s.nextID++
	s.active[h.id] = true
	return h, nil
}

// IsActive implements spatial.SlotProvider.
func (s *Stream) IsActive(h spatial.SlotHandle) bool {
	if h == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.active[h.SlotID()]
}

// BeginBatch implements spatial.SlotProvider.
func (s *Stream) BeginBatch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.errClosed("begin_batch")
	}
	s.inBatch = true
	s.pending = s.pending[:0]
	clear(s.index)
	return nil
}

// slot returns the pending entry for h, creating it on first use in the batch.
func (s *Stream) slot(h spatial.SlotHandle, op string) (*SlotFrame, error) {
	if s.closed {
		return nil, s.errClosed(op)
	}
	if !s.inBatch {
		return nil, errors.Newf("%s outside of a batch", op).
			Component(componentVirtual).
			Category(errors.CategoryState).
			Build()
	}
	if h == nil || !s.active[h.SlotID()] {
		return nil, errors.Newf("%s on inactive slot", op).
			Component(componentVirtual).
			Category(errors.CategorySlot).
			Build()
	}
	i, ok := s.index[h.SlotID()]
	if !ok {
		i = len(s.pending)
		s.index[h.SlotID()] = i
		s.pending = append(s.pending, SlotFrame{SlotID: h.SlotID()})
	}
	return &s.pending[i], nil
}

// WriteFrames implements spatial.SlotProvider. frames is copied.
func (s *Stream) WriteFrames(h spatial.SlotHandle, frames []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.slot(h, "write_frames")
	if err != nil {
		return err
	}
	sf.Frames = append(sf.Frames[:0], frames...)
	return nil
}

// SetPosition implements spatial.SlotProvider.
func (s *Stream) SetPosition(h spatial.SlotHandle, p spatial.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.slot(h, "set_position")
	if err != nil {
		return err
	}
	sf.Position = p
	return nil
}

// EndBatch implements spatial.SlotProvider and commits the batch.
func (s *Stream) EndBatch() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return s.errClosed("end_batch")
	}
	s.inBatch = false
	s.seq++
	b := Batch{Seq: s.seq, Slots: make([]SlotFrame, len(s.pending))}
	copy(b.Slots, s.pending)
	s.pending = s.pending[:0]
	s.mu.Unlock()

	return s.r.commit(b)
}
