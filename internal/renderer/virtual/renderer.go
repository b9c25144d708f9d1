// Package virtual provides an in-memory renderer. It stands in for the
// platform spatial renderer in tests, in the simulator and in the run command
// when no audio device is wanted.
package virtual

import (
	"context"
	"sync"
	"time"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

const componentVirtual = "renderer.virtual"

var (
	// ErrConnectRefused is returned by Connect while injected connect failures remain
	ErrConnectRefused = errors.New(errors.NewStd("virtual renderer refused connection")).
				Component(componentVirtual).
				Category(errors.CategoryRenderer).
				Build()

	// ErrRendererClosed is returned by Connect after Close
	ErrRendererClosed = errors.New(errors.NewStd("virtual renderer closed")).
				Component(componentVirtual).
				Category(errors.CategoryState).
				Build()

	// ErrNoFreeObject is returned by Acquire when every object is in use
	ErrNoFreeObject = errors.New(errors.NewStd("no free render object")).
			Component(componentVirtual).
			Category(errors.CategorySlot).
			Build()
)

// Config configures the virtual renderer.
type Config struct {
	// MaxObjects is the most render objects a stream can hand out.
	MaxObjects int
	// InitialCapacity is the usable capacity reported when a stream connects.
	InitialCapacity int
	Quantum         int
	SampleRate      int
	// CaptureFile receives the committed mono mix as 16-bit WAV when set.
	CaptureFile string
	// Clock drives Ready from a ticker at Quantum/SampleRate. Without it the
	// caller drives cycles with Tick.
	Clock bool
}

// DefaultConfig returns a clocked renderer with 16 objects.
func DefaultConfig() Config {
	return Config{
		MaxObjects:      16,
		InitialCapacity: 16,
		Quantum:         spatial.DefaultQuantum,
		SampleRate:      spatial.DefaultSampleRate,
		Clock:           true,
	}
}

// SlotFrame is what one slot received in a committed batch.
type SlotFrame struct {
	SlotID   int              `json:"slot_id"`
	Frames   []float32        `json:"frames"`
	Position spatial.Position `json:"position"`
}

// Batch is one committed pump cycle. Slots are in write order.
type Batch struct {
	Seq   uint64      `json:"seq"`
	Slots []SlotFrame `json:"slots"`
}

// Stats reports renderer counters.
type Stats struct {
	Connects   uint64 `json:"connects"`
	Refused    uint64 `json:"refused"`
	Commits    uint64 `json:"commits"`
	Frames     uint64 `json:"frames"`
	Capacity   int    `json:"capacity"`
	Connected  bool   `json:"connected"`
	CaptureErr string `json:"capture_error,omitempty"`
}

// Renderer is an in-memory spatial.Renderer with one stream at a time.
type Renderer struct {
	cfg Config
	log logger.Logger

	mu           sync.Mutex
	capacity     int
	listener     spatial.CapacityListener
	stream       *Stream
	failConnects int
	failCommit   bool
	onCommit     func(Batch)
	capture      *wavCapture
	captureErr   error
	closed       bool
	stats        Stats

	// capacity changes are coalesced into notify and delivered by notifyLoop
	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a renderer. Close must be called to stop its notifier and
// finalize the capture file.
func New(cfg Config) (*Renderer, error) {
	if cfg.MaxObjects <= 0 || cfg.Quantum <= 0 || cfg.SampleRate <= 0 {
		return nil, errors.Newf("virtual renderer needs positive max objects, quantum and sample rate").
			Component(componentVirtual).
			Category(errors.CategoryConfiguration).
			Context("max_objects", cfg.MaxObjects).
			Context("quantum", cfg.Quantum).
			Build()
	}

	r := &Renderer{
		cfg:      cfg,
		log:      logger.Global().Module("renderer").Module("virtual"),
		capacity: min(max(cfg.InitialCapacity, 0), cfg.MaxObjects),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	if cfg.CaptureFile != "" {
		c, err := newWAVCapture(cfg.CaptureFile, cfg.SampleRate)
		if err != nil {
			return nil, err
		}
		r.capture = c
	}

	r.wg.Go(r.notifyLoop)
	return r, nil
}

// Connect opens a new stream, replacing any previous one.
func (r *Renderer) Connect(ctx context.Context, listener spatial.CapacityListener) (spatial.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRendererClosed
	}
	if r.failConnects > 0 {
		r.failConnects--
		r.stats.Refused++
		return nil, ErrConnectRefused
	}
	if r.stream != nil {
		r.stream.shutdown()
	}

	r.listener = listener
	r.stream = newStream(r)
	r.stats.Connects++
	r.log.Debug("stream connected",
		logger.Int("capacity", r.capacity),
		logger.Int("max_objects", r.cfg.MaxObjects))
	return r.stream, nil
}

// SetCapacity changes the usable capacity, clamped to [0, MaxObjects]. The
// listener of the current stream is notified on the renderer's goroutine.
// It returns the capacity applied.
func (r *Renderer) SetCapacity(n int) int {
	r.mu.Lock()
	r.capacity = min(max(n, 0), r.cfg.MaxObjects)
	applied := r.capacity
	r.mu.Unlock()

	select {
	case r.notify <- struct{}{}:
	default:
	}
	return applied
}

// Capacity returns the current usable capacity.
func (r *Renderer) Capacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

func (r *Renderer) notifyLoop() {
	for {
		select {
		case <-r.done:
			return
		case <-r.notify:
		}

		r.mu.Lock()
		listener, n := r.listener, r.capacity
		connected := r.stream != nil
		r.mu.Unlock()

		if listener != nil && connected {
			listener.OnCapacityChanged(n)
		}
	}
}

// Tick signals one quantum on the current stream. It reports false when no
// stream is connected or the previous signal has not been consumed.
func (r *Renderer) Tick() bool {
	r.mu.Lock()
	s := r.stream
	r.mu.Unlock()
	if s == nil {
		return false
	}
	return s.signal()
}

// OnCommit registers fn to observe every committed batch. fn runs on the
// pump worker goroutine and must not block.
func (r *Renderer) OnCommit(fn func(Batch)) {
	r.mu.Lock()
	r.onCommit = fn
	r.mu.Unlock()
}

// FailConnects makes the next n Connect calls fail.
func (r *Renderer) FailConnects(n int) {
	r.mu.Lock()
	r.failConnects = n
	r.mu.Unlock()
}

// FailNextCommit makes the next EndBatch fail.
func (r *Renderer) FailNextCommit() {
	r.mu.Lock()
	r.failCommit = true
	r.mu.Unlock()
}

// Invalidate makes Validate fail on the current stream.
func (r *Renderer) Invalidate() {
	r.mu.Lock()
	s := r.stream
	r.mu.Unlock()
	if s != nil {
		s.invalidate()
	}
}

// Drop closes the current stream's ready channel, as the platform does when
// it tears a stream down.
func (r *Renderer) Drop() {
	r.mu.Lock()
	s := r.stream
	r.mu.Unlock()
	if s != nil {
		s.shutdown()
	}
}

// Stats returns a copy of the renderer counters.
func (r *Renderer) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.stats
	st.Capacity = r.capacity
	st.Connected = r.stream != nil
	if r.captureErr != nil {
		st.CaptureErr = r.captureErr.Error()
	}
	return st
}

// Close closes the current stream, stops the notifier and finalizes the
// capture file. It is safe to call more than once.
func (r *Renderer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	s := r.stream
	r.stream = nil
	c := r.capture
	r.capture = nil
	r.mu.Unlock()

	if s != nil {
		s.shutdown()
	}
	close(r.done)
	r.wg.Wait()

	if c == nil {
		return nil
	}
	if err := c.Close(); err != nil {
		return err
	}
	r.log.Info("capture finalized",
		logger.String("path", c.path),
		logger.Int64("frames", c.frames),
		logger.Duration("length", time.Duration(c.frames)*time.Second/time.Duration(r.cfg.SampleRate)))
	return nil
}

// detach forgets s if it is still the current stream.
func (r *Renderer) detach(s *Stream) {
	r.mu.Lock()
	if r.stream == s {
		r.stream = nil
		r.listener = nil
	}
	r.mu.Unlock()
}

// commit records a batch. It runs on the worker goroutine.
func (r *Renderer) commit(b Batch) error {
	r.mu.Lock()
	if r.failCommit {
		r.failCommit = false
		r.mu.Unlock()
		return errors.Newf("virtual renderer commit failed").
			Component(componentVirtual).
			Category(errors.CategoryRenderer).
			Context("seq", b.Seq).
			Build()
	}
	r.stats.Commits++
	for _, sf := range b.Slots {
		r.stats.Frames += uint64(len(sf.Frames))
	}
	fn := r.onCommit
	if r.capture != nil && r.captureErr == nil {
		if err := r.capture.WriteBatch(b, r.cfg.Quantum); err != nil {
			r.captureErr = err
			r.log.Error("capture write failed, capture disabled", logger.Error(err))
		}
	}
	r.mu.Unlock()

	if fn != nil {
		fn(b)
	}
	return nil
}
