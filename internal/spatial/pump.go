package spatial

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
)

// pumpConfig is the subset of Config the worker needs.
type pumpConfig struct {
	quantum          int
	threshold        int
	lockTimeout      time.Duration
	readyTimeout     time.Duration
	reconnectInitial time.Duration
	reconnectMax     time.Duration
}

// PumpWorker connects to the renderer and, on every quantum signal, copies
// one quantum from each admitted source into a render slot.
type PumpWorker struct {
	cfg      pumpConfig
	renderer Renderer
	slots    *SlotPool
	queue    *AdmissionQueue
	capacity *CapacityNotifier
	metrics  MetricsRecorder
	log      logger.Logger
	warn     *throttledLog
	emit     func(Event)

	sm stateMachine

	// owned by the Run goroutine
	stream   Stream
	attempts int
	scratch  []float32
	snap     []*Source
	timer    *time.Timer

	cycles      atomic.Uint64
	connects    atomic.Uint64
	lastCycleNs atomic.Int64
}

func newPumpWorker(cfg pumpConfig, renderer Renderer, slots *SlotPool, queue *AdmissionQueue,
	capacity *CapacityNotifier, metrics MetricsRecorder, log logger.Logger, emit func(Event)) *PumpWorker {
	return &PumpWorker{
		cfg:      cfg,
		renderer: renderer,
		slots:    slots,
		queue:    queue,
		capacity: capacity,
		metrics:  metrics,
		log:      log,
		warn:     newThrottledLog(log),
		emit:     emit,
		scratch:  make([]float32, cfg.quantum),
	}
}

// State returns the current worker state.
func (w *PumpWorker) State() WorkerState {
	return w.sm.current()
}

// History returns the most recent state transitions, oldest first.
func (w *PumpWorker) History() []StateTransition {
	return w.sm.recent()
}

// Cycles counts committed pump cycles.
func (w *PumpWorker) Cycles() uint64 {
	return w.cycles.Load()
}

// Connects counts successful renderer connections.
func (w *PumpWorker) Connects() uint64 {
	return w.connects.Load()
}

// Run drives the worker until ctx is cancelled. Renderer failures never end
// the loop; they lead back to Disconnected and another connect attempt.
func (w *PumpWorker) Run(ctx context.Context) {
	w.timer = time.NewTimer(w.cfg.readyTimeout)
	w.timer.Stop()

	w.setState(StateDisconnected, "worker started")
	defer w.shutdown()

	for ctx.Err() == nil {
		switch w.sm.current() {
		case StateDisconnected:
			if err := w.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.waitBackoff(ctx, err)
			}
		case StateConnected, StatePumping:
			if err := w.pumpOnce(ctx); err != nil {
				w.log.Warn("renderer stream lost",
					logger.Error(err),
					logger.String("operation", "pump"))
				w.disconnect("stream lost: " + err.Error())
			}
		default:
			return
		}
	}
}

func (w *PumpWorker) connect(ctx context.Context) error {
	stream, err := w.renderer.Connect(ctx, w.capacity)
	if err != nil {
		w.attempts++
		w.metrics.RecordReconnect(false)
		return errors.New(err).
			Component(ComponentSpatial).
			Category(errors.CategoryRenderer).
			Context("operation", "connect").
			Context("attempt", w.attempts).
			Build()
	}

	if fc, ok := stream.(FrameCounter); ok && fc.FramesPerCycle() != w.cfg.quantum {
		_ = stream.Close()
		w.attempts++
		w.metrics.RecordReconnect(false)
		return errors.New(ErrQuantumMismatch).
			Component(ComponentSpatial).
			Category(errors.CategoryRenderer).
			Context("frames_per_cycle", fc.FramesPerCycle()).
			Context("quantum", w.cfg.quantum).
			Build()
	}

	w.stream = stream
	w.slots.Bind(stream, stream.MaxSlots())
	w.attempts = 0
	w.connects.Add(1)
	w.metrics.RecordReconnect(true)
	w.setState(StateConnected, "renderer connected")

	// capacity reported before Bind was clamped to zero, adopt the current value
	w.capacity.OnCapacityChanged(stream.AvailableSlots())
	return nil
}

// backoff returns the wait before the next connect attempt.
func (w *PumpWorker) backoff() time.Duration {
	exponent := min(max(w.attempts-1, 0), maxBackoffExponent)
	d := min(w.cfg.reconnectInitial*time.Duration(1<<uint(exponent)), w.cfg.reconnectMax)

	if jitter := d * reconnectJitterPercentMax / 100; jitter > 0 {
		d += rand.N(jitter)
	}
	return d
}

func (w *PumpWorker) waitBackoff(ctx context.Context, cause error) {
	wait := w.backoff()
	w.warn.Warn("renderer connect failed, retrying",
		logger.Error(cause),
		logger.Int("attempt", w.attempts),
		logger.Duration("wait", wait))

	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// pumpOnce waits for one quantum signal. It returns an error when the stream
// must be dropped.
func (w *PumpWorker) pumpOnce(ctx context.Context) error {
	w.timer.Reset(w.cfg.readyTimeout)
	defer w.timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case _, ok := <-w.stream.Ready():
		if !ok {
			return ErrStreamClosed
		}
		return w.cycle()
	case <-w.timer.C:
		return w.stream.Validate()
	}
}

// cycle pumps one quantum for every admitted source that fits the usable count.
func (w *PumpWorker) cycle() error {
	start := time.Now()
	usable := w.slots.UsableCount()
	w.snap = w.queue.Snapshot(w.snap[:0])

	if err := w.stream.BeginBatch(); err != nil {
		return w.batchError(err, "begin_batch")
	}

	slot := 0
	for _, src := range w.snap {
		if slot >= usable {
			break
		}

		if src.EmptyCount() >= w.cfg.threshold {
			w.queue.EvictStarved(src, w.cfg.threshold)
			continue
		}
		if src.Closing() {
			w.queue.Remove(src)
			continue
		}

		h, err := w.slots.AcquireSlot(slot)
		if err != nil {
			w.warn.Warn("render slot not acquired",
				logger.Error(err),
				logger.Int("slot", slot))
			break
		}

		res, err := src.Read(w.scratch, w.cfg.lockTimeout)
		if err != nil {
			w.metrics.RecordLockTimeout("worker")
			w.warn.Warn("source lock timeout on read",
				logger.String("source_id", src.ID()))
			continue
		}
		if res.Starved {
			clear(w.scratch)
			w.metrics.RecordStarvedRead()
		}

		if err := w.stream.WriteFrames(h, w.scratch); err != nil {
			return w.batchError(err, "write_frames")
		}
		if err := w.stream.SetPosition(h, res.Position); err != nil {
			return w.batchError(err, "set_position")
		}
		slot++
	}

	if err := w.stream.EndBatch(); err != nil {
		return w.batchError(err, "end_batch")
	}

	elapsed := time.Since(start)
	w.cycles.Add(1)
	w.lastCycleNs.Store(elapsed.Nanoseconds())
	w.metrics.RecordPumpCycle(slot, elapsed)
	w.setState(StatePumping, "first cycle committed")

	// drop references so destroyed sources are not pinned until the next cycle
	clear(w.snap)
	return nil
}

func (w *PumpWorker) batchError(err error, op string) error {
	return errors.New(err).
		Component(ComponentSpatial).
		Category(errors.CategoryRenderer).
		Context("operation", op).
		Build()
}

// disconnect drops the stream and every admission.
func (w *PumpWorker) disconnect(reason string) {
	prev := w.slots.Reset()
	w.queue.Clear()
	w.capacity.announce(0, prev)

	if w.stream != nil {
		if err := w.stream.Close(); err != nil {
			w.log.Debug("stream close failed", logger.Error(err))
		}
		w.stream = nil
	}
	w.setState(StateDisconnected, reason)
}

func (w *PumpWorker) shutdown() {
	if w.stream != nil {
		w.disconnect("worker stopping")
	}
	w.setState(StateStopped, "context done")
}

func (w *PumpWorker) setState(to WorkerState, reason string) {
	t, changed := w.sm.transition(to, reason)
	if !changed {
		return
	}
	w.metrics.SetWorkerState(to.String())
	w.emit(Event{
		Kind:          EventWorkerStateChanged,
		State:         t.To.String(),
		PreviousState: t.From.String(),
		Reason:        reason,
		Timestamp:     t.Timestamp,
	})
	w.log.Info("worker state transition",
		logger.String("from", t.From.String()),
		logger.String("to", t.To.String()),
		logger.String("reason", reason))
}
