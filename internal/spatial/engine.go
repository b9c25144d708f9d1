package spatial

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
)

// Config holds the pipeline parameters.
type Config struct {
	BufferCapacity      int
	Quantum             int
	SampleRate          int
	Channels            int
	StarvationThreshold int
	// MaxSlots caps the slots taken from a stream, 0 takes all it offers
	MaxSlots int

	LockTimeout      time.Duration
	ReadyTimeout     time.Duration
	DestroyTimeout   time.Duration
	TombstoneTTL     time.Duration
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
}

// DefaultConfig returns the default pipeline parameters.
func DefaultConfig() Config {
	return Config{
		BufferCapacity:      DefaultBufferCapacity,
		Quantum:             DefaultQuantum,
		SampleRate:          DefaultSampleRate,
		Channels:            DefaultChannels,
		StarvationThreshold: DefaultStarvationThreshold,
		LockTimeout:         DefaultLockTimeout,
		ReadyTimeout:        DefaultReadyTimeout,
		DestroyTimeout:      DefaultDestroyTimeout,
		TombstoneTTL:        DefaultTombstoneTTL,
		ReconnectInitial:    DefaultReconnectInitial,
		ReconnectMax:        DefaultReconnectMax,
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c Config) Validate() error {
	var problems []string
	if c.Quantum <= 0 {
		problems = append(problems, "quantum must be positive")
	}
	if c.BufferCapacity < c.Quantum {
		problems = append(problems, "buffer capacity must hold at least one quantum")
	}
	if c.SampleRate <= 0 || c.Channels <= 0 {
		problems = append(problems, "sample rate and channels must be positive")
	}
	if c.StarvationThreshold <= 0 {
		problems = append(problems, "starvation threshold must be positive")
	}
	if c.MaxSlots < 0 {
		problems = append(problems, "max slots must not be negative")
	}
	if c.ReadyTimeout <= 0 || c.DestroyTimeout <= 0 {
		problems = append(problems, "ready and destroy timeouts must be positive")
	}
	if c.ReconnectInitial <= 0 || c.ReconnectMax < c.ReconnectInitial {
		problems = append(problems, "reconnect backoff must be positive with max >= initial")
	}
	if len(problems) == 0 {
		return nil
	}
	return errors.Newf("invalid engine config: %s", strings.Join(problems, "; ")).
		Component(ComponentSpatial).
		Category(errors.CategoryConfiguration).
		Build()
}

// Disposition is the outcome of a producer call.
type Disposition int

const (
	// DispositionAbsorbed means the audio was buffered for spatial rendering
	// and the host must not play it directly.
	DispositionAbsorbed Disposition = iota
	// DispositionPassThrough means no slot was free; the host plays the audio as is.
	DispositionPassThrough
	// DispositionUnsupported means the block format cannot be spatialized.
	DispositionUnsupported
	// DispositionUnknownSource means the source was never created.
	DispositionUnknownSource
	// DispositionDestroyed means the source was destroyed recently.
	DispositionDestroyed
	// DispositionLockTimeout means the source lock was busy past the bounded wait.
	DispositionLockTimeout
)

func (d Disposition) String() string {
	switch d {
	case DispositionAbsorbed:
		return "absorbed"
	case DispositionPassThrough:
		return "pass_through"
	case DispositionUnsupported:
		return "unsupported"
	case DispositionUnknownSource:
		return "unknown_source"
	case DispositionDestroyed:
		return "destroyed"
	case DispositionLockTimeout:
		return "lock_timeout"
	default:
		return fmt.Sprintf("unknown(%d)", d)
	}
}

// Absorbed reports whether the audio was taken by the engine.
func (d Disposition) Absorbed() bool {
	return d == DispositionAbsorbed
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithEventPublisher sets the sink for engine events.
func WithEventPublisher(p EventPublisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.events = p
		}
	}
}

// Engine owns the sources, the slot pool, the admission queue and the pump
// worker, and is the API the host render callbacks call into.
type Engine struct {
	id      string
	cfg     Config
	log     logger.Logger
	warn    *throttledLog
	metrics MetricsRecorder
	events  EventPublisher

	pool     *SourcePool
	slots    *SlotPool
	queue    *AdmissionQueue
	capacity *CapacityNotifier
	worker   *PumpWorker

	mu         sync.RWMutex
	sources    map[string]*Source
	tombstones *cache.Cache

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool

	absorbed      atomic.Uint64
	passedThrough atomic.Uint64
}

// NewEngine creates an engine that renders through renderer. Start must be
// called before sources can be admitted.
func NewEngine(cfg Config, renderer Renderer, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if renderer == nil {
		return nil, errors.Newf("renderer is required").
			Component(ComponentSpatial).
			Category(errors.CategoryValidation).
			Build()
	}

	pool, err := NewSourcePool(cfg.BufferCapacity)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		id:         uuid.NewString(),
		cfg:        cfg,
		metrics:    noopMetrics{},
		events:     noopPublisher{},
		pool:       pool,
		sources:    make(map[string]*Source),
		tombstones: cache.New(cfg.TombstoneTTL, max(cfg.TombstoneTTL, time.Second)),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = getLogger()
	}
	e.log = e.log.With(logger.String("engine_id", e.id))
	e.warn = newThrottledLog(e.log)

	e.slots = NewSlotPool(cfg.MaxSlots)
	e.queue = NewAdmissionQueue(e.slots, cfg.LockTimeout)
	e.queue.setEvictionFunc(e.onEvicted)
	e.queue.FollowShrinks()
	e.capacity = newCapacityNotifier(e.slots, e.metrics, e.log, e.emit)
	e.worker = newPumpWorker(pumpConfig{
		quantum:          cfg.Quantum,
		threshold:        cfg.StarvationThreshold,
		lockTimeout:      cfg.LockTimeout,
		readyTimeout:     cfg.ReadyTimeout,
		reconnectInitial: cfg.ReconnectInitial,
		reconnectMax:     cfg.ReconnectMax,
	}, renderer, e.slots, e.queue, e.capacity, e.metrics, e.log.Module("pump"), e.emit)

	return e, nil
}

// ID returns the engine instance identifier.
func (e *Engine) ID() string { return e.id }

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// CapacityNotifier returns the notifier used for manual capacity overrides.
func (e *Engine) CapacityNotifier() *CapacityNotifier { return e.capacity }

// Worker returns the pump worker.
func (e *Engine) Worker() *PumpWorker { return e.worker }

// Start runs the pump worker until Stop is called or ctx ends.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.stopped {
		return ErrEngineStopped
	}
	if e.cancel != nil {
		return ErrEngineRunning
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		e.worker.Run(ctx)
	}(e.done)

	e.log.Info("engine started",
		logger.Int("quantum", e.cfg.Quantum),
		logger.Int("buffer_capacity", e.cfg.BufferCapacity),
		logger.Int("max_slots", e.cfg.MaxSlots))
	return nil
}

// Stop stops the worker and waits for it to exit. Admissions are cleared.
// Stop is idempotent; a stopped engine cannot be restarted.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.stopped {
		return
	}
	e.stopped = true
	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.log.Info("engine stopped", logger.Uint64("cycles", e.worker.Cycles()))
}

// OnSourceCreated registers a new source.
func (e *Engine) OnSourceCreated(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, exists := e.sources[id]; exists {
		return errors.New(ErrSourceExists).
			Component(ComponentSpatial).
			Category(errors.CategoryConflict).
			SourceContext(id, existing.Admitted()).
			Build()
	}

	e.sources[id] = newSource(id, e.pool.get())
	e.tombstones.Delete(id)
	e.metrics.SetRegisteredSources(len(e.sources))
	e.log.Debug("source created", logger.String("source_id", id))
	return nil
}

// OnSourceDestroyed unregisters a source. It waits up to the destroy timeout
// for the worker to release it, forcibly removes it otherwise, and recycles
// its buffers once no read can be in flight.
func (e *Engine) OnSourceDestroyed(ctx context.Context, id string) error {
	e.mu.Lock()
	src, ok := e.sources[id]
	if ok {
		delete(e.sources, id)
		e.tombstones.SetDefault(id, struct{}{})
	}
	registered := len(e.sources)
	e.mu.Unlock()

	if !ok {
		return errors.New(ErrSourceNotFound).
			Component(ComponentSpatial).
			Category(errors.CategoryNotFound).
			SourceContext(id, false).
			Build()
	}
	e.metrics.SetRegisteredSources(registered)

	src.closing.Store(true)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.DestroyTimeout)
	defer cancel()

	if !e.awaitRelease(ctx, src) {
		if e.queue.Remove(src) {
			e.log.Warn("source still admitted after destroy timeout, removed explicitly",
				logger.String("source_id", id),
				logger.Duration("timeout", e.cfg.DestroyTimeout))
		}
	}

	// detach gets its own deadline so a cancelled caller still quiesces the lock
	detachCtx, detachCancel := context.WithTimeout(context.Background(), e.cfg.DestroyTimeout)
	defer detachCancel()
	rb, err := src.detach(detachCtx)
	if err != nil {
		e.log.Warn("source lock not quiesced, buffers left to the garbage collector",
			logger.String("source_id", id),
			logger.Error(err))
		return nil
	}
	e.pool.put(rb)
	e.log.Debug("source destroyed", logger.String("source_id", id))
	return nil
}

// awaitRelease polls until the worker has evicted src or ctx ends.
func (e *Engine) awaitRelease(ctx context.Context, src *Source) bool {
	if !src.Admitted() {
		return true
	}
	ticker := time.NewTicker(destroyPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return !src.Admitted()
		case <-ticker.C:
			if !src.Admitted() {
				return true
			}
		}
	}
}

// OnRenderBlock takes one host block of interleaved audio. Only the first
// channel is buffered; pos applies to the whole block.
func (e *Engine) OnRenderBlock(id string, interleaved []float32, channels, sampleRate int, pos Position) Disposition {
	if channels != e.cfg.Channels || sampleRate != e.cfg.SampleRate ||
		len(interleaved) == 0 || len(interleaved)%channels != 0 {
		return e.record(DispositionUnsupported)
	}

	src, d := e.lookup(id)
	if src == nil {
		return e.record(d)
	}

	frames := len(interleaved) / channels
	mono := src.monoScratch(frames)
	for i := range mono {
		mono[i] = interleaved[i*channels]
	}
	src.posOne[0] = pos
	return e.record(e.submit(src, mono, src.posOne[:]))
}

// OnRenderFrame takes a single mono sample. It reports whether the engine
// absorbed it.
func (e *Engine) OnRenderFrame(id string, sample float32, pos Position) bool {
	src, d := e.lookup(id)
	if src == nil {
		return e.record(d).Absorbed()
	}
	mono := src.monoScratch(1)
	mono[0] = sample
	src.posOne[0] = pos
	return e.record(e.submit(src, mono, src.posOne[:])).Absorbed()
}

func (e *Engine) lookup(id string) (*Source, Disposition) {
	e.mu.RLock()
	src := e.sources[id]
	e.mu.RUnlock()
	if src != nil {
		return src, DispositionAbsorbed
	}
	if _, dead := e.tombstones.Get(id); dead {
		return nil, DispositionDestroyed
	}
	return nil, DispositionUnknownSource
}

// submit writes speculatively, then admits or rolls back.
func (e *Engine) submit(src *Source, samples []float32, positions []Position) Disposition {
	mark, err := src.Write(samples, positions, e.cfg.LockTimeout)
	switch {
	case err == nil:
	case errors.Is(err, ErrLockTimeout):
		e.metrics.RecordLockTimeout("producer")
		e.warn.Warn("source lock timeout on write", logger.String("source_id", src.ID()))
		return DispositionLockTimeout
	case errors.Is(err, ErrSourceClosed):
		return DispositionDestroyed
	default:
		e.warn.Warn("source write rejected",
			logger.String("source_id", src.ID()),
			logger.Error(err))
		return DispositionUnsupported
	}

	if src.Admitted() {
		return DispositionAbsorbed
	}
	if e.queue.TryAdmit(src) {
		e.metrics.SetQueueLength(e.queue.Len())
		e.emit(Event{Kind: EventSourceAdmitted, SourceID: src.ID(), Usable: e.slots.UsableCount(), Timestamp: time.Now()})
		return DispositionAbsorbed
	}

	if err := src.Rollback(mark, e.cfg.LockTimeout); err != nil {
		e.metrics.RecordLockTimeout("producer")
		e.warn.Warn("rollback lock timeout", logger.String("source_id", src.ID()))
	}
	return DispositionPassThrough
}

func (e *Engine) record(d Disposition) Disposition {
	if d.Absorbed() {
		e.absorbed.Add(1)
	} else {
		e.passedThrough.Add(1)
	}
	e.metrics.RecordDisposition(d.String())
	return d
}

func (e *Engine) onEvicted(src *Source, reason EvictionReason) {
	e.metrics.RecordEviction(string(reason))
	e.metrics.SetQueueLength(e.queue.Len())
	e.emit(Event{Kind: EventSourceEvicted, SourceID: src.ID(), Reason: string(reason), Usable: e.slots.UsableCount(), Timestamp: time.Now()})
	e.log.Debug("source evicted",
		logger.String("source_id", src.ID()),
		logger.String("reason", string(reason)))
}

func (e *Engine) emit(ev Event) {
	ev.EngineID = e.id
	e.events.TryPublish(ev)
}

// Snapshot is a point-in-time view of the engine.
type Snapshot struct {
	EngineID          string            `json:"engine_id"`
	State             WorkerState       `json:"state"`
	UsableSlots       int               `json:"usable_slots"`
	MaxSlots          int               `json:"max_slots"`
	QueueLength       int               `json:"queue_length"`
	RegisteredSources int               `json:"registered_sources"`
	Cycles            uint64            `json:"cycles"`
	Connects          uint64            `json:"connects"`
	CapacityChanges   uint64            `json:"capacity_changes"`
	Absorbed          uint64            `json:"absorbed"`
	PassedThrough     uint64            `json:"passed_through"`
	LastCycle         time.Duration     `json:"last_cycle_ns"`
	Admitted          []string          `json:"admitted"`
	Sources           []SourceStats     `json:"sources"`
	Pool              SourcePoolStats   `json:"pool"`
	History           []StateTransition `json:"history"`
}

// Snapshot returns the current engine state. Admitted lists source IDs in admission order.
func (e *Engine) Snapshot() Snapshot {
	admitted := e.queue.Snapshot(nil)
	ids := make([]string, len(admitted))
	for i, src := range admitted {
		ids[i] = src.ID()
	}

	e.mu.RLock()
	stats := make([]SourceStats, 0, len(e.sources))
	for _, src := range e.sources {
		stats = append(stats, src.Stats())
	}
	e.mu.RUnlock()
	slices.SortFunc(stats, func(a, b SourceStats) int { return strings.Compare(a.ID, b.ID) })

	return Snapshot{
		EngineID:          e.id,
		State:             e.worker.State(),
		UsableSlots:       e.slots.UsableCount(),
		MaxSlots:          e.slots.MaxSlots(),
		QueueLength:       len(admitted),
		RegisteredSources: len(stats),
		Cycles:            e.worker.Cycles(),
		Connects:          e.worker.Connects(),
		CapacityChanges:   e.capacity.Changes(),
		Absorbed:          e.absorbed.Load(),
		PassedThrough:     e.passedThrough.Load(),
		LastCycle:         time.Duration(e.worker.lastCycleNs.Load()),
		Admitted:          ids,
		Sources:           stats,
		Pool:              e.pool.Stats(),
		History:           e.worker.History(),
	}
}
