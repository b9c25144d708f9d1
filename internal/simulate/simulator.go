// Package simulate drives the engine the way a game host would: it creates
// sources, feeds them one stereo block per host callback while they orbit the
// listener, and destroys them again.
package simulate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

const (
	componentSimulate = "simulate"

	defaultToneHz     = 440
	hostChannels      = 2
	destroyAllTimeout = 2 * time.Second
)

// Host is the engine surface a render callback calls into.
type Host interface {
	OnSourceCreated(id string) error
	OnSourceDestroyed(ctx context.Context, id string) error
	OnRenderBlock(id string, interleaved []float32, channels, sampleRate int, pos spatial.Position) spatial.Disposition
}

// SourceConfig describes one simulated source.
type SourceConfig struct {
	Name string
	// File is decoded when set, otherwise a tone of ToneHz is generated.
	File   string
	ToneHz float64
	Orbit  Orbit
	// Start delays creation; Stop destroys the source, zero keeps it to the end.
	Start time.Duration
	Stop  time.Duration
}

// Config configures the simulator.
type Config struct {
	SampleRate int
	BlockSize  int
	// Duration ends Run after this much simulated time, zero runs until ctx ends.
	Duration time.Duration
	Sources  []SourceConfig
}

type sourceState int

const (
	statePending sourceState = iota
	stateActive
	stateDone
)

func (s sourceState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateActive:
		return "active"
	default:
		return "done"
	}
}

// SourceStats counts the outcomes of one simulated source's blocks.
type SourceStats struct {
	Name          string `json:"name"`
	ID            string `json:"id,omitempty"`
	State         string `json:"state"`
	Blocks        uint64 `json:"blocks"`
	Absorbed      uint64 `json:"absorbed"`
	PassedThrough uint64 `json:"passed_through"`
	Rejected      uint64 `json:"rejected"`
}

type simSource struct {
	cfg    SourceConfig
	audio  []float32
	cursor int
	state  sourceState
	stats  SourceStats
}

// Simulator feeds a Host with blocks on a simulated clock.
type Simulator struct {
	cfg  Config
	host Host
	log  logger.Logger

	mu      sync.Mutex
	sources []*simSource
	blocks  int64
	block   []float32
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithLogger sets the simulator logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// New loads every source's audio and returns a simulator.
func New(cfg Config, host Host, opts ...Option) (*Simulator, error) {
	if cfg.SampleRate <= 0 || cfg.BlockSize <= 0 {
		return nil, errors.Newf("simulator needs a positive sample rate and block size").
			Component(componentSimulate).
			Category(errors.CategoryConfiguration).
			Context("block_size", cfg.BlockSize).
			Build()
	}
	if host == nil {
		return nil, errors.Newf("simulator host is required").
			Component(componentSimulate).
			Category(errors.CategoryValidation).
			Build()
	}

	s := &Simulator{
		cfg:   cfg,
		host:  host,
		log:   logger.Global().Module(componentSimulate),
		block: make([]float32, cfg.BlockSize*hostChannels),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, sc := range cfg.Sources {
		var audio []float32
		if sc.File != "" {
			var err error
			if audio, err = LoadMono(sc.File, cfg.SampleRate); err != nil {
				return nil, err
			}
		} else {
			hz := sc.ToneHz
			if hz <= 0 {
				hz = defaultToneHz
			}
			audio = Tone(hz, cfg.SampleRate)
		}
		s.sources = append(s.sources, &simSource{
			cfg:   sc,
			audio: audio,
			stats: SourceStats{Name: sc.Name, State: statePending.String()},
		})
		s.log.Debug("source loaded",
			logger.String("name", sc.Name),
			logger.String("file", sc.File),
			logger.Int("samples", len(audio)))
	}
	return s, nil
}

// BlockDuration is the host callback period.
func (s *Simulator) BlockDuration() time.Duration {
	return time.Duration(s.cfg.BlockSize) * time.Second / time.Duration(s.cfg.SampleRate)
}

// Elapsed returns the simulated time of the next block.
func (s *Simulator) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.blocks) * s.BlockDuration()
}

// Run steps once per block period until ctx ends or the configured duration
// has been simulated, then destroys the remaining sources.
func (s *Simulator) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.BlockDuration())
	defer ticker.Stop()

	s.log.Info("simulation started",
		logger.Int("sources", len(s.sources)),
		logger.Int("block_size", s.cfg.BlockSize),
		logger.Duration("duration", s.cfg.Duration))

	defer func() {
		// teardown must run even when ctx is what ended the run
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), destroyAllTimeout)
		defer cancel()
		s.destroyAll(dctx)
		s.logSummary()
	}()

	for {
		if s.cfg.Duration > 0 && s.Elapsed() >= s.cfg.Duration {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Step(ctx)
		}
	}
}

// Step runs one host block: lifecycle changes due at the current simulated
// time, then one OnRenderBlock per active source.
func (s *Simulator) Step(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := time.Duration(s.blocks) * s.BlockDuration()
	for _, src := range s.sources {
		switch src.state {
		case statePending:
			if elapsed < src.cfg.Start {
				continue
			}
			s.create(src)
			if src.state != stateActive {
				continue
			}
		case stateActive:
		default:
			continue
		}

		if src.cfg.Stop > 0 && elapsed >= src.cfg.Stop {
			s.destroy(ctx, src)
			continue
		}
		s.render(src, elapsed)
	}
	s.blocks++
}

func (s *Simulator) create(src *simSource) {
	id := src.cfg.Name + "-" + uuid.NewString()[:8]
	if err := s.host.OnSourceCreated(id); err != nil {
		s.log.Warn("source creation failed", logger.String("name", src.cfg.Name), logger.Error(err))
		return
	}
	src.stats.ID = id
	src.state = stateActive
	src.stats.State = stateActive.String()
	s.log.Info("source created", logger.String("name", src.cfg.Name), logger.String("source_id", id))
}

func (s *Simulator) destroy(ctx context.Context, src *simSource) {
	if err := s.host.OnSourceDestroyed(ctx, src.stats.ID); err != nil {
		s.log.Warn("source destroy failed", logger.String("source_id", src.stats.ID), logger.Error(err))
	}
	src.state = stateDone
	src.stats.State = stateDone.String()
	s.log.Info("source destroyed",
		logger.String("source_id", src.stats.ID),
		logger.Uint64("absorbed", src.stats.Absorbed),
		logger.Uint64("passed_through", src.stats.PassedThrough))
}

// render fills the shared block with the next BlockSize samples of src on
// both channels, looping its audio.
func (s *Simulator) render(src *simSource, elapsed time.Duration) {
	for i := range s.cfg.BlockSize {
		v := src.audio[src.cursor]
		src.cursor++
		if src.cursor == len(src.audio) {
			src.cursor = 0
		}
		s.block[2*i] = v
		s.block[2*i+1] = v
	}

	d := s.host.OnRenderBlock(src.stats.ID, s.block, hostChannels, s.cfg.SampleRate, src.cfg.Orbit.At(elapsed))
	src.stats.Blocks++
	switch d {
	case spatial.DispositionAbsorbed:
		src.stats.Absorbed++
	case spatial.DispositionPassThrough:
		src.stats.PassedThrough++
	default:
		src.stats.Rejected++
	}
}

func (s *Simulator) destroyAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.state == stateActive {
			s.destroy(ctx, src)
		}
	}
}

func (s *Simulator) logSummary() {
	for _, st := range s.Stats() {
		s.log.Info("simulation summary",
			logger.String("name", st.Name),
			logger.Uint64("blocks", st.Blocks),
			logger.Uint64("absorbed", st.Absorbed),
			logger.Uint64("passed_through", st.PassedThrough),
			logger.Uint64("rejected", st.Rejected))
	}
}

// Stats returns per-source counters in configuration order.
func (s *Simulator) Stats() []SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SourceStats, len(s.sources))
	for i, src := range s.sources {
		out[i] = src.stats
	}
	return out
}
