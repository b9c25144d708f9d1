// Package device renders spatial slots to a local playback device through
// miniaudio. The device data callback is the quantum clock; slots are
// downmixed to stereo with a linear pan on X.
package device

import (
	"context"
	"encoding/hex"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

const componentDevice = "renderer.device"

// Config configures the device renderer.
type Config struct {
	// Backend names the miniaudio backend, empty selects the platform default.
	Backend  string
	DeviceID string
	// Objects is the fixed slot capacity.
	Objects int
	// BufferBlocks is how many committed quanta may queue ahead of the device.
	BufferBlocks int
	Quantum      int
	SampleRate   int
}

// DeviceInfo describes a playback device.
type DeviceInfo struct {
	Index   int    `json:"index"`
	Name    string `json:"name"`
	ID      string `json:"id"`
	Default bool   `json:"default"`
}

// Renderer opens playback streams on a local audio device.
type Renderer struct {
	cfg Config
	log logger.Logger
}

// New validates cfg and returns a renderer. No device is opened until Connect.
func New(cfg Config) (*Renderer, error) {
	if cfg.Objects <= 0 || cfg.Quantum <= 0 || cfg.SampleRate <= 0 {
		return nil, errors.Newf("device renderer needs positive objects, quantum and sample rate").
			Component(componentDevice).
			Category(errors.CategoryConfiguration).
			Context("objects", cfg.Objects).
			Build()
	}
	if _, err := parseBackend(cfg.Backend); err != nil {
		return nil, err
	}
	return &Renderer{cfg: cfg, log: logger.Global().Module("renderer").Module("device")}, nil
}

func parseBackend(name string) (malgo.Backend, error) {
	switch strings.ToLower(name) {
	case "":
		return defaultBackend(), nil
	case "alsa":
		return malgo.BackendAlsa, nil
	case "pulseaudio":
		return malgo.BackendPulseaudio, nil
	case "jack":
		return malgo.BackendJack, nil
	case "wasapi":
		return malgo.BackendWasapi, nil
	case "coreaudio":
		return malgo.BackendCoreaudio, nil
	case "null":
		return malgo.BackendNull, nil
	default:
		return 0, errors.Newf("unknown audio backend %q", name).
			Component(componentDevice).
			Category(errors.CategoryConfiguration).
			Build()
	}
}

func defaultBackend() malgo.Backend {
	switch runtime.GOOS {
	case "windows":
		return malgo.BackendWasapi
	case "darwin":
		return malgo.BackendCoreaudio
	default:
		return malgo.BackendAlsa
	}
}

func initContext(backendName string, log logger.Logger) (*malgo.AllocatedContext, error) {
	backend, err := parseBackend(backendName)
	if err != nil {
		return nil, err
	}
	mctx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, func(message string) {
		log.Debug("miniaudio", logger.String("message", strings.TrimSpace(message)))
	})
	if err != nil {
		return nil, errors.New(err).
			Component(componentDevice).
			Category(errors.CategoryAudioDevice).
			Context("operation", "init_context").
			Context("backend", backendName).
			Build()
	}
	return mctx, nil
}

// decodeID turns the hex form of a miniaudio device ID into text. IDs that
// are not printable are returned in hex.
func decodeID(info malgo.DeviceInfo) string {
	raw := info.ID.String()
	b, err := hex.DecodeString(raw)
	if err != nil {
		return raw
	}
	return strings.TrimRight(string(b), "\x00")
}

// ListDevices returns the playback devices of backend.
func ListDevices(backend string) ([]DeviceInfo, error) {
	log := logger.Global().Module("renderer").Module("device")
	mctx, err := initContext(backend, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Playback)
	if err != nil {
		return nil, errors.New(err).
			Component(componentDevice).
			Category(errors.CategoryAudioDevice).
			Context("operation", "list_devices").
			Build()
	}

	out := make([]DeviceInfo, 0, len(infos))
	for i, info := range infos {
		out = append(out, DeviceInfo{
			Index:   i,
			Name:    info.Name(),
			ID:      decodeID(info),
			Default: info.IsDefault != 0,
		})
	}
	return out, nil
}

// selectDevice finds the configured device by decoded ID or name. An empty
// id selects the backend default.
func selectDevice(infos []malgo.DeviceInfo, id string) (*malgo.DeviceInfo, error) {
	if id == "" {
		return nil, nil
	}
	for i := range infos {
		if decodeID(infos[i]) == id || strings.Contains(infos[i].Name(), id) {
			return &infos[i], nil
		}
	}
	return nil, errors.Newf("playback device %q not found", id).
		Component(componentDevice).
		Category(errors.CategoryAudioDevice).
		Context("devices", len(infos)).
		Build()
}

// Connect opens and starts the playback device. Capacity is fixed, so the
// listener is never called.
func (r *Renderer) Connect(ctx context.Context, _ spatial.CapacityListener) (spatial.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mctx, err := initContext(r.cfg.Backend, r.log)
	if err != nil {
		return nil, err
	}

	s := newStream(r.cfg, r.log)
	s.mctx = mctx

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = outputChannels
	deviceConfig.SampleRate = uint32(r.cfg.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(r.cfg.Quantum)
	deviceConfig.Alsa.NoMMap = 1

	if r.cfg.DeviceID != "" {
		infos, err := mctx.Devices(malgo.Playback)
		if err != nil {
			s.releaseContext()
			return nil, errors.New(err).
				Component(componentDevice).
				Category(errors.CategoryAudioDevice).
				Context("operation", "list_devices").
				Build()
		}
		info, err := selectDevice(infos, r.cfg.DeviceID)
		if err != nil {
			s.releaseContext()
			return nil, err
		}
		deviceConfig.Playback.DeviceID = info.ID.Pointer()
	}

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: s.onData,
		Stop: s.onStop,
	})
	if err != nil {
		s.releaseContext()
		return nil, errors.New(err).
			Component(componentDevice).
			Category(errors.CategoryAudioDevice).
			Context("operation", "init_device").
			Build()
	}
	s.dev = dev

	// the first batch is wanted before the device asks for audio
	s.signal()
	if err := dev.Start(); err != nil {
		_ = s.Close()
		return nil, errors.New(err).
			Component(componentDevice).
			Category(errors.CategoryAudioDevice).
			Context("operation", "start_device").
			Build()
	}

	r.log.Info("playback device started",
		logger.String("device", r.cfg.DeviceID),
		logger.Int("objects", r.cfg.Objects),
		logger.Int("quantum", r.cfg.Quantum))
	return s, nil
}

type handle struct{ id int }

func (h handle) SlotID() int { return h.id }

type slotData struct {
	frames []float32
	pos    spatial.Position
}

// Stream is an open playback device.
type Stream struct {
	cfg Config
	log logger.Logger

	mctx *malgo.AllocatedContext
	dev  *malgo.Device
	mix  *mixer

	ready     chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
	stopped   atomic.Bool
	underruns atomic.Uint64

	// worker goroutine only
	acquired int
	active   map[int]bool
	pending  map[int]*slotData
}

func newStream(cfg Config, log logger.Logger) *Stream {
	return &Stream{
		cfg:     cfg,
		log:     log,
		mix:     newMixer(cfg.Quantum, cfg.BufferBlocks),
		ready:   make(chan struct{}, 1),
		active:  make(map[int]bool),
		pending: make(map[int]*slotData),
	}
}

func (s *Stream) signal() {
	if s.closed.Load() {
		return
	}
	select {
	case s.ready <- struct{}{}:
	default:
	}
}

// onData runs on the audio thread.
func (s *Stream) onData(out, _ []byte, _ uint32) {
	if n := s.mix.fill(out); n < len(out) {
		s.underruns.Add(1)
	}
	if s.mix.hasRoom() {
		s.signal()
	}
}

// onStop runs when the device stops, including unexpected stops.
func (s *Stream) onStop() {
	s.stopped.Store(true)
}

func (s *Stream) releaseContext() {
	if s.mctx != nil {
		_ = s.mctx.Uninit()
		s.mctx.Free()
		s.mctx = nil
	}
}

// Ready implements spatial.Stream.
func (s *Stream) Ready() <-chan struct{} { return s.ready }

// Validate implements spatial.Stream.
func (s *Stream) Validate() error {
	if s.stopped.Load() || (s.dev != nil && !s.dev.IsStarted()) {
		return errors.Newf("playback device stopped").
			Component(componentDevice).
			Category(errors.CategoryRenderer).
			Context("underruns", s.underruns.Load()).
			Build()
	}
	return nil
}

// MaxSlots implements spatial.Stream.
func (s *Stream) MaxSlots() int { return s.cfg.Objects }

// AvailableSlots implements spatial.Stream.
func (s *Stream) AvailableSlots() int { return s.cfg.Objects }

// FramesPerCycle implements spatial.FrameCounter.
func (s *Stream) FramesPerCycle() int { return s.cfg.Quantum }

// Close stops and releases the device.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.dev != nil {
			_ = s.dev.Stop()
			s.dev.Uninit()
			s.dev = nil
		}
		s.releaseContext()
		close(s.ready)
		s.log.Info("playback device closed",
			logger.Uint64("underruns", s.underruns.Load()),
			logger.Uint64("overruns", s.mix.overruns))
	})
	return nil
}

// Acquire implements spatial.SlotProvider.
func (s *Stream) Acquire() (spatial.SlotHandle, error) {
	if len(s.active) >= s.cfg.Objects {
		return nil, errors.Newf("all %d playback objects in use", s.cfg.Objects).
			Component(componentDevice).
			Category(errors.CategorySlot).
			Build()
	}
	h := handle{id: s.acquired}
	s.acquired++
	s.active[h.id] = true
	return h, nil
}

// IsActive implements spatial.SlotProvider.
func (s *Stream) IsActive(h spatial.SlotHandle) bool {
	return h != nil && !s.closed.Load() && s.active[h.SlotID()]
}

// BeginBatch implements spatial.SlotProvider.
func (s *Stream) BeginBatch() error {
	clear(s.pending)
	return nil
}

func (s *Stream) slot(h spatial.SlotHandle) (*slotData, error) {
	if h == nil || !s.active[h.SlotID()] {
		return nil, errors.Newf("write to inactive playback object").
			Component(componentDevice).
			Category(errors.CategorySlot).
			Build()
	}
	sd, ok := s.pending[h.SlotID()]
	if !ok {
		sd = &slotData{}
		s.pending[h.SlotID()] = sd
	}
	return sd, nil
}

// WriteFrames implements spatial.SlotProvider.
func (s *Stream) WriteFrames(h spatial.SlotHandle, frames []float32) error {
	sd, err := s.slot(h)
	if err != nil {
		return err
	}
	sd.frames = append(sd.frames[:0], frames...)
	return nil
}

// SetPosition implements spatial.SlotProvider.
func (s *Stream) SetPosition(h spatial.SlotHandle, p spatial.Position) error {
	sd, err := s.slot(h)
	if err != nil {
		return err
	}
	sd.pos = p
	return nil
}

// EndBatch mixes the batch into the device queue.
func (s *Stream) EndBatch() error {
	if s.closed.Load() {
		return errors.Newf("playback device closed").
			Component(componentDevice).
			Category(errors.CategoryRenderer).
			Build()
	}
	for _, sd := range s.pending {
		s.mix.add(sd.frames, sd.pos)
	}
	if !s.mix.flush() {
		s.log.Debug("device queue full, block dropped", logger.Uint64("overruns", s.mix.overruns))
	}
	return nil
}
