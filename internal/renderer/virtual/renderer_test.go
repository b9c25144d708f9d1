package virtual

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

const testWait = 2 * time.Second

type chanListener chan int

func (c chanListener) OnCapacityChanged(n int) { c <- n }

func manualConfig() Config {
	return Config{MaxObjects: 4, InitialCapacity: 2, Quantum: 8, SampleRate: 48000}
}

func newRenderer(t *testing.T, cfg Config) *Renderer {
	t.Helper()
	r, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestNewRejectsBadConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{MaxObjects: 0, Quantum: 8, SampleRate: 48000})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestInitialCapacityClampedToMaxObjects(t *testing.T) {
	t.Parallel()

	cfg := manualConfig()
	cfg.InitialCapacity = 10
	r := newRenderer(t, cfg)
	assert.Equal(t, 4, r.Capacity())
}

func TestCapacityChangesReachListener(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, manualConfig())
	listener := make(chanListener, 8)
	s, err := r.Connect(t.Context(), listener)
	require.NoError(t, err)
	assert.Equal(t, 2, s.AvailableSlots())
	assert.Equal(t, 4, s.MaxSlots())

	r.SetCapacity(1)
	select {
	case n := <-listener:
		assert.Equal(t, 1, n)
	case <-time.After(testWait):
		t.Fatal("capacity change not delivered")
	}
	assert.Equal(t, 1, s.AvailableSlots())

	assert.Zero(t, r.SetCapacity(-3))
	assert.Equal(t, 0, r.Capacity())
	assert.Equal(t, 4, r.SetCapacity(99))
}

func TestFailConnects(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, manualConfig())
	r.FailConnects(2)

	for range 2 {
		_, err := r.Connect(t.Context(), nil)
		require.ErrorIs(t, err, ErrConnectRefused)
	}
	_, err := r.Connect(t.Context(), nil)
	require.NoError(t, err)

	st := r.Stats()
	assert.Equal(t, uint64(2), st.Refused)
	assert.Equal(t, uint64(1), st.Connects)
	assert.True(t, st.Connected)
}

func TestConnectHonorsContext(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, manualConfig())
	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err := r.Connect(ctx, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBatchCommitCopiesFrames(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, manualConfig())
	var got []Batch
	r.OnCommit(func(b Batch) { got = append(got, b) })

	s, err := r.Connect(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, 8, s.(spatial.FrameCounter).FramesPerCycle())

	h, err := s.Acquire()
	require.NoError(t, err)
	require.True(t, s.IsActive(h))

	frames := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	require.NoError(t, s.BeginBatch())
	require.NoError(t, s.WriteFrames(h, frames))
	require.NoError(t, s.SetPosition(h, spatial.Position{X: 1, Y: 2, Z: 3}))
	frames[0] = -1
	require.NoError(t, s.EndBatch())

	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Seq)
	require.Len(t, got[0].Slots, 1)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6, 7, 8}, got[0].Slots[0].Frames)
	assert.Equal(t, spatial.Position{X: 1, Y: 2, Z: 3}, got[0].Slots[0].Position)
	assert.Equal(t, uint64(8), r.Stats().Frames)
}

func TestWriteOutsideBatchOrInactiveSlot(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, manualConfig())
	s, err := r.Connect(t.Context(), nil)
	require.NoError(t, err)
	h, err := s.Acquire()
	require.NoError(t, err)

	require.Error(t, s.WriteFrames(h, make([]float32, 8)))
	require.NoError(t, s.BeginBatch())
	err = s.WriteFrames(handle{id: 99}, make([]float32, 8))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategorySlot))
}

func TestAcquireBoundedByMaxObjects(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, manualConfig())
	s, err := r.Connect(t.Context(), nil)
	require.NoError(t, err)

	for range 4 {
		_, err := s.Acquire()
		require.NoError(t, err)
	}
	_, err = s.Acquire()
	require.ErrorIs(t, err, ErrNoFreeObject)
}

func TestFailNextCommitFailsOnce(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, manualConfig())
	s, err := r.Connect(t.Context(), nil)
	require.NoError(t, err)

	r.FailNextCommit()
	require.NoError(t, s.BeginBatch())
	require.Error(t, s.EndBatch())
	require.NoError(t, s.BeginBatch())
	require.NoError(t, s.EndBatch())
	assert.Equal(t, uint64(1), r.Stats().Commits)
}

func TestInvalidateAndDrop(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, manualConfig())
	s, err := r.Connect(t.Context(), nil)
	require.NoError(t, err)

	require.NoError(t, s.Validate())
	r.Invalidate()
	require.Error(t, s.Validate())

	r.Drop()
	_, open := <-s.Ready()
	assert.False(t, open)
	assert.False(t, r.Tick())

	require.NoError(t, s.Close())
	assert.False(t, r.Stats().Connected)
}

func TestManualTick(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, manualConfig())
	assert.False(t, r.Tick(), "no stream")

	s, err := r.Connect(t.Context(), nil)
	require.NoError(t, err)
	assert.True(t, r.Tick())
	assert.False(t, r.Tick(), "previous signal not consumed")
	<-s.Ready()
	assert.True(t, r.Tick())
}

func TestClockDrivesReady(t *testing.T) {
	t.Parallel()

	cfg := manualConfig()
	cfg.Clock = true
	cfg.Quantum = 480
	r := newRenderer(t, cfg)
	s, err := r.Connect(t.Context(), nil)
	require.NoError(t, err)

	for range 3 {
		select {
		case <-s.Ready():
		case <-time.After(testWait):
			t.Fatal("clock did not signal")
		}
	}
	require.NoError(t, s.Close())
}

func TestReconnectReplacesStream(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, manualConfig())
	first, err := r.Connect(t.Context(), nil)
	require.NoError(t, err)
	second, err := r.Connect(t.Context(), nil)
	require.NoError(t, err)

	_, open := <-first.Ready()
	assert.False(t, open)
	require.NoError(t, first.Close())
	assert.True(t, r.Stats().Connected, "closing a replaced stream keeps the current one")
	require.NoError(t, second.Validate())
}

func TestWAVCaptureOfMonoMix(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "capture", "mix.wav")
	cfg := manualConfig()
	cfg.CaptureFile = path
	r, err := New(cfg)
	require.NoError(t, err)

	s, err := r.Connect(t.Context(), nil)
	require.NoError(t, err)
	a, err := s.Acquire()
	require.NoError(t, err)
	b, err := s.Acquire()
	require.NoError(t, err)

	half := slices.Repeat([]float32{0.25}, 8)
	require.NoError(t, s.BeginBatch())
	require.NoError(t, s.WriteFrames(a, half))
	require.NoError(t, s.WriteFrames(b, half))
	require.NoError(t, s.EndBatch())
	require.NoError(t, s.BeginBatch())
	require.NoError(t, s.EndBatch())
	require.NoError(t, r.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	require.True(t, dec.IsValidFile())
	assert.Equal(t, uint32(48000), dec.SampleRate)
	assert.Equal(t, uint16(1), dec.NumChans)
	assert.Equal(t, uint16(16), dec.BitDepth)

	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	require.Len(t, buf.Data, 16)
	assert.InDelta(t, 16384, buf.Data[0], 1)
	assert.Equal(t, 0, buf.Data[15])
}

// stereo interleaves left with a silent right channel.
func stereo(left []float32) []float32 {
	out := make([]float32, 2*len(left))
	for i, v := range left {
		out[2*i] = v
	}
	return out
}

func TestEngineRendersThroughVirtualRenderer(t *testing.T) {
	t.Parallel()

	r := newRenderer(t, manualConfig())
	var (
		mu      sync.Mutex
		batches []Batch
	)
	r.OnCommit(func(b Batch) {
		mu.Lock()
		batches = append(batches, b)
		mu.Unlock()
	})
	committedSlots := func() [][]float32 {
		mu.Lock()
		defer mu.Unlock()
		var out [][]float32
		for _, b := range batches {
			for _, sf := range b.Slots {
				out = append(out, sf.Frames)
			}
		}
		return out
	}

	cfg := spatial.DefaultConfig()
	cfg.Quantum = 8
	cfg.BufferCapacity = 64
	cfg.ReadyTimeout = 20 * time.Millisecond
	cfg.ReconnectInitial = time.Millisecond
	cfg.ReconnectMax = 5 * time.Millisecond
	e, err := spatial.NewEngine(cfg, r, spatial.WithLogger(logger.NewDiscardLogger()))
	require.NoError(t, err)
	require.NoError(t, e.Start(t.Context()))
	t.Cleanup(e.Stop)

	require.Eventually(t, func() bool { return e.Snapshot().UsableSlots == 2 }, testWait, time.Millisecond)

	require.NoError(t, e.OnSourceCreated("a"))
	left := []float32{.1, .2, .3, .4, .5, .6, .7, .8}
	require.Equal(t, spatial.DispositionAbsorbed, e.OnRenderBlock("a", stereo(left), 2, 48000, spatial.Position{X: 1}))

	require.Eventually(t, func() bool {
		r.Tick()
		return len(committedSlots()) > 0
	}, testWait, time.Millisecond)
	assert.Equal(t, left, committedSlots()[0])

	r.SetCapacity(0)
	require.Eventually(t, func() bool {
		snap := e.Snapshot()
		return snap.UsableSlots == 0 && snap.QueueLength == 0
	}, testWait, time.Millisecond)
	assert.Equal(t, spatial.DispositionPassThrough, e.OnRenderBlock("a", stereo(left), 2, 48000, spatial.Position{}))

	r.Drop()
	require.Eventually(t, func() bool { return e.Snapshot().Connects >= 2 }, testWait, time.Millisecond)
}
