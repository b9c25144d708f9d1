package device

import (
	"encoding/binary"
	"testing"

	"github.com/gen2brain/malgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

func TestPanGains(t *testing.T) {
	t.Parallel()

	tests := []struct {
		x           float32
		left, right float32
	}{
		{x: 0, left: 0.5, right: 0.5},
		{x: -1, left: 1, right: 0},
		{x: 1, left: 0, right: 1},
		{x: 7, left: 0, right: 1},
		{x: 0.5, left: 0.25, right: 0.75},
	}
	for _, tt := range tests {
		l, r := panGains(tt.x)
		assert.InDelta(t, tt.left, l, 1e-6, "x=%v", tt.x)
		assert.InDelta(t, tt.right, r, 1e-6, "x=%v", tt.x)
	}
}

func frameAt(t *testing.T, block []byte, i int) (left, right int16) {
	t.Helper()
	return int16(binary.LittleEndian.Uint16(block[4*i:])), int16(binary.LittleEndian.Uint16(block[4*i+2:]))
}

func TestMixerPansAndSums(t *testing.T) {
	t.Parallel()

	m := newMixer(4, 4)
	m.add([]float32{1, 1, 1, 1}, spatial.Position{X: -1})
	m.add([]float32{0.5, 0.5, 0.5, 0.5}, spatial.Position{X: 1})
	require.True(t, m.flush())

	out := make([]byte, m.blockBytes)
	assert.Equal(t, m.blockBytes, m.fill(out))
	l, r := frameAt(t, out, 0)
	assert.Equal(t, int16(32767), l)
	assert.Equal(t, int16(16384), r)

	// pending accumulators are cleared by flush
	require.True(t, m.flush())
	m.fill(out)
	l, r = frameAt(t, out, 3)
	assert.Zero(t, l)
	assert.Zero(t, r)
}

func TestMixerClipsToS16(t *testing.T) {
	t.Parallel()

	m := newMixer(1, 2)
	m.add([]float32{-3}, spatial.Position{X: -1})
	require.True(t, m.flush())
	out := make([]byte, m.blockBytes)
	m.fill(out)
	l, _ := frameAt(t, out, 0)
	assert.Equal(t, int16(-32767), l)
}

func TestMixerFillZeroPadsOnUnderrun(t *testing.T) {
	t.Parallel()

	m := newMixer(2, 2)
	out := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	assert.Zero(t, m.fill(out))
	assert.Equal(t, make([]byte, 8), out)
}

func TestMixerOverrunDropsBlock(t *testing.T) {
	t.Parallel()

	m := newMixer(2, 2)
	require.True(t, m.flush())
	require.True(t, m.flush())
	assert.False(t, m.hasRoom())
	assert.False(t, m.flush())
	assert.Equal(t, uint64(1), m.overruns)
}

func TestParseBackend(t *testing.T) {
	t.Parallel()

	b, err := parseBackend("PulseAudio")
	require.NoError(t, err)
	assert.Equal(t, malgo.BackendPulseaudio, b)

	_, err = parseBackend("")
	require.NoError(t, err)

	_, err = parseBackend("beeper")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Objects: 0, Quantum: 480, SampleRate: 48000})
	require.Error(t, err)

	r, err := New(Config{Objects: 4, Quantum: 480, SampleRate: 48000, BufferBlocks: 4})
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestSelectDevice(t *testing.T) {
	t.Parallel()

	info, err := selectDevice(nil, "")
	require.NoError(t, err)
	assert.Nil(t, info)

	_, err = selectDevice(nil, "hw:9,9")
	require.Error(t, err)
}

func TestStreamSlotsAndBatch(t *testing.T) {
	t.Parallel()

	s := newStream(Config{Objects: 2, Quantum: 2, SampleRate: 48000, BufferBlocks: 4}, logger.NewDiscardLogger())
	assert.Equal(t, 2, s.AvailableSlots())
	assert.Equal(t, 2, s.FramesPerCycle())

	a, err := s.Acquire()
	require.NoError(t, err)
	_, err = s.Acquire()
	require.NoError(t, err)
	_, err = s.Acquire()
	require.Error(t, err)

	require.NoError(t, s.BeginBatch())
	require.NoError(t, s.WriteFrames(a, []float32{1, 1}))
	require.NoError(t, s.SetPosition(a, spatial.Position{X: 1}))
	require.Error(t, s.WriteFrames(handle{id: 5}, []float32{1, 1}))
	require.NoError(t, s.EndBatch())

	out := make([]byte, 8)
	s.onData(out, nil, 2)
	l, r := frameAt(t, out, 1)
	assert.Zero(t, l)
	assert.Equal(t, int16(32767), r)

	select {
	case <-s.Ready():
	default:
		t.Fatal("callback with room should signal ready")
	}

	s.onStop()
	require.Error(t, s.Validate())
	require.NoError(t, s.Close())
	_, open := <-s.Ready()
	assert.False(t, open)
	assert.False(t, s.IsActive(a))
}
