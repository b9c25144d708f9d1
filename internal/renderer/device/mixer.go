package device

import (
	"encoding/binary"
	"math"

	"github.com/smallnest/ringbuffer"

	"github.com/spatialpump/spatialpump/internal/spatial"
)

const (
	outputChannels = 2
	bytesPerSample = 2
)

// panGains returns linear left and right gains for x clamped to [-1, 1].
// The gains always sum to one; distance is ignored.
func panGains(x float32) (left, right float32) {
	p := min(max(x, -1), 1)
	return (1 - p) / 2, (1 + p) / 2
}

// mixer turns committed batches into interleaved S16 stereo blocks in a
// ring buffer drained by the device callback.
type mixer struct {
	quantum    int
	blockBytes int
	ring       *ringbuffer.RingBuffer

	left, right []float32
	block       []byte
	overruns    uint64
}

func newMixer(quantum, blocks int) *mixer {
	blockBytes := quantum * outputChannels * bytesPerSample
	return &mixer{
		quantum:    quantum,
		blockBytes: blockBytes,
		ring:       ringbuffer.New(blockBytes * max(blocks, 2)),
		left:       make([]float32, quantum),
		right:      make([]float32, quantum),
		block:      make([]byte, blockBytes),
	}
}

// add pans one slot's frames into the pending block.
func (m *mixer) add(frames []float32, pos spatial.Position) {
	gl, gr := panGains(pos.X)
	for i, v := range frames[:min(len(frames), m.quantum)] {
		m.left[i] += v * gl
		m.right[i] += v * gr
	}
}

// flush encodes the pending block into the ring and clears it. A full ring
// drops the block and counts an overrun.
func (m *mixer) flush() bool {
	for i := range m.quantum {
		binary.LittleEndian.PutUint16(m.block[4*i:], uint16(toS16(m.left[i])))
		binary.LittleEndian.PutUint16(m.block[4*i+2:], uint16(toS16(m.right[i])))
	}
	clear(m.left)
	clear(m.right)

	if m.ring.Free() < m.blockBytes {
		m.overruns++
		return false
	}
	_, err := m.ring.Write(m.block)
	if err != nil {
		m.overruns++
		return false
	}
	return true
}

// fill copies queued audio into out and zero fills whatever the ring could
// not supply. It returns the number of bytes that came from the ring.
func (m *mixer) fill(out []byte) int {
	n := 0
	if m.ring.Length() > 0 {
		n, _ = m.ring.Read(out)
	}
	clear(out[n:])
	return n
}

// hasRoom reports whether another block fits in the ring.
func (m *mixer) hasRoom() bool {
	return m.ring.Free() >= m.blockBytes
}

func toS16(v float32) int16 {
	return int16(math.Round(float64(min(max(v, -1), 1)) * math.MaxInt16))
}
