package spatial

import (
	"container/list"
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Source is the ring buffer of one producer: mono samples plus the position
// of every sample. The producer writes, the pump worker reads one quantum at
// a time. Both sides take the source lock with a bounded wait.
type Source struct {
	id       string
	capacity int
	lock     *semaphore.Weighted

	// guarded by lock
	buf            *ringBuffers
	readIndex      int
	writeIndex     int
	full           bool // unread == capacity
	overflowed     bool // unread data was overwritten, the oldest survivor is at writeIndex
	lastWriteStart int
	lastWriteLen   int
	lastPos        Position

	emptyCount atomic.Int32
	admitted   atomic.Bool
	closing    atomic.Bool

	// guarded by the admission queue lock
	elem *list.Element

	// producer-owned scratch, the host never runs two callbacks of one source at once
	mono   []float32
	posOne [1]Position

	framesWritten atomic.Uint64
	framesRead    atomic.Uint64
	overflows     atomic.Uint64
	starvedReads  atomic.Uint64
	createdAt     time.Time
}

// WriteMark records the indices before a write so it can be undone.
type WriteMark struct {
	writeIndex     int
	full           bool
	overflowed     bool
	lastWriteStart int
	lastWriteLen   int
	lastPos        Position
	valid          bool
}

// ReadResult describes one quantum read.
type ReadResult struct {
	// Frames is the number of frames copied, either the full quantum or 0.
	Frames int
	// Position of the first frame of the quantum, or the last known position when starved.
	Position Position
	// Starved is set when fewer than a quantum of unread frames were available.
	Starved bool
	// Overflowed is set when the writer lapped the reader since the previous read.
	Overflowed bool
}

// SourceStats is a point-in-time view of a source.
type SourceStats struct {
	ID            string    `json:"id"`
	Admitted      bool      `json:"admitted"`
	Closing       bool      `json:"closing"`
	Unread        int       `json:"unread"`
	EmptyCount    int       `json:"empty_count"`
	Position      Position  `json:"position"`
	FramesWritten uint64    `json:"frames_written"`
	FramesRead    uint64    `json:"frames_read"`
	Overflows     uint64    `json:"overflows"`
	StarvedReads  uint64    `json:"starved_reads"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewSource creates a standalone source with its own buffers.
func NewSource(id string, capacity int) *Source {
	return newSource(id, &ringBuffers{
		samples: make([]float32, capacity),
		xs:      make([]float32, capacity),
		ys:      make([]float32, capacity),
		zs:      make([]float32, capacity),
	})
}

func newSource(id string, rb *ringBuffers) *Source {
	return &Source{
		id:        id,
		capacity:  rb.size(),
		lock:      semaphore.NewWeighted(1),
		buf:       rb,
		createdAt: time.Now(),
	}
}

// ID returns the source identifier.
func (s *Source) ID() string { return s.id }

// Capacity returns the ring size in samples.
func (s *Source) Capacity() int { return s.capacity }

// Admitted reports whether the source currently owns a slot.
func (s *Source) Admitted() bool { return s.admitted.Load() }

// Closing reports whether teardown has started.
func (s *Source) Closing() bool { return s.closing.Load() }

// EmptyCount is the number of consecutive starved reads since the last write.
func (s *Source) EmptyCount() int { return int(s.emptyCount.Load()) }

// acquire takes the source lock, waiting at most timeout.
func (s *Source) acquire(timeout time.Duration) bool {
	if s.lock.TryAcquire(1) {
		return true
	}
	if timeout <= 0 {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.lock.Acquire(ctx, 1) == nil
}

func (s *Source) release() {
	s.lock.Release(1)
}

// Write appends samples and their positions. positions must hold either one
// entry per sample or a single entry applied to the whole block.
func (s *Source) Write(samples []float32, positions []Position, timeout time.Duration) (WriteMark, error) {
	if len(samples) == 0 {
		return WriteMark{}, nil
	}
	if len(positions) != 1 && len(positions) != len(samples) {
		return WriteMark{}, ErrPositionMismatch
	}

	if !s.acquire(timeout) {
		return WriteMark{}, ErrLockTimeout
	}
	defer s.release()

	if s.buf == nil {
		return WriteMark{}, ErrSourceClosed
	}

	mark := WriteMark{
		writeIndex:     s.writeIndex,
		full:           s.full,
		overflowed:     s.overflowed,
		lastWriteStart: s.lastWriteStart,
		lastWriteLen:   s.lastWriteLen,
		lastPos:        s.lastPos,
		valid:          true,
	}

	s.emptyCount.Store(0)

	c := s.capacity
	w := s.writeIndex
	r := s.readIndex
	rb := s.buf
	single := len(positions) == 1
	p := positions[0]

	for i, v := range samples {
		if !single {
			p = positions[i]
		}
		if w == r && s.full {
			s.overflowed = true
		}
		rb.samples[w] = v
		rb.xs[w] = p.X
		rb.ys[w] = p.Y
		rb.zs[w] = p.Z
		w++
		if w == c {
			w = 0
		}
		if w == r {
			s.full = true
		}
	}

	s.lastWriteStart = s.writeIndex
	s.lastWriteLen = len(samples)
	s.lastPos = p
	s.writeIndex = w
	s.framesWritten.Add(uint64(len(samples)))

	return mark, nil
}

// Rollback undoes the write that returned mark. Only the most recent write can be undone.
func (s *Source) Rollback(mark WriteMark, timeout time.Duration) error {
	if !mark.valid {
		return nil
	}
	if !s.acquire(timeout) {
		return ErrLockTimeout
	}
	defer s.release()

	written := s.lastWriteLen
	s.writeIndex = mark.writeIndex
	s.full = mark.full
	s.overflowed = mark.overflowed
	s.lastWriteStart = mark.lastWriteStart
	s.lastWriteLen = mark.lastWriteLen
	s.lastPos = mark.lastPos
	s.framesWritten.Add(^uint64(written - 1))

	return nil
}

// Read copies exactly len(dst) frames or nothing. A starved read leaves the
// ring untouched, bumps the empty counter and the caller zero-fills.
func (s *Source) Read(dst []float32, timeout time.Duration) (ReadResult, error) {
	if !s.acquire(timeout) {
		return ReadResult{}, ErrLockTimeout
	}
	defer s.release()

	n := len(dst)
	if s.buf == nil || n == 0 || n > s.capacity {
		s.emptyCount.Add(1)
		s.starvedReads.Add(1)
		return ReadResult{Starved: true, Position: s.lastPos}, nil
	}

	if s.unreadLocked() < n {
		s.emptyCount.Add(1)
		s.starvedReads.Add(1)
		return ReadResult{Starved: true, Position: s.lastPos}, nil
	}

	res := ReadResult{Frames: n}
	if s.overflowed {
		// resume at the oldest surviving sample
		s.readIndex = s.writeIndex
		s.overflowed = false
		res.Overflowed = true
		s.overflows.Add(1)
	}

	r := s.readIndex
	rb := s.buf
	res.Position = Position{X: rb.xs[r], Y: rb.ys[r], Z: rb.zs[r]}

	first := min(n, s.capacity-r)
	copy(dst[:first], rb.samples[r:r+first])
	copy(dst[first:], rb.samples[:n-first])

	s.readIndex = (r + n) % s.capacity
	s.full = false
	s.framesRead.Add(uint64(n))

	return res, nil
}

// unreadLocked returns the number of readable samples. Caller holds the lock.
func (s *Source) unreadLocked() int {
	if s.full {
		return s.capacity
	}
	return (s.writeIndex - s.readIndex + s.capacity) % s.capacity
}

// resetForAdmission drops everything except the most recent write so a newly
// admitted source starts playing from the block that got it admitted.
func (s *Source) resetForAdmission(timeout time.Duration) bool {
	if !s.acquire(timeout) {
		return false
	}
	defer s.release()

	s.full = s.lastWriteLen >= s.capacity
	s.overflowed = false
	if s.full {
		s.readIndex = s.writeIndex
	} else {
		s.readIndex = s.lastWriteStart
	}
	s.emptyCount.Store(0)
	return true
}

// detach takes the lock, which guarantees no read or write is in flight, and
// hands the buffers back. Later writes see ErrSourceClosed.
func (s *Source) detach(ctx context.Context) (*ringBuffers, error) {
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return nil, ErrLockTimeout
	}
	defer s.release()

	rb := s.buf
	s.buf = nil
	s.readIndex, s.writeIndex = 0, 0
	s.full, s.overflowed = false, false
	return rb, nil
}

// Stats returns a snapshot of the source. Unread is -1 if the lock was busy.
func (s *Source) Stats() SourceStats {
	st := SourceStats{
		ID:            s.id,
		Admitted:      s.admitted.Load(),
		Closing:       s.closing.Load(),
		Unread:        -1,
		EmptyCount:    int(s.emptyCount.Load()),
		FramesWritten: s.framesWritten.Load(),
		FramesRead:    s.framesRead.Load(),
		Overflows:     s.overflows.Load(),
		StarvedReads:  s.starvedReads.Load(),
		CreatedAt:     s.createdAt,
	}
	if s.lock.TryAcquire(1) {
		st.Unread = s.unreadLocked()
		st.Position = s.lastPos
		s.release()
	}
	return st
}

// monoScratch returns the producer scratch buffer sized to n frames.
func (s *Source) monoScratch(n int) []float32 {
	if cap(s.mono) < n {
		s.mono = make([]float32, n)
	}
	return s.mono[:n]
}
