package spatial

import (
	"context"
	"time"
)

// Position is a source position in renderer coordinates.
type Position struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

// SlotHandle is an opaque render slot owned by the renderer.
type SlotHandle interface {
	SlotID() int
}

// SlotProvider is the renderer surface the pump worker writes through.
// All methods are called from the worker goroutine only.
type SlotProvider interface {
	// Acquire allocates a new render slot.
	Acquire() (SlotHandle, error)
	// IsActive reports whether the renderer still considers the slot live.
	IsActive(h SlotHandle) bool
	// BeginBatch and EndBatch bracket one pump cycle. EndBatch commits.
	BeginBatch() error
	EndBatch() error
	// WriteFrames writes one quantum of mono frames into the slot.
	WriteFrames(h SlotHandle, frames []float32) error
	// SetPosition sets the slot position for the current batch.
	SetPosition(h SlotHandle, p Position) error
}

// Stream is a connected renderer session.
type Stream interface {
	SlotProvider

	// Ready delivers one signal per render quantum. A closed channel means
	// the stream is gone.
	Ready() <-chan struct{}

	// Validate reports whether the stream is still usable. Called when
	// Ready has been silent for longer than the ready timeout.
	Validate() error

	// MaxSlots is the most slots this stream can ever offer.
	MaxSlots() int

	// AvailableSlots is the current usable capacity.
	AvailableSlots() int

	Close() error
}

// FrameCounter is implemented by streams with a fixed cycle length.
// Streams whose cycle length differs from the quantum are refused.
type FrameCounter interface {
	FramesPerCycle() int
}

// CapacityListener receives capacity changes from the renderer, on any goroutine.
type CapacityListener interface {
	OnCapacityChanged(usable int)
}

// Renderer opens streams. Connect may block and must honor ctx.
type Renderer interface {
	Connect(ctx context.Context, listener CapacityListener) (Stream, error)
}

// MetricsRecorder receives pipeline measurements. Implementations must be
// safe for concurrent use and must not block.
type MetricsRecorder interface {
	SetUsableSlots(n int)
	SetQueueLength(n int)
	SetRegisteredSources(n int)
	SetWorkerState(state string)
	RecordDisposition(disposition string)
	RecordEviction(reason string)
	RecordPumpCycle(activeSlots int, duration time.Duration)
	RecordStarvedRead()
	RecordLockTimeout(side string)
	RecordReconnect(success bool)
}

// EventPublisher accepts engine events without blocking.
type EventPublisher interface {
	TryPublish(event Event) bool
}

type noopMetrics struct{}

func (noopMetrics) SetUsableSlots(int) {}
func (noopMetrics) SetQueueLength(int) {}
func (noopMetrics) SetRegisteredSources(int) {}
func (noopMetrics) SetWorkerState(string) {}
func (noopMetrics) RecordDisposition(string) {}
func (noopMetrics) RecordEviction(string) {}
func (noopMetrics) RecordPumpCycle(int, time.Duration) {}
func (noopMetrics) RecordStarvedRead() {}
func (noopMetrics) RecordLockTimeout(string) {}
func (noopMetrics) RecordReconnect(bool) {}

type noopPublisher struct{}

func (noopPublisher) TryPublish(Event) bool { return false }
