package spatial

import (
	"github.com/spatialpump/spatialpump/internal/errors"
)

// ComponentSpatial identifies errors raised by this package
const ComponentSpatial = "spatial"

var (
	// ErrLockTimeout is returned when a source lock could not be taken within the bounded wait
	ErrLockTimeout = errors.New(errors.NewStd("source lock timeout")).
			Component(ComponentSpatial).
			Category(errors.CategoryTimeout).
			Context("resource", "source_lock").
			Build()

	// ErrSlotUnavailable is returned when a slot index is at or above the usable count
	ErrSlotUnavailable = errors.New(errors.NewStd("render slot unavailable")).
				Component(ComponentSpatial).
				Category(errors.CategorySlot).
				Build()

	// ErrSourceExists is returned when a source ID is registered twice
	ErrSourceExists = errors.New(errors.NewStd("source already exists")).
			Component(ComponentSpatial).
			Category(errors.CategoryConflict).
			Context("resource", "source").
			Build()

	// ErrSourceNotFound is returned for unknown source IDs
	ErrSourceNotFound = errors.New(errors.NewStd("source not found")).
				Component(ComponentSpatial).
				Category(errors.CategoryNotFound).
				Context("resource", "source").
				Build()

	// ErrSourceClosed is returned when writing to a source whose buffers were released
	ErrSourceClosed = errors.New(errors.NewStd("source closed")).
			Component(ComponentSpatial).
			Category(errors.CategoryState).
			Context("resource", "source").
			Build()

	// ErrPositionMismatch is returned when positions neither match samples one to one nor are a single value
	ErrPositionMismatch = errors.New(errors.NewStd("position count does not match sample count")).
				Component(ComponentSpatial).
				Category(errors.CategoryValidation).
				Build()

	// ErrEngineRunning is returned by Start on a running engine
	ErrEngineRunning = errors.New(errors.NewStd("engine already running")).
				Component(ComponentSpatial).
				Category(errors.CategoryState).
				Build()

	// ErrEngineStopped is returned by Start after Stop
	ErrEngineStopped = errors.New(errors.NewStd("engine stopped")).
				Component(ComponentSpatial).
				Category(errors.CategoryState).
				Build()

	// ErrQuantumMismatch is returned when a stream's cycle length differs from the configured quantum
	ErrQuantumMismatch = errors.New(errors.NewStd("renderer frame count does not match quantum")).
				Component(ComponentSpatial).
				Category(errors.CategoryRenderer).
				Build()

	// ErrStreamClosed is returned when the renderer closes its ready channel
	ErrStreamClosed = errors.New(errors.NewStd("renderer stream closed")).
			Component(ComponentSpatial).
			Category(errors.CategoryRenderer).
			Build()
)
