// Package events provides an asynchronous event bus that takes engine events
// off the render and pump paths and fans them out to consumers such as the
// MQTT publisher and the API history.
package events

import "github.com/spatialpump/spatialpump/internal/spatial"

// EventConsumer processes engine events on a bus worker goroutine.
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single event
	ProcessEvent(event spatial.Event) error
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived  uint64 `json:"events_received"`
	EventsProcessed uint64 `json:"events_processed"`
	EventsDropped   uint64 `json:"events_dropped"`
	ConsumerErrors  uint64 `json:"consumer_errors"`
	FastPathHits    uint64 `json:"fast_path_hits"` // publishes skipped because no consumer was registered
}
