package spatial

import "time"

// EventKind names an engine event
type EventKind string

const (
	EventSourceAdmitted     EventKind = "source_admitted"
	EventSourceEvicted      EventKind = "source_evicted"
	EventCapacityChanged    EventKind = "capacity_changed"
	EventWorkerStateChanged EventKind = "worker_state_changed"
)

// Event is published for admission, eviction, capacity and worker state changes.
type Event struct {
	Kind          EventKind `json:"kind"`
	EngineID      string    `json:"engine_id"`
	SourceID      string    `json:"source_id,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	Usable        int       `json:"usable"`
	Previous      int       `json:"previous"`
	State         string    `json:"state,omitempty"`
	PreviousState string    `json:"previous_state,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
