package events

import (
	"sync"

	"github.com/spatialpump/spatialpump/internal/spatial"
)

// History is a consumer that keeps the most recent events for status queries.
type History struct {
	mu   sync.Mutex
	buf  []spatial.Event
	next int
	full bool
}

// NewHistory keeps up to size events. Sizes below 1 are raised to 1.
func NewHistory(size int) *History {
	return &History{buf: make([]spatial.Event, max(size, 1))}
}

func (h *History) Name() string { return "history" }

func (h *History) ProcessEvent(event spatial.Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = event
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	return nil
}

// Recent returns up to limit events, oldest first. limit <= 0 returns all kept events.
func (h *History) Recent(limit int) []spatial.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []spatial.Event
	if h.full {
		out = append(out, h.buf[h.next:]...)
	}
	out = append(out, h.buf[:h.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
