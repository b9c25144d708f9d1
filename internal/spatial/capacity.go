package spatial

import (
	"sync/atomic"
	"time"

	"github.com/spatialpump/spatialpump/internal/logger"
)

// CapacityNotifier receives slot capacity changes. The renderer calls it on
// its own goroutines; the worker calls it on connect, the API on overrides.
type CapacityNotifier struct {
	slots   *SlotPool
	metrics MetricsRecorder
	log     logger.Logger
	emit    func(Event)
	changes atomic.Uint64
}

func newCapacityNotifier(slots *SlotPool, metrics MetricsRecorder, log logger.Logger, emit func(Event)) *CapacityNotifier {
	return &CapacityNotifier{slots: slots, metrics: metrics, log: log, emit: emit}
}

// OnCapacityChanged stores the new usable count. A decrease evicts the most
// recently admitted sources down to the new count before returning.
func (c *CapacityNotifier) OnCapacityChanged(usable int) {
	prev, now := c.slots.setUsable(usable)
	c.announce(now, prev)
}

// Changes counts effective capacity changes.
func (c *CapacityNotifier) Changes() uint64 {
	return c.changes.Load()
}

func (c *CapacityNotifier) announce(now, prev int) {
	if now == prev {
		return
	}
	c.changes.Add(1)
	c.metrics.SetUsableSlots(now)
	c.emit(Event{
		Kind:      EventCapacityChanged,
		Usable:    now,
		Previous:  prev,
		Timestamp: time.Now(),
	})
	c.log.Info("slot capacity changed",
		logger.Int("usable", now),
		logger.Int("previous", prev))
}
