package events

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

const componentEvents = "events"

// Config holds event bus configuration
type Config struct {
	BufferSize int
	Workers    int
}

// DefaultConfig returns the default event bus configuration. A single worker
// keeps consumers seeing events in publish order.
func DefaultConfig() *Config {
	return &Config{
		BufferSize: 1024,
		Workers:    1,
	}
}

// EventBus provides asynchronous event processing with non-blocking guarantees
type EventBus struct {
	eventChan chan spatial.Event
	workers   int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	closed  atomic.Bool
	mu      sync.RWMutex

	consumers []EventConsumer

	received   atomic.Uint64
	processed  atomic.Uint64
	dropped    atomic.Uint64
	consumerEr atomic.Uint64
	fastPath   atomic.Uint64

	log logger.Logger
}

// NewEventBus creates a bus. Workers start with the first registered consumer.
func NewEventBus(config *Config) (*EventBus, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BufferSize <= 0 || config.Workers <= 0 {
		return nil, errors.Newf("invalid event bus config: buffer %d, workers %d", config.BufferSize, config.Workers).
			Component(componentEvents).
			Category(errors.CategoryValidation).
			Build()
	}

	ctx, cancel := context.WithCancel(context.Background())
	eb := &EventBus{
		eventChan: make(chan spatial.Event, config.BufferSize),
		workers:   config.Workers,
		ctx:       ctx,
		cancel:    cancel,
		log:       logger.Global().Module(componentEvents),
	}

	eb.log.Debug("event bus created",
		logger.Int("buffer_size", config.BufferSize),
		logger.Int("workers", config.Workers))
	return eb, nil
}

// RegisterConsumer adds a new event consumer
func (eb *EventBus) RegisterConsumer(consumer EventConsumer) error {
	if eb.closed.Load() {
		return errors.Newf("event bus is shut down").
			Component(componentEvents).
			Category(errors.CategoryState).
			Build()
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return errors.Newf("consumer %s already registered", consumer.Name()).
				Component(componentEvents).
				Category(errors.CategoryConflict).
				Build()
		}
	}

	eb.consumers = append(eb.consumers, consumer)
	eb.log.Info("registered event consumer", logger.String("consumer", consumer.Name()))

	if len(eb.consumers) == 1 {
		eb.start()
	}
	return nil
}

// TryPublish attempts to publish an event without blocking.
// Returns true if the event was accepted, false if dropped.
func (eb *EventBus) TryPublish(event spatial.Event) bool {
	if eb == nil || !eb.running.Load() {
		return false
	}

	eb.mu.RLock()
	hasConsumers := len(eb.consumers) > 0
	eb.mu.RUnlock()
	if !hasConsumers {
		eb.fastPath.Add(1)
		return false
	}

	select {
	case eb.eventChan <- event:
		eb.received.Add(1)
		return true
	default:
		eb.dropped.Add(1)
		return false
	}
}

func (eb *EventBus) start() {
	if eb.running.Swap(true) {
		return
	}
	for i := range eb.workers {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

func (eb *EventBus) worker(id int) {
	defer eb.wg.Done()

	log := eb.log.With(logger.Int("worker_id", id))
	for {
		select {
		case <-eb.ctx.Done():
			return
		case event := <-eb.eventChan:
			eb.processEvent(event, log)
		}
	}
}

// processEvent sends the event to all registered consumers
func (eb *EventBus) processEvent(event spatial.Event, log logger.Logger) {
	eb.mu.RLock()
	consumers := make([]EventConsumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.RUnlock()

	for _, consumer := range consumers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eb.consumerEr.Add(1)
					log.Error("consumer panicked",
						logger.String("consumer", consumer.Name()),
						logger.String("kind", string(event.Kind)),
						logger.Any("panic", r))
				}
			}()

			if err := consumer.ProcessEvent(event); err != nil {
				eb.consumerEr.Add(1)
				log.Warn("consumer error",
					logger.String("consumer", consumer.Name()),
					logger.String("kind", string(event.Kind)),
					logger.Error(err))
				return
			}
			eb.processed.Add(1)
		}()
	}
}

// Shutdown stops the workers. Events still buffered are dropped.
func (eb *EventBus) Shutdown(timeout time.Duration) error {
	if eb.closed.Swap(true) {
		return nil
	}
	eb.running.Store(false)
	eb.cancel()

	done := make(chan struct{})
	go func() {
		eb.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		eb.log.Debug("event bus shutdown complete")
		return nil
	case <-time.After(timeout):
		eb.log.Warn("event bus shutdown timeout exceeded", logger.Duration("timeout", timeout))
		return fmt.Errorf("event bus shutdown timeout exceeded after %s", timeout)
	}
}

// GetStats returns current event bus statistics
func (eb *EventBus) GetStats() EventBusStats {
	return EventBusStats{
		EventsReceived:  eb.received.Load(),
		EventsProcessed: eb.processed.Load(),
		EventsDropped:   eb.dropped.Load(),
		ConsumerErrors:  eb.consumerEr.Load(),
		FastPathHits:    eb.fastPath.Load(),
	}
}
