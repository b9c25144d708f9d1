package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
	"github.com/spatialpump/spatialpump/internal/observability/metrics"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

// EventPublisher forwards engine events to the broker as JSON. It is an
// event bus consumer, so publishing never runs on the render path.
type EventPublisher struct {
	client  Client
	topic   string
	timeout time.Duration
	metrics *metrics.MQTTMetrics
	log     logger.Logger
}

// NewEventPublisher publishes to <topic>/events through c.
func NewEventPublisher(c Client, topic string, timeout time.Duration, m *metrics.MQTTMetrics) *EventPublisher {
	return &EventPublisher{
		client:  c,
		topic:   topic + "/events",
		timeout: timeout,
		metrics: m,
		log:     getLogger(),
	}
}

// Name implements events.EventConsumer.
func (p *EventPublisher) Name() string { return "mqtt" }

// Topic returns the topic events are published to.
func (p *EventPublisher) Topic() string { return p.topic }

// ProcessEvent implements events.EventConsumer.
func (p *EventPublisher) ProcessEvent(ev spatial.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		p.metrics.RecordError("marshal")
		return errors.New(err).
			Component(componentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("kind", string(ev.Kind)).
			Build()
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if !p.client.IsConnected() {
		// the client cooldown throttles these attempts
		if err := p.client.Connect(ctx); err != nil {
			p.metrics.RecordError("reconnect")
			return err
		}
	}

	start := time.Now()
	if err := p.client.Publish(ctx, p.topic, payload); err != nil {
		p.log.Debug("event not published", logger.String("kind", string(ev.Kind)), logger.Error(err))
		return err
	}
	p.metrics.RecordPublished(string(ev.Kind), len(payload), time.Since(start))
	return nil
}
