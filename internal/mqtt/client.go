package mqtt

import (
	"context"
	"net"
	"net/url"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
	"github.com/spatialpump/spatialpump/internal/observability/metrics"
)

// client implements the Client interface on top of paho.
type client struct {
	config          Config
	internalClient  paho.Client
	lastConnAttempt time.Time
	mu              sync.Mutex
	metrics         *metrics.MQTTMetrics
	log             logger.Logger
}

// NewClient creates a new MQTT client with the provided configuration.
func NewClient(cfg Config, m *metrics.MQTTMetrics) (Client, error) {
	if cfg.Broker == "" {
		return nil, errors.Newf("mqtt broker is required").
			Component(componentMQTT).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if m == nil {
		return nil, errors.Newf("mqtt metrics are required").
			Component(componentMQTT).
			Category(errors.CategoryValidation).
			Build()
	}
	return &client{
		config:  cfg,
		metrics: m,
		log:     getLogger().With(logger.String("broker", cfg.Broker)),
	}, nil
}

// Connect attempts to establish a connection to the MQTT broker.
// It first resolves the broker's hostname and then attempts to connect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if since := time.Since(c.lastConnAttempt); since < c.config.ReconnectCooldown {
		return errors.Newf("connection attempt too recent, last attempt was %v ago", since).
			Component(componentMQTT).
			Category(errors.CategoryMQTTConnect).
			Build()
	}
	c.lastConnAttempt = time.Now()

	u, err := url.Parse(c.config.Broker)
	if err != nil || u.Hostname() == "" {
		c.metrics.RecordError("connect")
		return errors.Newf("invalid broker URL %q", c.config.Broker).
			Component(componentMQTT).
			Category(errors.CategoryConfiguration).
			Build()
	}

	host := u.Hostname()
	if net.ParseIP(host) == nil {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err != nil {
			c.metrics.RecordError("connect")
			return errors.New(err).
				Component(componentMQTT).
				Category(errors.CategoryNetwork).
				Context("host", host).
				Build()
		}
	}

	opts := paho.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	opts.SetUsername(c.config.Username)
	opts.SetPassword(c.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(5 * time.Minute)
	opts.SetConnectRetryInterval(c.config.ReconnectDelay)
	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetReconnectingHandler(c.onReconnecting)

	c.internalClient = paho.NewClient(opts)

	token := c.internalClient.Connect()
	if !waitToken(ctx, token, c.config.ConnectTimeout) {
		c.metrics.RecordError("connect")
		return errors.Newf("connection timeout").
			Component(componentMQTT).
			Category(errors.CategoryTimeout).
			Timing("connect", c.config.ConnectTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.RecordError("connect")
		return errors.New(err).
			Component(componentMQTT).
			Category(errors.CategoryMQTTConnect).
			Build()
	}

	c.metrics.UpdateConnectionStatus(true)
	return nil
}

// waitToken waits for token up to timeout or until ctx ends.
func waitToken(ctx context.Context, token paho.Token, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Publish sends a message to the specified topic on the MQTT broker.
func (c *client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	ic := c.internalClient
	c.mu.Unlock()

	if ic == nil || !ic.IsConnected() {
		c.metrics.RecordError("publish")
		return errors.Newf("not connected to MQTT broker").
			Component(componentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	token := ic.Publish(topic, c.config.QoS, c.config.Retain, payload)
	if !waitToken(ctx, token, c.config.PublishTimeout) {
		c.metrics.RecordError("publish")
		c.log.Warn("publish timeout", logger.String("topic", topic))
		return errors.Newf("publish timeout").
			Component(componentMQTT).
			Category(errors.CategoryTimeout).
			Context("topic", topic).
			Build()
	}
	if err := token.Error(); err != nil {
		c.metrics.RecordError("publish")
		return errors.New(err).
			Component(componentMQTT).
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}
	return nil
}

// IsConnected returns true if the client is currently connected to the MQTT broker.
func (c *client) IsConnected() bool {
	c.mu.Lock()
	ic := c.internalClient
	c.mu.Unlock()
	return ic != nil && ic.IsConnected()
}

// Disconnect closes the connection to the MQTT broker.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internalClient != nil && c.internalClient.IsConnectionOpen() {
		c.internalClient.Disconnect(uint(c.config.DisconnectTimeout.Milliseconds()))
	}
	c.metrics.UpdateConnectionStatus(false)
}

func (c *client) onConnect(paho.Client) {
	c.log.Info("connected to MQTT broker")
	c.metrics.UpdateConnectionStatus(true)
}

func (c *client) onConnectionLost(_ paho.Client, err error) {
	c.log.Warn("connection to MQTT broker lost", logger.Error(err))
	c.metrics.UpdateConnectionStatus(false)
	c.metrics.RecordError("connection_lost")
}

func (c *client) onReconnecting(paho.Client, *paho.ClientOptions) {
	c.metrics.IncrementReconnectAttempts()
	c.log.Debug("reconnecting to MQTT broker")
}
