// Package mqtt publishes engine events to an MQTT broker.
package mqtt

import (
	"context"
	"time"

	"github.com/spatialpump/spatialpump/internal/logger"
)

// Client defines the interface for MQTT client operations.
type Client interface {
	// Connect attempts to connect to the MQTT broker.
	// It returns an error if the connection fails.
	Connect(ctx context.Context) error

	// Publish sends a message to the specified topic on the MQTT broker.
	Publish(ctx context.Context, topic string, payload []byte) error

	// IsConnected returns true if the client is currently connected to the MQTT broker.
	IsConnected() bool

	// Disconnect closes the connection to the MQTT broker.
	Disconnect()
}

// Config holds the configuration for the MQTT client.
type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string // prefix; events go to <Topic>/events
	Retain   bool
	QoS      byte

	ReconnectCooldown time.Duration
	ReconnectDelay    time.Duration
	ConnectTimeout    time.Duration
	PublishTimeout    time.Duration
	DisconnectTimeout time.Duration
}

// DefaultConfig returns a Config with reasonable default values
func DefaultConfig() Config {
	return Config{
		Topic:             "spatialpump",
		ReconnectCooldown: 5 * time.Second,
		ReconnectDelay:    1 * time.Second,
		ConnectTimeout:    30 * time.Second,
		PublishTimeout:    10 * time.Second,
		DisconnectTimeout: 250 * time.Millisecond,
	}
}

const componentMQTT = "mqtt"

func getLogger() logger.Logger {
	return logger.Global().Module(componentMQTT)
}
