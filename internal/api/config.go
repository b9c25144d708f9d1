// Package api serves the status and control HTTP API of a running engine.
package api

import (
	"time"

	"github.com/spatialpump/spatialpump/internal/conf"
	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
)

// GetLogger returns the api package logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("api")
}

// Default constants for the HTTP server.
const (
	DefaultListen          = ":8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second

	defaultEventLimit = 100
)

// Config holds the HTTP server configuration.
type Config struct {
	Listen         string
	AllowedOrigins []string

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	BodyLimit string // e.g. "64K"
	Debug     bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          DefaultListen,
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       "64K",
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings.API.Listen != "" {
		cfg.Listen = settings.API.Listen
	}
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.Newf("listen address is required").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return errors.Newf("read and write timeouts must be positive").
			Component("api").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return nil
}
