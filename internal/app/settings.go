package app

import (
	"fmt"
	"math"

	"github.com/spatialpump/spatialpump/internal/conf"
	"github.com/spatialpump/spatialpump/internal/mqtt"
	"github.com/spatialpump/spatialpump/internal/renderer/device"
	"github.com/spatialpump/spatialpump/internal/renderer/virtual"
	"github.com/spatialpump/spatialpump/internal/simulate"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

// SpatialConfig maps the spatial settings onto engine parameters. Zero
// durations keep the engine defaults.
func SpatialConfig(s conf.SpatialSettings) spatial.Config {
	cfg := spatial.DefaultConfig()
	cfg.BufferCapacity = s.BufferCapacity
	cfg.Quantum = s.Quantum
	cfg.SampleRate = s.SampleRate
	cfg.Channels = s.Channels
	cfg.StarvationThreshold = s.StarvationThreshold
	cfg.MaxSlots = s.MaxSlots

	if s.LockTimeout > 0 {
		cfg.LockTimeout = s.LockTimeout
	}
	if s.ReadyTimeout > 0 {
		cfg.ReadyTimeout = s.ReadyTimeout
	}
	if s.DestroyTimeout > 0 {
		cfg.DestroyTimeout = s.DestroyTimeout
	}
	if s.TombstoneTTL > 0 {
		cfg.TombstoneTTL = s.TombstoneTTL
	}
	if s.Reconnect.Initial > 0 {
		cfg.ReconnectInitial = s.Reconnect.Initial
	}
	if s.Reconnect.Max > 0 {
		cfg.ReconnectMax = s.Reconnect.Max
	}
	return cfg
}

// VirtualConfig maps the virtual renderer settings. The renderer runs on the
// engine's quantum and sample rate.
func VirtualConfig(s *conf.Settings) virtual.Config {
	cfg := virtual.DefaultConfig()
	cfg.MaxObjects = s.Renderer.Virtual.MaxObjects
	cfg.InitialCapacity = s.Renderer.Virtual.InitialCapacity
	cfg.CaptureFile = s.Renderer.Virtual.CaptureFile
	cfg.Quantum = s.Spatial.Quantum
	cfg.SampleRate = s.Spatial.SampleRate
	cfg.Clock = true
	return cfg
}

// DeviceConfig maps the device renderer settings.
func DeviceConfig(s *conf.Settings) device.Config {
	return device.Config{
		Backend:      s.Renderer.Device.Backend,
		DeviceID:     s.Renderer.Device.DeviceID,
		Objects:      s.Renderer.Device.Objects,
		BufferBlocks: s.Renderer.Device.BufferBlocks,
		Quantum:      s.Spatial.Quantum,
		SampleRate:   s.Spatial.SampleRate,
	}
}

// SimulateConfig maps the simulator settings. Orbits start evenly spaced
// around the listener.
func SimulateConfig(s *conf.Settings) simulate.Config {
	cfg := simulate.Config{
		SampleRate: s.Spatial.SampleRate,
		BlockSize:  s.Simulate.BlockSize,
		Duration:   s.Simulate.Duration,
		Sources:    make([]simulate.SourceConfig, 0, len(s.Simulate.Sources)),
	}
	for i, src := range s.Simulate.Sources {
		name := src.Name
		if name == "" {
			name = fmt.Sprintf("source%d", i+1)
		}
		cfg.Sources = append(cfg.Sources, simulate.SourceConfig{
			Name:   name,
			File:   src.File,
			ToneHz: src.ToneHz,
			Orbit: simulate.Orbit{
				Radius: src.Radius,
				Height: src.Height,
				Period: src.Period,
				Phase:  2 * math.Pi * float64(i) / float64(len(s.Simulate.Sources)),
			},
			Start: src.Start,
			Stop:  src.Stop,
		})
	}
	return cfg
}

// MQTTConfig maps the MQTT settings. The client ID is derived from the
// instance name so several instances can share a broker.
func MQTTConfig(s *conf.Settings) mqtt.Config {
	cfg := mqtt.DefaultConfig()
	cfg.Broker = s.MQTT.Broker
	cfg.Username = s.MQTT.Username
	cfg.Password = s.MQTT.Password
	cfg.Retain = s.MQTT.Retain
	cfg.QoS = s.MQTT.QoS
	cfg.ClientID = "spatialpump-" + s.Main.Name
	if s.MQTT.Topic != "" {
		cfg.Topic = s.MQTT.Topic
	}
	return cfg
}
