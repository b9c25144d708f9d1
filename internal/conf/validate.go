// conf/validate.go

package conf

import (
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
)

// Renderer types
const (
	RendererVirtual = "virtual"
	RendererDevice  = "device"
)

var supportedSimulateExtensions = []string{".wav", ".mp3", ".ogg"}

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	for _, validate := range []func(*Settings) []string{
		validateSpatialSettings,
		validateRendererSettings,
		validateSimulateSettings,
		validateAPISettings,
		validateMQTTSettings,
		validateSentrySettings,
	} {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateSpatialSettings(s *Settings) []string {
	var errs []string
	sp := &s.Spatial

	if sp.Quantum <= 0 {
		errs = append(errs, fmt.Sprintf("spatial.quantum must be positive, got %d", sp.Quantum))
	}
	if sp.BufferCapacity < sp.Quantum {
		errs = append(errs, fmt.Sprintf("spatial.buffercapacity (%d) must be at least one quantum (%d)", sp.BufferCapacity, sp.Quantum))
	}
	if sp.SampleRate <= 0 {
		errs = append(errs, fmt.Sprintf("spatial.samplerate must be positive, got %d", sp.SampleRate))
	}
	if sp.Channels < 1 {
		errs = append(errs, fmt.Sprintf("spatial.channels must be at least 1, got %d", sp.Channels))
	}
	if sp.StarvationThreshold < 1 {
		errs = append(errs, fmt.Sprintf("spatial.starvationthreshold must be at least 1, got %d", sp.StarvationThreshold))
	}
	if sp.MaxSlots < 0 {
		errs = append(errs, "spatial.maxslots cannot be negative")
	}
	if sp.LockTimeout <= 0 {
		errs = append(errs, "spatial.locktimeout must be positive")
	}
	if sp.ReadyTimeout <= 0 {
		errs = append(errs, "spatial.readytimeout must be positive")
	}
	if sp.DestroyTimeout <= 0 {
		errs = append(errs, "spatial.destroytimeout must be positive")
	}
	if sp.Reconnect.Initial <= 0 || sp.Reconnect.Max < sp.Reconnect.Initial {
		errs = append(errs, fmt.Sprintf("spatial.reconnect requires 0 < initial (%s) <= max (%s)", sp.Reconnect.Initial, sp.Reconnect.Max))
	}

	return errs
}

func validateRendererSettings(s *Settings) []string {
	var errs []string
	r := &s.Renderer

	switch r.Type {
	case RendererVirtual:
		if r.Virtual.MaxObjects < 1 {
			errs = append(errs, "renderer.virtual.maxobjects must be at least 1")
		}
		if r.Virtual.InitialCapacity < 0 || r.Virtual.InitialCapacity > r.Virtual.MaxObjects {
			errs = append(errs, fmt.Sprintf("renderer.virtual.initialcapacity must be within [0, %d]", r.Virtual.MaxObjects))
		}
		if r.Virtual.CaptureFile != "" && !strings.EqualFold(filepath.Ext(r.Virtual.CaptureFile), ".wav") {
			errs = append(errs, "renderer.virtual.capturefile must be a .wav file")
		}
	case RendererDevice:
		if r.Device.Objects < 1 {
			errs = append(errs, "renderer.device.objects must be at least 1")
		}
		if r.Device.BufferBlocks < 2 {
			errs = append(errs, "renderer.device.bufferblocks must be at least 2")
		}
	default:
		errs = append(errs, fmt.Sprintf("renderer.type must be %q or %q, got %q", RendererVirtual, RendererDevice, r.Type))
	}

	return errs
}

func validateSimulateSettings(s *Settings) []string {
	if !s.Simulate.Enabled {
		return nil
	}

	var errs []string
	if s.Simulate.BlockSize <= 0 {
		errs = append(errs, "simulate.blocksize must be positive")
	}
	if s.Simulate.Duration < 0 {
		errs = append(errs, "simulate.duration cannot be negative")
	}

	for i, src := range s.Simulate.Sources {
		if src.File != "" {
			ext := strings.ToLower(filepath.Ext(src.File))
			if !slices.Contains(supportedSimulateExtensions, ext) {
				errs = append(errs, fmt.Sprintf("simulate.sources[%d].file has unsupported extension %q", i, ext))
			}
		} else if src.ToneHz <= 0 || src.ToneHz >= float64(s.Spatial.SampleRate)/2 {
			errs = append(errs, fmt.Sprintf("simulate.sources[%d].tonehz must be within (0, nyquist)", i))
		}
		if src.Period < 0 {
			errs = append(errs, fmt.Sprintf("simulate.sources[%d].period cannot be negative", i))
		}
		if src.Stop != 0 && src.Stop <= src.Start {
			errs = append(errs, fmt.Sprintf("simulate.sources[%d].stop must be after start", i))
		}
	}

	return errs
}

func validateAPISettings(s *Settings) []string {
	if !s.API.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(s.API.Listen); err != nil {
		return []string{fmt.Sprintf("api.listen %q is not host:port: %v", s.API.Listen, err)}
	}
	return nil
}

func validateMQTTSettings(s *Settings) []string {
	if !s.MQTT.Enabled {
		return nil
	}

	var errs []string
	u, err := url.Parse(s.MQTT.Broker)
	if err != nil || u.Host == "" {
		errs = append(errs, fmt.Sprintf("mqtt.broker %q is not a valid broker URL", s.MQTT.Broker))
	} else if !slices.Contains([]string{"tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts"}, u.Scheme) {
		errs = append(errs, fmt.Sprintf("mqtt.broker scheme %q is not supported", u.Scheme))
	}
	if strings.TrimSpace(s.MQTT.Topic) == "" {
		errs = append(errs, "mqtt.topic cannot be empty")
	}
	if s.MQTT.QoS > 2 {
		errs = append(errs, fmt.Sprintf("mqtt.qos must be 0, 1 or 2, got %d", s.MQTT.QoS))
	}

	return errs
}

func validateSentrySettings(s *Settings) []string {
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		return []string{"sentry.dsn is required when sentry is enabled"}
	}
	return nil
}
