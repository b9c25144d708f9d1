package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadEmbeddedDefaults(t *testing.T) {
	resetViper(t)

	data, err := DefaultConfigYAML()
	require.NoError(t, err)

	settings, err := Load(writeConfig(t, string(data)))
	require.NoError(t, err)

	assert.Equal(t, DefaultBufferCapacity, settings.Spatial.BufferCapacity)
	assert.Equal(t, DefaultQuantum, settings.Spatial.Quantum)
	assert.Equal(t, DefaultSampleRate, settings.Spatial.SampleRate)
	assert.Equal(t, DefaultStarvationThreshold, settings.Spatial.StarvationThreshold)
	assert.Equal(t, 2*time.Millisecond, settings.Spatial.LockTimeout)
	assert.Equal(t, 10*time.Second, settings.Spatial.Reconnect.Max)
	assert.Equal(t, RendererVirtual, settings.Renderer.Type)
	require.Len(t, settings.Simulate.Sources, 2)
	assert.Equal(t, "orbit-a", settings.Simulate.Sources[0].Name)
	assert.Equal(t, 8*time.Second, settings.Simulate.Sources[0].Period)
	assert.Equal(t, "info", settings.Logging.DefaultLevel)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
	assert.Same(t, settings, GetSettings())
}

func TestLoadAppliesDefaultsToSparseFile(t *testing.T) {
	resetViper(t)

	settings, err := Load(writeConfig(t, "spatial:\n  maxslots: 4\n"))
	require.NoError(t, err)

	assert.Equal(t, 4, settings.Spatial.MaxSlots)
	assert.Equal(t, DefaultQuantum, settings.Spatial.Quantum)
	assert.Equal(t, "127.0.0.1:8089", settings.API.Listen)
}

func TestLoadEnvironmentOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("SPATIALPUMP_MAX_SLOTS", "3")
	t.Setenv("SPATIALPUMP_LOCK_TIMEOUT", "5ms")

	settings, err := Load(writeConfig(t, "debug: true\n"))
	require.NoError(t, err)

	assert.True(t, settings.Debug)
	assert.Equal(t, 3, settings.Spatial.MaxSlots)
	assert.Equal(t, 5*time.Millisecond, settings.Spatial.LockTimeout)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	resetViper(t)

	_, err := Load(writeConfig(t, `
spatial:
  quantum: 0
renderer:
  type: hologram
mqtt:
  enabled: true
  broker: "not a url"
`))
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.GreaterOrEqual(t, len(ve.Errors), 3)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	resetViper(t)

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestSaveYAMLConfigRoundTrip(t *testing.T) {
	resetViper(t)

	data, err := DefaultConfigYAML()
	require.NoError(t, err)
	settings, err := Load(writeConfig(t, string(data)))
	require.NoError(t, err)

	settings.Spatial.MaxSlots = 7
	settings.Renderer.Virtual.CaptureFile = "mix.wav"

	out := filepath.Join(t.TempDir(), "saved.yaml")
	require.NoError(t, SaveYAMLConfig(out, settings))

	viper.Reset()
	reloaded, err := Load(out)
	require.NoError(t, err)
	assert.Equal(t, 7, reloaded.Spatial.MaxSlots)
	assert.Equal(t, "mix.wav", reloaded.Renderer.Virtual.CaptureFile)
	assert.Equal(t, settings.Spatial.LockTimeout, reloaded.Spatial.LockTimeout)
}

func TestValidateSettingsTable(t *testing.T) {
	t.Parallel()

	valid := func() *Settings {
		s := &Settings{}
		s.Spatial = SpatialSettings{
			BufferCapacity:      DefaultBufferCapacity,
			Quantum:             DefaultQuantum,
			SampleRate:          DefaultSampleRate,
			Channels:            DefaultChannels,
			StarvationThreshold: DefaultStarvationThreshold,
			LockTimeout:         time.Millisecond,
			ReadyTimeout:        time.Millisecond,
			DestroyTimeout:      time.Millisecond,
			Reconnect:           ReconnectSettings{Initial: time.Millisecond, Max: time.Second},
		}
		s.Renderer = RendererSettings{Type: RendererVirtual, Virtual: VirtualRendererSettings{MaxObjects: 4, InitialCapacity: 4}}
		return s
	}

	tests := []struct {
		name   string
		mutate func(*Settings)
		ok     bool
	}{
		{"valid", func(*Settings) {}, true},
		{"buffer smaller than quantum", func(s *Settings) { s.Spatial.BufferCapacity = 100 }, false},
		{"zero threshold", func(s *Settings) { s.Spatial.StarvationThreshold = 0 }, false},
		{"reconnect max below initial", func(s *Settings) { s.Spatial.Reconnect.Max = 0 }, false},
		{"capacity above max objects", func(s *Settings) { s.Renderer.Virtual.InitialCapacity = 5 }, false},
		{"capture not wav", func(s *Settings) { s.Renderer.Virtual.CaptureFile = "mix.mp3" }, false},
		{"device needs blocks", func(s *Settings) {
			s.Renderer.Type = RendererDevice
			s.Renderer.Device = DeviceRendererSettings{Objects: 2, BufferBlocks: 1}
		}, false},
		{"simulate bad extension", func(s *Settings) {
			s.Simulate = SimulateSettings{Enabled: true, BlockSize: 480, Sources: []SimulateSource{{File: "a.flac"}}}
		}, false},
		{"simulate tone above nyquist", func(s *Settings) {
			s.Simulate = SimulateSettings{Enabled: true, BlockSize: 480, Sources: []SimulateSource{{ToneHz: 30000}}}
		}, false},
		{"api bad listen", func(s *Settings) { s.API = APISettings{Enabled: true, Listen: "8089"} }, false},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }, false},
		{"mqtt ok", func(s *Settings) {
			s.MQTT = MQTTSettings{Enabled: true, Broker: "tcp://broker:1883", Topic: "x"}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := valid()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvDuration("2ms"))
	assert.Error(t, validateEnvDuration("-1s"))
	assert.NoError(t, validateEnvRendererType("device"))
	assert.Error(t, validateEnvRendererType("speaker"))
	assert.NoError(t, validateEnvLogLevel("DEBUG"))
	assert.Error(t, validateEnvPositiveInt("0"))
	assert.NoError(t, validateEnvNonNegativeInt("0"))
	assert.Error(t, validateEnvHostPort("localhost"))
}
