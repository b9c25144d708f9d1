package app

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/spatialpump/spatialpump/internal/conf"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
	)
}

func testSettings() *conf.Settings {
	s := &conf.Settings{}
	s.Main.Name = "test"
	s.Spatial = conf.SpatialSettings{
		BufferCapacity:      4800,
		Quantum:             480,
		SampleRate:          48000,
		Channels:            2,
		StarvationThreshold: 5,
	}
	s.Renderer.Type = conf.RendererVirtual
	s.Renderer.Virtual = conf.VirtualRendererSettings{MaxObjects: 4, InitialCapacity: 4}
	s.Simulate = conf.SimulateSettings{
		Enabled:   true,
		Duration:  100 * time.Millisecond,
		BlockSize: 480,
		Sources: []conf.SimulateSource{
			{Name: "a", ToneHz: 440, Radius: 1},
			{ToneHz: 660, Radius: 2, Period: time.Second},
		},
	}
	return s
}

func TestSpatialConfigKeepsDefaultsForZeroDurations(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Spatial.LockTimeout = 5 * time.Millisecond
	cfg := SpatialConfig(s.Spatial)

	def := spatial.DefaultConfig()
	assert.Equal(t, 5*time.Millisecond, cfg.LockTimeout)
	assert.Equal(t, def.ReadyTimeout, cfg.ReadyTimeout)
	assert.Equal(t, def.ReconnectMax, cfg.ReconnectMax)
	assert.Equal(t, 4800, cfg.BufferCapacity)
	require.NoError(t, cfg.Validate())
}

func TestSimulateConfigNamesAndSpacesSources(t *testing.T) {
	t.Parallel()

	cfg := SimulateConfig(testSettings())
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "a", cfg.Sources[0].Name)
	assert.Equal(t, "source2", cfg.Sources[1].Name)
	assert.InDelta(t, 0, cfg.Sources[0].Orbit.Phase, 1e-9)
	assert.InDelta(t, math.Pi, cfg.Sources[1].Orbit.Phase, 1e-9)
	assert.Equal(t, 48000, cfg.SampleRate)
}

func TestRendererConfigsFollowEngineTiming(t *testing.T) {
	t.Parallel()

	s := testSettings()
	v := VirtualConfig(s)
	assert.Equal(t, 480, v.Quantum)
	assert.True(t, v.Clock)

	s.Renderer.Device.Objects = 8
	d := DeviceConfig(s)
	assert.Equal(t, 8, d.Objects)
	assert.Equal(t, 48000, d.SampleRate)
}

func TestMQTTConfigDerivesClientID(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.MQTT.Broker = "tcp://localhost:1883"
	cfg := MQTTConfig(s)
	assert.Equal(t, "spatialpump-test", cfg.ClientID)
	assert.Equal(t, "spatialpump", cfg.Topic)
}

func TestBuildReleasesOnError(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Spatial.StarvationThreshold = 0

	svc, err := Build(t.Context(), &conf.Context{Settings: s})
	require.Error(t, err)
	assert.Nil(t, svc)
}

func TestRunStopsWhenSimulationEnds(t *testing.T) {
	t.Parallel()

	svc, err := Build(t.Context(), &conf.Context{Settings: testSettings(), Version: "test"})
	require.NoError(t, err)
	require.NotNil(t, svc.Virtual)
	require.NotNil(t, svc.Simulator)
	assert.Nil(t, svc.API)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, svc.Run(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)

	for _, st := range svc.Simulator.Stats() {
		assert.Equal(t, uint64(10), st.Blocks, st.Name)
	}
	assert.GreaterOrEqual(t, svc.Virtual.Stats().Connects, uint64(1))
}

func TestRunStopsWithContext(t *testing.T) {
	t.Parallel()

	s := testSettings()
	s.Simulate.Enabled = false

	svc, err := Build(t.Context(), &conf.Context{Settings: s})
	require.NoError(t, err)
	assert.Nil(t, svc.Simulator)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, svc.Run(ctx))
}
