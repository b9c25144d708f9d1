// Package conf loads, validates and persists spatialpump settings.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/spatialpump/spatialpump/internal/errors"
	"github.com/spatialpump/spatialpump/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Settings contains all configuration options.
type Settings struct {
	Debug bool `yaml:"debug"`

	Main struct {
		Name string `yaml:"name"` // instance name, used as MQTT client ID suffix and in API status
	} `yaml:"main"`

	Logging  logger.LoggingConfig `yaml:"logging"`
	Spatial  SpatialSettings      `yaml:"spatial"`
	Renderer RendererSettings     `yaml:"renderer"`
	Simulate SimulateSettings     `yaml:"simulate"`
	API      APISettings          `yaml:"api"`
	MQTT     MQTTSettings         `yaml:"mqtt"`
	Sentry   SentrySettings       `yaml:"sentry"`
}

// SpatialSettings configures the buffering and admission pipeline.
type SpatialSettings struct {
	BufferCapacity      int               `yaml:"buffercapacity"`      // samples per source ring
	Quantum             int               `yaml:"quantum"`             // frames pumped per slot per cycle
	SampleRate          int               `yaml:"samplerate"`          // required host sample rate
	Channels            int               `yaml:"channels"`            // required host channel count
	StarvationThreshold int               `yaml:"starvationthreshold"` // consecutive empty cycles before eviction
	MaxSlots            int               `yaml:"maxslots"`            // upper bound on usable slots, 0 = renderer maximum
	LockTimeout         time.Duration     `yaml:"locktimeout"`         // bounded wait on a source lock
	ReadyTimeout        time.Duration     `yaml:"readytimeout"`        // wait for the renderer quantum signal
	DestroyTimeout      time.Duration     `yaml:"destroytimeout"`      // teardown wait for worker to drop a source
	TombstoneTTL        time.Duration     `yaml:"tombstonettl"`        // how long destroyed IDs are remembered
	Reconnect           ReconnectSettings `yaml:"reconnect"`
}

// ReconnectSettings configures renderer reconnection backoff.
type ReconnectSettings struct {
	Initial time.Duration `yaml:"initial"`
	Max     time.Duration `yaml:"max"`
}

// RendererSettings selects and configures the render backend.
type RendererSettings struct {
	Type    string                  `yaml:"type"` // virtual or device
	Virtual VirtualRendererSettings `yaml:"virtual"`
	Device  DeviceRendererSettings  `yaml:"device"`
}

// VirtualRendererSettings configures the in-memory renderer.
type VirtualRendererSettings struct {
	MaxObjects      int    `yaml:"maxobjects"`
	InitialCapacity int    `yaml:"initialcapacity"`
	CaptureFile     string `yaml:"capturefile"` // optional WAV file receiving the mono mix
}

// DeviceRendererSettings configures the audio device renderer.
type DeviceRendererSettings struct {
	Backend      string `yaml:"backend"` // empty selects the platform default
	DeviceID     string `yaml:"deviceid"`
	Objects      int    `yaml:"objects"`
	BufferBlocks int    `yaml:"bufferblocks"` // committed quanta kept ahead of the device
}

// SimulateSettings configures the host simulator.
type SimulateSettings struct {
	Enabled   bool             `yaml:"enabled"`
	Duration  time.Duration    `yaml:"duration"` // 0 runs until interrupted
	BlockSize int              `yaml:"blocksize"`
	Sources   []SimulateSource `yaml:"sources"`
}

// SimulateSource describes one simulated spatial source.
type SimulateSource struct {
	Name   string        `yaml:"name"`
	File   string        `yaml:"file"`   // wav, mp3 or ogg; empty generates a tone
	ToneHz float64       `yaml:"tonehz"` // used when File is empty
	Radius float64       `yaml:"radius"`
	Height float64       `yaml:"height"`
	Period time.Duration `yaml:"period"` // one orbit
	Start  time.Duration `yaml:"start"`  // delay before the source is created
	Stop   time.Duration `yaml:"stop"`   // 0 keeps the source until shutdown
}

// APISettings configures the HTTP status API.
type APISettings struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// MQTTSettings configures event publishing.
type MQTTSettings struct {
	Enabled  bool   `yaml:"enabled"`
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Retain   bool   `yaml:"retain"`
	QoS      byte   `yaml:"qos"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled bool   `yaml:"enabled"`
	DSN     string `yaml:"dsn"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables.
// An empty configFile searches the default config paths and writes the
// embedded default config if none exists.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := bindEnvVars(); err != nil {
		GetLogger().Warn("environment configuration issues", logger.Error(err))
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal_config").
			Build()
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

func initViper(configFile string) error {
	setDefaultConfig()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return errors.New(err).
				Category(errors.CategoryConfiguration).
				FileContext(configFile, 0).
				Context("operation", "read_config").
				Build()
		}
		return nil
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it back.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// DefaultConfigYAML returns the embedded default config file.
func DefaultConfigYAML() ([]byte, error) {
	return fs.ReadFile(configFiles, "config.yaml")
}

// GetDefaultConfigPaths returns the directories searched for config.yaml, in order.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get_home_directory").
			Build()
	}

	return []string{
		filepath.Join(homeDir, ".config", "spatialpump"),
		"/etc/spatialpump",
		".",
	}, nil
}

// SaveYAMLConfig writes settings to configPath through a temp file and rename.
// Comments and ordering of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			FileContext(configPath, int64(len(yamlData))).
			Context("operation", "save_config").
			Build()
	}

	return nil
}

// ToYAML renders settings as YAML.
func (s *Settings) ToYAML() ([]byte, error) {
	return yaml.Marshal(s)
}
