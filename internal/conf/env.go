// env.go - Environment variable configuration and validation
package conf

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "SPATIALPUMP_DEBUG", validateEnvBool},
		{"main.name", "SPATIALPUMP_NAME", nil},

		{"logging.defaultlevel", "SPATIALPUMP_LOG_LEVEL", validateEnvLogLevel},

		{"spatial.buffercapacity", "SPATIALPUMP_BUFFER_CAPACITY", validateEnvPositiveInt},
		{"spatial.maxslots", "SPATIALPUMP_MAX_SLOTS", validateEnvNonNegativeInt},
		{"spatial.starvationthreshold", "SPATIALPUMP_STARVATION_THRESHOLD", validateEnvPositiveInt},
		{"spatial.locktimeout", "SPATIALPUMP_LOCK_TIMEOUT", validateEnvDuration},
		{"spatial.readytimeout", "SPATIALPUMP_READY_TIMEOUT", validateEnvDuration},

		{"renderer.type", "SPATIALPUMP_RENDERER", validateEnvRendererType},
		{"renderer.device.deviceid", "SPATIALPUMP_DEVICE_ID", nil},

		{"api.enabled", "SPATIALPUMP_API_ENABLED", validateEnvBool},
		{"api.listen", "SPATIALPUMP_API_LISTEN", validateEnvHostPort},

		{"mqtt.enabled", "SPATIALPUMP_MQTT_ENABLED", validateEnvBool},
		{"mqtt.broker", "SPATIALPUMP_MQTT_BROKER", nil},
		{"mqtt.username", "SPATIALPUMP_MQTT_USERNAME", nil},
		{"mqtt.password", "SPATIALPUMP_MQTT_PASSWORD", nil},

		{"sentry.enabled", "SPATIALPUMP_SENTRY_ENABLED", validateEnvBool},
		{"sentry.dsn", "SPATIALPUMP_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds environment variables and reports invalid values.
// Invalid values are still bound; ValidateSettings rejects them later where it matters.
func bindEnvVars() error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}

	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvPositiveInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fmt.Errorf("must be a positive integer")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}

func validateEnvDuration(value string) error {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fmt.Errorf("must be a positive duration such as 2ms")
	}
	return nil
}

func validateEnvLogLevel(value string) error {
	switch strings.ToLower(value) {
	case "trace", "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("must be one of trace, debug, info, warn, error")
}

func validateEnvRendererType(value string) error {
	if value != RendererVirtual && value != RendererDevice {
		return fmt.Errorf("must be %q or %q", RendererVirtual, RendererDevice)
	}
	return nil
}

func validateEnvHostPort(value string) error {
	if _, _, err := net.SplitHostPort(value); err != nil {
		return fmt.Errorf("must be host:port")
	}
	return nil
}
