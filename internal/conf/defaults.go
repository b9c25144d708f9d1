// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Pipeline constants shared with the spatial package defaults.
const (
	DefaultBufferCapacity      = 48000
	DefaultQuantum             = 480
	DefaultSampleRate          = 48000
	DefaultChannels            = 2
	DefaultStarvationThreshold = 5
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "spatialpump")

	viper.SetDefault("logging.defaultlevel", "info")
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", true)
	viper.SetDefault("logging.console.level", "info")
	viper.SetDefault("logging.fileoutput.enabled", false)
	viper.SetDefault("logging.fileoutput.path", "logs/spatialpump.log")
	viper.SetDefault("logging.fileoutput.level", "debug")
	viper.SetDefault("logging.fileoutput.maxsize", 100)
	viper.SetDefault("logging.fileoutput.maxage", 30)
	viper.SetDefault("logging.fileoutput.maxrotatedfiles", 10)
	viper.SetDefault("logging.fileoutput.compress", false)

	viper.SetDefault("spatial.buffercapacity", DefaultBufferCapacity)
	viper.SetDefault("spatial.quantum", DefaultQuantum)
	viper.SetDefault("spatial.samplerate", DefaultSampleRate)
	viper.SetDefault("spatial.channels", DefaultChannels)
	viper.SetDefault("spatial.starvationthreshold", DefaultStarvationThreshold)
	viper.SetDefault("spatial.maxslots", 0)
	viper.SetDefault("spatial.locktimeout", 2*time.Millisecond)
	viper.SetDefault("spatial.readytimeout", 100*time.Millisecond)
	viper.SetDefault("spatial.destroytimeout", 200*time.Millisecond)
	viper.SetDefault("spatial.tombstonettl", 10*time.Second)
	viper.SetDefault("spatial.reconnect.initial", 100*time.Millisecond)
	viper.SetDefault("spatial.reconnect.max", 10*time.Second)

	viper.SetDefault("renderer.type", RendererVirtual)
	viper.SetDefault("renderer.virtual.maxobjects", 16)
	viper.SetDefault("renderer.virtual.initialcapacity", 16)
	viper.SetDefault("renderer.virtual.capturefile", "")
	viper.SetDefault("renderer.device.backend", "")
	viper.SetDefault("renderer.device.deviceid", "")
	viper.SetDefault("renderer.device.objects", 16)
	viper.SetDefault("renderer.device.bufferblocks", 4)

	viper.SetDefault("simulate.enabled", true)
	viper.SetDefault("simulate.duration", 0)
	viper.SetDefault("simulate.blocksize", DefaultQuantum)

	viper.SetDefault("api.enabled", true)
	viper.SetDefault("api.listen", "127.0.0.1:8089")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.topic", "spatialpump")
	viper.SetDefault("mqtt.retain", false)
	viper.SetDefault("mqtt.qos", 0)

	viper.SetDefault("sentry.enabled", false)
	viper.SetDefault("sentry.dsn", "")
}
