package logger

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	DefaultLevel string            `yaml:"defaultlevel" json:"default_level" mapstructure:"defaultlevel"`
	Timezone     string            `yaml:"timezone" json:"timezone" mapstructure:"timezone"` // "Local", "UTC" or an IANA name
	Console      *ConsoleOutput    `yaml:"console" json:"console" mapstructure:"console"`
	FileOutput   *FileOutput       `yaml:"fileoutput" json:"file_output" mapstructure:"fileoutput"`
	ModuleLevels map[string]string `yaml:"modulelevels" json:"module_levels" mapstructure:"modulelevels"`
}

// ConsoleOutput represents console logging configuration.
// Console output is text without timestamps; the supervisor adds them.
type ConsoleOutput struct {
	Enabled bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Level   string `yaml:"level" json:"level" mapstructure:"level"`
}

// FileOutput represents file logging configuration.
// File output is JSON with RFC3339 timestamps.
type FileOutput struct {
	Enabled         bool   `yaml:"enabled" json:"enabled" mapstructure:"enabled"`
	Path            string `yaml:"path" json:"path" mapstructure:"path"`
	MaxSize         int    `yaml:"maxsize" json:"max_size" mapstructure:"maxsize"`                            // MB before rotation
	MaxAge          int    `yaml:"maxage" json:"max_age" mapstructure:"maxage"`                               // days to keep rotated logs (0 = no limit)
	MaxRotatedFiles int    `yaml:"maxrotatedfiles" json:"max_rotated_files" mapstructure:"maxrotatedfiles"` // 0 = no limit
	Compress        bool   `yaml:"compress" json:"compress" mapstructure:"compress"`
	Level           string `yaml:"level" json:"level" mapstructure:"level"`
}

const (
	DefaultLogLevel        = "info"
	DefaultLogPath         = "logs/spatialpump.log"
	DefaultMaxSize         = 100
	DefaultMaxAge          = 30
	DefaultMaxRotatedFiles = 10
)

// applyConfigDefaults fills nil sections so an empty config still logs to the console.
func applyConfigDefaults(cfg *LoggingConfig) {
	if cfg == nil {
		return
	}

	if cfg.DefaultLevel == "" {
		cfg.DefaultLevel = DefaultLogLevel
	}

	if cfg.Console == nil {
		cfg.Console = &ConsoleOutput{
			Enabled: true,
			Level:   cfg.DefaultLevel,
		}
	}

	if cfg.FileOutput == nil {
		cfg.FileOutput = &FileOutput{Enabled: false}
	}
	if cfg.FileOutput.Path == "" {
		cfg.FileOutput.Path = DefaultLogPath
	}
	if cfg.FileOutput.MaxSize <= 0 {
		cfg.FileOutput.MaxSize = DefaultMaxSize
	}
	if cfg.FileOutput.Level == "" {
		cfg.FileOutput.Level = cfg.DefaultLevel
	}
}
