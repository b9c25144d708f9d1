package conf

// Context carries the loaded settings and process metadata to commands.
type Context struct {
	Settings   *Settings
	ConfigFile string
	Version    string
}

// ApplyDebug raises the console and default log levels when Debug is set.
func (s *Settings) ApplyDebug() {
	if !s.Debug {
		return
	}
	s.Logging.DefaultLevel = "debug"
	if s.Logging.Console != nil {
		s.Logging.Console.Level = "debug"
	}
}
