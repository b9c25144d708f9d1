package conf

import "github.com/spatialpump/spatialpump/internal/logger"

// GetLogger returns the config package logger. It is fetched from the global
// logger on each call because the central logger is installed after config loads.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
