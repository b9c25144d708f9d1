package observability

import "github.com/spatialpump/spatialpump/internal/logger"

// getLogger returns the package logger. It is resolved on each call because
// the central logger is installed after configuration loads.
func getLogger() logger.Logger {
	return logger.Global().Module("metrics")
}
