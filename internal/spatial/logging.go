package spatial

import (
	"sync/atomic"

	"golang.org/x/time/rate"

	"github.com/spatialpump/spatialpump/internal/logger"
)

// getLogger returns the package logger from the global central logger.
func getLogger() logger.Logger {
	return logger.Global().Module(ComponentSpatial)
}

// throttledLog drops warnings beyond a rate so the render and pump paths can
// report anomalies without flooding the output. The first warning after a
// quiet period carries the number of messages that were dropped.
type throttledLog struct {
	log        logger.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

func newThrottledLog(log logger.Logger) *throttledLog {
	return &throttledLog{
		log:     log,
		limiter: rate.NewLimiter(rate.Every(warnInterval), warnBurst),
	}
}

func (t *throttledLog) Warn(msg string, fields ...logger.Field) {
	if !t.limiter.Allow() {
		t.suppressed.Add(1)
		return
	}
	if n := t.suppressed.Swap(0); n > 0 {
		fields = append(fields, logger.Uint64("suppressed", n))
	}
	t.log.Warn(msg, fields...)
}
