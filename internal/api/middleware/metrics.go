package middleware

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/spatialpump/spatialpump/internal/observability/metrics"
)

// NewMetrics records request counts and latency by route pattern.
func NewMetrics(m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
				m.RecordHTTPRequestError(c.Request().Method, c.Path(), errorType(status))
			}
			m.RecordHTTPRequest(c.Request().Method, c.Path(), status, time.Since(start).Seconds())
			return err
		}
	}
}

func errorType(status int) string {
	switch {
	case status == http.StatusConflict:
		return "state"
	case status >= 400 && status < 500:
		return "validation"
	default:
		return "system"
	}
}
