package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NewMetrics builds an independent registry on every call.
func TestNewMetricsConcurrency(t *testing.T) {
	t.Parallel()

	const numGoroutines = 20

	var wg sync.WaitGroup
	for range numGoroutines {
		wg.Go(func() {
			m, err := NewMetrics()
			if !assert.NoError(t, err) {
				return
			}
			assert.NotNil(t, m.Spatial)
			assert.NotNil(t, m.MQTT)
			assert.NotNil(t, m.HTTP)
		})
	}
	wg.Wait()
}

func TestHandlerExposesSpatialMetrics(t *testing.T) {
	t.Parallel()

	m, err := NewMetrics()
	require.NoError(t, err)

	m.Spatial.SetUsableSlots(3)
	m.Spatial.RecordPumpCycle(2, time.Millisecond)
	m.HTTP.RecordHTTPRequest(http.MethodGet, "/api/v1/status", http.StatusOK, 0.001)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "spatial_usable_slots 3")
	assert.Contains(t, string(body), "spatial_pump_cycles_total 1")
	assert.Contains(t, string(body), `http_requests_total{method="GET",path="/api/v1/status",status_code="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
