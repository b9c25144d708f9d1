package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatialpump/spatialpump/internal/events"
	"github.com/spatialpump/spatialpump/internal/logger"
	"github.com/spatialpump/spatialpump/internal/observability"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

type fakeEngine struct {
	snap spatial.Snapshot
}

func (f *fakeEngine) Snapshot() spatial.Snapshot { return f.snap }

type recordingCapacity struct {
	mu     sync.Mutex
	max    int
	values []int
}

func (r *recordingCapacity) SetCapacity(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values = append(r.values, n)
	return min(n, r.max)
}

func testSnapshot() spatial.Snapshot {
	return spatial.Snapshot{
		EngineID:    "e1",
		State:       spatial.StatePumping,
		UsableSlots: 2,
		MaxSlots:    4,
		QueueLength: 1,
		Admitted:    []string{"b"},
		Sources: []spatial.SourceStats{
			{ID: "a"},
			{ID: "b", Admitted: true},
		},
	}
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	opts = append([]ServerOption{WithLogger(logger.NewDiscardLogger())}, opts...)
	s, err := New(DefaultConfig(), &fakeEngine{snap: testSnapshot()}, opts...)
	require.NoError(t, err)
	return s
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(&Config{}, &fakeEngine{})
	require.Error(t, err)
	_, err = New(DefaultConfig(), nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	bus, err := events.NewEventBus(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Shutdown(time.Second) })

	s := newTestServer(t, WithVersion("1.2.3"), WithEventBus(bus))
	rec := do(t, s, http.MethodGet, "/api/v1/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, "pumping", body["worker_state"])
	assert.Contains(t, body, "events")
}

func TestStatusReturnsSnapshot(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "e1", snap["engine_id"])
	assert.Equal(t, "pumping", snap["state"])
	assert.InDelta(t, 2, snap["usable_slots"], 0)
}

func TestSourcesCarryQueuePosition(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	rec := do(t, s, http.MethodGet, "/api/v1/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []SourceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 2)
	assert.Equal(t, -1, views[0].Slot)
	assert.Equal(t, 0, views[1].Slot)
	assert.True(t, views[1].Admitted)
}

func TestEvents(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/events", "").Code)

	h := events.NewHistory(8)
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, h.ProcessEvent(spatial.Event{Kind: spatial.EventSourceAdmitted, SourceID: id}))
	}
	s = newTestServer(t, WithHistory(h))

	rec := do(t, s, http.MethodGet, "/api/v1/events?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var evs []spatial.Event
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evs))
	require.Len(t, evs, 2)
	assert.Equal(t, "b", evs[0].SourceID)
	assert.Equal(t, "c", evs[1].SourceID)

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/events?limit=x", "").Code)
}

func TestCapacityOverride(t *testing.T) {
	t.Parallel()

	fixed := newTestServer(t)
	assert.Equal(t, http.StatusConflict, do(t, fixed, http.MethodPut, "/api/v1/capacity", `{"usable":1}`).Code)

	rc := &recordingCapacity{max: 4}
	s := newTestServer(t, WithCapacityController(rc))

	rec := do(t, s, http.MethodPut, "/api/v1/capacity", `{"usable":1}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"usable":1}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/api/v1/capacity", `{"usable":-1}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/api/v1/capacity", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodPut, "/api/v1/capacity", `{"usable":`).Code)

	assert.Equal(t, []int{1}, rc.values)
}

func TestCapacityOverrideReportsClampedValue(t *testing.T) {
	t.Parallel()

	rc := &recordingCapacity{max: 4}
	s := newTestServer(t, WithCapacityController(rc))

	rec := do(t, s, http.MethodPut, "/api/v1/capacity", `{"usable":10}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"usable":4}`, rec.Body.String())
	assert.Equal(t, []int{10}, rc.values)
}

func TestMetricsEndpointAndRequestMetrics(t *testing.T) {
	t.Parallel()

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	s := newTestServer(t, WithMetrics(m))

	require.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/api/v1/status", "").Code)
	require.Equal(t, http.StatusConflict, do(t, s, http.MethodPut, "/api/v1/capacity", `{"usable":1}`).Code)

	rec := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `http_requests_total{method="GET",path="/api/v1/status",status_code="200"} 1`)
	assert.Contains(t, body, `http_request_errors_total{error_type="state",method="PUT",path="/api/v1/capacity"} 1`)
}
