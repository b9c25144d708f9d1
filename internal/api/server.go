package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	mw "github.com/spatialpump/spatialpump/internal/api/middleware"
	"github.com/spatialpump/spatialpump/internal/events"
	"github.com/spatialpump/spatialpump/internal/logger"
	"github.com/spatialpump/spatialpump/internal/observability"
	"github.com/spatialpump/spatialpump/internal/spatial"
)

// StatusProvider is the engine view the API reports on.
type StatusProvider interface {
	Snapshot() spatial.Snapshot
}

// CapacityController accepts manual capacity overrides. SetCapacity returns
// the capacity actually applied after clamping.
type CapacityController interface {
	SetCapacity(n int) int
}

// Server is the HTTP status and control server.
type Server struct {
	echo   *echo.Echo
	config *Config
	log    logger.Logger

	engine   StatusProvider
	capacity CapacityController
	history  *events.History
	bus      *events.EventBus
	metrics  *observability.Metrics
	version  string

	wg        sync.WaitGroup
	startTime time.Time
}

// ServerOption is a functional option for configuring the Server.
type ServerOption func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// WithCapacityController enables PUT /api/v1/capacity.
func WithCapacityController(c CapacityController) ServerOption {
	return func(s *Server) { s.capacity = c }
}

// WithHistory enables GET /api/v1/events.
func WithHistory(h *events.History) ServerOption {
	return func(s *Server) { s.history = h }
}

// WithEventBus adds event bus statistics to the health response.
func WithEventBus(b *events.EventBus) ServerOption {
	return func(s *Server) { s.bus = b }
}

// WithMetrics serves /metrics and records request metrics.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) ServerOption {
	return func(s *Server) { s.version = v }
}

// New creates a server reporting on engine.
func New(config *Config, engine StatusProvider, opts ...ServerOption) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, errors.New("api: engine is required")
	}

	s := &Server{
		config:    config,
		engine:    engine,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}

	s.echo = echo.New()
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Server.ReadTimeout = config.ReadTimeout
	s.echo.Server.WriteTimeout = config.WriteTimeout
	s.echo.Server.IdleTimeout = config.IdleTimeout

	s.setupMiddleware()
	s.setupRoutes()

	s.log.Info("HTTP server initialized", logger.String("address", config.Listen))
	return s, nil
}

// setupMiddleware configures the Echo middleware stack.
func (s *Server) setupMiddleware() {
	s.echo.Use(echomw.Recover())
	s.echo.Use(mw.NewRequestLogger(s.log))
	if s.metrics != nil {
		s.echo.Use(mw.NewMetrics(s.metrics.HTTP))
	}

	securityConfig := mw.DefaultSecurityConfig()
	securityConfig.AllowedOrigins = s.config.AllowedOrigins
	s.echo.Use(mw.NewCORS(securityConfig))
	s.echo.Use(mw.NewBodyLimit(s.config.BodyLimit))
	s.echo.Use(mw.NewSecureHeaders(securityConfig))
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	v1 := s.echo.Group("/api/v1")
	v1.GET("/health", s.healthCheck)
	v1.GET("/status", s.getStatus)
	v1.GET("/sources", s.getSources)
	v1.GET("/events", s.getEvents)
	v1.PUT("/capacity", s.putCapacity)

	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
	}
}

func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)
	snap := s.engine.Snapshot()

	resp := map[string]any{
		"status":         "healthy",
		"version":        s.version,
		"worker_state":   snap.State,
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
		"timestamp":      time.Now().Format(time.RFC3339),
	}
	if snap.State == spatial.StateStopped {
		resp["status"] = "stopped"
	}
	if s.bus != nil {
		resp["events"] = s.bus.GetStats()
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) getStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Snapshot())
}

// SourceView is one registered source with its place in the admission queue.
type SourceView struct {
	spatial.SourceStats
	// Slot is the source's position in the admission queue, -1 when not admitted.
	Slot int `json:"slot"`
}

func (s *Server) getSources(c echo.Context) error {
	snap := s.engine.Snapshot()
	order := make(map[string]int, len(snap.Admitted))
	for i, id := range snap.Admitted {
		order[id] = i
	}

	out := make([]SourceView, len(snap.Sources))
	for i, st := range snap.Sources {
		slot, ok := order[st.ID]
		if !ok {
			slot = -1
		}
		out[i] = SourceView{SourceStats: st, Slot: slot}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getEvents(c echo.Context) error {
	if s.history == nil {
		return echo.NewHTTPError(http.StatusNotFound, "event history is not enabled")
	}
	limit := defaultEventLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		limit = n
	}
	return c.JSON(http.StatusOK, s.history.Recent(limit))
}

type capacityRequest struct {
	Usable *int `json:"usable"`
}

func (s *Server) putCapacity(c echo.Context) error {
	if s.capacity == nil {
		return echo.NewHTTPError(http.StatusConflict, "capacity is fixed by the renderer")
	}

	var req capacityRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Usable == nil || *req.Usable < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "usable must be a non-negative integer")
	}

	applied := s.capacity.SetCapacity(*req.Usable)
	s.log.Info("capacity override requested",
		logger.Int("requested", *req.Usable),
		logger.Int("usable", applied))
	return c.JSON(http.StatusAccepted, map[string]int{"usable": applied})
}

// Start begins serving HTTP requests in a background goroutine.
func (s *Server) Start() {
	s.wg.Go(func() {
		s.log.Info("starting HTTP server", logger.String("address", s.config.Listen))
		if err := s.echo.Start(s.config.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("server error", logger.Error(err))
		}
	})
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(ctx); err != nil {
		s.log.Error("error during server shutdown", logger.Error(err))
		return err
	}
	s.wg.Wait()
	s.log.Info("server shutdown complete")
	return nil
}

// Echo returns the underlying Echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
