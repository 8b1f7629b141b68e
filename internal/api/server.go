// Package api provides the HTTP API server.
package api //nolint:revive // api is a common, well-understood package name

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"sort"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/seedreap/qbitstats/apitypes"
	"github.com/seedreap/qbitstats/internal/coordinator"
	"github.com/seedreap/qbitstats/internal/timeline"
)

// validNamePattern matches configured client names.
var validNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// maxNameLength is the maximum allowed length for name parameters.
const maxNameLength = 256

// validateName checks that a name parameter is non-empty, reasonable length,
// and contains only safe characters.
func validateName(name string) error {
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name is required")
	}
	if len(name) > maxNameLength {
		return echo.NewHTTPError(http.StatusBadRequest, "name too long")
	}
	if !validNamePattern.MatchString(name) {
		return echo.NewHTTPError(http.StatusBadRequest, "name contains invalid characters")
	}
	return nil
}

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	schedulers map[string]*coordinator.Scheduler
	timeline   timeline.Recorder
	logger     zerolog.Logger
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTimeline sets the recorder served by the timeline endpoints.
func WithTimeline(recorder timeline.Recorder) Option {
	return func(s *Server) {
		s.timeline = recorder
	}
}

// New creates a new API server reading from the given schedulers.
func New(schedulers []*coordinator.Scheduler, opts ...Option) *Server {
	s := &Server{
		echo:       echo.New(),
		schedulers: make(map[string]*coordinator.Scheduler, len(schedulers)),
		logger:     zerolog.Nop(),
	}

	for _, sched := range schedulers {
		s.schedulers[sched.Name()] = sched
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.timeline == nil {
		s.timeline = timeline.NewRecorder()
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	// Request logging
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Msg("request")
			}
			return nil
		},
	}))

	s.echo.Use(middleware.Recover())

	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", s.healthHandler)

	api.GET("/clients", s.listClientsHandler)
	api.GET("/clients/:name/stats", s.statsHandler)
	api.POST("/clients/:name/refresh", s.refreshHandler)
	api.POST("/clients/:name/resume", s.resumeHandler)

	api.GET("/timeline", s.timelineHandler)
	api.GET("/clients/:name/timeline", s.clientTimelineHandler)
}

// Start starts the server.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("starting http server")
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Handlers

func (s *Server) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, apitypes.HealthResponse{Status: "ok"})
}

func (s *Server) lookup(c echo.Context) (*coordinator.Scheduler, error) {
	name := c.Param("name")
	if err := validateName(name); err != nil {
		return nil, err
	}

	sched, ok := s.schedulers[name]
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "client not found")
	}
	return sched, nil
}

func (s *Server) listClientsHandler(c echo.Context) error {
	clients := make([]apitypes.Client, 0, len(s.schedulers))
	for _, sched := range s.schedulers {
		status := sched.Status()
		_, hasData := sched.Result()

		clients = append(clients, apitypes.Client{
			Name:                sched.Name(),
			Type:                sched.Type(),
			HasData:             hasData,
			LastAttempt:         status.LastAttempt,
			LastSuccess:         status.LastSuccess,
			LastError:           status.LastError,
			ConsecutiveFailures: status.ConsecutiveFailures,
			Halted:              status.Halted,
		})
	}

	sort.Slice(clients, func(i, j int) bool {
		return clients[i].Name < clients[j].Name
	})

	return c.JSON(http.StatusOK, clients)
}

func (s *Server) statsHandler(c echo.Context) error {
	sched, err := s.lookup(c)
	if err != nil {
		return err
	}

	result, ok := sched.Result()
	if !ok {
		return c.JSON(http.StatusServiceUnavailable, apitypes.ErrorResponse{
			Error: "no data yet",
		})
	}

	return c.JSON(http.StatusOK, result)
}

func (s *Server) refreshHandler(c echo.Context) error {
	sched, err := s.lookup(c)
	if err != nil {
		return err
	}

	result, err := sched.RefreshNow(c.Request().Context())
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, result)
	case errors.Is(err, coordinator.ErrAuthFailed):
		return c.JSON(http.StatusUnauthorized, apitypes.ErrorResponse{Error: err.Error()})
	default:
		return c.JSON(http.StatusBadGateway, apitypes.ErrorResponse{Error: err.Error()})
	}
}

func (s *Server) resumeHandler(c echo.Context) error {
	sched, err := s.lookup(c)
	if err != nil {
		return err
	}

	sched.Resume()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) timelineHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, toAPIEvents(s.timeline.GetAll()))
}

func (s *Server) clientTimelineHandler(c echo.Context) error {
	sched, err := s.lookup(c)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toAPIEvents(s.timeline.GetByClient(sched.Name())))
}

func toAPIEvents(events []timeline.Event) []apitypes.TimelineEvent {
	out := make([]apitypes.TimelineEvent, 0, len(events))
	for _, e := range events {
		out = append(out, apitypes.TimelineEvent{
			ID:        e.ID,
			Type:      string(e.Type),
			Timestamp: e.Timestamp,
			Message:   e.Message,
			Client:    e.Client,
			CycleID:   e.CycleID,
			Details:   e.Details,
		})
	}
	return out
}
