// Package server provides the main application server.
package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/seedreap/qbitstats/internal/api"
	"github.com/seedreap/qbitstats/internal/config"
	"github.com/seedreap/qbitstats/internal/coordinator"
	"github.com/seedreap/qbitstats/internal/download"
	"github.com/seedreap/qbitstats/internal/events"
	"github.com/seedreap/qbitstats/internal/timeline"
)

// Options holds additional server options not in config.
type Options struct {
	Logger zerolog.Logger

	// Clients overrides the backends built from config. Used by tests.
	Clients []download.Client
}

// Server is the main application server.
type Server struct {
	cfg        config.Config
	apiServer  *api.Server
	registry   *download.Registry
	schedulers []*coordinator.Scheduler
	eventBus   *events.Bus
	eventsCtrl *events.Controller
	logger     zerolog.Logger

	mu       sync.Mutex
	stopping bool
}

// New creates a new server with the given configuration.
func New(cfg config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	registry := download.NewRegistry()

	if opts.Clients != nil {
		for _, c := range opts.Clients {
			registry.Register(c.Name(), c)
		}
	} else {
		for name, clientCfg := range cfg.Clients {
			logger.Debug().Str("name", name).Str("url", clientCfg.URL).Msg("configuring client")

			client := download.NewQBittorrent(
				name,
				clientCfg,
				download.WithLogger(logger.With().Str("client", name).Logger()),
			)
			registry.Register(name, client)
		}
	}

	if len(registry.All()) == 0 {
		return nil, errors.New("no clients configured")
	}

	logger.Info().
		Int("clients", len(registry.All())).
		Dur("interval", cfg.Poll.Interval).
		Msg("configuration loaded")

	eventBus := events.New(events.WithLogger(logger.With().Str("component", "events").Logger()))

	timelineRecorder := timeline.NewRecorder(
		timeline.WithLogger(logger.With().Str("component", "timeline").Logger()),
	)

	eventsCtrl := events.NewController(
		eventBus,
		timelineRecorder,
		events.WithControllerLogger(logger.With().Str("component", "events-controller").Logger()),
	)

	names := make([]string, 0, len(registry.All()))
	for name := range registry.All() {
		names = append(names, name)
	}
	sort.Strings(names)

	schedulers := make([]*coordinator.Scheduler, 0, len(names))
	for _, name := range names {
		client, _ := registry.Get(name)
		clientLogger := logger.With().Str("client", name).Logger()

		coord := coordinator.New(client, coordinator.WithLogger(clientLogger))
		schedulers = append(schedulers, coordinator.NewScheduler(
			coord,
			coordinator.WithSchedulerLogger(clientLogger),
			coordinator.WithInterval(cfg.Poll.Interval),
			coordinator.WithEventBus(eventBus),
		))
	}

	apiServer := api.New(
		schedulers,
		api.WithLogger(logger.With().Str("component", "api").Logger()),
		api.WithTimeline(timelineRecorder),
	)

	return &Server{
		cfg:        cfg,
		apiServer:  apiServer,
		registry:   registry,
		schedulers: schedulers,
		eventBus:   eventBus,
		eventsCtrl: eventsCtrl,
		logger:     logger,
	}, nil
}

// Handler returns the HTTP API handler.
func (s *Server) Handler() *api.Server {
	return s.apiServer
}

// Schedulers returns the per-client schedulers, sorted by client name.
func (s *Server) Schedulers() []*coordinator.Scheduler {
	return s.schedulers
}

// Start connects to every client and starts the refresh loops. It does not
// start the HTTP listener.
func (s *Server) Start(ctx context.Context) error {
	if err := s.eventsCtrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start events controller: %w", err)
	}

	s.eventBus.Publish(events.Event{Type: events.SystemStarted})

	for _, sched := range s.schedulers {
		client, _ := s.registry.Get(sched.Name())
		if err := client.Connect(ctx); err != nil {
			// The scheduler retries the login on every cycle.
			s.logger.Warn().Err(err).Str("client", sched.Name()).Msg("initial connection failed")
		} else {
			s.eventBus.Publish(events.Event{
				Type:   events.ClientConnected,
				Client: sched.Name(),
				Data:   map[string]any{"type": client.Type()},
			})
		}

		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler for %s: %w", sched.Name(), err)
		}
	}

	return nil
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().
		Str("listen", s.cfg.Server.Listen).
		Msg("starting qbitstats")

	if err := s.Start(ctx); err != nil {
		return err
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.apiServer.Start(s.cfg.Server.Listen); err != nil && !s.isStopping() {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// PrepareShutdown prepares for graceful shutdown by suppressing expected errors.
// Call this before cancelling the main context.
func (s *Server) PrepareShutdown() {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.PrepareShutdown()
	s.logger.Info().Msg("shutting down...")

	if err := s.apiServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("server shutdown error")
	}

	for _, sched := range s.schedulers {
		sched.Stop()
	}

	if err := s.eventsCtrl.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("events controller stop error")
	}
	s.eventBus.Close()

	s.logger.Info().Msg("shutdown complete")
	return nil
}
