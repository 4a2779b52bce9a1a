package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nranderson/doggydoor/internal/door"
	"github.com/nranderson/doggydoor/internal/infrastructure/config"
	"github.com/nranderson/doggydoor/internal/infrastructure/database"
	"github.com/nranderson/doggydoor/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Orchestrator is the interface the API needs from the door package.
type Orchestrator interface {
	Snapshot() door.Snapshot
	ForceLock(ctx context.Context, trigger string) error
	ForceUnlock(ctx context.Context, trigger string) error
}

// EventStore is the interface for reading the event journal. May be nil,
// in which case the events endpoint reports an empty list.
type EventStore interface {
	RecentEvents(ctx context.Context, kind string, limit int) ([]database.Event, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Door    Orchestrator
	Store   EventStore
	Version string
}

// Server is the HTTP API server for the doggy door service.
//
// It manages the HTTP listener, routes, and middleware. The server is
// created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	logger  *logging.Logger
	door    Orchestrator
	store   EventStore
	version string
	server  *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Door == nil {
		return nil, fmt.Errorf("door orchestrator is required")
	}

	return &Server{
		cfg:     deps.Config,
		logger:  deps.Logger,
		door:    deps.Door,
		store:   deps.Store,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server listening",
		"address", s.server.Addr,
		"auth", s.cfg.Token != "",
	)
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
