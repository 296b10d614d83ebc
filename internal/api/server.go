package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/gray-logic-patchbay/internal/audit"
	"github.com/nerrad567/gray-logic-patchbay/internal/graph"
	"github.com/nerrad567/gray-logic-patchbay/internal/history"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-patchbay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-patchbay/internal/reconciler"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// GraphService is the part of the reconciler the API serves.
type GraphService interface {
	Snapshot(ctx context.Context) (graph.Snapshot, error)
	Stats(ctx context.Context) (reconciler.Stats, error)
	Connect(ctx context.Context, a, b string) error
	Disconnect(ctx context.Context, a, b string) error
	RequestResync()
}

// RelayStatus reports whether the JACK relay is online.
type RelayStatus interface {
	RelayOnline() bool
}

// ConnectionStatus reports whether a client is connected to its backend.
type ConnectionStatus interface {
	IsConnected() bool
}

// DBStatter exposes connection pool statistics.
type DBStatter interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Graph    GraphService

	// Optional. Leave nil rather than assigning a typed nil.
	History  history.Repository
	Audit    audit.Repository
	Relay    RelayStatus
	MQTT     ConnectionStatus
	Database DBStatter
	Gatherer prometheus.Gatherer // defaults to prometheus.DefaultGatherer

	ExternalHub *Hub // If set, the server uses this hub instead of creating its own
	Version     string
}

// Server is the HTTP API server for patchbay.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	graph       GraphService
	history     history.Repository
	audit       audit.Repository
	relay       RelayStatus
	mqtt        ConnectionStatus
	db          DBStatter
	gatherer    prometheus.Gatherer
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool // true if hub was injected externally
	tickets     *ticketStore
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called, but its hub already
// accepts broadcasts so it can be wired into the graph notifier first.
//
// Parameters:
//   - deps: Required dependencies (config, logger, graph service)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Graph == nil {
		return nil, fmt.Errorf("graph service is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		graph:     deps.Graph,
		history:   deps.History,
		audit:     deps.Audit,
		relay:     deps.Relay,
		mqtt:      deps.MQTT,
		db:        deps.Database,
		gatherer:  deps.Gatherer,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(ticketTTL),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	if deps.ExternalHub != nil {
		s.hub = deps.ExternalHub
		s.externalHub = true
	} else {
		s.hub = NewHub(s.wsCfg, s.logger)
	}

	return s, nil
}

// Hub returns the WebSocket hub. Its Notifier should be added to the graph
// notifier fanout so clients see every mutation.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket expiry, then launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	s.tickets.start()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	// Cancel background goroutines (hub)
	if s.cancel != nil {
		s.cancel()
	}
	s.tickets.stop()

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
