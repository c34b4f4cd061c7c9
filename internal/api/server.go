package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/pulse-core/internal/audit"
	"github.com/nerrad567/pulse-core/internal/bridge"
	"github.com/nerrad567/pulse-core/internal/process"
	"github.com/nerrad567/pulse-core/internal/device"
	"github.com/nerrad567/pulse-core/internal/infrastructure/config"
	"github.com/nerrad567/pulse-core/internal/infrastructure/logging"
	"github.com/nerrad567/pulse-core/internal/scheduler"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Scheduler is the command scheduler surface the API drives.
// *scheduler.Service satisfies it.
type Scheduler interface {
	Submit(ctx context.Context, req scheduler.Request) (scheduler.Result, error)
	Status(requesterID string) scheduler.Status
	StopAll(ctx context.Context, operatorID string) int
	Lock(operatorID string) error
	Unlock(operatorID string) error
	LockState() scheduler.LockState
	Devices(ctx context.Context) ([]device.Device, error)
	Connected() bool
}

// ConnectionChecker reports broker connectivity for the metrics endpoint.
type ConnectionChecker interface {
	IsConnected() bool
}

// BridgeStatsProvider exposes device bridge counters.
type BridgeStatsProvider interface {
	Stats() bridge.Stats
}

// ProcessStatsProvider exposes the supervised bridge daemon's state.
type ProcessStatsProvider interface {
	Stats() process.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Scheduler Scheduler
	AuditRepo audit.Repository     // optional: GET /audit returns 503 without it
	Gatherer  prometheus.Gatherer  // optional: /metrics is not mounted without it
	MQTT      ConnectionChecker    // optional
	Bridge    BridgeStatsProvider  // optional
	Process   ProcessStatsProvider // optional: only when the bridge is supervised locally
	DB        *sql.DB              // optional, for pool stats
	Version   string
}

// Server is the HTTP API server for Pulse Core.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	logger    *logging.Logger
	sched     Scheduler
	auditRepo audit.Repository
	gatherer  prometheus.Gatherer
	mqtt      ConnectionChecker
	bridge    BridgeStatsProvider
	process   ProcessStatsProvider
	db        *sql.DB
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	tickets   *ticketStore
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, scheduler)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Scheduler == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		logger:    deps.Logger,
		sched:     deps.Scheduler,
		auditRepo: deps.AuditRepo,
		gatherer:  deps.Gatherer,
		mqtt:      deps.MQTT,
		bridge:    deps.Bridge,
		process:   deps.Process,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.WS, deps.Logger),
		tickets:   newTicketStore(),
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, then launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

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
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
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

// Hub returns the WebSocket hub so other components can broadcast.
func (s *Server) Hub() *Hub {
	return s.hub
}
