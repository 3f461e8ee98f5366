package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/owfs-core/internal/device"
	"github.com/nerrad567/owfs-core/internal/infrastructure/config"
	"github.com/nerrad567/owfs-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/owfs-core/internal/infrastructure/logging"
	"github.com/nerrad567/owfs-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/owfs-core/internal/journal"
	"github.com/nerrad567/owfs-core/internal/relay"
	"github.com/nerrad567/owfs-core/internal/service"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Orchestrator is the view of the service the API needs. *service.Service
// satisfies it.
type Orchestrator interface {
	Servers() []service.Server
	Devices() []*device.Device
	Device(id string) (*device.Device, bool)
	RequestScanAll(ctx context.Context, polling bool) error
	TaskCount() int
}

// AttributeAccessor is implemented by servers that can read and write
// device attributes on the bus.
type AttributeAccessor interface {
	ReadAttribute(ctx context.Context, dev *device.Device, attr string) (string, error)
	WriteAttribute(ctx context.Context, dev *device.Device, attr, value string) error
}

// ReadingHistory answers stored reading queries. *influxdb.Client
// satisfies it.
type ReadingHistory interface {
	QueryReadings(ctx context.Context, q influxdb.ReadingQuery) ([]influxdb.Reading, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	Logger       *logging.Logger
	Orchestrator Orchestrator
	Journal      journal.Repository // optional
	History      ReadingHistory     // optional
	MQTT         *mqtt.Client       // optional, reported in metrics
	Relay        *relay.Relay       // optional, reported in metrics
	DB           *sql.DB            // optional, reported in metrics
	Hub          *Hub               // If set, the server uses this hub instead of creating its own
	Version      string
}

// Server is the HTTP API server.
//
// It is created with New(), started with Start() and stopped with Close().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	orch      Orchestrator
	journal   journal.Repository
	history   ReadingHistory
	mqtt      *mqtt.Client
	relay     *relay.Relay
	db        *sql.DB
	version   string
	startTime time.Time

	hub         *Hub
	externalHub bool
	server      *http.Server
	listener    net.Listener
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// Parameters:
//   - deps: Logger and Orchestrator are required, the rest optional
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		orch:      deps.Orchestrator,
		journal:   deps.Journal,
		history:   deps.History,
		mqtt:      deps.MQTT,
		relay:     deps.Relay,
		db:        deps.DB,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}
	return s, nil
}

// Hub returns the server's websocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Handler returns the router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in a background goroutine.
//
// Binding happens before Start returns, so an address already in use is
// reported here rather than logged later. The hub is run until Close unless
// it was supplied by the caller, who then owns its lifetime.
//
// Returns:
//   - error: If the listener cannot be created
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr(), err)
	}
	s.listener = ln

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.Read,
		ReadHeaderTimeout: s.cfg.Timeouts.Read,
		WriteTimeout:      s.cfg.Timeouts.Write,
		IdleTimeout:       s.cfg.Timeouts.Idle,
		BaseContext:       func(net.Listener) context.Context { return srvCtx },
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
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
