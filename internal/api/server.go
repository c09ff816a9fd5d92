// Package api provides the HTTP REST API and WebSocket server for serialgate.
//
// It exposes the serial connection over HTTP: queueing sends, reading the
// receive buffer, blocking until responses arrive, and enumerating ports.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/opencomms/serialgate/internal/history"
	"github.com/opencomms/serialgate/internal/infrastructure/config"
	"github.com/opencomms/serialgate/internal/infrastructure/logging"
	"github.com/opencomms/serialgate/internal/serial"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Conn is the serial connection surface the API consumes.
// Satisfied by *serial.Connection; tests substitute a mock.
type Conn interface {
	// Send queues fragments joined with concatenate and suffixed with
	// ending for transmission.
	Send(fragments []string, ending, concatenate string) error

	// ReceiveStr returns a previous receive record, numBefore back from
	// the most recent.
	ReceiveStr(numBefore int, readUntil string, strip bool) (serial.StrRecord, bool)

	// AllReceiveStr returns the entire receive buffer, oldest first.
	AllReceiveStr(readUntil string, strip bool) []serial.StrRecord

	// Get blocks until the first record received after the call.
	Get(ctx context.Context, readUntil string, strip bool) (serial.StrRecord, bool)

	// GetFirstResponse sends data and returns the first record received
	// after the send.
	GetFirstResponse(ctx context.Context, fragments []string, ending, concatenate, readUntil string, strip bool) (serial.StrRecord, bool, error)

	// WaitForResponse blocks until a record matching response arrives.
	WaitForResponse(ctx context.Context, response string, strip bool) bool

	// SendForResponse repeatedly sends data until a matching record arrives.
	SendForResponse(ctx context.Context, response string, fragments []string, ending, concatenate string, strip bool) bool

	// OnRecord registers a listener invoked for every received record.
	OnRecord(fn func(serial.Record))

	// IsConnected reports whether the port is open.
	IsConnected() bool

	// Stats returns current I/O counters.
	Stats() serial.Stats
}

// PortLister enumerates serial ports present on the system.
// Defaults to serial.ListPorts; tests substitute a fixed list.
type PortLister func() ([]string, error)

// RequestMetrics receives a timing sample for every completed request.
// Satisfied by *tsdb.Client; tests substitute a mock.
type RequestMetrics interface {
	WriteHTTPRequest(route, method string, status int, duration time.Duration)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Conn    Conn
	History history.Repository // Optional: /history disabled when nil
	Ports   PortLister         // Optional: defaults to serial.ListPorts
	Metrics RequestMetrics     // Optional: per-request timing sink
	Version string
}

// Server is the HTTP API server for serialgate.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg     config.APIConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	conn    Conn
	history history.Repository
	ports   PortLister
	metrics RequestMetrics
	version string
	server  *http.Server
	hub     *Hub
	cancel  context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, connection)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Conn == nil {
		return nil, fmt.Errorf("serial connection is required")
	}
	// History is optional; /history is not mounted without it

	ports := deps.Ports
	if ports == nil {
		ports = serial.ListPorts
	}

	return &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		conn:    deps.Conn,
		history: deps.History,
		ports:   ports,
		metrics: deps.Metrics,
		version: deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router, starts the WebSocket hub, registers the receive
// tail listener on the connection, and launches the HTTP listener in a
// background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(ctx context.Context) error {
	// Create internal context so Close() can stop background goroutines
	// independently of the parent context.
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	// Tail received records into the WebSocket hub.
	s.conn.OnRecord(s.hub.BroadcastRecord)

	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       s.cfg.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.GetReadTimeout(),
		WriteTimeout:      s.cfg.GetWriteTimeout(),
		IdleTimeout:       s.cfg.GetIdleTimeout(),
	}

	go func() {
		err := s.server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	s.logger.Info("API server started", "address", s.server.Addr)
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

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
