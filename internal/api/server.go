package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Transport kinds served by this package.
const (
	KindHTTP  = config.ServerHTTP
	KindHTTPS = config.ServerHTTPS
	KindHTTP2 = config.ServerHTTP2
)

// ServerStatus is one protocol server handle as reported on /api/v1/servers.
type ServerStatus struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	State       string `json:"state"`
	IsRunning   bool   `json:"isRunning"`
	IsConnected bool   `json:"isConnected"`
}

// StatusProvider lists the protocol server handles.
type StatusProvider interface {
	Statuses() []ServerStatus
}

// DescriptionFunc renders the device description document.
type DescriptionFunc func() ([]byte, error)

// Deps holds the dependencies required by the HTTP server.
type Deps struct {
	Kind    string
	Config  config.ServerConfig
	WS      config.WebSocketConfig
	Logger  *logging.Logger
	Metrics *metrics.Metrics
	Version string

	// Dialer is used for peer back-channels; nil uses websocket.DefaultDialer.
	Dialer *websocket.Dialer
}

// Server is one HTTP-family listener with its router and WebSocket hub.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Server struct {
	kind    string
	cfg     config.ServerConfig
	wsCfg   config.WebSocketConfig
	logger  *logging.Logger
	metrics *metrics.Metrics
	version string
	dialer  *websocket.Dialer

	hub   *Hub
	conns *connectionStore

	mu          sync.RWMutex
	status      StatusProvider
	description DescriptionFunc

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	done     chan struct{}
}

// New creates a server. It is not listening until Start is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	switch deps.Kind {
	case KindHTTP, KindHTTPS, KindHTTP2:
	case "":
		deps.Kind = KindHTTP
	default:
		return nil, fmt.Errorf("unsupported transport %q", deps.Kind)
	}
	if deps.Kind == KindHTTPS && (deps.Config.TLS.CertFile == "" || deps.Config.TLS.KeyFile == "") {
		return nil, fmt.Errorf("https requires tls.cert_file and tls.key_file")
	}
	if deps.Config.Timeouts.Read <= 0 {
		deps.Config.Timeouts.Read = 15
	}
	if deps.Config.Timeouts.Write <= 0 {
		deps.Config.Timeouts.Write = 15
	}
	if deps.Config.Timeouts.Idle <= 0 {
		deps.Config.Timeouts.Idle = 60
	}
	if deps.WS.Path == "" {
		deps.WS.Path = "/ws"
	}
	if deps.Dialer == nil {
		deps.Dialer = websocket.DefaultDialer
	}

	return &Server{
		kind:    deps.Kind,
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		version: deps.Version,
		dialer:  deps.Dialer,
		hub:     NewHub(deps.WS, deps.Logger),
		conns:   newConnectionStore(),
	}, nil
}

// SetStatusProvider wires the source for /api/v1/servers. The registry
// creates transports before it can describe itself, so this is set after New.
func (s *Server) SetStatusProvider(p StatusProvider) {
	s.mu.Lock()
	s.status = p
	s.mu.Unlock()
}

// SetDescription wires the device description document.
func (s *Server) SetDescription(fn DescriptionFunc) {
	s.mu.Lock()
	s.description = fn
	s.mu.Unlock()
}

// Start binds the listener and serves in the background.
//
// Bind failures are returned so the caller can leave this handle
// not-running while others proceed.
func (s *Server) Start(ctx context.Context) error {
	if s.Running() {
		return fmt.Errorf("%s server already started", s.kind)
	}
	addr := net.JoinHostPort(s.cfg.IP, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}

	// The hub lives until Close, not until the caller's context ends.
	srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go s.hub.Run(srvCtx)

	handler := s.buildRouter()
	srv := &http.Server{
		Handler:           handler,
		ReadTimeout:       seconds(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: seconds(s.cfg.Timeouts.Read),
		WriteTimeout:      seconds(s.cfg.Timeouts.Write),
		IdleTimeout:       seconds(s.cfg.Timeouts.Idle),
	}

	useTLS := s.kind == KindHTTPS || (s.kind == KindHTTP2 && s.cfg.TLS.CertFile != "")
	if s.kind == KindHTTP2 {
		h2 := &http2.Server{}
		if useTLS {
			srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			if err := http2.ConfigureServer(srv, h2); err != nil {
				ln.Close() //nolint:errcheck // configure error takes precedence
				cancel()
				return fmt.Errorf("configuring http2: %w", err)
			}
		} else {
			srv.Handler = h2c.NewHandler(handler, h2)
		}
	}

	done := make(chan struct{})

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		var err error
		if useTLS {
			s.logger.Info("server starting with TLS", "kind", s.kind, "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("server starting", "kind", s.kind, "address", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", "kind", s.kind, "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the server and closes peer back-channels.
//
// It waits up to 10 seconds for in-flight requests to complete.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel, done := s.server, s.cancel, s.done
	s.server = nil
	s.cancel = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	s.conns.closeAll()

	ctx, stop := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer stop()

	s.logger.Info("server shutting down", "kind", s.kind)
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down %s server: %w", s.kind, err)
	}
	<-done
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Running reports whether the server is listening.
func (s *Server) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.server != nil
}

// Kind returns the transport kind.
func (s *Server) Kind() string {
	return s.kind
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Once registers a one-shot listener for an inbound acknowledgment event.
func (s *Server) Once(event, connectionID string) (<-chan struct{}, func()) {
	return s.hub.Once(event, connectionID)
}

// HealthCheck verifies the server is listening.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s health check: %w", s.kind, ctx.Err())
	default:
	}

	if !s.Running() {
		return fmt.Errorf("%s server not started", s.kind)
	}
	return nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
