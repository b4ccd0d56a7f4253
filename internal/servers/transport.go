package servers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/discovery"
)

// transportServer is the http, https and http2 variant.
type transportServer struct {
	lifecycle
	deps Deps

	mu  sync.RWMutex
	srv *api.Server
}

func newTransport(t Type, deps Deps) *transportServer {
	s := &transportServer{deps: deps}
	s.setup(t, deps.Logger)
	return s
}

// Init binds the listener. A bind failure leaves the handle Stopped.
func (s *transportServer) Init(ctx context.Context, cfg Config) error {
	up, err := s.begin(ctx, cfg)
	if !up {
		return err
	}

	srv, err := api.New(api.Deps{
		Kind:    string(s.typ),
		Config:  cfg.Server,
		WS:      s.deps.WebSocket,
		Logger:  s.logger(),
		Metrics: s.deps.Metrics,
		Version: s.deps.Version,
	})
	if err != nil {
		return s.finish(err)
	}
	if s.deps.Lookup != nil {
		srv.SetStatusProvider(s.deps.Lookup)
	}
	if err := srv.Start(s.runContext()); err != nil {
		return s.finish(fmt.Errorf("%w: %w", ErrConnectivity, err))
	}
	if s.deps.Resolver != nil {
		srv.SetDescription(s.describe(srv))
	}

	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()
	return s.finish(nil)
}

// describe renders the SSDP device description with this listener's port.
func (s *transportServer) describe(srv *api.Server) api.DescriptionFunc {
	return func() ([]byte, error) {
		addr, err := s.deps.Resolver.Resolve()
		if err != nil {
			return nil, err
		}
		_, portStr, err := net.SplitHostPort(srv.Addr())
		if err != nil {
			return nil, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, err
		}
		return discovery.NewDeviceDescription(s.deps.Discovery, s.deps.Version, addr, port).Marshal()
	}
}

// StopAsync shuts the listener down.
func (s *transportServer) StopAsync(_ context.Context) error {
	if !s.beginStop() {
		return nil
	}
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Close()
	}
	return s.endStop(err)
}

// EmitToClients sends the event to every WebSocket client.
func (s *transportServer) EmitToClients(event string, data ...any) {
	if srv := s.Server(); srv != nil && s.IsRunning() {
		srv.Hub().BroadcastAll(event, payloadOf(data))
	}
}

// EmitToChannel sends the event to clients subscribed to channel.
func (s *transportServer) EmitToChannel(channel, event string, data ...any) {
	if srv := s.Server(); srv != nil && s.IsRunning() {
		srv.Hub().Broadcast(channel, event, payloadOf(data))
	}
}

// IsConnected reports whether any WebSocket client or registered peer is attached.
func (s *transportServer) IsConnected() bool {
	srv := s.Server()
	if srv == nil || !s.IsRunning() {
		return false
	}
	return srv.Hub().ClientCount() > 0 || srv.Connections() > 0
}

// Server returns the underlying HTTP server, or nil when not started.
func (s *transportServer) Server() *api.Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.srv
}
