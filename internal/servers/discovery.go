package servers

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/gray-logic-gateway/internal/discovery"
)

// mdnsServer is the mDNS responder variant.
type mdnsServer struct {
	lifecycle
	deps Deps

	mu sync.RWMutex
	m  *discovery.MDNS
}

func newMDNSServer(deps Deps) *mdnsServer {
	s := &mdnsServer{deps: deps}
	s.setup(TypeMDNS, deps.Logger)
	return s
}

// Init joins the multicast group. The configured port is the HTTP port
// advertised in SRV answers.
func (s *mdnsServer) Init(ctx context.Context, cfg Config) error {
	up, err := s.begin(ctx, cfg)
	if !up {
		return err
	}

	m := discovery.NewMDNS(discovery.MDNSConfig{
		ServiceName: s.deps.Discovery.ServiceName,
		Port:        cfg.Server.Port,
	}, s.deps.Resolver, s.logger(), s.deps.Metrics)
	if err := m.Start(s.runContext()); err != nil {
		return s.finish(fmt.Errorf("%w: %w", ErrConnectivity, err))
	}

	s.mu.Lock()
	s.m = m
	s.mu.Unlock()
	s.setConnected(true)
	return s.finish(nil)
}

// StopAsync leaves the multicast group.
func (s *mdnsServer) StopAsync(_ context.Context) error {
	if !s.beginStop() {
		return nil
	}
	s.mu.Lock()
	m := s.m
	s.m = nil
	s.mu.Unlock()

	var err error
	if m != nil {
		err = m.Close()
	}
	return s.endStop(err)
}

// EmitToClients is a no-op; discovery has no clients.
func (s *mdnsServer) EmitToClients(string, ...any) {}

// EmitToChannel is a no-op; discovery has no clients.
func (s *mdnsServer) EmitToChannel(string, string, ...any) {}

// Responder returns the running responder, or nil.
func (s *mdnsServer) Responder() *discovery.MDNS {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m
}

// ssdpServer is the SSDP advertiser variant.
type ssdpServer struct {
	lifecycle
	deps Deps

	mu  sync.Mutex
	adv *discovery.SSDP
}

func newSSDPServer(deps Deps) *ssdpServer {
	s := &ssdpServer{deps: deps}
	s.setup(TypeSSDP, deps.Logger)
	return s
}

// Init starts advertising. The configured port is the HTTP port serving
// the device description.
func (s *ssdpServer) Init(ctx context.Context, cfg Config) error {
	up, err := s.begin(ctx, cfg)
	if !up {
		return err
	}

	adv := discovery.NewSSDP(discovery.SSDPConfig{
		Port:     cfg.Server.Port,
		Identity: s.deps.Discovery,
		Version:  s.deps.Version,
	}, s.deps.Resolver, s.logger())
	if err := adv.Start(s.runContext()); err != nil {
		return s.finish(fmt.Errorf("%w: %w", ErrConnectivity, err))
	}

	s.mu.Lock()
	s.adv = adv
	s.mu.Unlock()
	s.setConnected(true)
	return s.finish(nil)
}

// StopAsync sends ssdp:byebye and closes the socket.
func (s *ssdpServer) StopAsync(_ context.Context) error {
	if !s.beginStop() {
		return nil
	}
	s.mu.Lock()
	adv := s.adv
	s.adv = nil
	s.mu.Unlock()

	var err error
	if adv != nil {
		err = adv.Close()
	}
	return s.endStop(err)
}

// EmitToClients is a no-op; discovery has no clients.
func (s *ssdpServer) EmitToClients(string, ...any) {}

// EmitToChannel is a no-op; discovery has no clients.
func (s *ssdpServer) EmitToChannel(string, string, ...any) {}
