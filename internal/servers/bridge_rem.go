package servers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/gray-logic-gateway/internal/binding"
	"github.com/nerrad567/gray-logic-gateway/internal/handshake"
)

// remBridge is the peer bridge. It proves two-way reachability with the
// handshake before sending anything, and keeps a socket channel open to
// the peer independently of the handshake outcome.
type remBridge struct {
	bridgeBase

	pmu          sync.Mutex
	started      bool
	connectionID string
	channel      *peerChannel
}

func newREMBridge(deps Deps) *remBridge {
	b := &remBridge{}
	b.setupBridge(TypeREM, deps, b)
	return b
}

func (b *remBridge) connect(ctx context.Context, bnd *binding.Binding) error {
	b.startPeer(ctx, bnd)
	return nil
}

func (b *remBridge) retarget(ctx context.Context, bnd *binding.Binding) {
	b.startPeer(ctx, bnd)
}

// startPeer runs the handshake and opens the socket channel, once per Init.
func (b *remBridge) startPeer(ctx context.Context, bnd *binding.Binding) {
	base, err := baseURL(bnd.Context)
	if err != nil {
		b.logger().Info("peer address not set, waiting for discovery")
		return
	}

	b.pmu.Lock()
	if b.started {
		b.pmu.Unlock()
		return
	}
	b.started = true

	var dispatcher eventDispatcher
	if b.deps.Lookup != nil {
		if srv := b.deps.Lookup.HTTPServer(); srv != nil {
			dispatcher = srv.Hub()
		}
	}
	ch := newPeerChannel(peerChannelConfig{
		URL:          socketURL(base, b.deps.WebSocket.Path),
		InitialDelay: b.deps.Handshake.GetReconnectDelay(),
		MaxDelay:     b.deps.Handshake.GetReconnectMaxDelay(),
	}, b.deps.Clock, b.logger(), b.deps.State, dispatcher)
	b.channel = ch
	b.pmu.Unlock()

	ch.Start(ctx)
	go b.handshake(ctx, ch, base, bnd.Context)
}

// handshake runs once; a failure is final until the next Init.
func (b *remBridge) handshake(ctx context.Context, ch *peerChannel, base string, opts binding.Context) {
	self, err := b.self()
	if err != nil {
		b.logger().Warn("handshake skipped", "error", err)
		return
	}

	var listener handshake.AckListener
	if srv := b.deps.Lookup.HTTPServer(); srv != nil {
		listener = srv
	}

	coord := handshake.New(handshake.Config{
		PeerURL:   base,
		Self:      self,
		EventName: opts.String("ackEvent"),
		Property:  opts.String("ackProperty"),
		Timing:    b.deps.Timing,
	}, listener, b.logger(),
		handshake.WithHTTPClient(b.deps.HTTPClient),
		handshake.WithClock(b.deps.Clock),
		handshake.WithMetrics(b.deps.Metrics),
	)

	res := coord.Run(ctx)
	if ctx.Err() != nil || !res.Established() {
		return
	}

	b.pmu.Lock()
	defer b.pmu.Unlock()
	if b.channel != ch {
		return
	}
	b.connectionID = res.ConnectionID
	b.setConnected(true)
}

// self describes how the peer can reach this gateway's HTTP server.
func (b *remBridge) self() (handshake.SelfDescriptor, error) {
	if b.deps.Lookup == nil {
		return handshake.SelfDescriptor{}, errors.New("no registry")
	}
	srv := b.deps.Lookup.HTTPServer()
	if srv == nil {
		return handshake.SelfDescriptor{}, errors.New("no running http server")
	}

	host, portStr, err := net.SplitHostPort(srv.Addr())
	if err != nil {
		return handshake.SelfDescriptor{}, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return handshake.SelfDescriptor{}, err
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.IsUnspecified() {
		if b.deps.Resolver == nil {
			return handshake.SelfDescriptor{}, errors.New("no address resolver")
		}
		addr, err := b.deps.Resolver.Resolve()
		if err != nil {
			return handshake.SelfDescriptor{}, err
		}
		ip = addr.IP
	}

	return handshake.SelfDescriptor{Protocol: srv.Kind(), IP: ip.String(), Port: port}, nil
}

func (b *remBridge) disconnect() error {
	b.pmu.Lock()
	ch := b.channel
	b.channel = nil
	b.started = false
	b.connectionID = ""
	b.pmu.Unlock()
	b.setConnected(false)

	if ch == nil {
		return nil
	}
	return ch.Close()
}

func (b *remBridge) linked() bool {
	return b.connected.Load()
}

// IsConnected reports an established handshake on a running bridge. A
// binding without events does not matter here.
func (b *remBridge) IsConnected() bool {
	return b.IsRunning() && b.connected.Load()
}

// ConnectionID returns the peer-issued id of an established handshake.
func (b *remBridge) ConnectionID() string {
	b.pmu.Lock()
	defer b.pmu.Unlock()
	return b.connectionID
}

// perform sends an http-style action once the handshake is established.
func (b *remBridge) perform(ctx context.Context, opts binding.Context, action map[string]any) error {
	if !b.connected.Load() {
		return fmt.Errorf("%w: handshake not established", ErrConnectivity)
	}
	return sendHTTP(ctx, b.deps.HTTPClient, opts, action)
}

// socketURL turns an http(s) base URL into the peer's WebSocket URL.
func socketURL(base, path string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + path
	default:
		return "ws://" + strings.TrimPrefix(base, "http://") + path
	}
}
