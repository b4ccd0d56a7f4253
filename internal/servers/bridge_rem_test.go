package servers

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/handshake"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
)

// gatewayServer starts an HTTP transport on loopback.
func gatewayServer(t *testing.T) *api.Server {
	t.Helper()
	srv, err := api.New(api.Deps{
		Kind:   api.KindHTTP,
		Config: config.ServerConfig{Enabled: true, IP: "127.0.0.1"},
		WS:     config.WebSocketConfig{Path: "/ws"},
		Logger: logging.Discard(),
	})
	if err != nil {
		t.Fatalf("api.New() error = %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { srv.Close() }) //nolint:errcheck // test cleanup
	return srv
}

func addrPort(t *testing.T, addr string) int {
	t.Helper()
	_, p, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		t.Fatal(err)
	}
	return port
}

func TestREMBridge_HandshakeAndChannel(t *testing.T) {
	local := gatewayServer(t)
	peer := gatewayServer(t)

	dir := t.TempDir()
	writeBindingFile(t, dir, "peer.json", fmt.Sprintf(`{
  "context": {"options": {"host": "127.0.0.1", "port": %d}},
  "events": [{"event": "state", "action": {"method": "GET", "path": "/api/v1/health"}}]
}`, addrPort(t, peer.Addr())), time.Unix(1000, 0))

	deps := bridgeDeps(dir, fakeLookup{srv: local})
	deps.State = staticState{"site": "local"}
	deps.Timing = handshake.Timing{
		RegisterTimeout: 2 * time.Second,
		SettleDelay:     10 * time.Millisecond,
		AckTimeout:      2 * time.Second,
	}
	deps.Handshake = config.HandshakeConfig{ReconnectDelay: 1, ReconnectMaxDelay: 2}

	h, err := NewServer(TypeREM, deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Init(context.Background(), bridgeEntry(t, "peer", config.InterfaceREM, "peer.json")); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { h.StopAsync(context.Background()) }) //nolint:errcheck // test cleanup

	if !h.IsRunning() {
		t.Fatal("rem bridge not running")
	}
	waitFor(t, "handshake to be established", h.IsConnected)

	rem := h.(*remBridge)
	if rem.ConnectionID() == "" {
		t.Error("no connection id after handshake")
	}
	if peer.Connections() != 1 {
		t.Errorf("peer back-channels = %d, want 1", peer.Connections())
	}
	waitFor(t, "socket channel to the peer", func() bool { return peer.Hub().ClientCount() > 0 })

	if err := h.StopAsync(context.Background()); err != nil {
		t.Errorf("StopAsync() error = %v", err)
	}
	if h.IsConnected() || rem.ConnectionID() != "" {
		t.Error("handshake state survived StopAsync")
	}
	waitFor(t, "peer to see the socket close", func() bool { return peer.Hub().ClientCount() == 0 })
}

func TestREMBridge_ConnectedWithoutEvents(t *testing.T) {
	local := gatewayServer(t)
	peer := gatewayServer(t)

	dir := t.TempDir()
	writeBindingFile(t, dir, "peer.json", fmt.Sprintf(`{
  "context": {"options": {"host": "127.0.0.1", "port": %d}},
  "events": []
}`, addrPort(t, peer.Addr())), time.Unix(1000, 0))

	deps := bridgeDeps(dir, fakeLookup{srv: local})
	deps.Timing = handshake.Timing{
		RegisterTimeout: 2 * time.Second,
		SettleDelay:     10 * time.Millisecond,
		AckTimeout:      2 * time.Second,
	}

	h, err := NewServer(TypeREM, deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Init(context.Background(), bridgeEntry(t, "peer", config.InterfaceREM, "peer.json")); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { h.StopAsync(context.Background()) }) //nolint:errcheck // test cleanup

	waitFor(t, "handshake with an eventless binding", h.IsConnected)
	if h.(*remBridge).Binding().HasEvents() {
		t.Error("binding unexpectedly has events")
	}
}

func TestREMBridge_UnreachablePeerStaysDisconnected(t *testing.T) {
	local := gatewayServer(t)
	dir := t.TempDir()
	writeBindingFile(t, dir, "peer.json", `{
  "context": {"options": {"host": "127.0.0.1", "port": 1}},
  "events": [{"event": "state", "action": {"path": "/"}}]
}`, time.Unix(1000, 0))

	deps := bridgeDeps(dir, fakeLookup{srv: local})
	deps.Timing = handshake.Timing{RegisterTimeout: 200 * time.Millisecond, SettleDelay: time.Millisecond, AckTimeout: 200 * time.Millisecond}

	h, err := NewServer(TypeREM, deps)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Init(context.Background(), bridgeEntry(t, "peer", config.InterfaceREM, "peer.json")); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	defer h.StopAsync(context.Background()) //nolint:errcheck // test cleanup

	time.Sleep(300 * time.Millisecond)
	if !h.IsRunning() {
		t.Error("handshake failure should not stop the bridge")
	}
	if h.IsConnected() {
		t.Error("connected to an unreachable peer")
	}
}

func TestREMBridge_PerformRequiresHandshake(t *testing.T) {
	b := newREMBridge(Deps{Logger: logging.Discard()}.withDefaults())
	err := b.perform(context.Background(), bindingContext(map[string]any{"host": "127.0.0.1"}), map[string]any{"path": "/"})
	if !errors.Is(err, ErrConnectivity) {
		t.Errorf("perform() before handshake error = %v, want ErrConnectivity", err)
	}
}

func TestREMBridge_SelfUsesBoundAddress(t *testing.T) {
	local := gatewayServer(t)
	b := newREMBridge(Deps{Logger: logging.Discard(), Lookup: fakeLookup{srv: local}}.withDefaults())

	self, err := b.self()
	if err != nil {
		t.Fatalf("self() error = %v", err)
	}
	if self.IP != "127.0.0.1" || self.Protocol != api.KindHTTP || self.Port != addrPort(t, local.Addr()) {
		t.Errorf("self() = %+v", self)
	}

	orphan := newREMBridge(Deps{Logger: logging.Discard(), Lookup: fakeLookup{}}.withDefaults())
	if _, err := orphan.self(); err == nil {
		t.Error("self() without an http server should fail")
	}
}
