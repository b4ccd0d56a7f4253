package servers

import (
	"net/http"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/discovery"
	"github.com/nerrad567/gray-logic-gateway/internal/handshake"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/metrics"
)

// actionTimeout bounds one outbound bridge action.
const actionTimeout = 10 * time.Second

// Lookup is the narrow view of the registry that handles depend on.
type Lookup interface {
	api.StatusProvider

	// HTTPServer returns the first running HTTP-family server, or nil.
	HTTPServer() *api.Server

	// MDNS returns the running mDNS responder, or nil.
	MDNS() *discovery.MDNS
}

// StateProvider supplies the full-state snapshot pushed to peers on connect.
type StateProvider interface {
	Snapshot() map[string]any
}

// Deps holds what every variant may need. Zero fields get defaults.
type Deps struct {
	Logger   *logging.Logger
	Metrics  *metrics.Metrics
	Version  string
	Resolver discovery.AddressSource

	WebSocket config.WebSocketConfig
	Handshake config.HandshakeConfig
	Discovery config.DiscoveryConfig

	// Timing overrides the handshake timings derived from Handshake.
	Timing handshake.Timing

	// BindingPath turns an interface file_name into a path.
	BindingPath func(fileName string) string

	Lookup     Lookup
	State      StateProvider
	Clock      clock.Clock
	HTTPClient *http.Client
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.HTTPClient == nil {
		d.HTTPClient = &http.Client{Timeout: actionTimeout}
	}
	if d.BindingPath == nil {
		d.BindingPath = func(fileName string) string { return fileName }
	}
	if d.WebSocket.Path == "" {
		d.WebSocket.Path = "/ws"
	}
	if d.Timing == (handshake.Timing{}) {
		d.Timing = handshake.TimingFromConfig(d.Handshake)
		if d.Timing == (handshake.Timing{}) {
			d.Timing = handshake.DefaultTiming()
		}
	}
	return d
}
