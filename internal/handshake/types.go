package handshake

import (
	"time"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

// Endpoint paths on the peer.
const (
	RegisterPath   = "/connection/register"
	VerifyEmitPath = "/connection/verify-emit"
)

// Defaults for the acknowledgment event.
const (
	DefaultAckEvent    = "connection_verified"
	DefaultAckProperty = "verified"
)

// SelfDescriptor tells the peer how to reach this host.
type SelfDescriptor struct {
	Protocol string `json:"protocol"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
}

// Status is the status block of a peer response.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// RegisterResponse is the peer's answer to registration.
type RegisterResponse struct {
	Status Status `json:"status"`
	Result struct {
		ConnectionID string `json:"connectionId"`
	} `json:"result"`
}

// VerifyEmitRequest asks the peer to emit the acknowledgment event.
type VerifyEmitRequest struct {
	EventName    string `json:"eventName"`
	Property     string `json:"property"`
	Value        any    `json:"value"`
	ConnectionID string `json:"connectionId"`
}

// StatusResponse is the peer's answer to verify-emit.
type StatusResponse struct {
	Status Status `json:"status"`
}

// Timing bounds each wait of the handshake.
type Timing struct {
	RegisterTimeout time.Duration
	SettleDelay     time.Duration
	AckTimeout      time.Duration
}

// DefaultTiming returns 5s registration, 3s settle, 5s acknowledgment.
func DefaultTiming() Timing {
	return Timing{
		RegisterTimeout: 5 * time.Second,
		SettleDelay:     3 * time.Second,
		AckTimeout:      5 * time.Second,
	}
}

// TimingFromConfig converts the configured seconds.
func TimingFromConfig(cfg config.HandshakeConfig) Timing {
	return Timing{
		RegisterTimeout: cfg.GetRegisterTimeout(),
		SettleDelay:     cfg.GetSettleDelay(),
		AckTimeout:      cfg.GetAckTimeout(),
	}
}

// AckListener registers one-shot listeners for inbound events.
//
// Once returns a channel closed when event arrives carrying connectionID,
// and a cancel func that removes the listener. The listener fires at most once.
type AckListener interface {
	Once(event, connectionID string) (<-chan struct{}, func())
}

// Result is the outcome of one handshake.
type Result struct {
	Phase        Phase
	ConnectionID string
	Err          error
}

// Established reports whether the handshake succeeded.
func (r Result) Established() bool {
	return r.Phase == Established
}
