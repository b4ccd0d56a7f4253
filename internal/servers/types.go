package servers

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
)

// Type is the closed set of handle variants.
type Type string

const (
	TypeHTTP       Type = "http"
	TypeHTTPS      Type = "https"
	TypeHTTP2      Type = "http2"
	TypeMDNS       Type = "mdns"
	TypeSSDP       Type = "ssdp"
	TypeHTTPBridge Type = "httpBridge"
	TypeInflux     Type = "influx"
	TypeMQTT       Type = "mqtt"
	TypeREM        Type = "rem"
)

// IsTransport reports whether t serves HTTP.
func (t Type) IsTransport() bool {
	return t == TypeHTTP || t == TypeHTTPS || t == TypeHTTP2
}

// IsBridge reports whether t is an interface bridge.
func (t Type) IsBridge() bool {
	switch t {
	case TypeHTTPBridge, TypeInflux, TypeMQTT, TypeREM:
		return true
	}
	return false
}

// serverTypes maps servers-section keys to variants.
var serverTypes = map[string]Type{
	config.ServerHTTP:  TypeHTTP,
	config.ServerHTTPS: TypeHTTPS,
	config.ServerHTTP2: TypeHTTP2,
	config.ServerMDNS:  TypeMDNS,
	config.ServerSSDP:  TypeSSDP,
}

// interfaceTypes maps interface "type" values to variants.
var interfaceTypes = map[string]Type{
	config.InterfaceHTTP:   TypeHTTPBridge,
	config.InterfaceInflux: TypeInflux,
	config.InterfaceMQTT:   TypeMQTT,
	config.InterfaceREM:    TypeREM,
}

// State is the lifecycle state of a handle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitializing  State = "initializing"
	StateRunning       State = "running"
	StateDisabled      State = "disabled"
	StateStopping      State = "stopping"
	StateStopped       State = "stopped"
)

// Config is one servers or interfaces entry as handed to Init.
type Config struct {
	Section     string
	Name        string
	Type        Type
	Enabled     bool
	GeneratedID string

	// Server is set for servers-section entries.
	Server config.ServerConfig
	// Interface is set for interfaces-section entries.
	Interface config.InterfaceConfig
}

// ServerEntry builds the Config of a servers-section entry.
func ServerEntry(name string, c config.ServerConfig) (Config, error) {
	t, ok := serverTypes[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: server %q", ErrUnknownType, name)
	}
	return Config{
		Section:     config.SectionServers,
		Name:        name,
		Type:        t,
		Enabled:     c.Enabled,
		GeneratedID: c.GeneratedID,
		Server:      c,
	}, nil
}

// InterfaceEntry builds the Config of an interfaces-section entry.
func InterfaceEntry(name string, c config.InterfaceConfig) (Config, error) {
	t, ok := interfaceTypes[c.Type]
	if !ok {
		return Config{}, fmt.Errorf("%w: interface %q has type %q", ErrUnknownType, name, c.Type)
	}
	return Config{
		Section:     config.SectionInterfaces,
		Name:        name,
		Type:        t,
		Enabled:     c.Enabled,
		GeneratedID: c.GeneratedID,
		Interface:   c,
	}, nil
}

// ProtoServer is the contract shared by every handle variant.
type ProtoServer interface {
	// Init moves the handle out of Uninitialized (or Stopped, on re-init).
	// A disabled entry ends in Disabled with no other side effect.
	Init(ctx context.Context, cfg Config) error

	// StopAsync stops the handle. Stopping a handle that is not live is a no-op.
	StopAsync(ctx context.Context) error

	EmitToClients(event string, data ...any)
	EmitToChannel(channel, event string, data ...any)

	IsRunning() bool
	IsConnected() bool
	ID() string
	Name() string
	Type() Type
	State() State
}

// payloadOf collapses variadic emit data into one value.
func payloadOf(data []any) any {
	switch len(data) {
	case 0:
		return nil
	case 1:
		return data[0]
	default:
		return data
	}
}
