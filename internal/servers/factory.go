package servers

import "fmt"

// Factory constructs an uninitialised handle of type t.
type Factory func(t Type, deps Deps) (ProtoServer, error)

// NewServer is the default Factory. The returned handle is Uninitialized.
func NewServer(t Type, deps Deps) (ProtoServer, error) {
	deps = deps.withDefaults()
	switch t {
	case TypeHTTP, TypeHTTPS, TypeHTTP2:
		return newTransport(t, deps), nil
	case TypeMDNS:
		return newMDNSServer(deps), nil
	case TypeSSDP:
		return newSSDPServer(deps), nil
	case TypeHTTPBridge:
		return newHTTPBridge(deps), nil
	case TypeInflux:
		return newInfluxBridge(deps), nil
	case TypeMQTT:
		return newMQTTBridge(deps), nil
	case TypeREM:
		return newREMBridge(deps), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}
