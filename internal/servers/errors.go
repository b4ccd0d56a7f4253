package servers

import "errors"

// Domain errors for the servers package.
var (
	// ErrUnknownType is returned for a server or interface type with no variant.
	ErrUnknownType = errors.New("servers: unknown server type")

	// ErrConnectivity wraps socket and HTTP failures of a handle.
	ErrConnectivity = errors.New("servers: connectivity failure")

	// ErrInvalidState is returned by Init on a handle that is already live.
	ErrInvalidState = errors.New("servers: invalid lifecycle state")

	// ErrNotFound is returned when no handle has the requested id.
	ErrNotFound = errors.New("servers: server not found")

	// ErrInvalidAction is returned when a bound action lacks required fields.
	ErrInvalidAction = errors.New("servers: invalid action")

	// ErrNoTarget is returned when a bridge has no host to send to yet.
	ErrNoTarget = errors.New("servers: target not resolved")
)
