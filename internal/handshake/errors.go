package handshake

import "errors"

var (
	// ErrTimeout indicates the registration call did not complete in time.
	ErrTimeout = errors.New("handshake: timed out")

	// ErrRegisterRejected indicates the peer answered registration with a
	// non-success status.
	ErrRegisterRejected = errors.New("handshake: registration rejected")

	// ErrCommsCheck indicates neither an acknowledgment nor a successful
	// verification arrived before the acknowledgment timeout.
	ErrCommsCheck = errors.New("handshake: communications check failed")

	// ErrInvalidTransition is returned when a session would move backwards.
	ErrInvalidTransition = errors.New("handshake: invalid phase transition")
)
