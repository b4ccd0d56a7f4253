package discovery

import "errors"

var (
	// ErrProtocol indicates an undecodable discovery packet.
	ErrProtocol = errors.New("discovery: malformed packet")

	// ErrInvalidQuery indicates a query without a name or with an unknown record type.
	ErrInvalidQuery = errors.New("discovery: invalid query")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("discovery: closed")
)
