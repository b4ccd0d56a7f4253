// Package handshake implements the two-phase peer handshake that proves
// bidirectional reachability before a peer bridge is marked connected.
//
// Phase 1 posts this host's self descriptor to the peer's
// /connection/register endpoint and obtains a connection id. After a
// settle delay, Phase 2 waits for an inbound acknowledgment event keyed by
// that id while concurrently asking the peer to emit it via
// /connection/verify-emit. Whichever succeeds first establishes the
// session; if neither does before the acknowledgment timeout the
// handshake fails with ErrCommsCheck.
//
// A failed handshake is not retried. Callers start a fresh Run on the
// next explicit enable or re-init.
package handshake
