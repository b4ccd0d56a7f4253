// Package api implements the HTTP transport shared by the http, https and
// http2 protocol servers.
//
// This package provides:
//   - Health and server status endpoints for dashboards
//   - The peer connection endpoints (/connection/register and
//     /connection/verify-emit) used by the two-phase handshake
//   - The SSDP device description document
//   - Prometheus metrics exposition
//   - WebSocket hub for event fan-out and inbound acknowledgment events
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Peer connections
//
// When a peer registers, the server dials a WebSocket back to the peer's
// advertised address and stores it under a fresh connection id. A later
// verify-emit request sends the acknowledgment event over that socket,
// which proves the peer can be called back. The peer's own hub sees the
// event and fires the one-shot listener its handshake registered.
//
// Authentication is not part of this layer.
package api
