// Package servers owns every network-facing handle of the gateway.
//
// A handle is a ProtoServer: one of the HTTP-family transports, an mDNS
// responder, the SSDP advertiser, or an interface bridge (http, influx,
// mqtt and the peer bridge "rem"). All handles share one lifecycle:
//
//	Uninitialized -> Initializing -> Running | Disabled -> Stopping -> Stopped
//
// The Registry builds handles from configuration through NewServer,
// assigns each a persistent generated id, fans events out to running
// handles and hot-swaps interface bridges when their config changes.
//
// Failures stay local to the handle that hit them: it is logged with its
// name and id and left not-running while the rest keep working.
package servers
