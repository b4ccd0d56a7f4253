// Package discovery implements local-network discovery for the gateway.
//
// MDNS correlates outbound queries with inbound responses and answers
// queries for the gateway's own service name with an A record (self IP)
// and an SRV record (advertised port). SSDP advertises one fixed device
// and the HTTP server exposes the matching device description document.
//
// Malformed packets are reported as ErrProtocol, logged at debug and
// otherwise ignored.
package discovery
