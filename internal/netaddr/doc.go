// Package netaddr resolves the host's primary IPv4 address and hardware
// address.
//
// Discovery advertisements, device descriptions and the handshake self
// descriptor all need the address peers should use to reach this host.
// The first up, non-loopback interface with a non-zero MAC and an IPv4
// address wins; the result is cached after the first success.
package netaddr
