package netaddr

import (
	"fmt"
	"net"
	"strings"
	"sync"
)

// Address is the resolved network identity of this host.
type Address struct {
	Interface string
	IP        net.IP
	MAC       net.HardwareAddr
}

// MACHex returns the hardware address as lowercase hex without separators.
func (a Address) MACHex() string {
	return strings.ReplaceAll(a.MAC.String(), ":", "")
}

// Interface is the subset of net.Interface the resolver inspects.
type Interface struct {
	Name  string
	Flags net.Flags
	MAC   net.HardwareAddr
	Addrs []net.Addr
}

// InterfaceSource enumerates network interfaces.
type InterfaceSource interface {
	Interfaces() ([]Interface, error)
}

// SystemInterfaces reads interfaces from the operating system.
type SystemInterfaces struct{}

// Interfaces implements InterfaceSource.
func (SystemInterfaces) Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Interface{
			Name:  iface.Name,
			Flags: iface.Flags,
			MAC:   iface.HardwareAddr,
			Addrs: addrs,
		})
	}
	return out, nil
}

// Resolver picks the host's primary address. Safe for concurrent use.
type Resolver struct {
	source InterfaceSource

	mu     sync.Mutex
	cached *Address
}

// NewResolver creates a resolver over the given source. A nil source uses
// the operating system.
func NewResolver(source InterfaceSource) *Resolver {
	if source == nil {
		source = SystemInterfaces{}
	}
	return &Resolver{source: source}
}

// Resolve returns the primary address, enumerating interfaces on the
// first successful call only.
func (r *Resolver) Resolve() (Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return *r.cached, nil
	}

	ifaces, err := r.source.Interfaces()
	if err != nil {
		return Address{}, err
	}

	for _, iface := range ifaces {
		addr, ok := qualify(iface)
		if !ok {
			continue
		}
		r.cached = &addr
		return addr, nil
	}

	return Address{}, ErrNoAddress
}

// IPv4 returns the primary IPv4 address.
func (r *Resolver) IPv4() (net.IP, error) {
	addr, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	return addr.IP, nil
}

// HardwareAddr returns the MAC of the primary interface.
func (r *Resolver) HardwareAddr() (net.HardwareAddr, error) {
	addr, err := r.Resolve()
	if err != nil {
		return nil, err
	}
	return addr.MAC, nil
}

func qualify(iface Interface) (Address, bool) {
	if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
		return Address{}, false
	}
	if len(iface.MAC) == 0 || allZero(iface.MAC) {
		return Address{}, false
	}

	for _, a := range iface.Addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
			return Address{Interface: iface.Name, IP: ip4, MAC: iface.MAC}, true
		}
	}
	return Address{}, false
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
