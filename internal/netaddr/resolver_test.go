package netaddr

import (
	"errors"
	"net"
	"testing"
)

type fakeSource struct {
	ifaces []Interface
	err    error
	calls  int
}

func (f *fakeSource) Interfaces() ([]Interface, error) {
	f.calls++
	return f.ifaces, f.err
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	if err != nil {
		t.Fatalf("ParseMAC(%q): %v", s, err)
	}
	return mac
}

func ipNet(s string) net.Addr {
	return &net.IPNet{IP: net.ParseIP(s), Mask: net.CIDRMask(24, 32)}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		ifaces  []Interface
		wantIP  string
		wantErr error
	}{
		{
			name: "skips loopback and down",
			ifaces: []Interface{
				{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, MAC: mustMAC(t, "00:00:00:00:00:01"), Addrs: []net.Addr{ipNet("127.0.0.1")}},
				{Name: "eth1", Flags: 0, MAC: mustMAC(t, "aa:bb:cc:00:00:01"), Addrs: []net.Addr{ipNet("10.0.0.9")}},
				{Name: "eth0", Flags: net.FlagUp, MAC: mustMAC(t, "aa:bb:cc:dd:ee:ff"), Addrs: []net.Addr{ipNet("192.168.1.20")}},
			},
			wantIP: "192.168.1.20",
		},
		{
			name: "skips zero mac",
			ifaces: []Interface{
				{Name: "tun0", Flags: net.FlagUp, MAC: mustMAC(t, "00:00:00:00:00:00"), Addrs: []net.Addr{ipNet("10.8.0.1")}},
				{Name: "wlan0", Flags: net.FlagUp, MAC: mustMAC(t, "aa:bb:cc:dd:ee:01"), Addrs: []net.Addr{ipNet("192.168.1.30")}},
			},
			wantIP: "192.168.1.30",
		},
		{
			name: "skips ipv6 only",
			ifaces: []Interface{
				{Name: "eth0", Flags: net.FlagUp, MAC: mustMAC(t, "aa:bb:cc:dd:ee:02"), Addrs: []net.Addr{ipNet("fe80::1")}},
			},
			wantErr: ErrNoAddress,
		},
		{
			name:    "none",
			wantErr: ErrNoAddress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(&fakeSource{ifaces: tt.ifaces})
			addr, err := r.Resolve()
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if addr.IP.String() != tt.wantIP {
				t.Errorf("IP = %s, want %s", addr.IP, tt.wantIP)
			}
		})
	}
}

func TestResolve_Cached(t *testing.T) {
	src := &fakeSource{ifaces: []Interface{
		{Name: "eth0", Flags: net.FlagUp, MAC: mustMAC(t, "aa:bb:cc:dd:ee:ff"), Addrs: []net.Addr{ipNet("192.168.1.20")}},
	}}
	r := NewResolver(src)

	for range 3 {
		if _, err := r.IPv4(); err != nil {
			t.Fatalf("IPv4() error = %v", err)
		}
	}
	if src.calls != 1 {
		t.Errorf("source called %d times, want 1", src.calls)
	}

	mac, err := r.HardwareAddr()
	if err != nil {
		t.Fatalf("HardwareAddr() error = %v", err)
	}
	if mac.String() != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("HardwareAddr() = %s", mac)
	}
}

func TestResolve_SourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("boom")}
	r := NewResolver(src)

	if _, err := r.Resolve(); err == nil {
		t.Fatal("Resolve() error = nil, want source error")
	}
	// Failures are not cached.
	src.err = nil
	src.ifaces = []Interface{
		{Name: "eth0", Flags: net.FlagUp, MAC: mustMAC(t, "aa:bb:cc:dd:ee:ff"), Addrs: []net.Addr{ipNet("192.168.1.20")}},
	}
	if _, err := r.Resolve(); err != nil {
		t.Errorf("Resolve() after recovery error = %v", err)
	}
}

func TestAddress_MACHex(t *testing.T) {
	a := Address{MAC: mustMAC(t, "AA:BB:CC:DD:EE:FF")}
	if got := a.MACHex(); got != "aabbccddeeff" {
		t.Errorf("MACHex() = %q", got)
	}
}
