package discovery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
)

type fakeAdvertiser struct {
	mu     sync.Mutex
	alive  int
	bye    int
	closed int
}

func (f *fakeAdvertiser) Alive() error { f.mu.Lock(); f.alive++; f.mu.Unlock(); return nil }
func (f *fakeAdvertiser) Bye() error   { f.mu.Lock(); f.bye++; f.mu.Unlock(); return nil }
func (f *fakeAdvertiser) Close() error { f.mu.Lock(); f.closed++; f.mu.Unlock(); return nil }

func (f *fakeAdvertiser) counts() (alive, bye, closed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive, f.bye, f.closed
}

func newTestSSDP(t *testing.T) (*SSDP, *fakeAdvertiser, *clock.Mock, *[]string) {
	t.Helper()
	s := NewSSDP(SSDPConfig{
		Port:     4200,
		Version:  "v1.2.3",
		Identity: config.DiscoveryConfig{ModelName: "gateway", MaxAge: 60},
	}, staticAddress{addr: testAddress(t)}, logging.Discard())

	mock := clock.NewMock()
	s.clock = mock

	fake := &fakeAdvertiser{}
	var args []string
	s.advertise = func(st, usn, location, server string, maxAge int) (advertiser, error) {
		args = []string{st, usn, location, server}
		return fake, nil
	}
	return s, fake, mock, &args
}

func TestSSDP_StartAdvertises(t *testing.T) {
	s, fake, _, args := newTestSSDP(t)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Close() //nolint:errcheck // test cleanup

	a := *args
	if a[0] != DeviceType {
		t.Errorf("st = %q", a[0])
	}
	wantUSN := "uuid:806f52f4-1f35-4e33-9299-aabbccddeeff::" + DeviceType
	if a[1] != wantUSN || s.USN() != wantUSN {
		t.Errorf("usn = %q, want %q", a[1], wantUSN)
	}
	if a[2] != "http://192.168.1.20:4200/device/description.xml" {
		t.Errorf("location = %q", a[2])
	}
	if !strings.Contains(a[3], "gateway/v1.2.3") {
		t.Errorf("server = %q", a[3])
	}
	if alive, _, _ := fake.counts(); alive != 1 {
		t.Errorf("alive = %d after Start, want 1", alive)
	}
	if !s.Running() {
		t.Error("Running() = false")
	}
}

func TestSSDP_PeriodicAlive(t *testing.T) {
	s, fake, mock, _ := newTestSSDP(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer s.Close() //nolint:errcheck // test cleanup

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mock.Add(30 * time.Second)
		if alive, _, _ := fake.counts(); alive >= 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("no periodic alive after max-age/2")
}

func TestSSDP_CloseSendsByeOnce(t *testing.T) {
	s, fake, _, _ := newTestSSDP(t)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	if _, bye, closed := fake.counts(); bye != 1 || closed != 1 {
		t.Errorf("bye = %d closed = %d, want 1 and 1", bye, closed)
	}
	if s.Running() {
		t.Error("Running() = true after Close")
	}
}

func TestSSDP_StartErrors(t *testing.T) {
	s, _, _, _ := newTestSSDP(t)
	s.resolver = staticAddress{err: errors.New("no interfaces")}
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start() without address succeeded")
	}

	s, _, _, _ = newTestSSDP(t)
	s.advertise = func(string, string, string, string, int) (advertiser, error) {
		return nil, errors.New("bind failed")
	}
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start() with failing advertiser succeeded")
	}
	if s.Running() {
		t.Error("Running() = true after failed Start")
	}
}
