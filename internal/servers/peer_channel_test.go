package servers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
)

type staticState map[string]any

func (s staticState) Snapshot() map[string]any { return s }

type recordingDispatcher struct {
	mu     sync.Mutex
	events []string
}

func (d *recordingDispatcher) DispatchEvent(event string, _ any) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return 1
}

func (d *recordingDispatcher) seen() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events...)
}

func TestPeerChannel_Backoff(t *testing.T) {
	p := newPeerChannel(peerChannelConfig{InitialDelay: time.Second, MaxDelay: 30 * time.Second},
		clock.NewMock(), logging.Discard(), nil, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{20, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := p.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestPeerChannel_GivesUpAfterMaxAttempts(t *testing.T) {
	mock := clock.NewMock()
	p := newPeerChannel(peerChannelConfig{
		URL:          "ws://127.0.0.1:1/ws",
		InitialDelay: time.Second,
		MaxDelay:     4 * time.Second,
		MaxAttempts:  3,
	}, mock, logging.Discard(), nil, nil)

	p.Start(context.Background())
	exited := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(exited)
	}()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-exited:
			if p.Connected() {
				t.Error("Connected() = true after giving up")
			}
			p.Close() //nolint:errcheck // already exited
			return
		case <-deadline:
			p.Close() //nolint:errcheck // test cleanup
			t.Fatal("channel kept redialling past MaxAttempts")
		default:
			mock.Add(time.Second)
			time.Sleep(5 * time.Millisecond)
		}
	}
}

// peerEndpoint is a WebSocket endpoint that records the first message of
// every connection and then runs script on it.
func peerEndpoint(t *testing.T, script func(*websocket.Conn)) (*httptest.Server, <-chan api.WSMessage) {
	t.Helper()
	first := make(chan api.WSMessage, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg api.WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		select {
		case first <- msg:
		default:
		}
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return srv, first
}

func TestPeerChannel_SnapshotAndEvents(t *testing.T) {
	srv, first := peerEndpoint(t, func(conn *websocket.Conn) {
		conn.WriteJSON(api.WSMessage{Type: api.WSTypeEvent, EventType: "connection_verified"}) //nolint:errcheck // test peer
		conn.WriteJSON(api.WSMessage{Type: api.WSTypeError, Payload: "bad things"})            //nolint:errcheck // test peer
		// Drop the connection so the channel redials.
	})

	disp := &recordingDispatcher{}
	p := newPeerChannel(peerChannelConfig{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
	}, clock.New(), logging.Discard(), staticState{"site": "test"}, disp)
	p.Start(context.Background())
	defer p.Close() //nolint:errcheck // test cleanup

	for i := 0; i < 2; i++ {
		select {
		case msg := <-first:
			if msg.Type != api.WSTypeEvent || msg.EventType != SnapshotEvent {
				t.Errorf("first message = %+v, want a %s event", msg, SnapshotEvent)
			}
			payload, ok := msg.Payload.(map[string]any)
			if !ok || payload["site"] != "test" {
				t.Errorf("snapshot payload = %v", msg.Payload)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("connection %d: no snapshot received", i+1)
		}
	}

	waitFor(t, "inbound event dispatch", func() bool { return len(disp.seen()) > 0 })
	if got := disp.seen()[0]; got != "connection_verified" {
		t.Errorf("dispatched %q, want connection_verified", got)
	}
	if p.connects.Load() < 2 {
		t.Errorf("connects = %d, want a reconnect", p.connects.Load())
	}
}

func TestPeerChannel_CloseIsIdempotent(t *testing.T) {
	hold := make(chan struct{})
	srv, first := peerEndpoint(t, func(conn *websocket.Conn) {
		<-hold
	})
	defer close(hold)

	p := newPeerChannel(peerChannelConfig{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		InitialDelay: 10 * time.Millisecond,
	}, clock.New(), logging.Discard(), staticState{}, nil)
	p.Start(context.Background())

	select {
	case <-first:
	case <-time.After(5 * time.Second):
		t.Fatal("channel never connected")
	}
	waitFor(t, "Connected()", p.Connected)

	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if p.Connected() {
		t.Error("Connected() after Close")
	}
}

func TestSocketURL(t *testing.T) {
	tests := []struct{ base, want string }{
		{"http://10.0.0.2:4200", "ws://10.0.0.2:4200/ws"},
		{"https://peer.local", "wss://peer.local/ws"},
	}
	for _, tt := range tests {
		if got := socketURL(tt.base, "/ws"); got != tt.want {
			t.Errorf("socketURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}
