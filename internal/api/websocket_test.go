package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
)

func testHub() *Hub {
	return NewHub(config.WebSocketConfig{}, logging.Discard())
}

func fired(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestHub_OnceFiresOnMatchingConnection(t *testing.T) {
	h := testHub()

	ch, cancel := h.Once("ack", "abc")
	defer cancel()
	other, cancelOther := h.Once("ack", "xyz")
	defer cancelOther()

	if n := h.DispatchEvent("ack", map[string]any{"connectionId": "abc", "verified": true}); n != 1 {
		t.Fatalf("DispatchEvent fired %d listeners, want 1", n)
	}
	if !fired(ch) {
		t.Error("listener for abc did not fire")
	}
	if fired(other) {
		t.Error("listener for xyz fired")
	}

	// At most once.
	if n := h.DispatchEvent("ack", map[string]any{"connectionId": "abc"}); n != 0 {
		t.Errorf("second dispatch fired %d listeners, want 0", n)
	}
}

func TestHub_OnceCancel(t *testing.T) {
	h := testHub()

	ch, cancel := h.Once("ack", "abc")
	cancel()
	cancel()

	if n := h.DispatchEvent("ack", map[string]any{"connectionId": "abc"}); n != 0 {
		t.Errorf("cancelled listener fired (%d)", n)
	}
	if fired(ch) {
		t.Error("channel closed after cancel")
	}
}

func TestHub_DispatchIgnoresMismatch(t *testing.T) {
	h := testHub()
	ch, cancel := h.Once("ack", "abc")
	defer cancel()

	for _, payload := range []any{
		nil,
		"abc",
		map[string]any{"connectionId": 42},
		map[string]any{"connectionId": "abd"},
	} {
		h.DispatchEvent("ack", payload)
	}
	h.DispatchEvent("other", map[string]any{"connectionId": "abc"})

	if fired(ch) {
		t.Error("listener fired on mismatched event")
	}
}

func dialHub(t *testing.T, srv *Server) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+srv.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_BroadcastChannels(t *testing.T) {
	srv := startedServer(t)
	subscriber := dialHub(t, srv)
	bystander := dialHub(t, srv)
	waitClients(t, srv.Hub(), 2)

	if err := subscriber.WriteJSON(WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{"pool"}}}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if resp := readMessage(t, subscriber); resp.Type != WSTypeResponse || resp.ID != "1" {
		t.Fatalf("subscribe response = %+v", resp)
	}

	srv.Hub().Broadcast("pool", "temperature", map[string]any{"water": 27.5})
	msg := readMessage(t, subscriber)
	if msg.Type != WSTypeEvent || msg.Channel != "pool" || msg.EventType != "temperature" {
		t.Errorf("broadcast = %+v", msg)
	}

	srv.Hub().BroadcastAll("heartbeat", nil)
	if msg := readMessage(t, bystander); msg.EventType != "heartbeat" {
		t.Errorf("bystander got %+v, want heartbeat (and no channel broadcast)", msg)
	}
	if msg := readMessage(t, subscriber); msg.EventType != "heartbeat" {
		t.Errorf("subscriber got %+v, want heartbeat", msg)
	}
}

func TestHub_InboundEventDispatch(t *testing.T) {
	srv := startedServer(t)
	conn := dialHub(t, srv)
	waitClients(t, srv.Hub(), 1)

	ch, cancel := srv.Once("connection_verified", "abc")
	defer cancel()

	raw, _ := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: "connection_verified",
		Payload:   map[string]any{"verified": true, "connectionId": "abc"},
	})
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("inbound event did not fire listener")
	}
}

func TestHub_UnknownMessageType(t *testing.T) {
	srv := startedServer(t)
	conn := dialHub(t, srv)

	if err := conn.WriteJSON(WSMessage{Type: "bogus", ID: "7"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != WSTypeError || msg.ID != "7" {
		t.Errorf("response = %+v", msg)
	}
	if payload, _ := json.Marshal(msg.Payload); !strings.Contains(string(payload), "bogus") {
		t.Errorf("error payload = %s", payload)
	}
}

func TestHub_RunClosesClients(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	client := &WSClient{hub: h, send: make(chan []byte, 1), subscriptions: map[string]struct{}{}}
	h.Register(client)
	cancel()
	<-done

	if h.ClientCount() != 0 {
		t.Errorf("clients after Run exit = %d", h.ClientCount())
	}
	if _, ok := <-client.send; ok {
		t.Error("send channel still open")
	}
}
