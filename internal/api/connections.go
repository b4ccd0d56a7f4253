package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-gateway/internal/handshake"
)

// dialTimeout bounds the WebSocket dial back to a registering peer.
const dialTimeout = 3 * time.Second

// backChannel is the socket this server dialled back to a registered peer.
type backChannel struct {
	id   string
	peer handshake.SelfDescriptor
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (b *backChannel) writeJSON(v any) error {
	b.wmu.Lock()
	defer b.wmu.Unlock()
	//nolint:errcheck // Best-effort deadline; write error caught below
	b.conn.SetWriteDeadline(time.Now().Add(dialTimeout))
	return b.conn.WriteJSON(v)
}

// connectionStore holds back-channels keyed by connection id.
type connectionStore struct {
	mu    sync.Mutex
	conns map[string]*backChannel
}

func newConnectionStore() *connectionStore {
	return &connectionStore{conns: make(map[string]*backChannel)}
}

func (c *connectionStore) add(b *backChannel) {
	c.mu.Lock()
	c.conns[b.id] = b
	c.mu.Unlock()
}

func (c *connectionStore) get(id string) (*backChannel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.conns[id]
	return b, ok
}

func (c *connectionStore) remove(id string) {
	c.mu.Lock()
	b, ok := c.conns[id]
	delete(c.conns, id)
	c.mu.Unlock()
	if ok {
		b.conn.Close()
	}
}

func (c *connectionStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

func (c *connectionStore) closeAll() {
	c.mu.Lock()
	conns := c.conns
	c.conns = make(map[string]*backChannel)
	c.mu.Unlock()
	for _, b := range conns {
		b.conn.Close()
	}
}

// registerResult is the result block of a registration answer.
type registerResult struct {
	ConnectionID string `json:"connectionId"`
}

type envelope struct {
	Status handshake.Status `json:"status"`
	Result any              `json:"result,omitempty"`
}

func writeEnvelope(w http.ResponseWriter, code int, message string, result any) {
	writeJSON(w, code, envelope{
		Status: handshake.Status{Code: code, Message: message},
		Result: result,
	})
}

// handleRegister dials a WebSocket back to the caller and issues a
// connection id for it.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var self handshake.SelfDescriptor
	if err := json.NewDecoder(r.Body).Decode(&self); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), nil)
		return
	}
	if self.Port < 1 || self.Port > 65535 {
		writeEnvelope(w, http.StatusBadRequest, "ip and port are required", nil)
		return
	}
	if msg := checkCallbackIP(self.IP, r.RemoteAddr); msg != "" {
		s.logger.Warn("peer registration refused", "remote", r.RemoteAddr, "ip", self.IP, "reason", msg)
		writeEnvelope(w, http.StatusBadRequest, msg, nil)
		return
	}

	target := callbackURL(self, s.wsCfg.Path)
	ctx, cancel := context.WithTimeout(r.Context(), dialTimeout)
	defer cancel()

	conn, resp, err := s.dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.logger.Warn("peer callback dial failed", "target", target, "remote", r.RemoteAddr, "error", err)
		writeEnvelope(w, http.StatusBadGateway, "callback unreachable", nil)
		return
	}

	b := &backChannel{id: uuid.NewString(), peer: self, conn: conn}
	s.conns.add(b)
	go s.drainBackChannel(b)

	s.logger.Info("peer registered", "connection_id", b.id, "peer", target, "remote", r.RemoteAddr)
	writeEnvelope(w, http.StatusOK, "registered", registerResult{ConnectionID: b.id})
}

// drainBackChannel reads until the peer closes, answering pings and
// dropping the connection id afterwards.
func (s *Server) drainBackChannel(b *backChannel) {
	for {
		if _, _, err := b.conn.ReadMessage(); err != nil {
			s.logger.Debug("peer back-channel closed", "connection_id", b.id, "error", err)
			s.conns.remove(b.id)
			return
		}
	}
}

// handleVerifyEmit sends the acknowledgment event over a registered
// back-channel.
func (s *Server) handleVerifyEmit(w http.ResponseWriter, r *http.Request) {
	var req handshake.VerifyEmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeEnvelope(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), nil)
		return
	}
	if req.EventName == "" || req.ConnectionID == "" {
		writeEnvelope(w, http.StatusBadRequest, "eventName and connectionId are required", nil)
		return
	}

	b, ok := s.conns.get(req.ConnectionID)
	if !ok {
		writeEnvelope(w, http.StatusNotFound, "unknown connection", nil)
		return
	}

	property := req.Property
	if property == "" {
		property = handshake.DefaultAckProperty
	}
	msg := WSMessage{
		Type:      WSTypeEvent,
		EventType: req.EventName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload: map[string]any{
			property:       req.Value,
			"connectionId": req.ConnectionID,
		},
	}
	if err := b.writeJSON(msg); err != nil {
		s.logger.Warn("verify-emit write failed", "connection_id", b.id, "error", err)
		s.conns.remove(b.id)
		writeEnvelope(w, http.StatusInternalServerError, "emit failed", nil)
		return
	}
	writeEnvelope(w, http.StatusOK, "emitted", nil)
}

// checkCallbackIP returns why ip cannot be dialled back for a caller at
// remoteAddr, or "" when it can. A loopback callback is only accepted from
// a loopback caller.
func checkCallbackIP(ip, remoteAddr string) string {
	addr := net.ParseIP(ip)
	switch {
	case addr == nil:
		return "ip and port are required"
	case addr.IsUnspecified():
		return "ip must not be unspecified"
	case addr.IsMulticast():
		return "ip must not be multicast"
	case addr.IsLoopback() && !loopbackCaller(remoteAddr):
		return "loopback ip from a remote caller"
	}
	return ""
}

func loopbackCaller(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	addr := net.ParseIP(host)
	return addr != nil && addr.IsLoopback()
}

// callbackURL builds the WebSocket URL of a registering peer.
func callbackURL(self handshake.SelfDescriptor, path string) string {
	scheme := "ws"
	if self.Protocol == KindHTTPS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(self.IP, strconv.Itoa(self.Port)), path)
}

// Connections returns the number of registered peer back-channels.
func (s *Server) Connections() int {
	return s.conns.count()
}
