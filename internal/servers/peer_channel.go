package servers

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
)

const (
	// peerMaxReconnectAttempts bounds consecutive failed dials before the
	// channel gives up with reconnect_failed.
	peerMaxReconnectAttempts = 10

	// SnapshotEvent is pushed to the peer on every (re)connect.
	SnapshotEvent = "state_snapshot"

	peerDialTimeout = 5 * time.Second
	peerWriteWait   = 5 * time.Second
)

// eventDispatcher routes inbound events to one-shot listeners.
type eventDispatcher interface {
	DispatchEvent(event string, payload any) int
}

type peerChannelConfig struct {
	URL          string
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// peerChannel is the persistent socket to a peer. It redials with a
// capped exponential backoff and never re-runs the handshake.
type peerChannel struct {
	cfg        peerChannelConfig
	dialer     *websocket.Dialer
	clock      clock.Clock
	logger     *logging.Logger
	state      StateProvider
	dispatcher eventDispatcher

	mu        sync.Mutex
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	connected atomic.Bool
	connects  atomic.Int64
}

func newPeerChannel(cfg peerChannelConfig, clk clock.Clock, logger *logging.Logger, state StateProvider, dispatcher eventDispatcher) *peerChannel {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = peerMaxReconnectAttempts
	}
	return &peerChannel{
		cfg:        cfg,
		dialer:     &websocket.Dialer{HandshakeTimeout: peerDialTimeout},
		clock:      clk,
		logger:     logger,
		state:      state,
		dispatcher: dispatcher,
		done:       make(chan struct{}),
	}
}

// Start dials in the background until Close or ctx is done.
func (p *peerChannel) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

func (p *peerChannel) run(ctx context.Context) {
	attempt := 0
	for {
		conn, err := p.dial(ctx)
		if err != nil {
			if p.stopped(ctx) {
				return
			}
			attempt++
			p.logger.Warn("peer socket event", "event", "connect_error", "url", p.cfg.URL, "attempt", attempt, "error", err)
			if p.cfg.MaxAttempts > 0 && attempt >= p.cfg.MaxAttempts {
				p.logger.Error("peer socket event", "event", "reconnect_failed", "url", p.cfg.URL, "attempts", attempt)
				return
			}
			if !p.wait(ctx, p.backoff(attempt)) {
				return
			}
			continue
		}

		attempt = 0
		p.serve(ctx, conn)
		if p.stopped(ctx) {
			return
		}
		if !p.wait(ctx, p.cfg.InitialDelay) {
			return
		}
	}
}

// backoff returns the delay after the given number of failed attempts.
func (p *peerChannel) backoff(attempt int) time.Duration {
	d := p.cfg.InitialDelay
	for i := 1; i < attempt && d < p.cfg.MaxDelay; i++ {
		d *= 2
	}
	if d > p.cfg.MaxDelay {
		d = p.cfg.MaxDelay
	}
	return d
}

func (p *peerChannel) wait(ctx context.Context, d time.Duration) bool {
	select {
	case <-p.clock.After(d):
		return true
	case <-ctx.Done():
		return false
	case <-p.done:
		return false
	}
}

func (p *peerChannel) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *peerChannel) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, resp, err := p.dialer.DialContext(ctx, p.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// serve pushes the snapshot and reads until the socket drops.
func (p *peerChannel) serve(ctx context.Context, conn *websocket.Conn) {
	p.mu.Lock()
	select {
	case <-p.done:
		p.mu.Unlock()
		conn.Close()
		return
	default:
	}
	p.conn = conn
	p.mu.Unlock()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()
	defer func() {
		close(stop)
		p.connected.Store(false)
		p.mu.Lock()
		p.conn = nil
		p.mu.Unlock()
		conn.Close()
	}()

	p.connected.Store(true)
	p.connects.Add(1)
	p.logger.Info("peer socket connected", "url", p.cfg.URL)
	p.pushSnapshot(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			p.logger.Debug("peer socket closed", "url", p.cfg.URL, "error", err)
			return
		}
		p.handle(data)
	}
}

func (p *peerChannel) pushSnapshot(conn *websocket.Conn) {
	if p.state == nil {
		return
	}
	msg := api.WSMessage{
		Type:      api.WSTypeEvent,
		EventType: SnapshotEvent,
		Timestamp: p.clock.Now().UTC().Format(time.RFC3339),
		Payload:   p.state.Snapshot(),
	}
	//nolint:errcheck // Best-effort deadline; write error caught below
	conn.SetWriteDeadline(time.Now().Add(peerWriteWait))
	if err := conn.WriteJSON(msg); err != nil {
		p.logger.Warn("peer snapshot push failed", "error", err)
	}
}

func (p *peerChannel) handle(data []byte) {
	var msg api.WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		p.logger.Debug("peer socket message ignored", "error", err)
		return
	}
	switch msg.Type {
	case api.WSTypeEvent:
		if p.dispatcher != nil {
			p.dispatcher.DispatchEvent(msg.EventType, msg.Payload)
		}
	case api.WSTypeError:
		p.logger.Warn("peer socket event", "event", "error", "payload", msg.Payload)
	}
}

// Connected reports whether the socket is currently up.
func (p *peerChannel) Connected() bool {
	return p.connected.Load()
}

// Close stops redialling and closes the socket. Safe to call more than once.
func (p *peerChannel) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		close(p.done)
		conn := p.conn
		p.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
	p.wg.Wait()
	return nil
}
