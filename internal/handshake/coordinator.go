package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/benbjohnson/clock"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/metrics"
)

const maxResponseBytes = 1 << 16

// Config describes one peer handshake.
type Config struct {
	// PeerURL is the peer base URL, e.g. http://10.0.0.7:4200.
	PeerURL string
	Self    SelfDescriptor

	// EventName and Property shape the acknowledgment the peer emits.
	EventName string
	Property  string
	Value     any

	Timing Timing
}

// Coordinator runs handshakes against one peer.
type Coordinator struct {
	cfg      Config
	listener AckListener
	client   *http.Client
	clock    clock.Clock
	logger   *logging.Logger
	metrics  *metrics.Metrics
}

// Option customises a Coordinator.
type Option func(*Coordinator)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(co *Coordinator) { co.client = c }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(co *Coordinator) { co.clock = c }
}

// WithMetrics records handshake outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(co *Coordinator) { co.metrics = m }
}

// New creates a coordinator. listener may be nil, in which case only the
// verification request can establish the session.
func New(cfg Config, listener AckListener, logger *logging.Logger, opts ...Option) *Coordinator {
	if cfg.EventName == "" {
		cfg.EventName = DefaultAckEvent
	}
	if cfg.Property == "" {
		cfg.Property = DefaultAckProperty
	}
	if cfg.Value == nil {
		cfg.Value = true
	}
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	cfg.PeerURL = strings.TrimSuffix(cfg.PeerURL, "/")

	c := &Coordinator{
		cfg:      cfg,
		listener: listener,
		client:   &http.Client{},
		clock:    clock.New(),
		logger:   logger.Component("handshake", "peer", cfg.PeerURL),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run performs one handshake and returns its final outcome.
func (c *Coordinator) Run(ctx context.Context) Result {
	sess := NewSession()
	res := c.run(ctx, sess)
	c.metrics.Handshake(res.Phase.String())
	if res.Err != nil {
		c.logger.Warn("handshake failed", "phase", res.Phase, "error", res.Err)
	} else {
		c.logger.Info("handshake established", "connection_id", res.ConnectionID)
	}
	return res
}

func (c *Coordinator) run(ctx context.Context, sess *Session) Result {
	fail := func(err error) Result {
		sess.Advance(Failed) //nolint:errcheck // Failed is always reachable from a non-terminal phase
		return Result{Phase: sess.Phase(), ConnectionID: sess.ConnectionID(), Err: err}
	}

	// Phase 1
	sess.setDeadline(c.clock.Now().Add(c.cfg.Timing.RegisterTimeout))
	connID, err := c.register(ctx)
	if err != nil {
		return fail(err)
	}
	sess.setConnectionID(connID)
	if err := sess.Advance(RestVerified); err != nil {
		return fail(err)
	}

	select {
	case <-c.clock.After(c.cfg.Timing.SettleDelay):
	case <-ctx.Done():
		return fail(ctx.Err())
	}

	// Phase 2
	sess.setDeadline(c.clock.Now().Add(c.cfg.Timing.AckTimeout))
	if err := c.verify(ctx, connID); err != nil {
		return fail(err)
	}
	if err := sess.Advance(EmitVerified); err != nil {
		return fail(err)
	}
	if err := sess.Advance(Established); err != nil {
		return fail(err)
	}
	return Result{Phase: Established, ConnectionID: connID}
}

func (c *Coordinator) register(ctx context.Context) (string, error) {
	regCtx, cancel := c.clock.WithTimeout(ctx, c.cfg.Timing.RegisterTimeout)
	defer cancel()

	var resp RegisterResponse
	status, err := c.post(regCtx, RegisterPath, c.cfg.Self, &resp)
	if err != nil {
		if errors.Is(regCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: registration after %v", ErrTimeout, c.cfg.Timing.RegisterTimeout)
		}
		return "", fmt.Errorf("registering with peer: %w", err)
	}

	if !success(status, resp.Status.Code) {
		msg := resp.Status.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return "", fmt.Errorf("%w: %d %s", ErrRegisterRejected, statusCode(status, resp.Status.Code), msg)
	}
	if resp.Result.ConnectionID == "" {
		return "", fmt.Errorf("%w: no connection id in response", ErrRegisterRejected)
	}
	return resp.Result.ConnectionID, nil
}

// verify races the inbound acknowledgment against the verify-emit request.
// The first success wins; the loser's late completion is discarded.
func (c *Coordinator) verify(ctx context.Context, connID string) error {
	phaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ackCh <-chan struct{}
	if c.listener != nil {
		ch, stop := c.listener.Once(c.cfg.EventName, connID)
		defer stop()
		ackCh = ch
	}

	verifyCh := make(chan error, 1)
	go func() {
		verifyCh <- c.verifyEmit(phaseCtx, connID)
	}()

	timer := c.clock.Timer(c.cfg.Timing.AckTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ackCh:
			c.logger.Debug("acknowledgment received", "connection_id", connID)
			return nil
		case err := <-verifyCh:
			if err == nil {
				c.logger.Debug("verify-emit succeeded", "connection_id", connID)
				return nil
			}
			c.logger.Debug("verify-emit failed, waiting for acknowledgment", "error", err)
			verifyCh = nil
		case <-timer.C:
			return fmt.Errorf("%w: no acknowledgment within %v", ErrCommsCheck, c.cfg.Timing.AckTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Coordinator) verifyEmit(ctx context.Context, connID string) error {
	req := VerifyEmitRequest{
		EventName:    c.cfg.EventName,
		Property:     c.cfg.Property,
		Value:        c.cfg.Value,
		ConnectionID: connID,
	}

	var resp StatusResponse
	status, err := c.post(ctx, VerifyEmitPath, req, &resp)
	if err != nil {
		return err
	}
	if !success(status, resp.Status.Code) {
		return fmt.Errorf("verify-emit returned %d", statusCode(status, resp.Status.Code))
	}
	return nil
}

func (c *Coordinator) post(ctx context.Context, path string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PeerURL+path, bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	if len(raw) > 0 {
		// A body that is not the expected envelope leaves out zero-valued;
		// the HTTP status still decides.
		_ = json.Unmarshal(raw, out) //nolint:errcheck // see above
	}
	return resp.StatusCode, nil
}

// success requires a 2xx HTTP status and, when the body carries a status
// block, a 2xx code there too.
func success(httpStatus, bodyCode int) bool {
	if httpStatus < 200 || httpStatus > 299 {
		return false
	}
	return bodyCode == 0 || (bodyCode >= 200 && bodyCode <= 299)
}

func statusCode(httpStatus, bodyCode int) int {
	if bodyCode != 0 {
		return bodyCode
	}
	return httpStatus
}
