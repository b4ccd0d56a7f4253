package servers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
)

// lifecycle is the state machine embedded by every variant.
//
// Thread Safety: All methods are safe for concurrent use.
type lifecycle struct {
	typ  Type
	base *logging.Logger

	mu     sync.RWMutex
	state  State
	id     string
	name   string
	ctx    context.Context
	cancel context.CancelFunc

	log       atomic.Pointer[logging.Logger]
	connected atomic.Bool
}

func (l *lifecycle) setup(t Type, logger *logging.Logger) {
	l.typ = t
	l.base = logger
	l.state = StateUninitialized
}

// begin moves into Initializing, or into Disabled when cfg is disabled.
// It reports whether the variant should bring itself up.
//
// Re-init is accepted from Stopped and Disabled so the registry can reuse
// a handle after a hot swap.
func (l *lifecycle) begin(ctx context.Context, cfg Config) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case StateUninitialized, StateStopped, StateDisabled:
	default:
		return false, fmt.Errorf("%w: init while %s", ErrInvalidState, l.state)
	}

	l.id = cfg.GeneratedID
	l.name = cfg.Name
	l.log.Store(l.base.Component(string(l.typ), "name", cfg.Name, "id", cfg.GeneratedID))
	l.connected.Store(false)

	if !cfg.Enabled {
		l.state = StateDisabled
		return false, nil
	}

	// Handles outlive the context they were initialised with; StopAsync
	// is what ends them.
	l.ctx, l.cancel = context.WithCancel(context.WithoutCancel(ctx))
	l.state = StateInitializing
	return true, nil
}

// finish ends Init: Running on success, Stopped on failure.
func (l *lifecycle) finish(err error) error {
	l.mu.Lock()
	if err != nil {
		l.state = StateStopped
		if l.cancel != nil {
			l.cancel()
		}
	} else if l.state == StateInitializing {
		l.state = StateRunning
	}
	l.mu.Unlock()

	if err != nil {
		l.logger().Error("server init failed", "error", err)
	} else {
		l.logger().Info("server running")
	}
	return err
}

// promote moves a handle left in Initializing to Running.
func (l *lifecycle) promote() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateInitializing {
		return false
	}
	l.state = StateRunning
	return true
}

// beginStop moves a live handle into Stopping. It reports false when
// there is nothing to stop.
func (l *lifecycle) beginStop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateRunning, StateInitializing:
		l.state = StateStopping
		return true
	}
	return false
}

// endStop completes a stop started by beginStop.
func (l *lifecycle) endStop(err error) error {
	l.mu.Lock()
	l.state = StateStopped
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()
	l.connected.Store(false)

	if err != nil {
		l.logger().Warn("server stopped with error", "error", err)
	} else {
		l.logger().Info("server stopped")
	}
	return err
}

// runContext is cancelled when the handle stops.
func (l *lifecycle) runContext() context.Context {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.ctx == nil {
		return context.Background()
	}
	return l.ctx
}

func (l *lifecycle) logger() *logging.Logger {
	if lg := l.log.Load(); lg != nil {
		return lg
	}
	return l.base.Component(string(l.typ))
}

func (l *lifecycle) setConnected(v bool) {
	l.connected.Store(v)
}

// State returns the lifecycle state.
func (l *lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// ID returns the generated id.
func (l *lifecycle) ID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.id
}

// Name returns the config entry name.
func (l *lifecycle) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.name
}

// Type returns the variant.
func (l *lifecycle) Type() Type {
	return l.typ
}

// IsRunning reports whether the handle is Running.
func (l *lifecycle) IsRunning() bool {
	return l.State() == StateRunning
}

// IsConnected reports whether the handle is running and has a live peer.
func (l *lifecycle) IsConnected() bool {
	return l.IsRunning() && l.connected.Load()
}
