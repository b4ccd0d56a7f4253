package servers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/gray-logic-gateway/internal/binding"
	"github.com/nerrad567/gray-logic-gateway/internal/discovery"
)

// emitQueueSize is the per-bridge backlog of events awaiting dispatch.
const emitQueueSize = 64

// bridgeVariant is what each interface bridge adds to bridgeBase.
type bridgeVariant interface {
	// connect brings up the outbound client for b. A bridge whose target
	// is still awaiting discovery returns nil and connects on retarget.
	connect(ctx context.Context, b *binding.Binding) error

	// retarget is called when the binding changes after Init.
	retarget(ctx context.Context, b *binding.Binding)

	// perform executes one rendered action.
	perform(ctx context.Context, opts binding.Context, action map[string]any) error

	// disconnect releases the outbound client.
	disconnect() error

	// linked reports whether the outbound side is usable.
	linked() bool
}

type emission struct {
	channel string
	event   string
	data    any
}

// bridgeBase owns the binding loader, discovery patching and the ordered
// dispatch of events to the variant.
type bridgeBase struct {
	lifecycle
	deps Deps
	v    bridgeVariant

	mu            sync.Mutex
	loader        *binding.Loader
	stopDiscovery func()
	queue         chan emission
	done          chan struct{}
	wg            sync.WaitGroup

	ready    atomic.Bool
	awaiting atomic.Bool
	queried  atomic.Bool
}

func (b *bridgeBase) setupBridge(t Type, deps Deps, v bridgeVariant) {
	b.setup(t, deps.Logger)
	b.deps = deps
	b.v = v
}

// Init loads the binding and connects the variant.
//
// A first load failure is returned and leaves the bridge Initializing;
// the file watch stays installed and the first good reload brings the
// bridge up.
func (b *bridgeBase) Init(ctx context.Context, cfg Config) error {
	up, err := b.begin(ctx, cfg)
	if !up {
		return err
	}
	runCtx := b.runContext()

	b.ready.Store(false)
	b.awaiting.Store(false)
	b.queried.Store(false)

	loader := binding.NewLoader(cfg.Name, b.deps.Logger, b.deps.Metrics)
	loader.OnReload(b.onReload)

	b.mu.Lock()
	b.loader = loader
	b.queue = make(chan emission, emitQueueSize)
	b.done = make(chan struct{})
	b.mu.Unlock()

	base := binding.Context{Options: cfg.Interface.Options}
	loadErr := loader.Init(runCtx, b.deps.BindingPath(cfg.Interface.FileName), base)

	if loadErr == nil {
		if err := b.v.connect(runCtx, loader.Current()); err != nil {
			b.release()
			return b.finish(fmt.Errorf("%w: %w", ErrConnectivity, err))
		}
	}

	b.wg.Add(1)
	go b.dispatchLoop(runCtx)

	if loadErr != nil {
		b.awaiting.Store(true)
		b.ready.Store(true)
		b.logger().Error("bridge waiting for a valid binding", "error", loadErr)
		return loadErr
	}

	b.ready.Store(true)
	b.maybeQuery(loader.Current())
	return b.finish(nil)
}

// onReload runs after every successful load once Init has finished.
func (b *bridgeBase) onReload(bnd *binding.Binding) {
	if !b.ready.Load() {
		return
	}
	ctx := b.runContext()

	if b.awaiting.CompareAndSwap(true, false) {
		if err := b.v.connect(ctx, bnd); err != nil {
			b.awaiting.Store(true)
			b.logger().Error("bridge connect failed after reload", "error", err)
			return
		}
		b.maybeQuery(bnd)
		if b.promote() {
			b.logger().Info("server running")
		}
		return
	}

	b.maybeQuery(bnd)
	b.v.retarget(ctx, bnd)
}

// maybeQuery issues the binding's discovery query once per Init.
func (b *bridgeBase) maybeQuery(bnd *binding.Binding) {
	if bnd == nil || bnd.Context.DiscoveryQuery == nil {
		return
	}
	if !b.queried.CompareAndSwap(false, true) {
		return
	}
	q := discovery.Query{Name: bnd.Context.DiscoveryQuery.Name, Type: bnd.Context.DiscoveryQuery.Type}

	var m *discovery.MDNS
	if b.deps.Lookup != nil {
		m = b.deps.Lookup.MDNS()
	}
	if m == nil {
		b.logger().Warn("discovery query needs a running mdns server", "query", q.Name)
		return
	}

	// The listener stays registered until the bridge stops; once guards
	// against the same query being answered again after a re-query.
	var once sync.Once
	remove := m.OnResponse(func(resp discovery.Response) {
		if resp.Query != q {
			return
		}
		once.Do(func() { b.applyDiscovery(resp.Answer) })
	})

	b.mu.Lock()
	b.stopDiscovery = remove
	b.mu.Unlock()

	if err := m.Query(q); err != nil {
		b.logger().Warn("discovery query failed", "query", q.Name, "error", err)
	}
}

// applyDiscovery patches the target host and port from a discovery answer.
func (b *bridgeBase) applyDiscovery(ans discovery.Answer) {
	host, port := targetFromAnswer(ans)
	if host == "" {
		return
	}

	b.mu.Lock()
	loader := b.loader
	b.mu.Unlock()
	if loader == nil {
		return
	}

	loader.Patch(func(bnd *binding.Binding) {
		if bnd.Context.Options == nil {
			bnd.Context.Options = map[string]any{}
		}
		bnd.Context.Options["host"] = host
		if port > 0 {
			bnd.Context.Options["port"] = port
		}
	})
	b.logger().Info("bridge target discovered", "host", host, "port", port)

	if b.IsRunning() {
		b.v.retarget(b.runContext(), loader.Current())
	}
}

func targetFromAnswer(ans discovery.Answer) (string, int) {
	switch {
	case ans.Host != "":
		return ans.Host, ans.Port
	case ans.Type == "A" || ans.Type == "AAAA":
		return ans.Data, 0
	}
	return "", 0
}

// StopAsync stops dispatch, the file watch and the outbound client.
func (b *bridgeBase) StopAsync(_ context.Context) error {
	if !b.beginStop() {
		return nil
	}
	b.ready.Store(false)

	b.mu.Lock()
	done := b.done
	b.mu.Unlock()
	if done != nil {
		close(done)
	}
	b.wg.Wait()

	return b.endStop(b.release())
}

// release closes the loader, the discovery listener and the variant's client.
func (b *bridgeBase) release() error {
	b.mu.Lock()
	loader, stopDiscovery := b.loader, b.stopDiscovery
	b.loader, b.stopDiscovery = nil, nil
	b.mu.Unlock()

	if stopDiscovery != nil {
		stopDiscovery()
	}
	var errs []error
	if loader != nil {
		errs = append(errs, loader.Close())
	}
	errs = append(errs, b.v.disconnect())
	return errors.Join(errs...)
}

// EmitToClients queues the event for the bound actions.
func (b *bridgeBase) EmitToClients(event string, data ...any) {
	b.enqueue(emission{event: event, data: payloadOf(data)})
}

// EmitToChannel queues the event; the channel is available to action
// templates as {{.channel}}.
func (b *bridgeBase) EmitToChannel(channel, event string, data ...any) {
	b.enqueue(emission{channel: channel, event: event, data: payloadOf(data)})
}

func (b *bridgeBase) enqueue(e emission) {
	if !b.IsRunning() {
		return
	}
	b.mu.Lock()
	queue := b.queue
	b.mu.Unlock()

	select {
	case queue <- e:
	default:
		b.logger().Warn("bridge backlog full, event dropped", "event", e.event)
	}
}

// IsConnected reports whether the bridge is running, has enabled events
// and its outbound side is usable.
func (b *bridgeBase) IsConnected() bool {
	if !b.IsRunning() || !b.v.linked() {
		return false
	}
	bnd := b.Binding()
	return bnd.HasEvents()
}

// Binding returns the active binding, or nil.
func (b *bridgeBase) Binding() *binding.Binding {
	b.mu.Lock()
	loader := b.loader
	b.mu.Unlock()
	if loader == nil {
		return nil
	}
	return loader.Current()
}

func (b *bridgeBase) dispatchLoop(ctx context.Context) {
	defer b.wg.Done()

	b.mu.Lock()
	queue, done := b.queue, b.done
	b.mu.Unlock()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case e := <-queue:
			b.dispatch(ctx, e)
		}
	}
}

// dispatch runs every enabled action bound to the event, in file order.
func (b *bridgeBase) dispatch(ctx context.Context, e emission) {
	bnd := b.Binding()
	events := bnd.EventsFor(e.event)
	if len(events) == 0 {
		return
	}

	vars := binding.Vars{Event: e.event, Channel: e.channel, Data: e.data, Options: bnd.Context.Options}
	for _, ev := range events {
		err := b.run(ctx, bnd.Context, ev, vars)
		b.deps.Metrics.BridgeAction(b.Name(), err)
		if err != nil {
			b.logger().Warn("bridge action failed", "event", e.event, "error", err)
		}
	}
}

func (b *bridgeBase) run(ctx context.Context, opts binding.Context, ev binding.Event, vars binding.Vars) error {
	rendered, err := binding.Render(ev.Action, vars)
	if err != nil {
		return err
	}
	action, _ := rendered.(map[string]any) //nolint:errcheck // nil action is rejected by perform
	if action == nil {
		return fmt.Errorf("%w: event %q has no action", ErrInvalidAction, ev.Name)
	}

	actx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	return b.v.perform(actx, opts, action)
}

// actionString returns a string field of a rendered action.
func actionString(action map[string]any, key string) string {
	switch v := action[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// actionInt returns a numeric field of a rendered action, or def.
func actionInt(action map[string]any, key string, def int) int {
	switch v := action[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// actionBool returns a boolean field of a rendered action.
func actionBool(action map[string]any, key string) bool {
	switch v := action[key].(type) {
	case bool:
		return v
	case string:
		ok, _ := strconv.ParseBool(v) //nolint:errcheck // unparsable means false
		return ok
	}
	return false
}
