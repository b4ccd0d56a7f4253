package servers

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/multierr"

	"github.com/nerrad567/gray-logic-gateway/internal/api"
	"github.com/nerrad567/gray-logic-gateway/internal/discovery"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
)

// IDAssigner hands out stable generated ids per config entry.
type IDAssigner interface {
	AssignID(ctx context.Context, section, name, current string) (string, error)
}

// RegistryOption customises a Registry.
type RegistryOption func(*Registry)

// WithFactory replaces NewServer as the handle constructor.
func WithFactory(f Factory) RegistryOption {
	return func(r *Registry) { r.factory = f }
}

// Registry owns every protocol server and interface bridge handle.
//
// It is the only place handles are created, inserted or removed. Other
// components reach it through the narrow Lookup view.
//
// Thread Safety: All methods are safe for concurrent use. Init, StopAsync
// and UpdateServerInterface are serialised against each other.
type Registry struct {
	cfg     *config.Config
	cfgPath string
	ids     IDAssigner
	deps    Deps
	logger  *logging.Logger
	factory Factory

	opMu    sync.Mutex
	mu      sync.RWMutex
	handles []ProtoServer
}

// NewRegistry creates an empty registry over cfg. When cfgPath is set,
// newly assigned ids are written back to it.
func NewRegistry(cfg *config.Config, cfgPath string, ids IDAssigner, deps Deps, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:     cfg,
		cfgPath: cfgPath,
		ids:     ids,
		factory: NewServer,
	}
	for _, opt := range opts {
		opt(r)
	}

	deps.WebSocket = cfg.WebSocket
	deps.Handshake = cfg.Handshake
	deps.Discovery = cfg.Discovery
	if deps.BindingPath == nil {
		deps.BindingPath = cfg.BindingPath
	}
	deps.Lookup = r
	if deps.State == nil {
		deps.State = r
	}
	r.deps = deps.withDefaults()
	r.logger = r.deps.Logger.Component("registry")
	return r
}

// Init constructs and initialises every enabled entry: the servers
// section in ServerOrder, then interfaces by name.
//
// A handle whose Init fails is still registered, not running. The
// returned error combines every failure and is not fatal.
func (r *Registry) Init(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	var errs error
	for _, entry := range r.entries(&errs) {
		if err := r.assignID(ctx, &entry); err != nil {
			r.logger.Warn("assigning generated id failed", "name", entry.Name, "error", err)
			errs = multierr.Append(errs, err)
		}
		if !entry.Enabled {
			r.logger.Debug("entry disabled", "section", entry.Section, "name", entry.Name)
			continue
		}

		h, err := r.factory(entry.Type, r.deps)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if err := h.Init(ctx, entry); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s %q: %w", entry.Section, entry.Name, err))
		}
		r.add(h)
	}

	r.recordMetrics()
	r.logger.Info("registry initialised", "handles", len(r.Servers()))
	return errs
}

func (r *Registry) entries(errs *error) []Config {
	var out []Config
	for _, name := range config.ServerOrder {
		sc, ok := r.cfg.Web.Servers[name]
		if !ok {
			continue
		}
		entry, err := ServerEntry(name, sc)
		if err != nil {
			*errs = multierr.Append(*errs, err)
			continue
		}
		out = append(out, entry)
	}
	for _, name := range r.cfg.InterfaceNames() {
		entry, err := InterfaceEntry(name, r.cfg.Web.Interfaces[name])
		if err != nil {
			*errs = multierr.Append(*errs, err)
			continue
		}
		out = append(out, entry)
	}
	return out
}

// assignID fills entry.GeneratedID and persists it when it changed.
func (r *Registry) assignID(ctx context.Context, entry *Config) error {
	if r.ids == nil {
		return nil
	}
	id, err := r.ids.AssignID(ctx, entry.Section, entry.Name, entry.GeneratedID)
	if err != nil {
		return err
	}
	entry.GeneratedID = id
	entry.Server.GeneratedID = id
	entry.Interface.GeneratedID = id

	if r.cfg.SetGeneratedID(entry.Section, entry.Name, id) {
		return r.save()
	}
	return nil
}

func (r *Registry) save() error {
	if r.cfgPath == "" {
		return nil
	}
	return r.cfg.Save(r.cfgPath)
}

// EmitToClients fans the event out to every running handle.
func (r *Registry) EmitToClients(event string, data ...any) {
	for _, h := range r.running() {
		h.EmitToClients(event, data...)
	}
}

// EmitToChannel fans the event out to every running handle.
func (r *Registry) EmitToChannel(channel, event string, data ...any) {
	for _, h := range r.running() {
		h.EmitToChannel(channel, event, data...)
	}
}

// StopAsync stops every handle in reverse registration order. A failure
// is logged and does not stop the rest; all failures are returned combined.
func (r *Registry) StopAsync(ctx context.Context) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	handles := r.Servers()
	var errs error
	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		if err := h.StopAsync(ctx); err != nil {
			r.logger.Warn("stopping server failed", "name", h.Name(), "id", h.ID(), "error", err)
			errs = multierr.Append(errs, fmt.Errorf("%s %q: %w", h.Type(), h.Name(), err))
		}
	}
	r.recordMetrics()
	return errs
}

// UpdateServerInterface hot-swaps the handle identified by c.GeneratedID.
//
// An existing handle is stopped and removed first. When c is enabled, the
// found handle is re-initialised with c (or a fresh one created when none
// existed or the type changed). At most one live handle per id exists at
// any time. The entry is written back to the configuration.
func (r *Registry) UpdateServerInterface(ctx context.Context, c Config) error {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	// Resolve the id first so an entry passed without one still finds
	// the handle it replaces.
	if err := r.assignID(ctx, &c); err != nil {
		return err
	}
	found := r.FindServerByGUID(c.GeneratedID)
	if found != nil {
		if err := found.StopAsync(ctx); err != nil {
			r.logger.Warn("stopping replaced server failed", "id", c.GeneratedID, "error", err)
		}
		r.remove(found)
	}
	if err := r.storeEntry(c); err != nil {
		r.logger.Warn("saving configuration failed", "name", c.Name, "error", err)
	}

	defer r.recordMetrics()
	if !c.Enabled {
		return nil
	}

	h := found
	if h == nil || h.Type() != c.Type {
		var err error
		if h, err = r.factory(c.Type, r.deps); err != nil {
			return err
		}
	}
	err := h.Init(ctx, c)
	r.add(h)
	return err
}

// storeEntry writes c back into its configuration section.
func (r *Registry) storeEntry(c Config) error {
	switch c.Section {
	case config.SectionServers:
		sc := c.Server
		sc.Enabled = c.Enabled
		sc.GeneratedID = c.GeneratedID
		if r.cfg.Web.Servers == nil {
			r.cfg.Web.Servers = map[string]config.ServerConfig{}
		}
		r.cfg.Web.Servers[c.Name] = sc
	case config.SectionInterfaces:
		ic := c.Interface
		ic.Enabled = c.Enabled
		ic.GeneratedID = c.GeneratedID
		if r.cfg.Web.Interfaces == nil {
			r.cfg.Web.Interfaces = map[string]config.InterfaceConfig{}
		}
		r.cfg.Web.Interfaces[c.Name] = ic
	default:
		return nil
	}
	return r.save()
}

func (r *Registry) add(h ProtoServer) {
	r.mu.Lock()
	r.handles = append(r.handles, h)
	r.mu.Unlock()
}

func (r *Registry) remove(h ProtoServer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.handles, h)
	if i < 0 {
		return false
	}
	r.handles = slices.Delete(r.handles, i, i+1)
	return true
}

func (r *Registry) running() []ProtoServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ProtoServer, 0, len(r.handles))
	for _, h := range r.handles {
		if h.IsRunning() {
			out = append(out, h)
		}
	}
	return out
}

// Servers returns the handles in registration order.
func (r *Registry) Servers() []ProtoServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.handles)
}

// FindServer returns the first handle with the given name, or nil.
func (r *Registry) FindServer(name string) ProtoServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.handles {
		if h.Name() == name {
			return h
		}
	}
	return nil
}

// FindServersByType returns every handle of type t.
func (r *Registry) FindServersByType(t Type) []ProtoServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ProtoServer
	for _, h := range r.handles {
		if h.Type() == t {
			out = append(out, h)
		}
	}
	return out
}

// FindServerByGUID returns the handle with generated id, or nil.
func (r *Registry) FindServerByGUID(id string) ProtoServer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, h := range r.handles {
		if h.ID() == id {
			return h
		}
	}
	return nil
}

// RemoveServerByGUID drops the handle with generated id without stopping it.
func (r *Registry) RemoveServerByGUID(id string) (ProtoServer, error) {
	h := r.FindServerByGUID(id)
	if h == nil || !r.remove(h) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.recordMetrics()
	return h, nil
}

// HTTPServer returns the first running HTTP-family server, or nil.
func (r *Registry) HTTPServer() *api.Server {
	for _, h := range r.running() {
		if t, ok := h.(interface{ Server() *api.Server }); ok && h.Type().IsTransport() {
			if srv := t.Server(); srv != nil {
				return srv
			}
		}
	}
	return nil
}

// MDNS returns the running mDNS responder, or nil.
func (r *Registry) MDNS() *discovery.MDNS {
	for _, h := range r.running() {
		if m, ok := h.(interface{ Responder() *discovery.MDNS }); ok {
			if resp := m.Responder(); resp != nil {
				return resp
			}
		}
	}
	return nil
}

// Resolver returns the address source shared by every handle.
func (r *Registry) Resolver() discovery.AddressSource {
	return r.deps.Resolver
}

// Statuses reports every handle for /api/v1/servers.
func (r *Registry) Statuses() []api.ServerStatus {
	handles := r.Servers()
	out := make([]api.ServerStatus, 0, len(handles))
	for _, h := range handles {
		out = append(out, api.ServerStatus{
			ID:          h.ID(),
			Name:        h.Name(),
			Type:        string(h.Type()),
			State:       string(h.State()),
			IsRunning:   h.IsRunning(),
			IsConnected: h.IsConnected(),
		})
	}
	return out
}

// Snapshot is the state pushed to peers when their socket connects.
func (r *Registry) Snapshot() map[string]any {
	return map[string]any{
		"site":    map[string]string{"id": r.cfg.Site.ID, "name": r.cfg.Site.Name},
		"version": r.deps.Version,
		"servers": r.Statuses(),
	}
}

func (r *Registry) recordMetrics() {
	if r.deps.Metrics == nil {
		return
	}
	counts := make(map[Type]int)
	for _, h := range r.running() {
		counts[h.Type()]++
	}
	for _, t := range []Type{TypeHTTP, TypeHTTPS, TypeHTTP2, TypeMDNS, TypeSSDP, TypeHTTPBridge, TypeInflux, TypeMQTT, TypeREM} {
		r.deps.Metrics.SetServersRunning(string(t), counts[t])
	}
}
