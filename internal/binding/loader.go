package binding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	jsonmerge "github.com/apapsch/go-jsonmerge/v2"
	"github.com/fsnotify/fsnotify"

	"github.com/nerrad567/gray-logic-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gateway/internal/metrics"
)

// Loader owns the active binding of one bridge.
//
// Thread Safety:
//   - Current, Patch and OnReload are safe for concurrent use.
//   - The active binding is replaced whole; it is never edited in place.
type Loader struct {
	name    string
	logger  *logging.Logger
	metrics *metrics.Metrics

	active  atomic.Pointer[Binding]
	loading atomic.Bool

	mu       sync.Mutex
	path     string
	base     Context
	lastMod  time.Time
	patches  []func(*Binding)
	onReload []func(*Binding)

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewLoader creates a loader for the named bridge.
func NewLoader(name string, logger *logging.Logger, m *metrics.Metrics) *Loader {
	return &Loader{
		name:    name,
		logger:  logger.Component("binding", "interface", name),
		metrics: m,
		done:    make(chan struct{}),
	}
}

// Init performs the initial load and installs a change watch on the file.
//
// The watch is installed even when the first load fails so a corrected
// file is picked up later; the load error is still returned so the
// caller can mark itself not-running.
func (l *Loader) Init(ctx context.Context, path string, base Context) error {
	loadErr := l.Load(path, base)
	if loadErr != nil {
		l.logger.Error("initial binding load failed", "path", path, "error", loadErr)
	}

	if err := l.watch(ctx); err != nil {
		l.logger.Warn("binding watch not installed", "path", path, "error", err)
	}

	return loadErr
}

// Load reads the file at path, merges base.Options under the file's own
// options and installs the result as the active binding.
//
// On error the previous binding stays active.
func (l *Loader) Load(path string, base Context) error {
	path = filepath.Clean(path)

	l.mu.Lock()
	l.path = path
	l.base = base
	l.mu.Unlock()

	return l.reload()
}

func (l *Loader) reload() error {
	l.mu.Lock()
	path, base := l.path, l.base
	l.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		l.metrics.BindingReload(l.name, metrics.ReloadFailed)
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the interface config
	if err != nil {
		l.metrics.BindingReload(l.name, metrics.ReloadFailed)
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	b, err := l.parse(data, base)
	if err != nil {
		l.metrics.BindingReload(l.name, metrics.ReloadFailed)
		return err
	}

	l.mu.Lock()
	for _, patch := range l.patches {
		patch(b)
	}
	l.active.Store(b)
	l.lastMod = info.ModTime()
	hooks := append([]func(*Binding){}, l.onReload...)
	l.mu.Unlock()

	l.metrics.BindingReload(l.name, metrics.ReloadOK)
	l.logger.Info("binding loaded", "path", path, "events", len(b.Events))

	for _, hook := range hooks {
		hook(b)
	}
	return nil
}

func (l *Loader) parse(data []byte, base Context) (*Binding, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var b Binding
	if err := dec.Decode(&b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	for i, e := range b.Events {
		if e.Name == "" {
			return nil, fmt.Errorf("%w: events[%d] has no event name", ErrConfig, i)
		}
	}

	baseOpts := cloneMap(base.Options)
	if baseOpts == nil {
		baseOpts = map[string]any{}
	}
	merger := jsonmerge.Merger{CopyNonexistent: true}
	merged, ok := merger.Merge(baseOpts, b.Context.Options).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: options did not merge to an object", ErrConfig)
	}
	// jsonmerge keeps a base object when the file sets a non-object at
	// the same key; the file value has to win there too.
	fileWins(merged, b.Context.Options)
	if len(merger.Errors) > 0 {
		l.logger.Debug("file options replaced base objects", "conflicts", len(merger.Errors))
	}
	b.Context.Options = merged

	if b.Context.DiscoveryQuery == nil && base.DiscoveryQuery != nil {
		q := *base.DiscoveryQuery
		b.Context.DiscoveryQuery = &q
	}

	return &b, nil
}

// fileWins overwrites dst with every value in file whose shape differs
// from dst's, descending where both sides are objects.
func fileWins(dst, file map[string]any) {
	for k, fv := range file {
		fm, fileObj := fv.(map[string]any)
		dm, dstObj := dst[k].(map[string]any)
		switch {
		case fileObj && dstObj:
			fileWins(dm, fm)
		case fileObj != dstObj:
			dst[k] = cloneValue(fv)
		}
	}
}

// Notify handles one change notification.
//
// A notification is dropped when a load is already in progress, and
// skipped when the file's modification time matches the last successful
// load. It reports whether a reload happened.
func (l *Loader) Notify() bool {
	if !l.loading.CompareAndSwap(false, true) {
		l.metrics.BindingReload(l.name, metrics.ReloadDropped)
		return false
	}
	defer l.loading.Store(false)

	l.mu.Lock()
	path, lastMod := l.path, l.lastMod
	l.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		l.logger.Warn("binding file unavailable, keeping previous binding", "path", path, "error", err)
		return false
	}
	if info.ModTime().Equal(lastMod) {
		l.metrics.BindingReload(l.name, metrics.ReloadSkipped)
		return false
	}

	if err := l.reload(); err != nil {
		l.logger.Error("binding reload failed, keeping previous binding", "path", path, "error", err)
		return false
	}
	return true
}

// Current returns the active binding, or nil before the first successful
// load. The returned value must not be modified.
func (l *Loader) Current() *Binding {
	return l.active.Load()
}

// Patch applies fn to a copy of the active binding and installs the copy.
// fn is kept and re-applied after every later reload. It must not call
// back into the Loader.
func (l *Loader) Patch(fn func(*Binding)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.patches = append(l.patches, fn)
	if cur := l.active.Load(); cur != nil {
		next := cur.clone()
		fn(next)
		l.active.Store(next)
	}
}

// OnReload registers a hook called with each newly installed binding.
func (l *Loader) OnReload(fn func(*Binding)) {
	l.mu.Lock()
	l.onReload = append(l.onReload, fn)
	l.mu.Unlock()
}

// Close stops the file watch. Safe to call more than once.
func (l *Loader) Close() error {
	select {
	case <-l.done:
		return nil
	default:
		close(l.done)
	}

	var err error
	if l.watcher != nil {
		err = l.watcher.Close()
	}
	l.wg.Wait()
	return err
}

// watch observes the file's directory; editors often replace files by
// rename, which a watch on the file itself would lose.
func (l *Loader) watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	l.mu.Lock()
	path := l.path
	l.mu.Unlock()

	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close() //nolint:errcheck // already failing
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	l.watcher = w

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.watchLoop(ctx, w, path)
	}()
	return nil
}

func (l *Loader) watchLoop(ctx context.Context, w *fsnotify.Watcher, path string) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				l.Notify()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			l.logger.Warn("binding watch error", "error", err)
		}
	}
}
