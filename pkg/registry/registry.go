package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrUnitNotFound is returned when a lookup misses the current snapshot.
var ErrUnitNotFound = errors.New("registry: unit not found")

// Registry publishes immutable unit snapshots and rebuilds them when the
// watched directories change. The snapshot pointer is the only shared
// mutable reference; readers never take a lock.
type Registry struct {
	dirs      []string
	logger    *zap.Logger
	mcpDial   mcpDialFunc
	factories map[string]Factory
	factoryMu sync.RWMutex

	current atomic.Pointer[Snapshot]
	version atomic.Uint64

	// publishMu serializes scan+publish so a slow scan can never overwrite
	// a newer snapshot.
	publishMu sync.Mutex

	reloadMu sync.Mutex
	running  bool
	stopping bool
	stop     chan struct{}
	done     chan struct{}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger; the default is a nop logger.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFactories seeds the compiled factory table.
func WithFactories(factories map[string]Factory) RegistryOption {
	return func(r *Registry) {
		for name, f := range factories {
			r.factories[name] = f
		}
	}
}

// New builds a registry over the given unit directories. The initial
// snapshot is empty until Reload or StartHotReload runs a scan.
func New(dirs []string, opts ...RegistryOption) *Registry {
	r := &Registry{
		dirs:      append([]string(nil), dirs...),
		logger:    zap.NewNop(),
		mcpDial:   dialMCP,
		factories: make(map[string]Factory),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.current.Store(newSnapshot(0, nil, nil, nil))
	return r
}

// RegisterFactory adds a compiled unit factory under name. Manifests refer
// to factories by this name.
func (r *Registry) RegisterFactory(name string, f Factory) error {
	if name == "" || f == nil {
		return errors.New("registry: factory name and func are required")
	}
	r.factoryMu.Lock()
	defer r.factoryMu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("registry: factory %s already registered", name)
	}
	r.factories[name] = f
	return nil
}

func (r *Registry) factory(name string) (Factory, bool) {
	r.factoryMu.RLock()
	defer r.factoryMu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Current returns the published snapshot. Never nil.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Lookup resolves name against the current snapshot.
func (r *Registry) Lookup(name string) (Item, error) {
	if it, ok := r.Current().Lookup(name); ok {
		return it, nil
	}
	return Item{}, fmt.Errorf("%w: %s", ErrUnitNotFound, name)
}

// Reload rescans the unit directories from scratch, builds a complete new
// snapshot and swaps it in one assignment. Unit-level load failures are
// logged and skipped; they never abort the rest of the reload. Lookups
// already holding the old snapshot keep using it untouched.
func (r *Registry) Reload(ctx context.Context) (*Snapshot, error) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	// Stamp the files before reading them: an edit landing mid-scan then
	// leaves the published fingerprint stale, so the next poll reloads
	// again instead of missing the change.
	fp := fingerprintDirs(r.dirs)
	res := r.scanDirs(ctx, r.dirs)
	for _, err := range res.errs {
		r.logger.Warn("unit skipped during reload", zap.Error(err))
	}

	snap := newSnapshot(r.version.Add(1), res.items, fp, res.closers)
	r.current.Store(snap)
	r.logger.Info("registry snapshot published",
		zap.Uint64("version", snap.Version()),
		zap.Int("units", snap.Len()),
		zap.Int("skipped", len(res.errs)))
	return snap, nil
}

// ScanDir builds a standalone snapshot from a single directory without
// publishing it. The dispatcher uses this for call-scoped agent
// sub-registries; the caller owns the returned snapshot and must Close it.
func (r *Registry) ScanDir(ctx context.Context, dir string) (*Snapshot, error) {
	res := r.scanDirs(ctx, []string{dir})
	for _, err := range res.errs {
		r.logger.Warn("unit skipped during scoped scan", zap.String("dir", dir), zap.Error(err))
	}
	return newSnapshot(0, res.items, nil, res.closers), nil
}

// StartHotReload launches the background reload loop: poll the watched
// directories every interval, and once the fingerprint has been stable for
// debounce while differing from the published snapshot, trigger a reload.
// Starting an already-running loop is a no-op.
func (r *Registry) StartHotReload(interval, debounce time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()
	if r.running {
		return nil
	}
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	r.running = true
	r.stopping = false
	go r.reloadLoop(interval, debounce, r.stop, r.done)
	r.logger.Info("hot reload started",
		zap.Duration("interval", interval),
		zap.Duration("debounce", debounce),
		zap.Strings("dirs", r.dirs))
	return nil
}

// StopHotReload signals the loop and waits for it to exit, bounded by ctx.
// Stopping an idle registry is a no-op, and a stop retried after a timed-out
// wait just resumes waiting: the stop signal is sent at most once.
func (r *Registry) StopHotReload(ctx context.Context) error {
	r.reloadMu.Lock()
	if !r.running {
		r.reloadMu.Unlock()
		return nil
	}
	if !r.stopping {
		close(r.stop)
		r.stopping = true
	}
	done := r.done
	r.reloadMu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("registry: stop hot reload: %w", ctx.Err())
	}

	r.reloadMu.Lock()
	r.running = false
	r.stopping = false
	r.reloadMu.Unlock()
	return nil
}

// Close stops the reload loop and releases the current snapshot's
// resources.
func (r *Registry) Close(ctx context.Context) error {
	if err := r.StopHotReload(ctx); err != nil {
		return err
	}
	return r.Current().Close()
}
