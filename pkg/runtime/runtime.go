// Package runtime assembles the admission queue, registry, dispatcher and
// model selector behind the surface the surrounding application calls.
package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/perchbot/perch/pkg/dispatch"
	"github.com/perchbot/perch/pkg/modelpool"
	"github.com/perchbot/perch/pkg/queue"
	"github.com/perchbot/perch/pkg/registry"
)

const payloadKeyRequest = "perch.request"

// Request is what the application enqueues: a unit to run, its arguments,
// and where the outcome should go. OnResult runs on the execution goroutine
// after the dispatcher returns; a nil OnResult discards the outcome.
type Request struct {
	Unit    string
	Args    map[string]any
	Scope   modelpool.Scope
	PoolKey string
	// Values seeds the per-call ambient bag.
	Values   map[string]any
	OnResult func(result any, err error)
}

// Options configures a Runtime.
type Options struct {
	// UnitDirs are the directories scanned for unit manifests.
	UnitDirs []string
	// PreferencesPath is the sticky-preference file. Empty disables
	// persistence.
	PreferencesPath string
	// Backends maps backend names to their primary configs.
	Backends map[string]modelpool.BackendConfig
	// PoolingEnabled is the global model-pool switch.
	PoolingEnabled bool
	// Factories seeds the compiled unit factory table.
	Factories map[string]registry.Factory
	// Ambient values are merged set-if-absent into every call.
	Ambient map[string]any

	DefaultInterval time.Duration
	NormalLaneCap   int
	NormalLaneKeep  int
	StreakCap       int

	Logger *zap.Logger
}

// Runtime is the assembled core.
type Runtime struct {
	admission  *queue.Admission
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	selector   *modelpool.Selector
	logger     *zap.Logger

	mu       sync.RWMutex
	backends map[string]modelpool.BackendConfig
}

// New wires the core together. The registry starts empty; run an initial
// Reload or StartHotReload before enqueueing work that resolves units.
func New(opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := registry.New(opts.UnitDirs,
		registry.WithRegistryLogger(logger.Named("registry")),
		registry.WithFactories(opts.Factories))

	selector := modelpool.NewSelector(opts.PreferencesPath,
		modelpool.WithSelectorLogger(logger.Named("modelpool")))

	dispatcher := dispatch.NewDispatcher(reg,
		dispatch.WithDispatcherLogger(logger.Named("dispatch")),
		dispatch.WithSelector(selector, opts.PoolingEnabled),
		dispatch.WithAmbient(opts.Ambient))

	rt := &Runtime{
		registry:   reg,
		dispatcher: dispatcher,
		selector:   selector,
		logger:     logger,
		backends:   make(map[string]modelpool.BackendConfig, len(opts.Backends)),
	}
	for name, cfg := range opts.Backends {
		rt.backends[name] = cfg
	}

	admissionOpts := []queue.Option{queue.WithLogger(logger.Named("queue"))}
	if opts.DefaultInterval > 0 {
		admissionOpts = append(admissionOpts, queue.WithDefaultInterval(opts.DefaultInterval))
	}
	if opts.NormalLaneCap > 0 || opts.NormalLaneKeep > 0 {
		admissionOpts = append(admissionOpts, queue.WithNormalLaneBounds(opts.NormalLaneCap, opts.NormalLaneKeep))
	}
	if opts.StreakCap > 0 {
		admissionOpts = append(admissionOpts, queue.WithStreakCap(opts.StreakCap))
	}
	rt.admission = queue.NewAdmission(rt.dispatchEntry, admissionOpts...)

	return rt, nil
}

// dispatchEntry is the scheduler's fire-and-forget callback: it rebuilds the
// Request, runs it through the dispatcher and hands the outcome to the
// request's own callback.
func (rt *Runtime) dispatchEntry(backend string, lane queue.Lane, e queue.Entry) {
	req, ok := e.Payload[payloadKeyRequest].(Request)
	if !ok {
		rt.logger.Warn("queue entry without request payload dropped",
			zap.String("backend", backend),
			zap.String("request_id", e.RequestID))
		return
	}

	call := dispatch.NewCallContext(req.Values)
	call.Set(dispatch.KeyRequestID, e.RequestID)
	call.Set(dispatch.KeyBackend, backend)
	call.SetDefault(dispatch.KeyGroupID, req.Scope.GroupID)
	call.SetDefault(dispatch.KeyUserID, req.Scope.UserID)
	call.Scope = req.Scope
	call.PoolKey = req.PoolKey
	if primary, ok := rt.backendConfig(backend); ok {
		call.Primary = &primary
	}

	result, err := rt.dispatcher.Execute(context.Background(), req.Unit, req.Args, call)
	if req.OnResult != nil {
		req.OnResult(result, err)
	}
}

func (rt *Runtime) backendConfig(name string) (modelpool.BackendConfig, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	cfg, ok := rt.backends[name]
	return cfg, ok
}

// SetBackend registers or replaces a backend's primary config.
func (rt *Runtime) SetBackend(name string, cfg modelpool.BackendConfig) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.backends[name] = cfg
}

func (rt *Runtime) enqueue(lane queue.Lane, backend string, req Request) {
	rt.admission.Enqueue(lane, backend, queue.Entry{
		Payload: map[string]any{payloadKeyRequest: req},
	})
}

// EnqueueSuperadminRequest admits a superadmin request for backend.
func (rt *Runtime) EnqueueSuperadminRequest(backend string, req Request) {
	rt.enqueue(queue.LaneSuperadmin, backend, req)
}

// EnqueuePrivateRequest admits a private-chat request for backend.
func (rt *Runtime) EnqueuePrivateRequest(backend string, req Request) {
	rt.enqueue(queue.LanePrivate, backend, req)
}

// EnqueueGroupMentionRequest admits a group request that mentioned the bot.
func (rt *Runtime) EnqueueGroupMentionRequest(backend string, req Request) {
	rt.enqueue(queue.LaneGroupMention, backend, req)
}

// EnqueueGroupNormalRequest admits an ordinary group request.
func (rt *Runtime) EnqueueGroupNormalRequest(backend string, req Request) {
	rt.enqueue(queue.LaneGroupNormal, backend, req)
}

// UpdateModelIntervals hot-applies per-backend tick cadences given in
// seconds, without restarting anything.
func (rt *Runtime) UpdateModelIntervals(intervals map[string]int) {
	converted := make(map[string]time.Duration, len(intervals))
	for backend, secs := range intervals {
		if secs <= 0 {
			continue
		}
		converted[backend] = time.Duration(secs) * time.Second
	}
	rt.admission.UpdateIntervals(converted)
}

// GetQueueStatus reports lane depths for backend.
func (rt *Runtime) GetQueueStatus(backend string) map[string]int {
	return rt.admission.Status(backend)
}

// StartHotReload begins watching the unit directories.
func (rt *Runtime) StartHotReload(interval, debounce time.Duration) error {
	return rt.registry.StartHotReload(interval, debounce)
}

// StopHotReload stops watching, waiting for the loop bounded by ctx.
func (rt *Runtime) StopHotReload(ctx context.Context) error {
	return rt.registry.StopHotReload(ctx)
}

// Registry exposes the unit registry.
func (rt *Runtime) Registry() *registry.Registry { return rt.registry }

// Selector exposes the model selector.
func (rt *Runtime) Selector() *modelpool.Selector { return rt.selector }

// Shutdown stops the scheduler loops and the reload loop. In-flight
// executions are fire-and-forget and keep running.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	if err := rt.admission.Shutdown(ctx); err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	return rt.registry.Close(ctx)
}
