package dispatch

import (
	"github.com/perchbot/perch/pkg/modelpool"
	"github.com/perchbot/perch/pkg/registry"
)

// Well-known keys inside the call bag handed to unit handlers.
const (
	KeyRequestID   = "request_id"
	KeyBackend     = "backend"
	KeyGroupID     = "group_id"
	KeyUserID      = "user_id"
	KeyModelConfig = "model_config"
	KeyTools       = "tools"
)

// CallContext is the mutable bag of ambient resources for exactly one
// Execute invocation. It also carries the call-scoped agent sub-registry, so
// concurrently running calls can never observe each other's dynamic tools.
type CallContext struct {
	values map[string]any

	// Scope and model selection inputs, set by the caller when pooling
	// applies to this call.
	Scope   modelpool.Scope
	Primary *modelpool.BackendConfig
	PoolKey string

	scopedAgent string
	scoped      *registry.Snapshot
}

// NewCallContext builds a call bag around the given initial values. The map
// is taken over by the context; pass a fresh one per call.
func NewCallContext(values map[string]any) *CallContext {
	if values == nil {
		values = make(map[string]any)
	}
	return &CallContext{values: values}
}

// Get reads a value from the bag.
func (c *CallContext) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Set writes a value, replacing any existing one.
func (c *CallContext) Set(key string, value any) {
	c.values[key] = value
}

// SetDefault writes a value only when the key is absent, so explicitly
// supplied values always win over ambient defaults. Reports whether the
// value was stored.
func (c *CallContext) SetDefault(key string, value any) bool {
	if _, ok := c.values[key]; ok {
		return false
	}
	c.values[key] = value
	return true
}

// Values exposes the underlying map for handing to a unit handler.
func (c *CallContext) Values() map[string]any {
	return c.values
}

// ScopedTools lists the dynamic tools loaded for this call's agent, if any.
func (c *CallContext) ScopedTools() []registry.Item {
	if c.scoped == nil {
		return nil
	}
	return c.scoped.Items()
}

// ResolveScoped looks a name up in this call's sub-registry.
func (c *CallContext) ResolveScoped(name string) (registry.Item, bool) {
	if c.scoped == nil {
		return registry.Item{}, false
	}
	return c.scoped.Lookup(name)
}

func (c *CallContext) publishScoped(agent string, snap *registry.Snapshot) {
	c.scopedAgent = agent
	c.scoped = snap
}

func (c *CallContext) dropScoped() {
	c.scopedAgent = ""
	c.scoped = nil
}
