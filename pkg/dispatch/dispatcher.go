// Package dispatch resolves call names against the registry, assembles the
// per-call ambient context and runs the unit, isolating every failure to the
// one call that caused it.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/perchbot/perch/pkg/modelpool"
	"github.com/perchbot/perch/pkg/registry"
)

// Dispatcher executes registry units. It never retries and never swallows a
// handler error: failures are logged redacted and returned to the caller,
// which decides what the end user sees.
type Dispatcher struct {
	reg         *registry.Registry
	selector    *modelpool.Selector
	poolEnabled bool
	logger      *zap.Logger
	tracer      trace.Tracer
	ambient     map[string]any
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger; the default is a nop logger.
func WithDispatcherLogger(logger *zap.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithSelector wires model-pool selection into every call that carries a
// primary backend config.
func WithSelector(selector *modelpool.Selector, globalEnabled bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.selector = selector
		d.poolEnabled = globalEnabled
	}
}

// WithAmbient sets runtime-wide ambient resources merged set-if-absent into
// every call bag.
func WithAmbient(values map[string]any) DispatcherOption {
	return func(d *Dispatcher) {
		d.ambient = values
	}
}

// NewDispatcher builds a dispatcher over reg.
func NewDispatcher(reg *registry.Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		reg:    reg,
		logger: zap.NewNop(),
		tracer: otel.Tracer("perch/dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute resolves name, prepares the call context and runs the unit.
//
// For agent units that declare a dynamic-tool directory, a call-scoped
// sub-registry is built, published on the call context and torn down when
// the call finishes, success or not. The snapshot captured at resolution
// time serves the whole call: a reload landing mid-execution is only seen by
// later calls.
func (d *Dispatcher) Execute(ctx context.Context, name string, args map[string]any, call *CallContext) (result any, err error) {
	if call == nil {
		call = NewCallContext(nil)
	}

	snap := d.reg.Current()
	item, ok := snap.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnitNotFound, name)
	}

	ctx, span := d.tracer.Start(ctx, "dispatch.execute",
		trace.WithAttributes(
			attribute.String("unit.name", name),
			attribute.String("unit.kind", string(item.Kind)),
		))
	defer span.End()

	tools := snap.Items()
	if snap.IsAgent(name) && item.DynamicToolsDir != "" {
		scoped, scanErr := d.reg.ScanDir(ctx, item.DynamicToolsDir)
		if scanErr != nil {
			return nil, fmt.Errorf("dispatch: load dynamic tools for %s: %w", name, scanErr)
		}
		call.publishScoped(name, scoped)
		defer func() {
			call.dropScoped()
			if closeErr := scoped.Close(); closeErr != nil {
				d.logger.Warn("closing scoped registry failed",
					zap.String("agent", name), zap.Error(closeErr))
			}
		}()
		tools = append(tools, scoped.Items()...)
	}

	d.merge(call, name, tools)

	start := time.Now()
	result, err = item.Execute(ctx, args, call.Values())
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("unit execution failed",
			zap.String("unit", name),
			zap.String("kind", string(item.Kind)),
			zap.Duration("elapsed", elapsed),
			zap.Any("args", redactArgs(args)),
			zap.String("error", summarize(err)))
		return nil, err
	}

	d.logger.Info("unit executed",
		zap.String("unit", name),
		zap.String("kind", string(item.Kind)),
		zap.Duration("elapsed", elapsed),
		zap.String("result", summarize(result)))
	return result, nil
}

// merge applies ambient defaults. Anything the caller placed in the bag
// explicitly stays untouched.
func (d *Dispatcher) merge(call *CallContext, name string, tools []registry.Item) {
	for key, value := range d.ambient {
		call.SetDefault(key, value)
	}
	call.SetDefault(KeyTools, tools)
	if d.selector != nil && call.Primary != nil {
		cfg := d.selector.Select(*call.Primary, call.Scope, call.PoolKey, d.poolEnabled)
		call.SetDefault(KeyModelConfig, cfg)
	}
}
