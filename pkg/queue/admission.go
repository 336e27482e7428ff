// Package queue is the front door of the runtime: per-backend priority lanes
// drained at a fixed cadence by one scheduler loop per backend name.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultInterval is the tick cadence used until a backend overrides it.
	DefaultInterval = time.Second
	// DefaultNormalCap triggers trimming of the group_normal lane.
	DefaultNormalCap = 10
	// DefaultNormalKeep is the lane depth left behind by a trim.
	DefaultNormalKeep = 2
	// DefaultStreakCap bounds consecutive takes from one lane.
	DefaultStreakCap = 2
)

// Admission fans incoming requests out to per-backend lane groups, creating
// a group and starting its scheduler loop the first time a backend name is
// seen. Enqueue never blocks and never fails.
type Admission struct {
	mu     sync.RWMutex
	groups map[string]*group

	dispatch   DispatchFunc
	logger     *zap.Logger
	interval   time.Duration
	normalCap  int
	normalKeep int
	streakCap  int
}

// Option configures an Admission.
type Option func(*Admission)

// WithLogger sets the logger; the default is a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Admission) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithDefaultInterval overrides the initial tick cadence for new backends.
func WithDefaultInterval(d time.Duration) Option {
	return func(a *Admission) {
		if d > 0 {
			a.interval = d
		}
	}
}

// WithNormalLaneBounds overrides the group_normal trim threshold and the
// depth a trim leaves behind.
func WithNormalLaneBounds(cap, keep int) Option {
	return func(a *Admission) {
		if cap > 0 {
			a.normalCap = cap
		}
		if keep > 0 {
			a.normalKeep = keep
		}
	}
}

// WithStreakCap overrides the anti-starvation cap.
func WithStreakCap(m int) Option {
	return func(a *Admission) {
		if m > 0 {
			a.streakCap = m
		}
	}
}

// NewAdmission builds the front door around a dispatch callback.
func NewAdmission(dispatch DispatchFunc, opts ...Option) *Admission {
	a := &Admission{
		groups:     make(map[string]*group),
		dispatch:   dispatch,
		logger:     zap.NewNop(),
		interval:   DefaultInterval,
		normalCap:  DefaultNormalCap,
		normalKeep: DefaultNormalKeep,
		streakCap:  DefaultStreakCap,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Enqueue places e on the given lane of the named backend. The group_normal
// lane is trimmed before insert; all other lanes grow without bound.
func (a *Admission) Enqueue(lane Lane, backend string, e Entry) {
	if lane < 0 || lane >= laneCount {
		a.logger.Warn("enqueue on unknown lane dropped", zap.Int("lane", int(lane)), zap.String("backend", backend))
		return
	}
	if e.RequestID == "" {
		e.RequestID = uuid.NewString()
	}
	if e.EnqueuedAt.IsZero() {
		e.EnqueuedAt = time.Now()
	}

	g := a.groupFor(backend)
	if lane == LaneGroupNormal {
		if dropped := g.lanes[lane].pushTrimmed(e, a.normalCap, a.normalKeep); dropped > 0 {
			a.logger.Info("trimmed group_normal lane",
				zap.String("backend", backend),
				zap.Int("dropped", dropped))
		}
		return
	}
	g.lanes[lane].push(e)
}

// EnqueueSuperadmin admits a superadmin request for backend.
func (a *Admission) EnqueueSuperadmin(backend string, e Entry) {
	a.Enqueue(LaneSuperadmin, backend, e)
}

// EnqueuePrivate admits a private-chat request for backend.
func (a *Admission) EnqueuePrivate(backend string, e Entry) {
	a.Enqueue(LanePrivate, backend, e)
}

// EnqueueGroupMention admits a group request that mentioned the bot.
func (a *Admission) EnqueueGroupMention(backend string, e Entry) {
	a.Enqueue(LaneGroupMention, backend, e)
}

// EnqueueGroupNormal admits an ordinary group request, shedding old ones
// when the lane is over its cap.
func (a *Admission) EnqueueGroupNormal(backend string, e Entry) {
	a.Enqueue(LaneGroupNormal, backend, e)
}

// groupFor returns the lane group for backend, creating it and starting its
// scheduler loop on first use.
func (a *Admission) groupFor(backend string) *group {
	a.mu.RLock()
	g, ok := a.groups[backend]
	a.mu.RUnlock()
	if ok {
		return g
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if g, ok = a.groups[backend]; ok {
		return g
	}
	g = newGroup(backend, a.interval, a.streakCap, a.dispatch, a.logger)
	a.groups[backend] = g
	go g.run()
	a.logger.Info("started scheduler for backend",
		zap.String("backend", backend),
		zap.Duration("interval", a.interval))
	return g
}

// UpdateIntervals hot-applies new tick cadences. Backends that have no group
// yet are remembered implicitly: their group picks up the default, so only
// live groups are touched here.
func (a *Admission) UpdateIntervals(intervals map[string]time.Duration) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for backend, d := range intervals {
		g, ok := a.groups[backend]
		if !ok {
			continue
		}
		g.setInterval(d)
		a.logger.Info("updated scheduler interval",
			zap.String("backend", backend),
			zap.Duration("interval", d))
	}
}

// Status reports current lane depths for backend. Unknown backends report
// zero depth on every lane.
func (a *Admission) Status(backend string) map[string]int {
	a.mu.RLock()
	g, ok := a.groups[backend]
	a.mu.RUnlock()
	if !ok {
		out := make(map[string]int, laneCount)
		for i := 0; i < laneCount; i++ {
			out[Lane(i).String()] = 0
		}
		return out
	}
	return g.depths()
}

// Backends lists the backend names with a live scheduler loop.
func (a *Admission) Backends() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.groups))
	for name := range a.groups {
		names = append(names, name)
	}
	return names
}

// Shutdown signals every scheduler loop to stop and waits for them to exit.
// Spawned handler executions are fire-and-forget and are not awaited.
func (a *Admission) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	groups := make([]*group, 0, len(a.groups))
	for _, g := range a.groups {
		groups = append(groups, g)
	}
	a.groups = make(map[string]*group)
	a.mu.Unlock()

	for _, g := range groups {
		close(g.stop)
	}
	for _, g := range groups {
		select {
		case <-g.done:
		case <-ctx.Done():
			return fmt.Errorf("queue: shutdown wait for %s: %w", g.backend, ctx.Err())
		}
	}
	return nil
}
