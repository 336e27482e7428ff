package queue

import (
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DispatchFunc receives one admitted entry. The scheduler invokes it on an
// independent goroutine and never waits for it to return; blocking inside a
// handler therefore delays nothing but that handler.
type DispatchFunc func(backend string, lane Lane, e Entry)

// group owns the four lanes for one backend name plus the loop that drains
// them. Created lazily on first enqueue, lives for process lifetime.
type group struct {
	backend  string
	lanes    [laneCount]*fifo
	dispatch DispatchFunc
	logger   *zap.Logger

	// interval holds the tick cadence in nanoseconds so it can be swapped
	// at runtime without restarting the loop.
	interval atomic.Int64

	// cursor, streak and lastLane belong to the scheduler goroutine only.
	cursor    int
	streak    int
	lastLane  int
	streakCap int
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
}

func newGroup(backend string, interval time.Duration, streakCap int, dispatch DispatchFunc, logger *zap.Logger) *group {
	g := &group{
		backend:   backend,
		dispatch:  dispatch,
		logger:    logger,
		lastLane:  -1,
		streakCap: streakCap,
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for i := range g.lanes {
		g.lanes[i] = &fifo{}
	}
	g.interval.Store(int64(interval))
	return g
}

func (g *group) setInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	g.interval.Store(int64(d))
	// Nudge a sleeping loop so a shorter cadence applies now, not after the
	// old interval elapses.
	select {
	case g.wake <- struct{}{}:
	default:
	}
}

// run drains the lanes at a fixed cadence until stop is closed. Tick period
// is measured tick-start to tick-start, so slow handlers never stretch it.
// In-flight dispatches are not tracked; there is no upper bound on
// concurrently running handlers for one backend beyond the cadence itself.
func (g *group) run() {
	defer close(g.done)
	g.logger.Debug("scheduler loop started", zap.String("backend", g.backend))
	lastTick := time.Now()
	for {
		delay := time.Until(lastTick.Add(time.Duration(g.interval.Load())))
		if delay < 0 {
			delay = 0
		}
		select {
		case <-g.stop:
			g.logger.Debug("scheduler loop stopped", zap.String("backend", g.backend))
			return
		case <-g.wake:
			continue
		case <-time.After(delay):
		}

		lastTick = time.Now()
		if e, lane, ok := g.next(); ok {
			go g.safeDispatch(lane, e)
		}
	}
}

// next scans the lanes round-robin from the rotating cursor and pops the
// first non-empty one. After streakCap consecutive takes from the same lane
// the cursor is forced past it, so no lane can monopolize the loop while
// another has work.
func (g *group) next() (Entry, Lane, bool) {
	for i := 0; i < laneCount; i++ {
		idx := (g.cursor + i) % laneCount
		e, ok := g.lanes[idx].pop()
		if !ok {
			continue
		}
		if idx == g.lastLane {
			g.streak++
		} else {
			g.lastLane = idx
			g.streak = 1
		}
		if g.streak >= g.streakCap {
			g.cursor = (idx + 1) % laneCount
			g.streak = 0
			g.lastLane = -1
		} else {
			g.cursor = idx
		}
		return e, Lane(idx), true
	}
	return Entry{}, 0, false
}

// safeDispatch shields the process from a panicking handler. The scheduler
// has already moved on; all we owe the entry is a log line.
func (g *group) safeDispatch(lane Lane, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("dispatch panicked",
				zap.String("backend", g.backend),
				zap.Stringer("lane", lane),
				zap.String("request_id", e.RequestID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	g.dispatch(g.backend, lane, e)
}

func (g *group) depths() map[string]int {
	out := make(map[string]int, laneCount)
	for i, lane := range g.lanes {
		out[Lane(i).String()] = lane.len()
	}
	return out
}
