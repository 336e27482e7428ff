package modelpool

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultCompareTTL bounds how long a pending compare waits for its reply.
const DefaultCompareTTL = 300 * time.Second

// compareReply matches a "pick index N" answer, in either language the bot
// speaks.
var compareReply = regexp.MustCompile(`(?i)^\s*(?:选|pick)\s*(\d+)\s*$`)

type compareState struct {
	models  []string
	created time.Time
}

// Selector picks the backend config for one call. Selection may run from
// many concurrent execution tasks, so all mutable state sits behind one
// lock.
type Selector struct {
	mu         sync.Mutex
	rr         map[string]int
	compare    map[string]compareState
	store      *prefStore
	compareTTL time.Duration
	logger     *zap.Logger
	now        func() time.Time
	intN       func(n int) int
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithSelectorLogger sets the logger; the default is a nop logger.
func WithSelectorLogger(logger *zap.Logger) SelectorOption {
	return func(s *Selector) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCompareTTL overrides the compare-state expiry.
func WithCompareTTL(ttl time.Duration) SelectorOption {
	return func(s *Selector) {
		if ttl > 0 {
			s.compareTTL = ttl
		}
	}
}

// NewSelector loads preferences from prefsPath best-effort: a missing or
// corrupt file logs a warning and starts empty.
func NewSelector(prefsPath string, opts ...SelectorOption) *Selector {
	s := &Selector{
		rr:         make(map[string]int),
		compare:    make(map[string]compareState),
		compareTTL: DefaultCompareTTL,
		logger:     zap.NewNop(),
		now:        time.Now,
		intN:       rand.IntN,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.store = newPrefStore(prefsPath, s.logger)
	return s
}

// Select resolves the backend config for one call, per the pool's strategy.
// A disabled or empty pool, an unknown strategy, or globally disabled
// pooling all fall back to primary.
func (s *Selector) Select(primary BackendConfig, scope Scope, poolKey string, globalEnabled bool) BackendConfig {
	pool := primary.Pool
	if !globalEnabled || pool == nil || !pool.Enabled || len(pool.Members) == 0 {
		return primary
	}

	if name, ok := s.store.get(scope.key(), poolKey); ok {
		if member, live := pool.member(name); live {
			return member
		}
		// Preference survived a pool shrink; drop it and fall through.
		s.store.clear(scope.key(), poolKey)
		s.logger.Info("dropped stale model preference",
			zap.String("scope", scope.key()),
			zap.String("pool", poolKey),
			zap.String("model", name))
	}

	switch pool.Strategy {
	case StrategyRandom:
		return pool.Members[s.intN(len(pool.Members))]
	case StrategyRoundRobin:
		s.mu.Lock()
		idx := s.rr[poolKey] % len(pool.Members)
		s.rr[poolKey]++
		s.mu.Unlock()
		return pool.Members[idx]
	default:
		return primary
	}
}

// SetPreference pins (scope, poolKey) to model and persists the change.
func (s *Selector) SetPreference(scope Scope, poolKey, model string) {
	s.store.set(scope.key(), poolKey, model)
}

// ClearPreference removes the pin for (scope, poolKey) and persists.
func (s *Selector) ClearPreference(scope Scope, poolKey string) {
	s.store.clear(scope.key(), poolKey)
}

// Preference reports the pinned model for (scope, poolKey), if any.
func (s *Selector) Preference(scope Scope, poolKey string) (string, bool) {
	return s.store.get(scope.key(), poolKey)
}

// SetPendingCompare records an ordered candidate list awaiting the user's
// "pick N" reply. It replaces any earlier pending compare for the scope.
func (s *Selector) SetPendingCompare(scope Scope, models []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compare[scope.key()] = compareState{
		models:  append([]string(nil), models...),
		created: s.now(),
	}
}

// TryResolveCompare consumes the pending compare for scope when text is a
// valid "pick index N" reply. Expired state is discarded first; an expired
// or absent compare, a non-matching text, or an out-of-range index all
// resolve to no match.
func (s *Selector) TryResolveCompare(scope Scope, text string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.compare[scope.key()]
	if !ok {
		return "", false
	}
	if s.now().Sub(state.created) > s.compareTTL {
		delete(s.compare, scope.key())
		return "", false
	}

	m := compareReply.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 1 || n > len(state.models) {
		return "", false
	}

	delete(s.compare, scope.key())
	return state.models[n-1], true
}
