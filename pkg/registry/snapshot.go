package registry

import (
	"sort"
	"time"
)

// Snapshot is an immutable view of the unit set. It is fully built before
// being published and never mutated afterwards, so readers may hold one
// across a reload without synchronization.
type Snapshot struct {
	version uint64
	builtAt time.Time
	items   map[string]Item
	agents  map[string]struct{}
	fp      Fingerprint
	closers []func() error
}

func newSnapshot(version uint64, items []Item, fp Fingerprint, closers []func() error) *Snapshot {
	s := &Snapshot{
		version: version,
		builtAt: time.Now(),
		items:   make(map[string]Item, len(items)),
		agents:  make(map[string]struct{}),
		fp:      fp,
		closers: closers,
	}
	for _, it := range items {
		s.items[it.Name] = it
		if it.Kind == KindAgent {
			s.agents[it.Name] = struct{}{}
		}
	}
	return s
}

// Version is a monotonically increasing reload counter.
func (s *Snapshot) Version() uint64 { return s.version }

// BuiltAt reports when the snapshot finished building.
func (s *Snapshot) BuiltAt() time.Time { return s.builtAt }

// Len returns the number of units.
func (s *Snapshot) Len() int { return len(s.items) }

// Lookup resolves a unit by name.
func (s *Snapshot) Lookup(name string) (Item, bool) {
	it, ok := s.items[name]
	return it, ok
}

// IsAgent reports whether name is registered as an agent.
func (s *Snapshot) IsAgent(name string) bool {
	_, ok := s.agents[name]
	return ok
}

// Items returns all units sorted by name.
func (s *Snapshot) Items() []Item {
	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close releases resources owned by the snapshot's units, such as MCP client
// sessions. Call it only once no execution can still hold the snapshot.
func (s *Snapshot) Close() error {
	var firstErr error
	for _, closer := range s.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Snapshot) fingerprint() Fingerprint { return s.fp }
