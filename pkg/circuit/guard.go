package circuit

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// State represents the guard state for one component set
type State int32

const (
	StateReady State = iota
	StateActive
	StateCooldown
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateCooldown:
		return "cooldown"
	default:
		return "unknown"
	}
}

// Guard suppresses recovery storms. A flapping component that fails,
// recovers, and fails again within the cooldown window must not spawn a new
// disaster event per tick: while a component set has an event in flight, or
// resolved one inside the window, new detections for the same set are held.
type Guard struct {
	window time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	state      State
	resolvedAt time.Time
}

// NewGuard creates a guard with the given cooldown window
func NewGuard(window time.Duration) *Guard {
	return &Guard{
		window:  window,
		entries: make(map[string]*entry),
	}
}

// Key derives the guard key for a component set. Order-insensitive so the
// same components always map to the same entry.
func Key(components []string) string {
	sorted := append([]string(nil), components...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// Allow reports whether a new event may be created for the component set.
// On true the set is marked active until Resolve is called.
func (g *Guard) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, exists := g.entries[key]
	if !exists {
		g.entries[key] = &entry{state: StateActive}
		return true
	}

	switch e.state {
	case StateActive:
		return false
	case StateCooldown:
		if time.Since(e.resolvedAt) < g.window {
			return false
		}
		e.state = StateActive
		return true
	default:
		e.state = StateActive
		return true
	}
}

// Resolve marks the component set's episode finished and starts the
// cooldown window
func (g *Guard) Resolve(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, exists := g.entries[key]
	if !exists {
		return
	}
	e.state = StateCooldown
	e.resolvedAt = time.Now()
}

// State returns the current state for a component set
func (g *Guard) State(key string) State {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, exists := g.entries[key]
	if !exists {
		return StateReady
	}
	if e.state == StateCooldown && time.Since(e.resolvedAt) >= g.window {
		return StateReady
	}
	return e.state
}

// Prune drops entries whose cooldown window has elapsed
func (g *Guard) Prune() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key, e := range g.entries {
		if e.state == StateCooldown && time.Since(e.resolvedAt) >= g.window {
			delete(g.entries, key)
		}
	}
}
