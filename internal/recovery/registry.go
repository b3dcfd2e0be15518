package recovery

import (
	"sync"

	"github.com/terminal-bench/vitalguard/pkg/incident"
)

// Registry is the single owner of in-flight disaster events. The monitor
// pipeline creates entries and the engine updates them, so every access
// goes through the mutex; callers only ever see clones.
type Registry struct {
	mu       sync.RWMutex
	events   map[string]*incident.DisasterEvent
	inflight map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		events:   make(map[string]*incident.DisasterEvent),
		inflight: make(map[string]bool),
	}
}

// Add registers a newly created event
func (r *Registry) Add(event *incident.DisasterEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event.ID] = event
}

// Get returns a clone of the event, or nil if unknown
func (r *Registry) Get(eventID string) *incident.DisasterEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[eventID]
	if !ok {
		return nil
	}
	return event.Clone()
}

// Update applies fn to the event under the registry lock and returns a
// clone of the result. Returns nil if the event is unknown.
func (r *Registry) Update(eventID string, fn func(*incident.DisasterEvent)) *incident.DisasterEvent {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, ok := r.events[eventID]
	if !ok {
		return nil
	}
	fn(event)
	return event.Clone()
}

// Active returns clones of all events still needing attention, including
// unresolved escalated ones still held in the registry
func (r *Registry) Active() []*incident.DisasterEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var active []*incident.DisasterEvent
	for _, event := range r.events {
		if event.Active() || event.Status == incident.StatusManualIntervention {
			active = append(active, event.Clone())
		}
	}
	return active
}

// Resolved returns clones of events that reached the recovered state and no
// longer need a registry entry
func (r *Registry) Resolved() []*incident.DisasterEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var resolved []*incident.DisasterEvent
	for _, event := range r.events {
		if event.Status == incident.StatusRecovered {
			resolved = append(resolved, event.Clone())
		}
	}
	return resolved
}

// MarkInFlight claims the single recovery slot for an event. It returns
// false when a chain is already running, guaranteeing no two concurrent
// chains for the same event id.
func (r *Registry) MarkInFlight(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.inflight[eventID] {
		return false
	}
	r.inflight[eventID] = true
	return true
}

// ClearInFlight releases the recovery slot
func (r *Registry) ClearInFlight(eventID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, eventID)
}

// Remove drops a resolved event from the registry. The store remains the
// durable record.
func (r *Registry) Remove(eventID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.events, eventID)
	delete(r.inflight, eventID)
}
