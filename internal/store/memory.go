package store

import (
	"context"
	"sync"
	"time"

	"github.com/terminal-bench/vitalguard/pkg/incident"
)

// MemoryStore is an in-process EventStore used in tests and when no
// database is configured
type MemoryStore struct {
	mu          sync.RWMutex
	events      map[string]*incident.DisasterEvent
	actions     map[string][]incident.RecoveryAction
	escalations []EscalationRecord
	backups     []BackupRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:  make(map[string]*incident.DisasterEvent),
		actions: make(map[string][]incident.RecoveryAction),
	}
}

func (s *MemoryStore) SaveEvent(ctx context.Context, event *incident.DisasterEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event.Clone()
	return nil
}

func (s *MemoryStore) AppendAction(ctx context.Context, eventID string, action incident.RecoveryAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[eventID] = append(s.actions[eventID], action)
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, eventID string) (*incident.DisasterEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	cp := event.Clone()
	cp.RecoveryActions = append([]incident.RecoveryAction(nil), s.actions[eventID]...)
	return cp, nil
}

func (s *MemoryStore) EventsSince(ctx context.Context, since time.Time) ([]*incident.DisasterEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*incident.DisasterEvent
	for id, event := range s.events {
		if event.DetectedAt.Before(since) {
			continue
		}
		cp := event.Clone()
		cp.RecoveryActions = append([]incident.RecoveryAction(nil), s.actions[id]...)
		events = append(events, cp)
	}
	return events, nil
}

func (s *MemoryStore) RecordEscalation(ctx context.Context, rec EscalationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.escalations = append(s.escalations, rec)
	return nil
}

func (s *MemoryStore) RecordBackup(ctx context.Context, rec BackupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backups = append(s.backups, rec)
	return nil
}

func (s *MemoryStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var purged int64
	for id, event := range s.events {
		if event.DetectedAt.Before(cutoff) {
			delete(s.events, id)
			delete(s.actions, id)
			purged++
		}
	}
	return purged, nil
}

// Escalations returns a copy of the recorded escalations
func (s *MemoryStore) Escalations() []EscalationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]EscalationRecord(nil), s.escalations...)
}

// Backups returns a copy of the recorded backups
func (s *MemoryStore) Backups() []BackupRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]BackupRecord(nil), s.backups...)
}
