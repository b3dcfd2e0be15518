// Package store persists disaster events, recovery actions, escalations and
// backups for audit and historical query.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/terminal-bench/vitalguard/pkg/incident"
)

var ErrEventNotFound = errors.New("event not found")

// EscalationRecord is one escalation delivery persisted for audit
type EscalationRecord struct {
	ID          string            `json:"id"`
	EventID     string            `json:"event_id"`
	Tier        string            `json:"tier"`
	Severity    incident.Severity `json:"severity"`
	Message     string            `json:"message"`
	EscalatedAt time.Time         `json:"escalated_at"`
}

// BackupRecord is one out-of-band backup persisted for audit
type BackupRecord struct {
	BackupID    string    `json:"backup_id"`
	RequestedBy string    `json:"requested_by"`
	CompletedAt time.Time `json:"completed_at"`
}

// EventStore is the durable, append-mostly log of disaster events.
// Concurrent writers append records keyed by event id and never overwrite
// another writer's entry.
type EventStore interface {
	// SaveEvent inserts or updates the event row keyed by its id
	SaveEvent(ctx context.Context, event *incident.DisasterEvent) error
	// AppendAction appends one recovery action row for the event
	AppendAction(ctx context.Context, eventID string, action incident.RecoveryAction) error
	// GetEvent loads one event with its actions
	GetEvent(ctx context.Context, eventID string) (*incident.DisasterEvent, error)
	// EventsSince returns events detected at or after the given time
	EventsSince(ctx context.Context, since time.Time) ([]*incident.DisasterEvent, error)
	// RecordEscalation appends an escalation audit row
	RecordEscalation(ctx context.Context, rec EscalationRecord) error
	// RecordBackup appends a backup audit row
	RecordBackup(ctx context.Context, rec BackupRecord) error
	// PurgeBefore removes events older than the externally supplied
	// compliance retention boundary, returning the number removed
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
