package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/terminal-bench/vitalguard/pkg/incident"
)

// PostgresStore persists the audit log in postgres
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Open connects to postgres and verifies the connection
func Open(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveEvent(ctx context.Context, event *incident.DisasterEvent) error {
	components, err := json.Marshal(event.AffectedComponents)
	if err != nil {
		return err
	}
	impact, err := json.Marshal(event.Impact)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO disaster_events
			(id, event_type, severity, affected_components, detected_at,
			 recovery_initiated_at, recovery_completed_at, status, description, impact)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			recovery_initiated_at = EXCLUDED.recovery_initiated_at,
			recovery_completed_at = EXCLUDED.recovery_completed_at,
			status = EXCLUDED.status,
			impact = EXCLUDED.impact`,
		event.ID, string(event.EventType), string(event.Severity), components,
		event.DetectedAt, event.RecoveryInitiatedAt, event.RecoveryCompletedAt,
		string(event.Status), event.Description, impact,
	)
	if err != nil {
		return fmt.Errorf("failed to save event %s: %w", event.ID, err)
	}
	return nil
}

func (s *PostgresStore) AppendAction(ctx context.Context, eventID string, action incident.RecoveryAction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recovery_actions
			(id, event_id, action_type, description, executed_at, success, error_message, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		uuid.New().String(), eventID, string(action.ActionType), action.Description,
		action.ExecutedAt, action.Success, action.ErrorMessage, action.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to append action for event %s: %w", eventID, err)
	}
	return nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, eventID string) (*incident.DisasterEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_type, severity, affected_components, detected_at,
		       recovery_initiated_at, recovery_completed_at, status, description, impact
		FROM disaster_events WHERE id = $1`, eventID)

	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.loadActions(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *PostgresStore) EventsSince(ctx context.Context, since time.Time) ([]*incident.DisasterEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, severity, affected_components, detected_at,
		       recovery_initiated_at, recovery_completed_at, status, description, impact
		FROM disaster_events WHERE detected_at >= $1
		ORDER BY detected_at DESC`, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*incident.DisasterEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, event := range events {
		if err := s.loadActions(ctx, event); err != nil {
			return nil, err
		}
	}
	return events, nil
}

func (s *PostgresStore) RecordEscalation(ctx context.Context, rec EscalationRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO escalations (id, event_id, tier, severity, message, escalated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.EventID, rec.Tier, string(rec.Severity), rec.Message, rec.EscalatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record escalation for event %s: %w", rec.EventID, err)
	}
	return nil
}

func (s *PostgresStore) RecordBackup(ctx context.Context, rec BackupRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO backups (backup_id, requested_by, completed_at)
		VALUES ($1, $2, $3)`,
		rec.BackupID, rec.RequestedBy, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record backup %s: %w", rec.BackupID, err)
	}
	return nil
}

func (s *PostgresStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM disaster_events WHERE detected_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	return res.RowsAffected()
}

// Close releases the underlying connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*incident.DisasterEvent, error) {
	var (
		event      incident.DisasterEvent
		eventType  string
		severity   string
		status     string
		components []byte
		impact     []byte
	)
	err := row.Scan(&event.ID, &eventType, &severity, &components, &event.DetectedAt,
		&event.RecoveryInitiatedAt, &event.RecoveryCompletedAt, &status,
		&event.Description, &impact)
	if err != nil {
		return nil, err
	}

	event.EventType = incident.EventType(eventType)
	event.Severity = incident.Severity(severity)
	event.Status = incident.Status(status)

	if err := json.Unmarshal(components, &event.AffectedComponents); err != nil {
		return nil, fmt.Errorf("malformed affected_components for event %s: %w", event.ID, err)
	}
	if err := json.Unmarshal(impact, &event.Impact); err != nil {
		return nil, fmt.Errorf("malformed impact for event %s: %w", event.ID, err)
	}
	return &event, nil
}

func (s *PostgresStore) loadActions(ctx context.Context, event *incident.DisasterEvent) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT action_type, description, executed_at, success, error_message, duration_ms
		FROM recovery_actions WHERE event_id = $1
		ORDER BY executed_at ASC`, event.ID)
	if err != nil {
		return fmt.Errorf("failed to load actions for event %s: %w", event.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			action     incident.RecoveryAction
			actionType string
		)
		if err := rows.Scan(&actionType, &action.Description, &action.ExecutedAt,
			&action.Success, &action.ErrorMessage, &action.DurationMs); err != nil {
			return err
		}
		action.ActionType = incident.ActionType(actionType)
		event.RecoveryActions = append(event.RecoveryActions, action)
	}
	return rows.Err()
}
