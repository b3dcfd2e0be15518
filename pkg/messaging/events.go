package messaging

import (
	"time"

	"github.com/terminal-bench/vitalguard/pkg/incident"
)

// Subjects published by the orchestrator
const (
	SubjectEventDetected    = "dr.events.detected"
	SubjectEventRecovered   = "dr.events.recovered"
	SubjectEventEscalated   = "dr.events.escalated"
	SubjectActionExecuted   = "dr.actions.executed"
	SubjectBackupCompleted  = "dr.backups.completed"
	SubjectEscalationPrefix = "dr.escalations." // + tier name
)

// SubjectCommandTrigger carries operator requests to re-run recovery for
// an escalated event. Consumed with a queue group so one replica acts.
const SubjectCommandTrigger = "dr.commands.trigger"

// SubjectForTier returns the delivery subject for an escalation tier
func SubjectForTier(tier string) string {
	return SubjectEscalationPrefix + tier
}

// EventNotice announces an event lifecycle change on the bus
type EventNotice struct {
	EventID            string             `json:"event_id"`
	EventType          incident.EventType `json:"event_type"`
	Severity           incident.Severity  `json:"severity"`
	Status             incident.Status    `json:"status"`
	AffectedComponents []string           `json:"affected_components"`
	Description        string             `json:"description"`
	Timestamp          time.Time          `json:"timestamp"`
}

// EscalationPayload is what on-call humans receive when automated recovery
// did not resolve an incident
type EscalationPayload struct {
	EventID            string                    `json:"event_id"`
	EventType          incident.EventType        `json:"event_type"`
	Severity           incident.Severity         `json:"severity"`
	Tier               string                    `json:"tier"`
	AffectedComponents []string                  `json:"affected_components"`
	Impact             incident.ImpactAssessment `json:"impact_assessment"`
	ActionCount        int                       `json:"action_count"`
	RecoveryDurationMs int64                     `json:"recovery_duration_ms"`
	Message            string                    `json:"message"`
	EscalatedAt        time.Time                 `json:"escalated_at"`
}

// ActionNotice reports a single executed recovery action
type ActionNotice struct {
	EventID string                  `json:"event_id"`
	Action  incident.RecoveryAction `json:"action"`
}

// TriggerCommand asks the orchestrator to re-run recovery for an event
type TriggerCommand struct {
	EventID     string `json:"event_id"`
	RequestedBy string `json:"requested_by"`
}

// BackupNotice reports completion of an out-of-band backup
type BackupNotice struct {
	BackupID    string    `json:"backup_id"`
	RequestedBy string    `json:"requested_by"`
	CompletedAt time.Time `json:"completed_at"`
}
