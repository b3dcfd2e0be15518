package incident

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType categorizes a disaster event by failure domain
type EventType string

const (
	EventDatabaseFailure       EventType = "database_failure"
	EventServiceFailure        EventType = "service_failure"
	EventInfrastructureFailure EventType = "infrastructure_failure"
	EventDataCorruption        EventType = "data_corruption"
	EventSecurityBreach        EventType = "security_breach"
	EventComplianceViolation   EventType = "compliance_violation"
)

// Severity orders events by urgency
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// Rank returns the numeric urgency of a severity (higher is more urgent)
func (s Severity) Rank() int {
	return severityRank[s]
}

// Status is the recovery lifecycle state of an event
type Status string

const (
	StatusDetected           Status = "detected"
	StatusRecoveryInProgress Status = "recovery_in_progress"
	StatusRecovered          Status = "recovered"
	StatusManualIntervention Status = "manual_intervention_required"
)

var statusRank = map[Status]int{
	StatusDetected:           0,
	StatusRecoveryInProgress: 1,
	StatusRecovered:          2,
	StatusManualIntervention: 2,
}

// CanTransition reports whether moving from s to next is a forward transition.
// The lifecycle is strictly monotonic: detected -> recovery_in_progress ->
// {recovered | manual_intervention_required}. Terminal states never move back,
// but a manual re-trigger may flip manual_intervention_required to recovered
// (both are rank 2; resolution wins).
func (s Status) CanTransition(next Status) bool {
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nr, ok := statusRank[next]
	if !ok {
		return false
	}
	if s == StatusRecovered {
		return false
	}
	if s == StatusManualIntervention {
		return next == StatusRecovered || next == StatusManualIntervention
	}
	return nr > cur
}

// ActionType identifies a class of recovery operation
type ActionType string

const (
	ActionRollback          ActionType = "rollback"
	ActionFailover          ActionType = "failover"
	ActionRestoreBackup     ActionType = "restore_backup"
	ActionRestartService    ActionType = "restart_service"
	ActionNotifyTeam        ActionType = "notify_team"
	ActionEmergencyProtocol ActionType = "emergency_protocol"
)

// RecoveryAction records one executed recovery step. Actions are immutable
// once appended to an event.
type RecoveryAction struct {
	ActionType   ActionType `json:"action_type"`
	Description  string     `json:"description"`
	ExecutedAt   time.Time  `json:"executed_at"`
	Success      bool       `json:"success"`
	ErrorMessage string     `json:"error_message,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
}

// ImpactAssessment summarizes patient/business exposure for an event
type ImpactAssessment struct {
	AffectedSessions           int             `json:"affected_sessions"`
	CriticalOperationsAffected bool            `json:"critical_operations_affected"`
	DataLossRisk               bool            `json:"data_loss_risk"`
	EstimatedRecoveryMinutes   int             `json:"estimated_recovery_minutes"`
	EstimatedDowntimeCost      decimal.Decimal `json:"estimated_downtime_cost"`
}

// DisasterEvent is a tracked incident from detection through resolution or
// escalation. It is created by the monitor/classifier pipeline and mutated
// only by the recovery and verification engines.
type DisasterEvent struct {
	ID                  string           `json:"id"`
	EventType           EventType        `json:"event_type"`
	Severity            Severity         `json:"severity"`
	AffectedComponents  []string         `json:"affected_components"`
	DetectedAt          time.Time        `json:"detected_at"`
	RecoveryInitiatedAt *time.Time       `json:"recovery_initiated_at,omitempty"`
	RecoveryCompletedAt *time.Time       `json:"recovery_completed_at,omitempty"`
	Status              Status           `json:"status"`
	Description         string           `json:"description"`
	RecoveryActions     []RecoveryAction `json:"recovery_actions"`
	Impact              ImpactAssessment `json:"impact_assessment"`
}

// NewEvent creates a DisasterEvent in the detected state
func NewEvent(eventType EventType, severity Severity, components []string, description string) *DisasterEvent {
	return &DisasterEvent{
		ID:                 uuid.New().String(),
		EventType:          eventType,
		Severity:           severity,
		AffectedComponents: components,
		DetectedAt:         time.Now().UTC(),
		Status:             StatusDetected,
		Description:        description,
	}
}

// AdvanceStatus moves the event forward in its lifecycle. Backward
// transitions are rejected and reported to the caller.
func (e *DisasterEvent) AdvanceStatus(next Status) bool {
	if !e.Status.CanTransition(next) {
		return false
	}
	e.Status = next
	return true
}

// AppendAction records an executed recovery step. The action list is
// append-only; existing entries are never rewritten.
func (e *DisasterEvent) AppendAction(a RecoveryAction) {
	e.RecoveryActions = append(e.RecoveryActions, a)
}

// Active reports whether the event still needs orchestrator attention
func (e *DisasterEvent) Active() bool {
	return e.Status == StatusDetected || e.Status == StatusRecoveryInProgress
}

// RecoveryDuration returns elapsed time between initiation and completion,
// or zero if either endpoint is unset.
func (e *DisasterEvent) RecoveryDuration() time.Duration {
	if e.RecoveryInitiatedAt == nil || e.RecoveryCompletedAt == nil {
		return 0
	}
	return e.RecoveryCompletedAt.Sub(*e.RecoveryInitiatedAt)
}

// Clone returns a deep copy safe to hand outside the registry lock
func (e *DisasterEvent) Clone() *DisasterEvent {
	cp := *e
	cp.AffectedComponents = append([]string(nil), e.AffectedComponents...)
	cp.RecoveryActions = append([]RecoveryAction(nil), e.RecoveryActions...)
	if e.RecoveryInitiatedAt != nil {
		t := *e.RecoveryInitiatedAt
		cp.RecoveryInitiatedAt = &t
	}
	if e.RecoveryCompletedAt != nil {
		t := *e.RecoveryCompletedAt
		cp.RecoveryCompletedAt = &t
	}
	return &cp
}
