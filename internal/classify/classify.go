// Package classify maps probe failures to disaster categories and computes
// impact assessments.
package classify

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/terminal-bench/vitalguard/internal/config"
	"github.com/terminal-bench/vitalguard/internal/probes"
	"github.com/terminal-bench/vitalguard/internal/sessions"
	"github.com/terminal-bench/vitalguard/pkg/incident"
)

// Classification is the classifier's verdict for one probe failure
type Classification struct {
	EventType          incident.EventType
	Severity           incident.Severity
	AffectedComponents []string
	Description        string
}

// Classifier is a pure function over configuration; it holds no mutable state
type Classifier struct {
	cfg *config.RecoveryConfiguration
}

func NewClassifier(cfg *config.RecoveryConfiguration) *Classifier {
	return &Classifier{cfg: cfg}
}

// Classify maps a failing probe to event type, severity and affected
// components. Severity precedence:
//  1. database / data_integrity domains are critical
//  2. emergency-critical components are critical, whatever the domain
//  3. infrastructure is high
//  4. remaining service failures are medium
func (c *Classifier) Classify(failure probes.Failure) Classification {
	components := c.cfg.ComponentsFor(failure.Domain)
	if failure.Domain == probes.DomainService && failure.Probe != "" {
		components = []string{failure.Probe}
	}

	var eventType incident.EventType
	var severity incident.Severity

	switch failure.Domain {
	case probes.DomainDatabase:
		eventType = incident.EventDatabaseFailure
		severity = incident.SeverityCritical
	case probes.DomainDataIntegrity:
		eventType = incident.EventDataCorruption
		severity = incident.SeverityCritical
	case probes.DomainSecurity:
		eventType = incident.EventSecurityBreach
		severity = incident.SeverityCritical
	case probes.DomainCompliance:
		eventType = incident.EventComplianceViolation
		severity = incident.SeverityCritical
	case probes.DomainInfrastructure:
		eventType = incident.EventInfrastructureFailure
		severity = incident.SeverityHigh
	default:
		eventType = incident.EventServiceFailure
		severity = incident.SeverityMedium
	}

	// Emergency-critical components force critical regardless of domain
	if c.cfg.IsEmergencyCritical(components) {
		severity = incident.SeverityCritical
	}

	return Classification{
		EventType:          eventType,
		Severity:           severity,
		AffectedComponents: components,
		Description:        fmt.Sprintf("%s probe %q failed: %v", failure.Domain, failure.Probe, failure.Err),
	}
}

// Assessor computes the patient/business impact summary for an event
type Assessor struct {
	cfg        *config.RecoveryConfiguration
	counter    sessions.Counter
	costPerMin decimal.Decimal
	logger     *zap.Logger
}

func NewAssessor(cfg *config.RecoveryConfiguration, counter sessions.Counter, logger *zap.Logger) *Assessor {
	cost, err := decimal.NewFromString(cfg.DowntimeCostPerMinute)
	if err != nil {
		logger.Warn("invalid downtime_cost_per_minute, using zero",
			zap.String("value", cfg.DowntimeCostPerMinute))
		cost = decimal.Zero
	}
	return &Assessor{cfg: cfg, counter: counter, costPerMin: cost, logger: logger}
}

// Assess queries the live session count and combines it with the configured
// priorities. A session-count failure degrades to zero rather than blocking
// event creation.
func (a *Assessor) Assess(ctx context.Context, eventType incident.EventType, components []string) incident.ImpactAssessment {
	active, err := a.counter.Active(ctx)
	if err != nil {
		a.logger.Warn("live session count unavailable", zap.Error(err))
		active = 0
	}

	dataLossRisk := eventType == incident.EventDatabaseFailure ||
		eventType == incident.EventDataCorruption ||
		eventType == incident.EventSecurityBreach

	rto := a.cfg.Objectives.RTOMinutes

	return incident.ImpactAssessment{
		AffectedSessions:           active,
		CriticalOperationsAffected: a.cfg.IsEmergencyCritical(components),
		DataLossRisk:               dataLossRisk,
		EstimatedRecoveryMinutes:   rto,
		EstimatedDowntimeCost:      a.costPerMin.Mul(decimal.NewFromInt(int64(rto))),
	}
}
