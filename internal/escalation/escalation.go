// Package escalation notifies human operators when automated recovery does
// not resolve an incident.
package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terminal-bench/vitalguard/internal/config"
	"github.com/terminal-bench/vitalguard/internal/store"
	"github.com/terminal-bench/vitalguard/pkg/incident"
	"github.com/terminal-bench/vitalguard/pkg/messaging"
)

// Notifier delivers a structured escalation payload to a recipient tier.
// Delivery failure is logged by the caller, never propagated.
type Notifier interface {
	Notify(ctx context.Context, tier string, payload messaging.EscalationPayload) error
}

// NATSNotifier publishes escalations on the per-tier subjects
type NATSNotifier struct {
	client *messaging.Client
}

func NewNATSNotifier(client *messaging.Client) *NATSNotifier {
	return &NATSNotifier{client: client}
}

func (n *NATSNotifier) Notify(ctx context.Context, tier string, payload messaging.EscalationPayload) error {
	return n.client.Publish(ctx, messaging.SubjectForTier(tier), payload)
}

// delivery is one tier notification with its computed delay
type delivery struct {
	tier  string
	delay time.Duration
}

// Escalator walks the contact tiers with severity- and domain-driven delays
type Escalator struct {
	cfg      *config.RecoveryConfiguration
	notifier Notifier
	store    store.EventStore
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewEscalator(cfg *config.RecoveryConfiguration, notifier Notifier, eventStore store.EventStore, logger *zap.Logger) *Escalator {
	return &Escalator{
		cfg:      cfg,
		notifier: notifier,
		store:    eventStore,
		logger:   logger,
	}
}

// Escalate delivers the escalation for one terminal
// manual_intervention_required transition. The caller invokes it exactly
// once per such transition; tier deliveries run asynchronously so recovery
// dispatch is never blocked on notification delays.
func (e *Escalator) Escalate(ctx context.Context, event *incident.DisasterEvent) {
	payload := messaging.EscalationPayload{
		EventID:            event.ID,
		EventType:          event.EventType,
		Severity:           event.Severity,
		AffectedComponents: event.AffectedComponents,
		Impact:             event.Impact,
		ActionCount:        len(event.RecoveryActions),
		RecoveryDurationMs: event.RecoveryDuration().Milliseconds(),
		Message: fmt.Sprintf("automated recovery exhausted for %s (%s); manual intervention required",
			event.EventType, event.Description),
		EscalatedAt: time.Now().UTC(),
	}

	schedule := e.schedule(event)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(ctx, event, payload, schedule)
	}()
}

// schedule computes the ordered tier deliveries. Compliance-relevant events
// notify the compliance tier with the shortest delay; everyone walks the
// configured tiers with increasing delay, halved for critical events.
func (e *Escalator) schedule(event *incident.DisasterEvent) []delivery {
	var schedule []delivery

	if e.complianceRelevant(event) {
		schedule = append(schedule, delivery{tier: "compliance", delay: e.cfg.Escalation.ComplianceDelay})
	}

	for _, tier := range e.cfg.Escalation.Tiers {
		delay := tier.Delay
		if event.Severity == incident.SeverityCritical {
			delay /= 2
		}
		schedule = append(schedule, delivery{tier: tier.Name, delay: delay})
	}
	return schedule
}

func (e *Escalator) complianceRelevant(event *incident.DisasterEvent) bool {
	switch event.EventType {
	case incident.EventDataCorruption, incident.EventSecurityBreach, incident.EventComplianceViolation:
		return true
	}
	return e.cfg.IsComplianceRelevant(event.AffectedComponents)
}

func (e *Escalator) deliver(ctx context.Context, event *incident.DisasterEvent,
	payload messaging.EscalationPayload, schedule []delivery) {
	start := time.Now()

	for _, d := range schedule {
		if wait := d.delay - time.Since(start); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
		}

		tierPayload := payload
		tierPayload.Tier = d.tier

		if err := e.notifier.Notify(ctx, d.tier, tierPayload); err != nil {
			e.logger.Error("escalation delivery failed",
				zap.String("event_id", event.ID),
				zap.String("tier", d.tier),
				zap.Error(err))
		} else {
			e.logger.Warn("incident escalated",
				zap.String("event_id", event.ID),
				zap.String("tier", d.tier),
				zap.String("severity", string(event.Severity)))
		}

		rec := store.EscalationRecord{
			ID:          uuid.New().String(),
			EventID:     event.ID,
			Tier:        d.tier,
			Severity:    event.Severity,
			Message:     payload.Message,
			EscalatedAt: time.Now().UTC(),
		}
		if err := e.store.RecordEscalation(ctx, rec); err != nil {
			e.logger.Error("failed to record escalation",
				zap.String("event_id", event.ID), zap.Error(err))
		}
	}
}

// Wait blocks until all pending tier deliveries have finished or their
// context was cancelled
func (e *Escalator) Wait() {
	e.wg.Wait()
}
