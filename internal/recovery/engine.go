// Package recovery executes ordered fallback chains for disaster events and
// verifies resolution afterwards.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/terminal-bench/vitalguard/internal/config"
	"github.com/terminal-bench/vitalguard/internal/ops"
	"github.com/terminal-bench/vitalguard/internal/store"
	"github.com/terminal-bench/vitalguard/internal/telemetry"
	"github.com/terminal-bench/vitalguard/pkg/incident"
	"github.com/terminal-bench/vitalguard/pkg/messaging"
)

var (
	ErrRecoveryInFlight = errors.New("recovery already in flight for event")
	ErrUnknownEvent     = errors.New("unknown event")
)

var (
	actionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dr_recovery_actions_total",
		Help: "Total recovery actions executed, by type and outcome",
	}, []string{"action", "outcome"})

	actionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dr_recovery_action_duration_seconds",
		Help:    "Duration of individual recovery actions",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
	}, []string{"action"})

	recoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dr_recoveries_total",
		Help: "Completed recovery attempts, by event type and outcome",
	}, []string{"event_type", "outcome"})
)

// actionTimeout bounds each external operation invocation
const actionTimeout = 2 * time.Minute

// step is one link of a fallback chain
type step struct {
	actionType  incident.ActionType
	description string
	run         func(ctx context.Context) error
}

// Engine drives the per-domain recovery strategy for a disaster event
type Engine struct {
	cfg      *config.RecoveryConfiguration
	ops      ops.Interface
	registry *Registry
	store    store.EventStore
	verifier *Verifier
	recorder telemetry.Recorder
	logger   *zap.Logger

	// actionSink, when set, receives an audit notice for every executed
	// action. Set before the first Run; not guarded.
	actionSink func(messaging.ActionNotice)
}

// SetActionSink registers the per-action audit receiver
func (e *Engine) SetActionSink(sink func(messaging.ActionNotice)) {
	e.actionSink = sink
}

func NewEngine(cfg *config.RecoveryConfiguration, opsIface ops.Interface, registry *Registry,
	eventStore store.EventStore, verifier *Verifier, recorder telemetry.Recorder, logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		ops:      opsIface,
		registry: registry,
		store:    eventStore,
		verifier: verifier,
		recorder: recorder,
		logger:   logger,
	}
}

// Run executes the fallback chain for the event, then verifies and
// finalizes its status. Exactly one chain may run per event id; a second
// call while one is in flight returns ErrRecoveryInFlight. Run never
// resets prior actions: a manual re-trigger appends to the existing list.
func (e *Engine) Run(ctx context.Context, eventID string) (*incident.DisasterEvent, error) {
	snapshot := e.registry.Get(eventID)
	if snapshot == nil {
		return nil, ErrUnknownEvent
	}

	if !e.registry.MarkInFlight(eventID) {
		return nil, ErrRecoveryInFlight
	}
	defer e.registry.ClearInFlight(eventID)

	now := time.Now().UTC()
	updated := e.registry.Update(eventID, func(ev *incident.DisasterEvent) {
		if ev.RecoveryInitiatedAt == nil {
			ev.RecoveryInitiatedAt = &now
		}
		ev.AdvanceStatus(incident.StatusRecoveryInProgress)
	})
	if updated != nil {
		e.persist(ctx, updated)
	}

	e.logger.Info("recovery chain starting",
		zap.String("event_id", eventID),
		zap.String("event_type", string(snapshot.EventType)),
		zap.String("severity", string(snapshot.Severity)))

	e.executeChain(ctx, snapshot)

	final := e.finalize(ctx, eventID)
	return final, nil
}

// executeChain runs the domain-specific chain. All chains are finite; once
// exhausted the verification step decides the outcome.
func (e *Engine) executeChain(ctx context.Context, event *incident.DisasterEvent) {
	switch event.EventType {
	case incident.EventDatabaseFailure:
		e.runStopOnSuccess(ctx, event.ID, e.databaseChain())
	case incident.EventServiceFailure:
		// Each affected service gets its own stop-on-success chain
		for _, service := range event.AffectedComponents {
			e.runStopOnSuccess(ctx, event.ID, e.serviceChain(service))
		}
	case incident.EventInfrastructureFailure:
		e.runStopOnSuccess(ctx, event.ID, e.infrastructureChain())
	case incident.EventDataCorruption:
		// Fixed sequence: every step is a precondition for the next, so all
		// four always run and are recorded regardless of individual outcomes
		e.runFixedSequence(ctx, event.ID, e.corruptionChain(event.AffectedComponents))
	case incident.EventSecurityBreach, incident.EventComplianceViolation:
		e.runFixedSequence(ctx, event.ID, e.containmentChain(event.AffectedComponents))
	default:
		e.logger.Error("no recovery strategy for event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.EventType)))
	}
}

func (e *Engine) databaseChain() []step {
	strategy := e.cfg.StrategyFor("database")

	chain := []step{{
		actionType:  incident.ActionRestartService,
		description: "reconnect to primary database",
		run:         e.ops.ReconnectDatabase,
	}}

	if strategy.FailoverEnabled {
		replica := ""
		if len(strategy.ReplicaEndpoints) > 0 {
			replica = strategy.ReplicaEndpoints[0]
		}
		chain = append(chain, step{
			actionType:  incident.ActionFailover,
			description: fmt.Sprintf("failover to replica %s", replica),
			run: func(ctx context.Context) error {
				return e.ops.FailoverDatabase(ctx, replica)
			},
		})
	}

	chain = append(chain, step{
		actionType:  incident.ActionRestoreBackup,
		description: "restore latest backup",
		run: func(ctx context.Context) error {
			return e.ops.RestoreBackup(ctx, "latest")
		},
	})
	return chain
}

func (e *Engine) serviceChain(service string) []step {
	strategy := e.cfg.StrategyFor("service")
	level := strategy.DegradationLevel
	if level == "" {
		level = "reduced"
	}

	return []step{
		{
			actionType:  incident.ActionRestartService,
			description: fmt.Sprintf("restart service %s", service),
			run: func(ctx context.Context) error {
				return e.ops.RestartService(ctx, service)
			},
		},
		{
			actionType:  incident.ActionRollback,
			description: fmt.Sprintf("rollback service %s to previous version", service),
			run: func(ctx context.Context) error {
				return e.ops.RollbackService(ctx, service)
			},
		},
		{
			actionType:  incident.ActionEmergencyProtocol,
			description: fmt.Sprintf("enable graceful degradation of %s at level %s", service, level),
			run: func(ctx context.Context) error {
				return e.ops.EnableDegradation(ctx, service, level)
			},
		},
	}
}

func (e *Engine) infrastructureChain() []step {
	strategy := e.cfg.StrategyFor("infrastructure")

	return []step{
		{
			actionType:  incident.ActionFailover,
			description: "switch load balancer to standby group",
			run: func(ctx context.Context) error {
				return e.ops.SwitchLoadBalancer(ctx, strategy.LoadBalancerGroup)
			},
		},
		{
			actionType:  incident.ActionFailover,
			description: "activate CDN backup regions",
			run: func(ctx context.Context) error {
				var firstErr error
				regions := strategy.CDNBackupRegions
				if len(regions) == 0 {
					regions = []string{"default"}
				}
				for _, region := range regions {
					if err := e.ops.ActivateCDNRegion(ctx, region); err != nil && firstErr == nil {
						firstErr = err
					}
				}
				return firstErr
			},
		},
		{
			actionType:  incident.ActionEmergencyProtocol,
			description: "trigger emergency autoscale",
			run: func(ctx context.Context) error {
				return e.ops.TriggerAutoscale(ctx, strategy.AutoscaleGroup)
			},
		},
	}
}

func (e *Engine) corruptionChain(components []string) []step {
	return []step{
		{
			actionType:  incident.ActionEmergencyProtocol,
			description: "stop affected services",
			run: func(ctx context.Context) error {
				var firstErr error
				for _, c := range components {
					if err := e.ops.StopService(ctx, c); err != nil && firstErr == nil {
						firstErr = err
					}
				}
				return firstErr
			},
		},
		{
			actionType:  incident.ActionRestoreBackup,
			description: "restore from last verified-clean backup",
			run: func(ctx context.Context) error {
				return e.ops.RestoreBackup(ctx, "clean")
			},
		},
		{
			actionType:  incident.ActionEmergencyProtocol,
			description: "verify data integrity after restore",
			run:         e.ops.VerifyIntegrity,
		},
		{
			actionType:  incident.ActionRestartService,
			description: "restart affected services",
			run: func(ctx context.Context) error {
				var firstErr error
				for _, c := range components {
					if err := e.ops.StartService(ctx, c); err != nil && firstErr == nil {
						firstErr = err
					}
				}
				return firstErr
			},
		},
	}
}

func (e *Engine) containmentChain(components []string) []step {
	return []step{{
		actionType:  incident.ActionEmergencyProtocol,
		description: "isolate affected components and engage safety protocols",
		run: func(ctx context.Context) error {
			var firstErr error
			for _, c := range components {
				if err := e.ops.IsolateComponent(ctx, c); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		},
	}}
}

// runStopOnSuccess executes steps in order, stopping at the first success.
// Every attempt, successful or not, is recorded.
func (e *Engine) runStopOnSuccess(ctx context.Context, eventID string, chain []step) bool {
	for _, s := range chain {
		action := e.runAction(ctx, eventID, s)
		if action.Success {
			return true
		}
	}
	return false
}

// runFixedSequence executes every step regardless of individual outcomes
func (e *Engine) runFixedSequence(ctx context.Context, eventID string, chain []step) bool {
	allOK := true
	for _, s := range chain {
		action := e.runAction(ctx, eventID, s)
		if !action.Success {
			allOK = false
		}
	}
	return allOK
}

// runAction uniformly wraps one external operation: timestamps, bounded
// context, panic/error capture and audit-trail append. No error or panic
// escapes past this wrapper.
func (e *Engine) runAction(ctx context.Context, eventID string, s step) incident.RecoveryAction {
	start := time.Now().UTC()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("recovery action panicked: %v", r)
			}
		}()
		actx, cancel := context.WithTimeout(ctx, actionTimeout)
		defer cancel()
		return s.run(actx)
	}()

	action := incident.RecoveryAction{
		ActionType:  s.actionType,
		Description: s.description,
		ExecutedAt:  start,
		Success:     err == nil,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		action.ErrorMessage = err.Error()
	}

	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	actionsTotal.WithLabelValues(string(s.actionType), outcome).Inc()
	actionDuration.WithLabelValues(string(s.actionType)).Observe(time.Since(start).Seconds())

	e.logger.Info("recovery action executed",
		zap.String("event_id", eventID),
		zap.String("action", string(s.actionType)),
		zap.String("description", s.description),
		zap.Bool("success", action.Success),
		zap.Int64("duration_ms", action.DurationMs),
		zap.String("error", action.ErrorMessage))

	e.registry.Update(eventID, func(ev *incident.DisasterEvent) {
		ev.AppendAction(action)
	})
	if err := e.store.AppendAction(ctx, eventID, action); err != nil {
		e.logger.Error("failed to persist recovery action",
			zap.String("event_id", eventID), zap.Error(err))
	}
	if e.actionSink != nil {
		e.actionSink(messaging.ActionNotice{EventID: eventID, Action: action})
	}

	return action
}

// finalize waits the settle period, re-runs the relevant probes and
// advances the event to its terminal status
func (e *Engine) finalize(ctx context.Context, eventID string) *incident.DisasterEvent {
	snapshot := e.registry.Get(eventID)
	if snapshot == nil {
		return nil
	}

	resolved := e.verifier.Verify(ctx, snapshot)

	terminal := incident.StatusManualIntervention
	if resolved {
		terminal = incident.StatusRecovered
	}

	now := time.Now().UTC()
	final := e.registry.Update(eventID, func(ev *incident.DisasterEvent) {
		ev.RecoveryCompletedAt = &now
		ev.AdvanceStatus(terminal)
	})
	if final == nil {
		return nil
	}

	e.persist(ctx, final)

	recoveriesTotal.WithLabelValues(string(final.EventType), string(terminal)).Inc()
	e.recorder.RecoveryOutcome(string(final.EventType), resolved, final.RecoveryDuration())

	e.logger.Info("recovery chain finished",
		zap.String("event_id", eventID),
		zap.String("status", string(final.Status)),
		zap.Int("actions", len(final.RecoveryActions)),
		zap.Duration("duration", final.RecoveryDuration()))

	return final
}

func (e *Engine) persist(ctx context.Context, event *incident.DisasterEvent) {
	if err := e.store.SaveEvent(ctx, event); err != nil {
		e.logger.Error("failed to persist event",
			zap.String("event_id", event.ID), zap.Error(err))
	}
}
