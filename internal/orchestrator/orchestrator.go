// Package orchestrator wires detection, classification, recovery,
// verification and escalation into the disaster recovery control loop.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/terminal-bench/vitalguard/internal/classify"
	"github.com/terminal-bench/vitalguard/internal/config"
	"github.com/terminal-bench/vitalguard/internal/escalation"
	"github.com/terminal-bench/vitalguard/internal/monitor"
	"github.com/terminal-bench/vitalguard/internal/ops"
	"github.com/terminal-bench/vitalguard/internal/probes"
	"github.com/terminal-bench/vitalguard/internal/recovery"
	"github.com/terminal-bench/vitalguard/internal/sessions"
	"github.com/terminal-bench/vitalguard/internal/store"
	"github.com/terminal-bench/vitalguard/internal/telemetry"
	"github.com/terminal-bench/vitalguard/pkg/circuit"
	"github.com/terminal-bench/vitalguard/pkg/incident"
	"github.com/terminal-bench/vitalguard/pkg/messaging"
)

// NoticeSink receives event lifecycle notices for live observers (bus
// publication, websocket feed). It must not block.
type NoticeSink func(notice messaging.EventNotice)

// Orchestrator owns the event registry and drives the full control flow:
// monitor -> classifier -> assessor -> store -> recovery -> verification ->
// escalation.
type Orchestrator struct {
	cfg        *config.RecoveryConfiguration
	classifier *classify.Classifier
	assessor   *classify.Assessor
	registry   *recovery.Registry
	engine     *recovery.Engine
	escalator  *escalation.Escalator
	store      store.EventStore
	guard      *circuit.Guard
	opsIface   ops.Interface
	monitor    *monitor.Monitor
	logger     *zap.Logger

	sinkMu     sync.RWMutex
	sink       NoticeSink
	backupSink func(messaging.BackupNotice)

	recoveries  sync.WaitGroup
	maintenance sync.WaitGroup
	baseCtx     context.Context
	cancel      context.CancelFunc

	shutdownOnce sync.Once
}

// Deps carries the injected collaborators
type Deps struct {
	Config   *config.RecoveryConfiguration
	Probes   []probes.Probe
	Ops      ops.Interface
	Store    store.EventStore
	Notifier escalation.Notifier
	Sessions sessions.Counter
	Recorder telemetry.Recorder
	Logger   *zap.Logger
}

// New builds a fully wired orchestrator. Start must be called to launch
// the health monitor.
func New(deps Deps) *Orchestrator {
	baseCtx, cancel := context.WithCancel(context.Background())

	registry := recovery.NewRegistry()
	o := &Orchestrator{
		cfg:        deps.Config,
		classifier: classify.NewClassifier(deps.Config),
		assessor:   classify.NewAssessor(deps.Config, deps.Sessions, deps.Logger),
		registry:   registry,
		store:      deps.Store,
		guard:      circuit.NewGuard(deps.Config.Monitor.CooldownWindow),
		opsIface:   deps.Ops,
		logger:     deps.Logger,
		baseCtx:    baseCtx,
		cancel:     cancel,
	}

	o.monitor = monitor.New(deps.Probes, monitor.Config{
		Interval:     deps.Config.Monitor.Interval,
		ProbeTimeout: deps.Config.Monitor.ProbeTimeout,
	}, o.HandleFailures, deps.Recorder, deps.Logger)

	verifier := recovery.NewVerifier(deps.Probes, o.monitor, deps.Config.Monitor.SettleDelay, deps.Logger)
	o.engine = recovery.NewEngine(deps.Config, deps.Ops, registry, deps.Store, verifier, deps.Recorder, deps.Logger)
	o.escalator = escalation.NewEscalator(deps.Config, deps.Notifier, deps.Store, deps.Logger)

	return o
}

// SetNoticeSink registers the live-observer sink
func (o *Orchestrator) SetNoticeSink(sink NoticeSink) {
	o.sinkMu.Lock()
	o.sink = sink
	o.sinkMu.Unlock()
}

// SetActionSink registers a receiver for the per-action audit stream. Call
// before Start.
func (o *Orchestrator) SetActionSink(sink func(messaging.ActionNotice)) {
	o.engine.SetActionSink(sink)
}

// SetBackupSink registers a receiver for completed out-of-band backups.
// Call before Start.
func (o *Orchestrator) SetBackupSink(sink func(messaging.BackupNotice)) {
	o.backupSink = sink
}

func (o *Orchestrator) notify(event *incident.DisasterEvent) {
	o.sinkMu.RLock()
	sink := o.sink
	o.sinkMu.RUnlock()
	if sink == nil {
		return
	}
	sink(messaging.EventNotice{
		EventID:            event.ID,
		EventType:          event.EventType,
		Severity:           event.Severity,
		Status:             event.Status,
		AffectedComponents: event.AffectedComponents,
		Description:        event.Description,
		Timestamp:          time.Now().UTC(),
	})
}

// maintenanceInterval paces registry cleanup and retention purges
const maintenanceInterval = time.Hour

// Start launches the health monitor loop and the maintenance sweep
func (o *Orchestrator) Start() {
	o.monitor.Start(o.baseCtx)

	o.maintenance.Add(1)
	go func() {
		defer o.maintenance.Done()
		ticker := time.NewTicker(maintenanceInterval)
		defer ticker.Stop()
		for {
			select {
			case <-o.baseCtx.Done():
				return
			case <-ticker.C:
				o.sweep()
			}
		}
	}()

	o.logger.Info("disaster recovery orchestrator started",
		zap.Duration("monitor_interval", o.cfg.Monitor.Interval))
}

// sweep drops resolved events from the in-memory registry, expires stale
// cooldown entries and enforces the configured retention window on the
// durable store. The store keeps the audit trail up to retention; the
// registry only holds events still needing attention.
func (o *Orchestrator) sweep() {
	for _, event := range o.registry.Resolved() {
		o.registry.Remove(event.ID)
	}
	o.guard.Prune()

	if days := o.cfg.Backup.RetentionDays; days > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		purged, err := o.store.PurgeBefore(o.baseCtx, cutoff)
		if err != nil {
			o.logger.Error("retention purge failed", zap.Error(err))
		} else if purged > 0 {
			o.logger.Info("retention purge completed",
				zap.Int64("purged_events", purged),
				zap.Time("cutoff", cutoff))
		}
	}
}

// HandleFailures is the monitor sink: each failing probe domain becomes an
// independent disaster event with its own recovery task. An internal
// failure here is surfaced as an infrastructure meta-event rather than
// crashing the loop.
func (o *Orchestrator) HandleFailures(failures []probes.Failure) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("failure dispatch panicked", zap.Any("panic", r))
			o.recordMetaFailure(fmt.Errorf("failure dispatch internal error: %v", r))
		}
	}()

	for _, failure := range failures {
		o.handleFailure(failure)
	}
}

func (o *Orchestrator) handleFailure(failure probes.Failure) {
	if failure.Internal {
		// A fault inside the monitor is not an outage of the configured
		// infrastructure components: recording it through the normal path
		// would dispatch the infrastructure chain and hold those components
		// in cooldown, masking a genuine failure arriving meanwhile.
		o.recordMetaFailure(failure.Err)
		return
	}

	classification := o.classifier.Classify(failure)

	key := circuit.Key(classification.AffectedComponents)
	if !o.guard.Allow(key) {
		o.logger.Debug("suppressing repeat failure inside cooldown window",
			zap.String("components", key),
			zap.String("domain", failure.Domain))
		return
	}

	// Tick-path external calls are bounded so a hung session counter or
	// store cannot stall the next health check.
	ctx, cancel := context.WithTimeout(o.baseCtx, o.cfg.Monitor.ProbeTimeout)
	defer cancel()

	event := incident.NewEvent(classification.EventType, classification.Severity,
		classification.AffectedComponents, classification.Description)
	event.Impact = o.assessor.Assess(ctx, classification.EventType, classification.AffectedComponents)

	o.registry.Add(event)
	if err := o.store.SaveEvent(ctx, event); err != nil {
		o.logger.Error("failed to persist new event",
			zap.String("event_id", event.ID), zap.Error(err))
	}

	o.logger.Warn("disaster event detected",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.EventType)),
		zap.String("severity", string(event.Severity)),
		zap.Strings("components", event.AffectedComponents),
		zap.Int("affected_sessions", event.Impact.AffectedSessions))

	o.notify(event)
	o.dispatchRecovery(event.ID, key)
}

// dispatchRecovery runs the recovery chain for one event in its own
// goroutine. The monitor tick never blocks on this.
func (o *Orchestrator) dispatchRecovery(eventID, guardKey string) {
	o.recoveries.Add(1)
	go func() {
		defer o.recoveries.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("recovery dispatch panicked",
					zap.String("event_id", eventID), zap.Any("panic", r))
				o.recordMetaFailure(fmt.Errorf("recovery dispatch internal error: %v", r))
			}
		}()

		final, err := o.engine.Run(o.baseCtx, eventID)
		if err != nil {
			o.logger.Error("recovery run failed",
				zap.String("event_id", eventID), zap.Error(err))
			return
		}
		o.finishEpisode(final, guardKey)
	}()
}

// finishEpisode handles the terminal transition of one recovery attempt:
// cooldown release on resolution, exactly one escalation otherwise.
func (o *Orchestrator) finishEpisode(final *incident.DisasterEvent, guardKey string) {
	if final == nil {
		return
	}

	o.notify(final)

	switch final.Status {
	case incident.StatusRecovered:
		o.guard.Resolve(guardKey)
	case incident.StatusManualIntervention:
		// The component set stays guarded until a manual re-trigger
		// resolves it; re-detection must not spawn duplicate events while
		// humans are engaged.
		o.escalator.Escalate(o.baseCtx, final)
	}
}

// recordMetaFailure persists an infrastructure_failure event describing an
// orchestrator-internal error so it is never silently dropped. No recovery
// chain is dispatched for meta-events; operators act on them directly.
func (o *Orchestrator) recordMetaFailure(cause error) {
	defer func() {
		// A failure while recording the failure must not take the loop down
		if r := recover(); r != nil {
			o.logger.Error("meta-event recording panicked", zap.Any("panic", r))
		}
	}()

	event := incident.NewEvent(incident.EventInfrastructureFailure, incident.SeverityHigh,
		[]string{"disaster-recovery-orchestrator"}, cause.Error())

	ctx, cancel := context.WithTimeout(o.baseCtx, o.cfg.Monitor.ProbeTimeout)
	defer cancel()

	o.registry.Add(event)
	if err := o.store.SaveEvent(ctx, event); err != nil {
		o.logger.Error("failed to persist meta-event", zap.Error(err))
	}
	o.notify(event)
}

// TriggerManualRecovery re-invokes the recovery engine for an existing
// event. Actions are appended, never reset. A second call while a chain is
// in flight is rejected. The chain runs under the orchestrator lifetime
// context: once started it runs to completion even if the caller that
// requested it disconnects.
func (o *Orchestrator) TriggerManualRecovery(eventID string) (*incident.DisasterEvent, error) {
	if existing := o.registry.Get(eventID); existing == nil {
		return nil, recovery.ErrUnknownEvent
	}

	o.recoveries.Add(1)
	defer o.recoveries.Done()

	final, err := o.engine.Run(o.baseCtx, eventID)
	if err != nil {
		return nil, err
	}

	guardKey := circuit.Key(final.AffectedComponents)
	o.finishEpisode(final, guardKey)
	return final, nil
}

// ActiveRecoveries returns all in-flight events, including unresolved
// escalated ones
func (o *Orchestrator) ActiveRecoveries() []*incident.DisasterEvent {
	return o.registry.Active()
}

// RecoveryHistory returns persisted events detected within the trailing
// window of days
func (o *Orchestrator) RecoveryHistory(ctx context.Context, days int) ([]*incident.DisasterEvent, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	return o.store.EventsSince(ctx, since)
}

// GetEvent loads a single event from the durable store
func (o *Orchestrator) GetEvent(ctx context.Context, eventID string) (*incident.DisasterEvent, error) {
	return o.store.GetEvent(ctx, eventID)
}

// PerformManualBackup triggers an out-of-band backup through the
// operations interface and records it for audit
func (o *Orchestrator) PerformManualBackup(ctx context.Context, requestedBy string) (string, error) {
	backupID, err := o.opsIface.BackupDatabase(ctx)
	if err != nil {
		return "", fmt.Errorf("manual backup failed: %w", err)
	}

	rec := store.BackupRecord{
		BackupID:    backupID,
		RequestedBy: requestedBy,
		CompletedAt: time.Now().UTC(),
	}
	if err := o.store.RecordBackup(ctx, rec); err != nil {
		o.logger.Error("failed to record manual backup",
			zap.String("backup_id", backupID), zap.Error(err))
	}
	if o.backupSink != nil {
		o.backupSink(messaging.BackupNotice{
			BackupID:    backupID,
			RequestedBy: requestedBy,
			CompletedAt: rec.CompletedAt,
		})
	}

	o.logger.Info("manual backup completed",
		zap.String("backup_id", backupID),
		zap.String("requested_by", requestedBy))
	return backupID, nil
}

// Shutdown stops the health monitor and waits for in-flight recoveries to
// complete. Pending escalation deliveries are cancelled.
func (o *Orchestrator) Shutdown() {
	o.shutdownOnce.Do(func() {
		o.logger.Info("orchestrator shutting down")
		o.monitor.Stop()
		o.recoveries.Wait()
		o.cancel()
		o.maintenance.Wait()
		o.escalator.Wait()
	})
}
