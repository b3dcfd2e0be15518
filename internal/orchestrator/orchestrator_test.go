package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/terminal-bench/vitalguard/internal/config"
	"github.com/terminal-bench/vitalguard/internal/ops"
	"github.com/terminal-bench/vitalguard/internal/probes"
	"github.com/terminal-bench/vitalguard/internal/recovery"
	"github.com/terminal-bench/vitalguard/internal/sessions"
	"github.com/terminal-bench/vitalguard/internal/store"
	"github.com/terminal-bench/vitalguard/internal/telemetry"
	"github.com/terminal-bench/vitalguard/pkg/incident"
	"github.com/terminal-bench/vitalguard/pkg/messaging"
)

// flakyProbe fails until fixed, used to drive verification outcomes
type flakyProbe struct {
	domain  string
	name    string
	failing atomic.Bool
}

func (p *flakyProbe) Domain() string { return p.domain }
func (p *flakyProbe) Name() string   { return p.name }
func (p *flakyProbe) Check(ctx context.Context) error {
	if p.failing.Load() {
		return errors.New("still unhealthy")
	}
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *recordingNotifier) Notify(ctx context.Context, tier string, payload messaging.EscalationPayload) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, tier)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// stallingStore hangs the first SaveEvent until its context expires, the
// way a wedged database connection would
type stallingStore struct {
	*store.MemoryStore
	stalled atomic.Bool
}

func (s *stallingStore) SaveEvent(ctx context.Context, event *incident.DisasterEvent) error {
	if s.stalled.CompareAndSwap(false, true) {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.MemoryStore.SaveEvent(ctx, event)
}

func orchestratorConfig() *config.RecoveryConfiguration {
	return &config.RecoveryConfiguration{
		Monitor: config.MonitorConfig{
			Interval:       time.Hour,
			ProbeTimeout:   3 * time.Second,
			SettleDelay:    0,
			CooldownWindow: 50 * time.Millisecond,
		},
		Strategies: map[string]config.StrategyConfig{
			"database": {FailoverEnabled: true, ReplicaEndpoints: []string{"replica-1"}},
		},
		Objectives: config.ObjectivesConfig{RTOMinutes: 30, RPOMinutes: 15},
		Escalation: config.EscalationConfig{
			Tiers: []config.TierConfig{{Name: "primary", Delay: 0}},
		},
		ComponentMap:          map[string][]string{"database": {"postgres-primary"}},
		DowntimeCostPerMinute: "100",
	}
}

type fixture struct {
	orch     *Orchestrator
	store    *store.MemoryStore
	ops      *ops.Fake
	notifier *recordingNotifier
}

func newFixture(cfg *config.RecoveryConfiguration, probeSet []probes.Probe) *fixture {
	memStore := store.NewMemoryStore()
	fake := ops.NewFake()
	notifier := &recordingNotifier{}

	orch := New(Deps{
		Config:   cfg,
		Probes:   probeSet,
		Ops:      fake,
		Store:    memStore,
		Notifier: notifier,
		Sessions: sessions.Fixed(12),
		Recorder: telemetry.Noop{},
		Logger:   zap.NewNop(),
	})
	return &fixture{orch: orch, store: memStore, ops: fake, notifier: notifier}
}

func (f *fixture) waitTerminal(t *testing.T, eventID string) *incident.DisasterEvent {
	t.Helper()
	var final *incident.DisasterEvent
	require.Eventually(t, func() bool {
		ev, err := f.store.GetEvent(context.Background(), eventID)
		if err != nil {
			return false
		}
		if ev.Status != incident.StatusRecovered && ev.Status != incident.StatusManualIntervention {
			return false
		}
		final = ev
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return final
}

func (f *fixture) events(t *testing.T) []*incident.DisasterEvent {
	t.Helper()
	events, err := f.store.EventsSince(context.Background(), time.Now().Add(-time.Hour))
	require.NoError(t, err)
	return events
}

func TestHandleFailures(t *testing.T) {
	t.Run("should create an independent event per failing domain", func(t *testing.T) {
		f := newFixture(orchestratorConfig(), nil)
		defer f.orch.Shutdown()

		f.orch.HandleFailures([]probes.Failure{
			{Domain: probes.DomainDatabase, Probe: "primary", Err: errors.New("down")},
			{Domain: probes.DomainService, Probe: "billing", Err: errors.New("503")},
		})

		events := f.events(t)
		require.Len(t, events, 2)

		types := map[incident.EventType]bool{}
		for _, ev := range events {
			types[ev.EventType] = true
			f.waitTerminal(t, ev.ID)
		}
		assert.True(t, types[incident.EventDatabaseFailure])
		assert.True(t, types[incident.EventServiceFailure])
	})

	t.Run("should suppress repeat detections while an episode is active", func(t *testing.T) {
		probe := &flakyProbe{domain: probes.DomainService, name: "billing"}
		probe.failing.Store(true)
		f := newFixture(orchestratorConfig(), []probes.Probe{probe})
		defer f.orch.Shutdown()

		failure := probes.Failure{Domain: probes.DomainService, Probe: "billing", Err: errors.New("503")}
		f.orch.HandleFailures([]probes.Failure{failure})
		f.orch.HandleFailures([]probes.Failure{failure})

		assert.Len(t, f.events(t), 1)
	})

	t.Run("should allow a new event after recovery and cooldown expiry", func(t *testing.T) {
		f := newFixture(orchestratorConfig(), nil)
		defer f.orch.Shutdown()

		failure := probes.Failure{Domain: probes.DomainService, Probe: "billing", Err: errors.New("503")}
		f.orch.HandleFailures([]probes.Failure{failure})

		first := f.events(t)
		require.Len(t, first, 1)
		final := f.waitTerminal(t, first[0].ID)
		require.Equal(t, incident.StatusRecovered, final.Status)

		time.Sleep(60 * time.Millisecond) // past the cooldown window

		f.orch.HandleFailures([]probes.Failure{failure})
		assert.Len(t, f.events(t), 2)
	})

	t.Run("should record monitor-internal failures without dispatching recovery", func(t *testing.T) {
		f := newFixture(orchestratorConfig(), nil)
		defer f.orch.Shutdown()

		f.orch.HandleFailures([]probes.Failure{{
			Domain:   probes.DomainInfrastructure,
			Probe:    "health-monitor",
			Err:      errors.New("health monitor internal error: scripted"),
			Internal: true,
		}})

		events := f.events(t)
		require.Len(t, events, 1)
		assert.Equal(t, []string{"disaster-recovery-orchestrator"}, events[0].AffectedComponents)
		assert.Equal(t, incident.StatusDetected, events[0].Status)
		assert.Empty(t, f.ops.Calls())

		// The cooldown guard must stay clear for real infrastructure faults
		f.orch.HandleFailures([]probes.Failure{
			{Domain: probes.DomainInfrastructure, Probe: "edge-lb", Err: errors.New("unreachable")},
		})
		events = f.events(t)
		require.Len(t, events, 2)
		var infraID string
		for _, ev := range events {
			if len(ev.AffectedComponents) == 1 && ev.AffectedComponents[0] == "infrastructure" {
				infraID = ev.ID
			}
		}
		require.NotEmpty(t, infraID)
		require.Equal(t, incident.StatusRecovered, f.waitTerminal(t, infraID).Status)
		assert.NotEmpty(t, f.ops.Calls())
	})

	t.Run("should not stall the tick on a hung store", func(t *testing.T) {
		cfg := orchestratorConfig()
		cfg.Monitor.ProbeTimeout = 50 * time.Millisecond

		stalling := &stallingStore{MemoryStore: store.NewMemoryStore()}
		fake := ops.NewFake()
		orch := New(Deps{
			Config:   cfg,
			Ops:      fake,
			Store:    stalling,
			Notifier: &recordingNotifier{},
			Sessions: sessions.Fixed(12),
			Recorder: telemetry.Noop{},
			Logger:   zap.NewNop(),
		})
		defer orch.Shutdown()

		start := time.Now()
		orch.HandleFailures([]probes.Failure{
			{Domain: probes.DomainService, Probe: "billing", Err: errors.New("503")},
		})
		assert.Less(t, time.Since(start), time.Second)

		// The event still exists and recovery runs despite the failed save:
		// the engine re-persists it as the chain progresses.
		require.Eventually(t, func() bool {
			events, err := stalling.EventsSince(context.Background(), time.Now().Add(-time.Hour))
			if err != nil || len(events) != 1 {
				return false
			}
			return events[0].Status == incident.StatusRecovered
		}, 2*time.Second, 5*time.Millisecond)
	})

	t.Run("should attach an impact assessment on detection", func(t *testing.T) {
		f := newFixture(orchestratorConfig(), nil)
		defer f.orch.Shutdown()

		f.orch.HandleFailures([]probes.Failure{
			{Domain: probes.DomainDatabase, Probe: "primary", Err: errors.New("down")},
		})

		events := f.events(t)
		require.Len(t, events, 1)
		assert.Equal(t, 12, events[0].Impact.AffectedSessions)
		assert.True(t, events[0].Impact.DataLossRisk)
		f.waitTerminal(t, events[0].ID)
	})
}

func TestEscalationOnExhaustion(t *testing.T) {
	t.Run("should escalate exactly once per failed episode", func(t *testing.T) {
		probe := &flakyProbe{domain: probes.DomainService, name: "billing"}
		probe.failing.Store(true)
		f := newFixture(orchestratorConfig(), []probes.Probe{probe})
		f.ops.Results[ops.OpRestartService] = errors.New("failed")
		f.ops.Results[ops.OpRollbackService] = errors.New("failed")
		f.ops.Results[ops.OpEnableDegradation] = errors.New("failed")

		f.orch.HandleFailures([]probes.Failure{
			{Domain: probes.DomainService, Probe: "billing", Err: errors.New("503")},
		})

		events := f.events(t)
		require.Len(t, events, 1)
		final := f.waitTerminal(t, events[0].ID)
		require.Equal(t, incident.StatusManualIntervention, final.Status)

		f.orch.Shutdown() // waits for escalation delivery

		assert.Equal(t, 1, f.notifier.count())
		assert.Len(t, f.store.Escalations(), 1)
	})
}

func TestTriggerManualRecovery(t *testing.T) {
	t.Run("should reject unknown events", func(t *testing.T) {
		f := newFixture(orchestratorConfig(), nil)
		defer f.orch.Shutdown()

		_, err := f.orch.TriggerManualRecovery("no-such-event")
		assert.ErrorIs(t, err, recovery.ErrUnknownEvent)
	})

	t.Run("should resolve an escalated event once the fault is fixed", func(t *testing.T) {
		probe := &flakyProbe{domain: probes.DomainService, name: "billing"}
		probe.failing.Store(true)
		f := newFixture(orchestratorConfig(), []probes.Probe{probe})
		f.ops.Results[ops.OpRestartService] = errors.New("failed")
		f.ops.Results[ops.OpRollbackService] = errors.New("failed")
		f.ops.Results[ops.OpEnableDegradation] = errors.New("failed")

		f.orch.HandleFailures([]probes.Failure{
			{Domain: probes.DomainService, Probe: "billing", Err: errors.New("503")},
		})
		events := f.events(t)
		require.Len(t, events, 1)
		eventID := events[0].ID
		require.Equal(t, incident.StatusManualIntervention, f.waitTerminal(t, eventID).Status)

		// Operator fixed the fault out of band
		f.ops.Results = map[string]error{}
		probe.failing.Store(false)

		final, err := f.orch.TriggerManualRecovery(eventID)
		require.NoError(t, err)
		assert.Equal(t, incident.StatusRecovered, final.Status)
		assert.Greater(t, len(final.RecoveryActions), 3)

		f.orch.Shutdown()
		assert.Equal(t, 1, f.notifier.count()) // no second escalation
	})
}

func TestActiveRecoveries(t *testing.T) {
	t.Run("should include unresolved escalated events", func(t *testing.T) {
		probe := &flakyProbe{domain: probes.DomainService, name: "billing"}
		probe.failing.Store(true)
		f := newFixture(orchestratorConfig(), []probes.Probe{probe})
		defer f.orch.Shutdown()
		f.ops.Results[ops.OpRestartService] = errors.New("failed")
		f.ops.Results[ops.OpRollbackService] = errors.New("failed")
		f.ops.Results[ops.OpEnableDegradation] = errors.New("failed")

		f.orch.HandleFailures([]probes.Failure{
			{Domain: probes.DomainService, Probe: "billing", Err: errors.New("503")},
		})
		events := f.events(t)
		require.Len(t, events, 1)
		f.waitTerminal(t, events[0].ID)

		active := f.orch.ActiveRecoveries()
		require.Len(t, active, 1)
		assert.Equal(t, incident.StatusManualIntervention, active[0].Status)
	})

	t.Run("should exclude recovered events", func(t *testing.T) {
		f := newFixture(orchestratorConfig(), nil)
		defer f.orch.Shutdown()

		f.orch.HandleFailures([]probes.Failure{
			{Domain: probes.DomainService, Probe: "billing", Err: errors.New("503")},
		})
		events := f.events(t)
		require.Len(t, events, 1)
		f.waitTerminal(t, events[0].ID)

		assert.Empty(t, f.orch.ActiveRecoveries())
	})
}

func TestNoticeSink(t *testing.T) {
	t.Run("should publish detection and terminal notices", func(t *testing.T) {
		f := newFixture(orchestratorConfig(), nil)
		defer f.orch.Shutdown()

		var mu sync.Mutex
		var statuses []incident.Status
		f.orch.SetNoticeSink(func(notice messaging.EventNotice) {
			mu.Lock()
			defer mu.Unlock()
			statuses = append(statuses, notice.Status)
		})

		f.orch.HandleFailures([]probes.Failure{
			{Domain: probes.DomainService, Probe: "billing", Err: errors.New("503")},
		})
		events := f.events(t)
		require.Len(t, events, 1)
		f.waitTerminal(t, events[0].ID)

		assert.Eventually(t, func() bool {
			mu.Lock()
			defer mu.Unlock()
			return len(statuses) == 2 &&
				statuses[0] == incident.StatusDetected &&
				statuses[1] == incident.StatusRecovered
		}, time.Second, 5*time.Millisecond)
	})
}

func TestPerformManualBackup(t *testing.T) {
	t.Run("should trigger a backup, record it and notify", func(t *testing.T) {
		f := newFixture(orchestratorConfig(), nil)
		defer f.orch.Shutdown()
		f.ops.BackupID = "backup-42"

		var notices []messaging.BackupNotice
		f.orch.SetBackupSink(func(n messaging.BackupNotice) {
			notices = append(notices, n)
		})

		backupID, err := f.orch.PerformManualBackup(context.Background(), "dr-admin")
		require.NoError(t, err)
		assert.Equal(t, "backup-42", backupID)

		backups := f.store.Backups()
		require.Len(t, backups, 1)
		assert.Equal(t, "backup-42", backups[0].BackupID)
		assert.Equal(t, "dr-admin", backups[0].RequestedBy)

		require.Len(t, notices, 1)
		assert.Equal(t, "backup-42", notices[0].BackupID)
	})

	t.Run("should propagate backup failures", func(t *testing.T) {
		f := newFixture(orchestratorConfig(), nil)
		defer f.orch.Shutdown()
		f.ops.Results[ops.OpBackupDatabase] = errors.New("disk full")

		_, err := f.orch.PerformManualBackup(context.Background(), "dr-admin")
		assert.Error(t, err)
		assert.Empty(t, f.store.Backups())
	})
}

func TestSweep(t *testing.T) {
	t.Run("should drop recovered events from the registry and purge old history", func(t *testing.T) {
		cfg := orchestratorConfig()
		cfg.Backup.RetentionDays = 30
		f := newFixture(cfg, nil)
		defer f.orch.Shutdown()

		f.orch.HandleFailures([]probes.Failure{
			{Domain: probes.DomainService, Probe: "billing", Err: errors.New("503")},
		})
		events := f.events(t)
		require.Len(t, events, 1)
		require.Equal(t, incident.StatusRecovered, f.waitTerminal(t, events[0].ID).Status)

		// Backdate a stored event past the retention window
		old := incident.NewEvent(incident.EventServiceFailure, incident.SeverityLow,
			[]string{"legacy"}, "ancient history")
		old.DetectedAt = time.Now().UTC().AddDate(0, 0, -60)
		require.NoError(t, f.store.SaveEvent(context.Background(), old))

		f.orch.sweep()

		assert.Nil(t, f.orch.registry.Get(events[0].ID))
		_, err := f.store.GetEvent(context.Background(), old.ID)
		assert.ErrorIs(t, err, store.ErrEventNotFound)
		_, err = f.store.GetEvent(context.Background(), events[0].ID)
		assert.NoError(t, err)
	})

	t.Run("should keep escalated events in the registry", func(t *testing.T) {
		probe := &flakyProbe{domain: probes.DomainService, name: "billing"}
		probe.failing.Store(true)
		f := newFixture(orchestratorConfig(), []probes.Probe{probe})
		defer f.orch.Shutdown()
		f.ops.Results[ops.OpRestartService] = errors.New("failed")
		f.ops.Results[ops.OpRollbackService] = errors.New("failed")
		f.ops.Results[ops.OpEnableDegradation] = errors.New("failed")

		f.orch.HandleFailures([]probes.Failure{
			{Domain: probes.DomainService, Probe: "billing", Err: errors.New("503")},
		})
		events := f.events(t)
		require.Len(t, events, 1)
		require.Equal(t, incident.StatusManualIntervention, f.waitTerminal(t, events[0].ID).Status)

		f.orch.sweep()

		assert.Len(t, f.orch.ActiveRecoveries(), 1)
	})
}

func TestRecoveryHistory(t *testing.T) {
	t.Run("should return events within the trailing window", func(t *testing.T) {
		f := newFixture(orchestratorConfig(), nil)
		defer f.orch.Shutdown()

		f.orch.HandleFailures([]probes.Failure{
			{Domain: probes.DomainService, Probe: "billing", Err: errors.New("503")},
		})
		events := f.events(t)
		require.Len(t, events, 1)
		f.waitTerminal(t, events[0].ID)

		history, err := f.orch.RecoveryHistory(context.Background(), 7)
		require.NoError(t, err)
		assert.Len(t, history, 1)

		// Non-positive day counts fall back to the default window
		history, err = f.orch.RecoveryHistory(context.Background(), 0)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})
}
