package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/terminal-bench/vitalguard/internal/probes"
	"github.com/terminal-bench/vitalguard/pkg/incident"
)

// ProbeRunner executes a set of probes concurrently with per-probe
// timeouts. The health monitor satisfies this.
type ProbeRunner interface {
	RunProbes(ctx context.Context, probeSet []probes.Probe) []probes.Failure
}

// Verifier confirms resolution by re-running the probes relevant to an
// event after the recovery chain completes
type Verifier struct {
	probes      []probes.Probe
	runner      ProbeRunner
	settleDelay time.Duration
	logger      *zap.Logger
}

func NewVerifier(probeSet []probes.Probe, runner ProbeRunner, settleDelay time.Duration, logger *zap.Logger) *Verifier {
	return &Verifier{
		probes:      probeSet,
		runner:      runner,
		settleDelay: settleDelay,
		logger:      logger,
	}
}

// Verify waits the settle period, then re-runs the subset of probes
// relevant to the event's domain. The event is resolved iff every re-run
// probe passes.
func (v *Verifier) Verify(ctx context.Context, event *incident.DisasterEvent) bool {
	select {
	case <-time.After(v.settleDelay):
	case <-ctx.Done():
		return false
	}

	relevant := v.relevantProbes(event)
	if len(relevant) == 0 {
		v.logger.Warn("no probes cover event domain, treating verification as passed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.EventType)))
		return true
	}

	failures := v.runner.RunProbes(ctx, relevant)
	if len(failures) > 0 {
		v.logger.Warn("verification failed",
			zap.String("event_id", event.ID),
			zap.Int("failing_probes", len(failures)))
		return false
	}
	return true
}

// relevantProbes selects probes by the event's failure domain; corruption
// events additionally re-check data integrity
func (v *Verifier) relevantProbes(event *incident.DisasterEvent) []probes.Probe {
	domains := map[string]bool{}
	switch event.EventType {
	case incident.EventDatabaseFailure:
		domains[probes.DomainDatabase] = true
	case incident.EventServiceFailure:
		domains[probes.DomainService] = true
	case incident.EventInfrastructureFailure:
		domains[probes.DomainInfrastructure] = true
	case incident.EventDataCorruption:
		domains[probes.DomainDatabase] = true
		domains[probes.DomainDataIntegrity] = true
	case incident.EventSecurityBreach:
		domains[probes.DomainSecurity] = true
	case incident.EventComplianceViolation:
		domains[probes.DomainCompliance] = true
	}

	affected := map[string]bool{}
	for _, c := range event.AffectedComponents {
		affected[c] = true
	}

	var relevant []probes.Probe
	for _, p := range v.probes {
		if !domains[p.Domain()] {
			continue
		}
		// Service events only re-check the services they touched
		if event.EventType == incident.EventServiceFailure && !affected[p.Name()] {
			continue
		}
		relevant = append(relevant, p)
	}
	return relevant
}
