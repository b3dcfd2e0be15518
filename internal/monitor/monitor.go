// Package monitor runs the periodic health check loop.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/terminal-bench/vitalguard/internal/probes"
	"github.com/terminal-bench/vitalguard/internal/telemetry"
)

// Sink receives the failures of one tick. Implementations must dispatch
// asynchronously; the tick never waits on recovery work.
type Sink func(failures []probes.Failure)

// Monitor drives all probes on a fixed interval
type Monitor struct {
	probes   []probes.Probe
	interval time.Duration
	timeout  time.Duration
	sink     Sink
	recorder telemetry.Recorder
	logger   *zap.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Config holds monitor timings
type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

func New(probeSet []probes.Probe, cfg Config, sink Sink, recorder telemetry.Recorder, logger *zap.Logger) *Monitor {
	return &Monitor{
		probes:   probeSet,
		interval: cfg.Interval,
		timeout:  cfg.ProbeTimeout,
		sink:     sink,
		recorder: recorder,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the tick loop. It returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	}()
}

// tick runs every probe concurrently and forwards failures to the sink. A
// panic anywhere inside the tick is caught and surfaced as a monitor-internal
// failure instead of crashing the process.
func (m *Monitor) tick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("health monitor tick panicked", zap.Any("panic", r))
			m.sink([]probes.Failure{{
				Domain:   probes.DomainInfrastructure,
				Probe:    "health-monitor",
				Err:      fmt.Errorf("health monitor internal error: %v", r),
				Internal: true,
			}})
		}
	}()

	failures := m.RunProbes(ctx, m.probes)
	if len(failures) > 0 {
		m.sink(failures)
	}
}

// RunProbes executes the given probes concurrently, each under its own
// timeout, and returns the failures. Shared with the verification engine.
func (m *Monitor) RunProbes(ctx context.Context, probeSet []probes.Probe) []probes.Failure {
	var mu sync.Mutex
	var failures []probes.Failure

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range probeSet {
		p := p
		g.Go(func() error {
			start := time.Now()
			err := m.checkOne(gctx, p)
			latency := time.Since(start)

			m.recorder.ProbeResult(p.Domain(), p.Name(), err == nil, latency)

			if err != nil {
				m.logger.Warn("probe failed",
					zap.String("domain", p.Domain()),
					zap.String("probe", p.Name()),
					zap.Duration("latency", latency),
					zap.Error(err))
				mu.Lock()
				failures = append(failures, probes.Failure{Domain: p.Domain(), Probe: p.Name(), Err: err})
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	return failures
}

// checkOne bounds a single probe with the configured timeout and converts
// panics into probe failures so one misbehaving probe cannot stall the tick.
func (m *Monitor) checkOne(ctx context.Context, p probes.Probe) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panicked: %v", r)
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		done <- p.Check(cctx)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		// Hung probe: the goroutine leaks until the external call returns,
		// but the tick moves on for other domains.
		return fmt.Errorf("probe timed out after %s", m.timeout)
	}
}

// Stop halts the tick loop and waits for it to exit. In-flight recoveries
// are not touched.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}
