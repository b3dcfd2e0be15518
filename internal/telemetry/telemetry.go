// Package telemetry records probe and recovery time series for trend
// dashboards.
package telemetry

import (
	"context"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Recorder accepts orchestrator measurements. Implementations must never
// block the monitor tick on a slow backend.
type Recorder interface {
	ProbeResult(domain, probe string, healthy bool, latency time.Duration)
	RecoveryOutcome(eventType string, recovered bool, duration time.Duration)
	Close()
}

// InfluxRecorder writes measurements to InfluxDB using the non-blocking
// write API
type InfluxRecorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

func NewInfluxRecorder(url, token, org, bucket string) *InfluxRecorder {
	client := influxdb2.NewClient(url, token)
	return &InfluxRecorder{
		client:   client,
		writeAPI: client.WriteAPI(org, bucket),
	}
}

func (r *InfluxRecorder) ProbeResult(domain, probe string, healthy bool, latency time.Duration) {
	point := influxdb2.NewPoint("probe_result",
		map[string]string{"domain": domain, "probe": probe},
		map[string]interface{}{
			"healthy":    healthy,
			"latency_ms": latency.Milliseconds(),
		},
		time.Now())
	r.writeAPI.WritePoint(point)
}

func (r *InfluxRecorder) RecoveryOutcome(eventType string, recovered bool, duration time.Duration) {
	point := influxdb2.NewPoint("recovery_outcome",
		map[string]string{"event_type": eventType},
		map[string]interface{}{
			"recovered":   recovered,
			"duration_ms": duration.Milliseconds(),
		},
		time.Now())
	r.writeAPI.WritePoint(point)
}

func (r *InfluxRecorder) Close() {
	r.writeAPI.Flush()
	r.client.Close()
}

// Ping verifies the influx backend is reachable
func (r *InfluxRecorder) Ping(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Noop discards all measurements
type Noop struct{}

func (Noop) ProbeResult(string, string, bool, time.Duration) {}
func (Noop) RecoveryOutcome(string, bool, time.Duration)     {}
func (Noop) Close()                                          {}
