// Package metrics exposes the agent's Prometheus registry: per-device
// gauges reflecting the health state machine and telemetry, and
// counters/histograms for check activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gdnd-project/gdnd/pkg/device"
	"github.com/gdnd-project/gdnd/pkg/health"
)

// Registry holds every metric this agent publishes.
type Registry struct {
	gpuStatus           *prometheus.GaugeVec
	gpuTemperature      *prometheus.GaugeVec
	gpuUtilization      *prometheus.GaugeVec
	gpuMemoryUsed       *prometheus.GaugeVec
	checkDuration       *prometheus.HistogramVec
	checkFailuresTotal  *prometheus.CounterVec
	isolationActions    *prometheus.CounterVec
	gpuCount            prometheus.Gauge
}

// NewRegistry builds a Registry and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		gpuStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gdnd_gpu_status",
			Help: "Device health state (0=healthy, 1=suspected, 2=unhealthy, 3=isolated)",
		}, []string{"device", "vendor"}),

		gpuTemperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gdnd_gpu_temperature_celsius",
			Help: "Last observed device temperature in Celsius",
		}, []string{"device", "vendor"}),

		gpuUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gdnd_gpu_utilization_percent",
			Help: "Last observed device utilization percentage",
		}, []string{"device", "vendor"}),

		gpuMemoryUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gdnd_gpu_memory_used_bytes",
			Help: "Last observed device memory usage in bytes",
		}, []string{"device", "vendor"}),

		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gdnd_check_duration_seconds",
			Help:    "Duration of detection tier checks",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"tier"}),

		checkFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gdnd_check_failures_total",
			Help: "Total number of failed detection checks",
		}, []string{"device", "vendor", "tier", "reason"}),

		isolationActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gdnd_isolation_actions_total",
			Help: "Total number of isolation actions taken",
		}, []string{"action", "result"}),

		gpuCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gdnd_gpu_count",
			Help: "Number of devices discovered on this node",
		}),
	}

	reg.MustRegister(
		r.gpuStatus, r.gpuTemperature, r.gpuUtilization, r.gpuMemoryUsed,
		r.checkDuration, r.checkFailuresTotal, r.isolationActions, r.gpuCount,
	)
	return r
}

// ObserveOutcome records a tier's duration, and on failure increments the
// failure counter for that device/tier/reason.
func (r *Registry) ObserveOutcome(id device.Identity, outcome device.CheckOutcome) {
	r.checkDuration.WithLabelValues(string(outcome.Tier)).Observe(outcome.Duration.Seconds())
	if outcome.Kind != device.CheckPass {
		reason := outcome.Reason
		if reason == "" {
			reason = "unknown"
		}
		r.checkFailuresTotal.WithLabelValues(id.String(), string(id.Vendor), string(outcome.Tier), reason).Inc()
	}
}

// SetTelemetry updates the per-device gauges from the most recent
// telemetry snapshot.
func (r *Registry) SetTelemetry(id device.Identity, snap *device.Snapshot) {
	if snap == nil {
		return
	}
	labels := []string{id.String(), string(id.Vendor)}
	r.gpuTemperature.WithLabelValues(labels...).Set(float64(snap.Temperature))
	r.gpuUtilization.WithLabelValues(labels...).Set(float64(snap.Utilization))
	r.gpuMemoryUsed.WithLabelValues(labels...).Set(float64(snap.MemoryUsed))
}

// SetState updates the device status gauge from a health.State.
func (r *Registry) SetState(id device.Identity, state health.State) {
	var value float64
	switch state {
	case health.Healthy:
		value = 0
	case health.Suspected:
		value = 1
	case health.Unhealthy:
		value = 2
	case health.Isolated:
		value = 3
	}
	r.gpuStatus.WithLabelValues(id.String(), string(id.Vendor)).Set(value)
}

// SetDeviceCount records how many devices were discovered on this node.
func (r *Registry) SetDeviceCount(n int) {
	r.gpuCount.Set(float64(n))
}

// RecordIsolationAction increments the isolation-action counter. result
// is "ok" or "error".
func (r *Registry) RecordIsolationAction(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.isolationActions.WithLabelValues(action, result).Inc()
}
