package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/gdnd-project/gdnd/pkg/device"
	"github.com/gdnd-project/gdnd/pkg/health"
)

func TestSetStateMapsEachState(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)
	id := device.Identity{Vendor: device.VendorNVIDIA, Index: 0}

	r.SetState(id, health.Isolated)

	m := &dto.Metric{}
	gauge, err := r.gpuStatus.GetMetricWithLabelValues(id.String(), string(id.Vendor))
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if err := gauge.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetGauge().GetValue(); got != 3 {
		t.Fatalf("got %v, want 3 for Isolated", got)
	}
}

func TestObserveOutcomeRecordsFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRegistry(reg)
	id := device.Identity{Vendor: device.VendorNVIDIA, Index: 0}

	outcome := device.Fail(device.TierL1Passive, time.Millisecond, "over_temperature")
	r.ObserveOutcome(id, outcome)

	m := &dto.Metric{}
	counter, err := r.checkFailuresTotal.GetMetricWithLabelValues(id.String(), string(id.Vendor), string(device.TierL1Passive), "over_temperature")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := m.GetCounter().GetValue(); got != 1 {
		t.Fatalf("got %v, want 1", got)
	}
}
