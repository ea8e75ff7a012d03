package scheduler

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gdnd-project/gdnd/pkg/clock"
	"github.com/gdnd-project/gdnd/pkg/detect"
	"github.com/gdnd-project/gdnd/pkg/device"
	"github.com/gdnd-project/gdnd/pkg/device/mock"
	"github.com/gdnd-project/gdnd/pkg/health"
	"github.com/gdnd-project/gdnd/pkg/orchestrator"
)

type fakeAdapter struct {
	cordoned  []string
	tainted   []string
	evictions []string
}

func (f *fakeAdapter) Name() string { return "fake" }
func (f *fakeAdapter) Cordon(_ context.Context, node, _ string) error {
	f.cordoned = append(f.cordoned, node)
	return nil
}
func (f *fakeAdapter) Uncordon(context.Context, string) error { return nil }
func (f *fakeAdapter) AddTaint(_ context.Context, node, key, value string, effect orchestrator.TaintEffect) error {
	f.tainted = append(f.tainted, node)
	return nil
}
func (f *fakeAdapter) RemoveTaint(context.Context, string, string) error { return nil }
func (f *fakeAdapter) EvictPods(_ context.Context, node string, _ orchestrator.PodPredicate) (orchestrator.EvictionResult, error) {
	f.evictions = append(f.evictions, node)
	return orchestrator.EvictionResult{}, nil
}

func newTestScheduler(t *testing.T, mgr *mock.Manager, adapter *fakeAdapter, clk clock.Clock) (*Scheduler, *health.Machine) {
	t.Helper()
	machine := health.NewMachine(health.Actions{Cordon: true, Taint: true})
	cfg := Config{
		L1Interval:       time.Second,
		L2Interval:       time.Hour,
		L3Interval:       time.Hour,
		L1:               detect.L1Config{TemperatureThreshold: 85},
		FailureThreshold: 2,
		NodeName:         "node-1",
		Isolation: IsolationConfig{
			Cordon: true, TaintKey: "nvidia.com/gpu-health", TaintValue: "failed", TaintEffect: orchestrator.NoSchedule,
		},
		Clock: clk,
	}
	return New(cfg, mgr, machine, nil, adapter, nil, slog.New(slog.NewTextHandler(io.Discard, nil))), machine
}

func TestSchedulerEscalatesAndIsolates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := mock.New(1)
	mgr.Initialize(ctx)
	mgr.SetTelemetry(0, device.Snapshot{Temperature: 95, MemoryTotal: 1})

	adapter := &fakeAdapter{}
	clk := clock.NewFakeClock(time.Now())
	s, machine := newTestScheduler(t, mgr, adapter, clk)

	done := make(chan struct{})
	go func() { s.Run(ctx); close(done) }()

	ids, err := mgr.ListDevices(ctx)
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	id := ids[0] // health records are keyed by the device's UUID

	// Tickers are not counted as clock waiters, so wait until the L1 and
	// L2 tickers are registered, then advance one L1 interval at a time.
	for clk.PendingTimers() < 2 {
		time.Sleep(time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if machine.Snapshot(id).State == health.Isolated {
			break
		}
		clk.Advance(time.Second)
		time.Sleep(time.Millisecond)
	}

	rec := machine.Snapshot(id)
	if rec.State != health.Isolated {
		t.Fatalf("got state %v, want Isolated", rec.State)
	}
	if len(adapter.cordoned) == 0 || len(adapter.tainted) == 0 {
		t.Fatalf("expected cordon and taint to be called, got %+v", adapter)
	}

	cancel()
	<-done
}
