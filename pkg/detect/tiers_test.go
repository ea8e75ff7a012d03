package detect

import (
	"context"
	"testing"
	"time"

	"github.com/gdnd-project/gdnd/pkg/device"
	"github.com/gdnd-project/gdnd/pkg/device/mock"
)

func TestRunL1PassesWhenHealthy(t *testing.T) {
	m := mock.New(1)
	ctx := context.Background()
	m.Initialize(ctx)

	id := device.Identity{Index: 0}
	outcome := RunL1(ctx, m, id, time.Now().Add(-time.Minute), L1Config{TemperatureThreshold: 85})
	if outcome.Kind != device.CheckPass {
		t.Fatalf("got %+v, want Pass", outcome)
	}
}

func TestRunL1FailsOverTemperature(t *testing.T) {
	m := mock.New(1)
	ctx := context.Background()
	m.Initialize(ctx)

	m.SetTelemetry(0, device.Snapshot{Temperature: 95, MemoryTotal: 1})
	id := device.Identity{Index: 0}
	outcome := RunL1(ctx, m, id, time.Now().Add(-time.Minute), L1Config{TemperatureThreshold: 85})
	if outcome.Kind != device.CheckFail || outcome.Reason != "over_temperature" {
		t.Fatalf("got %+v, want Fail(over_temperature)", outcome)
	}
}

func TestRunL1FatalCodeShortCircuits(t *testing.T) {
	m := mock.New(1)
	ctx := context.Background()
	m.Initialize(ctx)

	now := time.Now()
	m.InjectError(0, device.ErrorEvent{Code: 79, Timestamp: now})
	m.SetTelemetry(0, device.Snapshot{Temperature: 30, MemoryTotal: 1}) // would otherwise pass

	id := device.Identity{Index: 0}
	fatal := device.NewIntCodeSet([]int{79}, nil)
	outcome := RunL1(ctx, m, id, now.Add(-time.Minute), L1Config{TemperatureThreshold: 85, FatalCodes: fatal})
	if outcome.Kind != device.CheckFatalError || outcome.Code != 79 {
		t.Fatalf("got %+v, want FatalError(79)", outcome)
	}
}

func TestRunL1FailsOnHungConsumer(t *testing.T) {
	m := mock.New(1)
	ctx := context.Background()
	m.Initialize(ctx)

	m.SetHungConsumers(0, []device.HungProcess{{PID: 123, Comm: "train.py"}})
	id := device.Identity{Index: 0}
	outcome := RunL1(ctx, m, id, time.Now().Add(-time.Minute), L1Config{TemperatureThreshold: 85})
	if outcome.Kind != device.CheckFail || outcome.Reason != "zombie_process" {
		t.Fatalf("got %+v, want Fail(zombie_process)", outcome)
	}
}

func TestRunL3AppliesBandwidthThreshold(t *testing.T) {
	m := mock.New(1)
	ctx := context.Background()
	m.Initialize(ctx)

	id := device.Identity{Index: 0}
	m.SetCheckOutcome(0, device.TierL3PCIe, device.CheckOutcome{
		Kind: device.CheckPass, Tier: device.TierL3PCIe,
		H2DGBps: 0.5, D2HGBps: 10, BandwidthKnown: true,
	})

	outcome := RunL3(ctx, m, id, L3Config{Timeout: time.Second, MinBandwidthGBps: 1.0})
	if outcome.Kind != device.CheckFail || outcome.Reason != "low_bandwidth" {
		t.Fatalf("got %+v, want Fail(low_bandwidth)", outcome)
	}
}

func TestRunL3UnknownBandwidthPassesThrough(t *testing.T) {
	m := mock.New(1)
	ctx := context.Background()
	m.Initialize(ctx)

	id := device.Identity{Index: 0}
	outcome := RunL3(ctx, m, id, L3Config{Timeout: time.Second, MinBandwidthGBps: 1.0})
	if outcome.Kind != device.CheckPass {
		t.Fatalf("got %+v, want Pass when bandwidth unknown", outcome)
	}
}
