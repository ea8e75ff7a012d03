// Package detect implements the three detection tiers that turn a
// device.Manager's raw signals into a device.CheckOutcome for the health
// state machine, plus an optional CEL-based policy layer that can
// upgrade a Pass into a Fail for deployment-specific rules.
package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// L1Config configures the passive tier.
type L1Config struct {
	TemperatureThreshold int // Celsius
	FatalCodes           device.FatalCodeSet
}

// RunL1 combines a telemetry snapshot, an incremental error scan since
// `since`, and a hung-consumer scan into a single outcome. Any fatal
// vendor error code short-circuits straight to FatalError regardless of
// the other two signals.
func RunL1(ctx context.Context, mgr device.Manager, id device.Identity, since time.Time, cfg L1Config) device.CheckOutcome {
	start := time.Now()

	events, err := mgr.ScanErrors(ctx, since, &id)
	if err != nil {
		return device.Fail(device.TierL1Passive, time.Since(start), fmt.Sprintf("error_scan_failed: %v", err))
	}
	for _, e := range events {
		if cfg.FatalCodes != nil && cfg.FatalCodes.IsFatal(e.Code) {
			outcome := device.Fatal(device.TierL1Passive, time.Since(start), e.Code)
			outcome.Events = events
			return outcome
		}
	}

	snap, err := mgr.ReadTelemetry(ctx, id)
	if err != nil {
		return device.Fail(device.TierL1Passive, time.Since(start), fmt.Sprintf("telemetry_failed: %v", err))
	}

	hung, err := mgr.FindHungConsumers(ctx, id)
	if err != nil {
		return device.Fail(device.TierL1Passive, time.Since(start), fmt.Sprintf("hung_scan_failed: %v", err))
	}

	outcome := device.CheckOutcome{Tier: device.TierL1Passive, Snapshot: snap, Events: events, Duration: time.Since(start)}

	switch {
	case snap.Temperature >= cfg.TemperatureThreshold:
		outcome.Kind = device.CheckFail
		outcome.Reason = "over_temperature"
	case len(hung) > 0:
		outcome.Kind = device.CheckFail
		outcome.Reason = "zombie_process"
	default:
		outcome.Kind = device.CheckPass
	}
	return outcome
}

// L2Config configures the active micro-benchmark tier.
type L2Config struct {
	Timeout time.Duration
}

// RunL2 runs the vendor's micro-benchmark. It does not look at health
// state; skipping devices that are already Isolated is left to the caller.
func RunL2(ctx context.Context, mgr device.Manager, id device.Identity, cfg L2Config) device.CheckOutcome {
	outcome, err := mgr.RunActiveCheck(ctx, id, cfg.Timeout)
	if err != nil {
		return device.Fail(device.TierL2Active, 0, fmt.Sprintf("active_check_failed: %v", err))
	}
	return outcome
}

// L3Config configures the PCIe bandwidth tier.
type L3Config struct {
	Timeout       time.Duration
	MinBandwidthGBps float64
}

// RunL3 runs the bandwidth probe and applies the minimum-bandwidth
// threshold against whichever direction was reported. A binary that
// ran without --pcie-test verbose output reports BandwidthKnown=false,
// in which case exit-code success alone is treated as Pass.
func RunL3(ctx context.Context, mgr device.Manager, id device.Identity, cfg L3Config) device.CheckOutcome {
	outcome, err := mgr.RunBandwidthCheck(ctx, id, cfg.Timeout)
	if err != nil {
		return device.Fail(device.TierL3PCIe, 0, fmt.Sprintf("bandwidth_check_failed: %v", err))
	}
	if outcome.Kind != device.CheckPass || !outcome.BandwidthKnown {
		return outcome
	}
	if outcome.H2DGBps < cfg.MinBandwidthGBps || outcome.D2HGBps < cfg.MinBandwidthGBps {
		outcome.Kind = device.CheckFail
		outcome.Reason = "low_bandwidth"
	}
	return outcome
}
