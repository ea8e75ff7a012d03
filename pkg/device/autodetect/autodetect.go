// Package autodetect selects a device.Manager implementation following
// the agent's fallback chain: NVIDIA NVML, then Huawei Ascend npu-smi,
// then an in-memory mock.
package autodetect

import (
	"context"
	"fmt"

	"github.com/gdnd-project/gdnd/pkg/device"
	"github.com/gdnd-project/gdnd/pkg/device/ascend"
	"github.com/gdnd-project/gdnd/pkg/device/mock"
	"github.com/gdnd-project/gdnd/pkg/device/nvidia"
)

// Config controls auto-detection. An explicit DeviceType skips probing
// and fails startup outright if that vendor's runtime is unavailable.
type Config struct {
	DeviceType      string // "", "nvidia", "ascend", "mock"
	MockDeviceCount int
}

// Detect returns the first available vendor Manager in the chain
// NVIDIA -> Ascend -> Mock, or the Manager named explicitly by
// cfg.DeviceType. A non-empty DeviceType that can't be initialized is a
// startup error rather than a silent fallback.
func Detect(ctx context.Context, cfg Config) (device.Manager, error) {
	switch cfg.DeviceType {
	case "nvidia":
		return requireAvailable(nvidia.New(), nvidia.IsAvailable())
	case "ascend":
		return requireAvailable(ascend.New(), ascend.IsAvailable())
	case "mock":
		return mockManager(cfg), nil
	case "":
		// fall through to the probe chain below
	default:
		return nil, fmt.Errorf("unknown device_type %q", cfg.DeviceType)
	}

	if nvidia.IsAvailable() {
		return nvidia.New(), nil
	}
	if ascend.IsAvailable() {
		return ascend.New(), nil
	}
	return mockManager(cfg), nil
}

func requireAvailable(m device.Manager, available bool) (device.Manager, error) {
	if !available {
		return nil, fmt.Errorf("device_type %q requested but vendor runtime is unavailable: %w", m.Vendor(), device.ErrUnavailable)
	}
	return m, nil
}

func mockManager(cfg Config) device.Manager {
	count := cfg.MockDeviceCount
	if count <= 0 {
		count = 8
	}
	return mock.New(count)
}
