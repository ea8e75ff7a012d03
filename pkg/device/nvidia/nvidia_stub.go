//go:build !linux || !cgo

package nvidia

import (
	"context"
	"time"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// Manager is a stub used when NVML (cgo, Linux-only) is unavailable at
// build time. Initialize fails with device.ErrUnavailable, the query
// methods fail with device.ErrNotInitialized, and IsAvailable reports
// false so autodetect.Detect falls through to the next vendor.
type Manager struct{}

func New() *Manager { return &Manager{} }

func (m *Manager) Vendor() device.Vendor { return device.VendorNVIDIA }

func (m *Manager) Initialize(ctx context.Context) error { return device.ErrUnavailable }

func (m *Manager) Shutdown(ctx context.Context) error { return nil }

func (m *Manager) ListDevices(ctx context.Context) ([]device.Identity, error) {
	return nil, device.ErrNotInitialized
}

func (m *Manager) ReadTelemetry(ctx context.Context, id device.Identity) (*device.Snapshot, error) {
	return nil, device.ErrNotInitialized
}

func (m *Manager) ScanErrors(ctx context.Context, since time.Time, id *device.Identity) ([]device.ErrorEvent, error) {
	return nil, device.ErrNotInitialized
}

func (m *Manager) FindHungConsumers(ctx context.Context, id device.Identity) ([]device.HungProcess, error) {
	return nil, device.ErrNotInitialized
}

func (m *Manager) RunActiveCheck(ctx context.Context, id device.Identity, timeout time.Duration) (device.CheckOutcome, error) {
	return device.CheckOutcome{}, device.ErrNotInitialized
}

func (m *Manager) RunBandwidthCheck(ctx context.Context, id device.Identity, timeout time.Duration) (device.CheckOutcome, error) {
	return device.CheckOutcome{}, device.ErrNotInitialized
}

// IsAvailable always reports false on non-cgo/non-Linux builds.
func IsAvailable() bool { return false }
