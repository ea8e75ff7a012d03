// Package mock implements device.Manager as a deterministic, scriptable
// in-memory adapter for development and integration testing without real
// accelerator hardware.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// Manager is a fake device.Manager whose telemetry, errors, and check
// outcomes are injected by test code rather than read from hardware.
type Manager struct {
	mu          sync.RWMutex
	initialized bool
	devices     []*mockDevice

	bootErr   error
	scanErr   error
	globalErr error
}

type mockDevice struct {
	id      device.Identity
	base    device.Snapshot
	errs    []device.ErrorEvent
	hung    []device.HungProcess
	outcome map[device.Tier]device.CheckOutcome // scripted next outcome
	err     error                               // scripted per-device error
}

// New creates a mock manager with count devices carrying plausible
// baseline telemetry.
func New(count int) *Manager {
	devices := make([]*mockDevice, count)
	for i := 0; i < count; i++ {
		devices[i] = &mockDevice{
			id: device.Identity{Vendor: device.VendorMock, Index: i, UUID: uuid.NewString()},
			base: device.Snapshot{
				Temperature: 45,
				Utilization: 60,
				MemoryUsed:  20 << 30,
				MemoryTotal: 80 << 30,
			},
		}
	}
	return &Manager{devices: devices}
}

func (m *Manager) Vendor() device.Vendor { return device.VendorMock }

func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.bootErr != nil {
		return m.bootErr
	}
	if m.initialized {
		return fmt.Errorf("already initialized")
	}
	m.initialized = true
	return nil
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return device.ErrNotInitialized
	}
	m.initialized = false
	return nil
}

func (m *Manager) ListDevices(ctx context.Context) ([]device.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return nil, device.ErrNotInitialized
	}
	out := make([]device.Identity, len(m.devices))
	for i, d := range m.devices {
		out[i] = d.id
	}
	return out, nil
}

func (m *Manager) lookup(id device.Identity) (*mockDevice, error) {
	if id.Index < 0 || id.Index >= len(m.devices) {
		return nil, device.ErrDeviceMissing
	}
	return m.devices[id.Index], nil
}

func (m *Manager) ReadTelemetry(ctx context.Context, id device.Identity) (*device.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return nil, device.ErrNotInitialized
	}
	if m.globalErr != nil {
		return nil, m.globalErr
	}
	d, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if d.err != nil {
		return nil, d.err
	}
	snap := d.base
	snap.CapturedAt = time.Now()
	return &snap, nil
}

func (m *Manager) ScanErrors(ctx context.Context, since time.Time, id *device.Identity) ([]device.ErrorEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return nil, device.ErrNotInitialized
	}
	if m.scanErr != nil {
		return nil, m.scanErr
	}

	var events []device.ErrorEvent
	for _, d := range m.devices {
		if id != nil && d.id.Index != id.Index {
			continue
		}
		for _, e := range d.errs {
			if !e.Timestamp.Before(since) {
				events = append(events, e)
			}
		}
	}
	return events, nil
}

func (m *Manager) FindHungConsumers(ctx context.Context, id device.Identity) ([]device.HungProcess, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return nil, device.ErrNotInitialized
	}
	d, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	return append([]device.HungProcess(nil), d.hung...), nil
}

func (m *Manager) RunActiveCheck(ctx context.Context, id device.Identity, timeout time.Duration) (device.CheckOutcome, error) {
	return m.scriptedOutcome(id, device.TierL2Active, timeout)
}

func (m *Manager) RunBandwidthCheck(ctx context.Context, id device.Identity, timeout time.Duration) (device.CheckOutcome, error) {
	return m.scriptedOutcome(id, device.TierL3PCIe, timeout)
}

func (m *Manager) scriptedOutcome(id device.Identity, tier device.Tier, timeout time.Duration) (device.CheckOutcome, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return device.CheckOutcome{}, device.ErrNotInitialized
	}
	d, err := m.lookup(id)
	if err != nil {
		return device.CheckOutcome{}, err
	}
	if d.err != nil {
		return device.CheckOutcome{}, d.err
	}
	if outcome, ok := d.outcome[tier]; ok {
		return outcome, nil
	}
	return device.Pass(tier, 10*time.Millisecond), nil
}

// InjectError injects a vendor error event on the given device index.
func (m *Manager) InjectError(index int, ev device.ErrorEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.devices) {
		return
	}
	ev.DeviceIndex = index
	m.devices[index].errs = append(m.devices[index].errs, ev)
}

// ClearErrors removes all injected error events on a device.
func (m *Manager) ClearErrors(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.devices) {
		return
	}
	m.devices[index].errs = nil
}

// SetTelemetry overrides the baseline telemetry snapshot for a device.
func (m *Manager) SetTelemetry(index int, snap device.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.devices) {
		return
	}
	m.devices[index].base = snap
}

// SetHungConsumers overrides the hung-process list for a device.
func (m *Manager) SetHungConsumers(index int, procs []device.HungProcess) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.devices) {
		return
	}
	m.devices[index].hung = procs
}

// SetCheckOutcome scripts the next RunActiveCheck/RunBandwidthCheck
// result for a device at a given tier.
func (m *Manager) SetCheckOutcome(index int, tier device.Tier, outcome device.CheckOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.devices) {
		return
	}
	if m.devices[index].outcome == nil {
		m.devices[index].outcome = make(map[device.Tier]device.CheckOutcome)
	}
	m.devices[index].outcome[tier] = outcome
}

// InjectDeviceError makes all calls for a specific device return err.
func (m *Manager) InjectDeviceError(index int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.devices) {
		return
	}
	m.devices[index].err = err
}

// ClearDeviceError removes a per-device injected error.
func (m *Manager) ClearDeviceError(index int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if index < 0 || index >= len(m.devices) {
		return
	}
	m.devices[index].err = nil
}

// InjectBootError makes Initialize fail with err.
func (m *Manager) InjectBootError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bootErr = err
}

// InjectScanError makes ScanErrors fail with err.
func (m *Manager) InjectScanError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanErr = err
}

// InjectGlobalError makes ReadTelemetry fail for every device with err,
// simulating a vendor runtime outage.
func (m *Manager) InjectGlobalError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalErr = err
}

// ClearAllFailures resets every injected failure back to healthy defaults.
func (m *Manager) ClearAllFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bootErr = nil
	m.scanErr = nil
	m.globalErr = nil
	for _, d := range m.devices {
		d.errs = nil
		d.hung = nil
		d.outcome = nil
		d.err = nil
	}
}

// HasActiveFailures reports whether any injected failure is currently set.
func (m *Manager) HasActiveFailures() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.bootErr != nil || m.scanErr != nil || m.globalErr != nil {
		return true
	}
	for _, d := range m.devices {
		if len(d.errs) > 0 || len(d.hung) > 0 || len(d.outcome) > 0 || d.err != nil {
			return true
		}
	}
	return false
}
