//go:build linux && cgo

// Package nvidia implements device.Manager on top of NVIDIA's Management
// Library (NVML) plus the dmesg/journalctl XID log trail and a DCGM-style
// active micro-benchmark binary.
package nvidia

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// Manager implements device.Manager using NVML.
type Manager struct {
	mu          sync.RWMutex
	initialized bool
	devices     []nvml.Device
	uuids       []string

	xid  *xidScanner
	hung *hungScanner
}

// New creates an uninitialized NVIDIA manager.
func New() *Manager {
	return &Manager{}
}

func (m *Manager) Vendor() device.Vendor { return device.VendorNVIDIA }

func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return fmt.Errorf("nvml.Init: %s: %w", ret.Error(), device.ErrUnavailable)
	}

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		nvml.Shutdown()
		return fmt.Errorf("nvml.DeviceGetCount: %s", ret.Error())
	}

	m.devices = make([]nvml.Device, count)
	m.uuids = make([]string, count)
	for i := 0; i < count; i++ {
		d, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			nvml.Shutdown()
			return fmt.Errorf("nvml.DeviceGetHandleByIndex(%d): %s", i, ret.Error())
		}
		m.devices[i] = d
		if uuid, ret := d.GetUUID(); ret == nvml.SUCCESS {
			m.uuids[i] = uuid
		}
	}

	m.xid = newXIDScanner()
	m.hung = newHungScanner()
	m.initialized = true
	return nil
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return device.ErrNotInitialized
	}

	ret := nvml.Shutdown()
	m.devices = nil
	m.uuids = nil
	m.initialized = false
	if ret != nvml.SUCCESS {
		return fmt.Errorf("nvml.Shutdown: %s", ret.Error())
	}
	return nil
}

func (m *Manager) ListDevices(ctx context.Context) ([]device.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized {
		return nil, device.ErrNotInitialized
	}

	out := make([]device.Identity, len(m.devices))
	for i := range m.devices {
		out[i] = device.Identity{Vendor: device.VendorNVIDIA, Index: i, UUID: m.uuids[i]}
	}
	return out, nil
}

func (m *Manager) handle(id device.Identity) (nvml.Device, error) {
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
	d, err := m.handle(id)
	if err != nil {
		return nil, err
	}

	temp, ret := d.GetTemperature(nvml.TEMPERATURE_GPU)
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("GetTemperature: %s", ret.Error())
	}
	util, ret := d.GetUtilizationRates()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("GetUtilizationRates: %s", ret.Error())
	}
	memInfo, ret := d.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("GetMemoryInfo: %s", ret.Error())
	}

	snap := &device.Snapshot{
		Temperature: int(temp),
		Utilization: int(util.Gpu),
		MemoryUsed:  memInfo.Used,
		MemoryTotal: memInfo.Total,
		CapturedAt:  time.Now(),
	}

	if powerMw, ret := d.GetPowerUsage(); ret == nvml.SUCCESS {
		watts := float64(powerMw) / 1000.0
		snap.PowerWatts = &watts
	}

	if uncorrected, ret := d.GetTotalEccErrors(nvml.MEMORY_ERROR_TYPE_UNCORRECTED, nvml.AGGREGATE_ECC); ret == nvml.SUCCESS {
		snap.ECCUncorrected = &uncorrected
	}
	if corrected, ret := d.GetTotalEccErrors(nvml.MEMORY_ERROR_TYPE_CORRECTED, nvml.AGGREGATE_ECC); ret == nvml.SUCCESS {
		snap.ECCCorrected = &corrected
	}

	return snap, nil
}

func (m *Manager) ScanErrors(ctx context.Context, since time.Time, id *device.Identity) ([]device.ErrorEvent, error) {
	m.mu.RLock()
	scanner := m.xid
	uuids := m.uuids
	m.mu.RUnlock()

	if scanner == nil {
		return nil, device.ErrNotInitialized
	}

	events, err := scanner.scan(since)
	if err != nil {
		slog.Warn("nvidia: xid scan failed", "error", err)
		return nil, err
	}
	if id == nil {
		return events, nil
	}

	filtered := events[:0:0]
	for _, e := range events {
		if e.DeviceIndex == id.Index || (id.UUID != "" && e.DeviceIndex >= 0 && e.DeviceIndex < len(uuids) && uuids[e.DeviceIndex] == id.UUID) {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func (m *Manager) FindHungConsumers(ctx context.Context, id device.Identity) ([]device.HungProcess, error) {
	m.mu.RLock()
	scanner := m.hung
	m.mu.RUnlock()

	if scanner == nil {
		return nil, device.ErrNotInitialized
	}
	return scanner.scan(ctx, id.Index)
}

func (m *Manager) RunActiveCheck(ctx context.Context, id device.Identity, timeout time.Duration) (device.CheckOutcome, error) {
	return runCheckBinary(ctx, activeCheckBinary, id, timeout, false)
}

func (m *Manager) RunBandwidthCheck(ctx context.Context, id device.Identity, timeout time.Duration) (device.CheckOutcome, error) {
	return runCheckBinary(ctx, activeCheckBinary, id, timeout, true)
}

// IsAvailable reports whether NVML can be initialized on this host. Used by
// autodetect.Detect to decide whether to hand out a *Manager.
func IsAvailable() bool {
	ret := nvml.Init()
	if ret != nvml.SUCCESS {
		return false
	}
	nvml.Shutdown()
	return true
}
