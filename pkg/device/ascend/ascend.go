// Package ascend implements device.Manager for Huawei Ascend NPUs by
// shelling out to the vendor's command-line inventory tool (npu-smi) and
// tailing its device log files, the same external-tool pattern the NVIDIA
// adapter uses for XID lines, generalized from log-line parsing to
// table-row parsing since no Go client library ships for Ascend.
package ascend

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// smiBinary is the vendor inventory tool, overridable for testing.
var smiBinary = "npu-smi"

// Manager implements device.Manager for Ascend NPUs via npu-smi.
type Manager struct {
	mu          sync.RWMutex
	initialized bool
	devices     []device.Identity

	errs *errorScanner
}

func New() *Manager {
	return &Manager{}
}

func (m *Manager) Vendor() device.Vendor { return device.VendorAscend }

func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return nil
	}

	rows, err := queryInventory(ctx)
	if err != nil {
		return fmt.Errorf("npu-smi inventory: %w: %w", err, device.ErrUnavailable)
	}

	devices := make([]device.Identity, 0, len(rows))
	for _, r := range rows {
		devices = append(devices, device.Identity{Vendor: device.VendorAscend, Index: r.index, UUID: r.name + "-" + strconv.Itoa(r.index)})
	}

	m.devices = devices
	m.errs = newErrorScanner()
	m.initialized = true
	return nil
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return device.ErrNotInitialized
	}
	m.devices = nil
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
	copy(out, m.devices)
	return out, nil
}

func (m *Manager) ReadTelemetry(ctx context.Context, id device.Identity) (*device.Snapshot, error) {
	m.mu.RLock()
	initialized := m.initialized
	m.mu.RUnlock()
	if !initialized {
		return nil, device.ErrNotInitialized
	}

	rows, err := queryInventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("npu-smi inventory: %w", err)
	}
	for _, r := range rows {
		if r.index != id.Index {
			continue
		}
		return &device.Snapshot{
			Temperature: r.temperature,
			Utilization: r.aiCoreUtil,
			MemoryUsed:  r.memUsed << 20, // npu-smi reports MiB; Snapshot is in bytes
			MemoryTotal: r.memTotal << 20,
			PowerWatts:  &r.powerWatts,
			CapturedAt:  time.Now(),
		}, nil
	}
	return nil, device.ErrDeviceMissing
}

func (m *Manager) ScanErrors(ctx context.Context, since time.Time, id *device.Identity) ([]device.ErrorEvent, error) {
	m.mu.RLock()
	scanner := m.errs
	m.mu.RUnlock()
	if scanner == nil {
		return nil, device.ErrNotInitialized
	}

	events, err := scanner.scan(since)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return events, nil
	}
	filtered := events[:0:0]
	for _, e := range events {
		if e.DeviceIndex == id.Index {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

func (m *Manager) FindHungConsumers(ctx context.Context, id device.Identity) ([]device.HungProcess, error) {
	// Ascend exposes no equivalent of an open device-fd scan through
	// npu-smi; hang detection here relies entirely on L2/L3 timeouts.
	return nil, nil
}

func (m *Manager) RunActiveCheck(ctx context.Context, id device.Identity, timeout time.Duration) (device.CheckOutcome, error) {
	return runCheckBinary(ctx, activeCheckBinary, id, timeout, false)
}

func (m *Manager) RunBandwidthCheck(ctx context.Context, id device.Identity, timeout time.Duration) (device.CheckOutcome, error) {
	return runCheckBinary(ctx, activeCheckBinary, id, timeout, true)
}

// IsAvailable reports whether npu-smi resolves on PATH and reports a
// usable device table.
func IsAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := queryInventory(ctx)
	return err == nil
}

type inventoryRow struct {
	index       int
	name        string
	health      string
	powerWatts  float64
	temperature int
	busID       string
	aiCoreUtil  int
	memUsed     uint64
	memTotal    uint64
	hbmUsed     uint64
	hbmTotal    uint64
}

// queryInventory runs `npu-smi info` and parses its tabular output.
// Columns: index, name, health, power, temperature, bus id, AI core
// utilization, memory used/total, HBM used/total.
func queryInventory(ctx context.Context) ([]inventoryRow, error) {
	cmd := exec.CommandContext(ctx, smiBinary, "info")
	out, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return parseInventory(string(out))
}

func parseInventory(output string) ([]inventoryRow, error) {
	var rows []inventoryRow

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !startsWithDigit(line) {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 9 {
			continue
		}

		idx, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		temp, _ := strconv.Atoi(strings.TrimSuffix(fields[4], "C"))
		power, _ := strconv.ParseFloat(strings.TrimSuffix(fields[3], "W"), 64)
		util, _ := strconv.Atoi(strings.TrimSuffix(fields[6], "%"))
		memUsed, memTotal := parseUsedTotal(fields[7])
		hbmUsed, hbmTotal := parseUsedTotal(fields[8])

		rows = append(rows, inventoryRow{
			index:       idx,
			name:        fields[1],
			health:      fields[2],
			powerWatts:  power,
			temperature: temp,
			busID:       fields[5],
			aiCoreUtil:  util,
			memUsed:     memUsed,
			memTotal:    memTotal,
			hbmUsed:     hbmUsed,
			hbmTotal:    hbmTotal,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// parseUsedTotal splits a "1234/81920" MiB column into its two values.
func parseUsedTotal(field string) (used, total uint64) {
	parts := strings.SplitN(field, "/", 2)
	if len(parts) != 2 {
		return 0, 0
	}
	u, _ := strconv.ParseUint(parts[0], 10, 64)
	t, _ := strconv.ParseUint(parts[1], 10, 64)
	return u, t
}

func startsWithDigit(s string) bool {
	if s == "" {
		return false
	}
	return s[0] >= '0' && s[0] <= '9'
}
