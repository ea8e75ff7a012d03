// Package device unifies heterogeneous accelerators (NVIDIA GPUs, Huawei
// Ascend NPUs) behind one capability contract so the detection tiers,
// health state machine, and scheduler never need to know which vendor
// they're talking to.
package device

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Vendor identifies the accelerator family backing a Manager.
type Vendor string

const (
	VendorNVIDIA Vendor = "nvidia"
	VendorAscend Vendor = "ascend"
	VendorMock   Vendor = "mock"
)

// DeviceWide is the sentinel device index used by ErrorEvent for events
// that are not attributable to a single device.
const DeviceWide = -1

// Identity is the stable tuple that names a device. Index is ordinal on
// the local host; UUID is vendor-assigned and globally unique.
type Identity struct {
	Vendor Vendor
	Index  int
	UUID   string
}

// Key returns the identity's dedup key: the UUID when present, else a
// vendor-qualified index. Two Identity values with the same Key refer to
// the same physical device for equality/hashing purposes (spec: device
// identity uses UUID when present, else (vendor,index)).
func (id Identity) Key() string {
	if id.UUID != "" {
		return id.UUID
	}
	return fmt.Sprintf("%s:%d", id.Vendor, id.Index)
}

func (id Identity) String() string {
	if id.UUID != "" {
		return fmt.Sprintf("%s[%d]{%s}", id.Vendor, id.Index, id.UUID)
	}
	return fmt.Sprintf("%s[%d]", id.Vendor, id.Index)
}

// Snapshot is a point-in-time, immutable telemetry reading for a device.
type Snapshot struct {
	Temperature int // Celsius
	Utilization int // percent, 0-100
	MemoryUsed  uint64
	MemoryTotal uint64
	PowerWatts  *float64 // optional; nil when the vendor can't report power
	ECCUncorrected *uint64
	ECCCorrected   *uint64
	CapturedAt  time.Time
}

// Severity classifies a vendor error event.
type Severity string

const (
	SeverityFatal       Severity = "fatal"
	SeverityWarning     Severity = "warning"
	SeverityInformational Severity = "informational"
)

// ErrorEvent is one vendor kernel/device-log entry.
type ErrorEvent struct {
	Code        int
	Severity    Severity
	Message     string
	Timestamp   time.Time
	DeviceIndex int // DeviceWide for device-wide events
}

// FatalCodeSet reports whether a vendor error code is fatal — a code
// whose occurrence alone warrants immediate isolation, bypassing the
// consecutive-failure threshold (spec invariant: fatal codes dominate
// threshold logic).
type FatalCodeSet interface {
	IsFatal(code int) bool
	Describe(code int) string
}

// IntCodeSet is a FatalCodeSet backed by a plain set of codes, used for
// both the NVIDIA XID and Ascend default fatal-code configurations.
type IntCodeSet struct {
	Codes       map[int]struct{}
	Descriptions map[int]string
}

// NewIntCodeSet builds an IntCodeSet from a list of fatal codes.
func NewIntCodeSet(codes []int, descriptions map[int]string) *IntCodeSet {
	set := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return &IntCodeSet{Codes: set, Descriptions: descriptions}
}

func (s *IntCodeSet) IsFatal(code int) bool {
	_, ok := s.Codes[code]
	return ok
}

func (s *IntCodeSet) Describe(code int) string {
	if d, ok := s.Descriptions[code]; ok {
		return d
	}
	return fmt.Sprintf("code %d", code)
}

// HungProcess identifies a process holding a device handle while stuck in
// an uninterruptible sleep.
type HungProcess struct {
	PID  int
	Comm string
}

// CheckKind distinguishes the possible terminal results of a detection
// check, independent of which tier produced it.
type CheckKind string

const (
	CheckPass        CheckKind = "pass"
	CheckFail        CheckKind = "fail"
	CheckTimeout     CheckKind = "timeout"
	CheckFatalError  CheckKind = "fatal_error"
)

// Tier tags which detection tier produced a CheckOutcome.
type Tier string

const (
	TierL1Passive Tier = "l1"
	TierL2Active  Tier = "l2"
	TierL3PCIe    Tier = "l3"
)

// CheckOutcome is the structured result of one detection run for one
// device at one tier.
type CheckOutcome struct {
	Kind     CheckKind
	Reason   string // populated for CheckFail
	Code     int    // populated for CheckFatalError
	Tier     Tier
	Duration time.Duration

	Snapshot *Snapshot
	Events   []ErrorEvent

	// H2DGBps/D2HGBps are populated by L3 bandwidth checks.
	// BandwidthKnown is false when the binary's output carried no
	// bandwidth lines; the two values are then zero and mean "unknown",
	// not "measured zero".
	H2DGBps, D2HGBps float64
	BandwidthKnown   bool
}

func Pass(tier Tier, d time.Duration) CheckOutcome {
	return CheckOutcome{Kind: CheckPass, Tier: tier, Duration: d}
}

func Fail(tier Tier, d time.Duration, reason string) CheckOutcome {
	return CheckOutcome{Kind: CheckFail, Tier: tier, Duration: d, Reason: reason}
}

func Timeout(tier Tier, d time.Duration) CheckOutcome {
	return CheckOutcome{Kind: CheckTimeout, Tier: tier, Duration: d}
}

func Fatal(tier Tier, d time.Duration, code int) CheckOutcome {
	return CheckOutcome{Kind: CheckFatalError, Tier: tier, Duration: d, Code: code}
}

var (
	// ErrNotInitialized is returned by Manager methods called before
	// Initialize or after Shutdown.
	ErrNotInitialized = errors.New("device: manager not initialized")
	// ErrDeviceMissing is returned when an identity no longer resolves
	// to an enumerated device (e.g. hot-removed).
	ErrDeviceMissing = errors.New("device: device missing")
	// ErrUnavailable is returned by Detect when a vendor runtime cannot
	// be initialized.
	ErrUnavailable = errors.New("device: vendor runtime unavailable")
)

// Manager is the capability set every vendor implementation must provide
// (spec §4.1). Implementations must be reentrant across devices and must
// internally serialize any non-thread-safe vendor API calls.
type Manager interface {
	// Vendor identifies which accelerator family this Manager serves.
	Vendor() Vendor

	// Initialize prepares the manager for use; called once at startup.
	Initialize(ctx context.Context) error

	// Shutdown releases vendor resources; called once at agent shutdown.
	Shutdown(ctx context.Context) error

	// ListDevices returns the ordered sequence of device identities
	// currently enumerated on the host.
	ListDevices(ctx context.Context) ([]Identity, error)

	// ReadTelemetry returns a fresh telemetry snapshot for id.
	ReadTelemetry(ctx context.Context, id Identity) (*Snapshot, error)

	// ScanErrors returns vendor error events observed since the cursor
	// position implied by `since`, in chronological order. If id is nil,
	// events for all devices are returned.
	ScanErrors(ctx context.Context, since time.Time, id *Identity) ([]ErrorEvent, error)

	// FindHungConsumers returns processes holding a handle to id's
	// device while stuck in uninterruptible sleep.
	FindHungConsumers(ctx context.Context, id Identity) ([]HungProcess, error)

	// RunActiveCheck spawns the vendor's micro-benchmark binary against
	// id and returns Pass/Fail/Timeout within timeout+1s.
	RunActiveCheck(ctx context.Context, id Identity, timeout time.Duration) (CheckOutcome, error)

	// RunBandwidthCheck spawns the vendor's bandwidth-probe binary
	// against id and returns Pass(h2d, d2h)/Fail/Timeout.
	RunBandwidthCheck(ctx context.Context, id Identity, timeout time.Duration) (CheckOutcome, error)
}
