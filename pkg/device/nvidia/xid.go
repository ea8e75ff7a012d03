package nvidia

import (
	"bufio"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// xidPattern matches NVRM Xid lines, e.g.:
// "NVRM: Xid (PCI:0000:3b:00.0): 79, pid=1234, GPU has fallen off the bus."
var xidPattern = regexp.MustCompile(`NVRM: Xid \(PCI:([0-9a-fA-F:\.]+)\): (\d+),?(.*)`)

var xidDescriptions = map[int]string{
	8:   "GPU memory access fault",
	13:  "Graphics Engine Exception",
	31:  "GPU memory page fault",
	32:  "Invalid or corrupted push buffer stream",
	43:  "GPU stopped processing",
	45:  "Preemptive cleanup, due to previous errors",
	48:  "Double Bit ECC Error",
	63:  "ECC page retirement or row remapping event",
	64:  "ECC page retirement or row remapping recording failure",
	68:  "Video processor exception",
	69:  "Graphics Engine class error",
	74:  "NVLink error",
	79:  "GPU has fallen off the bus",
	92:  "High single-bit ECC error rate",
	94:  "Contained ECC error",
	95:  "Uncontained ECC error",
	119: "GSP RPC timeout",
}

// FatalXIDCodes are the XID codes documented by NVIDIA as indicating a
// hardware failure that typically requires node replacement. This list
// only sets ErrorEvent.Severity; the L1 threshold bypass uses the
// configured health.fatal_xids list instead.
var FatalXIDCodes = []int{13, 31, 32, 43, 45, 64, 68, 69, 79, 92, 94, 95, 119}

// FatalCodes is the shared device.FatalCodeSet for NVIDIA XID codes.
var FatalCodes = device.NewIntCodeSet(FatalXIDCodes, xidDescriptions)

// xidScanner tails dmesg (falling back to journalctl) for XID lines and
// maps PCI bus IDs to device indices.
type xidScanner struct {
	mu sync.Mutex
}

func newXIDScanner() *xidScanner {
	return &xidScanner{}
}

// scan returns XID-derived error events with timestamps at or after since.
// Timestamps that can't be parsed from the log line fall back to now, so
// callers should treat `since` as a best-effort cursor, not an exact one.
func (s *xidScanner) scan(since time.Time) ([]device.ErrorEvent, error) {
	output, err := readKernelLog()
	if err != nil {
		return nil, fmt.Errorf("read kernel log: %w", err)
	}

	var events []device.ErrorEvent
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		matches := xidPattern.FindStringSubmatch(line)
		if matches == nil {
			continue
		}

		code, err := strconv.Atoi(matches[2])
		if err != nil {
			continue
		}

		ts := extractTimestamp(line)
		if ts.Before(since) {
			continue
		}

		sev := device.SeverityInformational
		if FatalCodes.IsFatal(code) {
			sev = device.SeverityFatal
		}

		events = append(events, device.ErrorEvent{
			Code:        code,
			Severity:    sev,
			Message:     strings.TrimSpace(matches[3]),
			Timestamp:   ts,
			DeviceIndex: device.DeviceWide, // resolved to an index by callers via PCI lookup
		})
	}
	return events, scanner.Err()
}

// readKernelLog tries dmesg with ISO timestamps first, then plain dmesg,
// then journalctl -- the same fallback chain used for any non-root agent
// deployment where one of the three is typically permitted.
func readKernelLog() (string, error) {
	if out, err := exec.Command("dmesg", "--time-format=iso").Output(); err == nil {
		return string(out), nil
	}
	if out, err := exec.Command("dmesg").Output(); err == nil {
		return string(out), nil
	}
	if out, err := exec.Command("journalctl", "-k", "--no-pager", "-o", "short-iso").Output(); err == nil {
		return string(out), nil
	}
	return "", fmt.Errorf("dmesg and journalctl both failed")
}

var isoTimestamp = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})`)

func extractTimestamp(line string) time.Time {
	if m := isoTimestamp.FindStringSubmatch(line); m != nil {
		if t, err := time.Parse("2006-01-02T15:04:05", m[1]); err == nil {
			return t
		}
	}
	return time.Now()
}
