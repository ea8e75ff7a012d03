package nvidia

import (
	"testing"
	"time"

	"github.com/gdnd-project/gdnd/pkg/device"
)

func TestXIDPatternMatchesFatalLine(t *testing.T) {
	line := "2026-01-15T10:30:45,123456+00:00 host kernel: NVRM: Xid (PCI:0000:3b:00.0): 79, pid=1234, GPU has fallen off the bus."
	matches := xidPattern.FindStringSubmatch(line)
	if matches == nil {
		t.Fatalf("expected xidPattern to match line: %q", line)
	}
	if matches[1] != "0000:3b:00.0" {
		t.Errorf("pci id = %q, want 0000:3b:00.0", matches[1])
	}
	if matches[2] != "79" {
		t.Errorf("xid code = %q, want 79", matches[2])
	}
}

func TestFatalCodesMatchesDocumentedSet(t *testing.T) {
	for _, code := range FatalXIDCodes {
		if !FatalCodes.IsFatal(code) {
			t.Errorf("code %d should be fatal", code)
		}
	}
	if FatalCodes.IsFatal(31) == false {
		t.Errorf("expected XID 31 (page fault) to be fatal")
	}
	if FatalCodes.IsFatal(63) {
		t.Errorf("XID 63 (row remapping) should not be in the fatal set")
	}
}

func TestExtractTimestampFallsBackToNow(t *testing.T) {
	before := time.Now()
	ts := extractTimestamp("no timestamp here")
	if ts.Before(before) {
		t.Errorf("expected fallback timestamp to be at/after %v, got %v", before, ts)
	}

	ts2 := extractTimestamp("2026-01-15T10:30:45,000 NVRM: Xid (PCI:0000:01:00.0): 79, boom")
	want := time.Date(2026, 1, 15, 10, 30, 45, 0, time.UTC)
	if !ts2.Equal(want) {
		t.Errorf("extractTimestamp = %v, want %v", ts2, want)
	}
}

func TestFatalCodesDescribeUnknownCode(t *testing.T) {
	desc := FatalCodes.Describe(999999)
	if desc == "" {
		t.Error("expected non-empty description for unknown code")
	}
	_ = device.SeverityFatal
}
