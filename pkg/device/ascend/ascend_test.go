package ascend

import (
	"strings"
	"testing"
)

const sampleInventory = `NPU ID  Name        Health  Power   Temp  Bus-Id       AI Core  Memory-Usage  HBM-Usage
0       Ascend910B  OK      350W    62C   0000:01:00.0 45%      2048/65536    1024/32768
1       Ascend910B  OK      360W    65C   0000:02:00.0 50%      3072/65536    1536/32768
`

func TestParseInventory(t *testing.T) {
	rows, err := parseInventory(sampleInventory)
	if err != nil {
		t.Fatalf("parseInventory: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	r0 := rows[0]
	if r0.index != 0 {
		t.Errorf("index = %d, want 0", r0.index)
	}
	if r0.temperature != 62 {
		t.Errorf("temperature = %d, want 62", r0.temperature)
	}
	if r0.powerWatts != 350 {
		t.Errorf("power = %v, want 350", r0.powerWatts)
	}
	if r0.aiCoreUtil != 45 {
		t.Errorf("aiCoreUtil = %d, want 45", r0.aiCoreUtil)
	}
	if r0.memUsed != 2048 || r0.memTotal != 65536 {
		t.Errorf("mem = %d/%d, want 2048/65536", r0.memUsed, r0.memTotal)
	}
}

func TestParseInventorySkipsHeader(t *testing.T) {
	rows, err := parseInventory("NPU ID  Name\n")
	if err != nil {
		t.Fatalf("parseInventory: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
}

func TestFatalCodesKnownEntries(t *testing.T) {
	if !FatalCodes.IsFatal(1002) {
		t.Error("expected 1002 (AI core hang) to be fatal")
	}
	if FatalCodes.IsFatal(1) {
		t.Error("code 1 should not be fatal")
	}
}

func TestParseDeviceLogName(t *testing.T) {
	idx, ok := parseDeviceLogName("device-3.log")
	if !ok || idx != 3 {
		t.Errorf("got (%d, %v), want (3, true)", idx, ok)
	}
	if _, ok := parseDeviceLogName("not-a-device-log.txt"); ok {
		t.Error("expected no match for unrelated filename")
	}
}

func TestErrorLinePatternMatches(t *testing.T) {
	line := "2026-01-15T10:30:45+00:00 [ERROR] code=3001 AI Core exception detected"
	m := errorLinePattern.FindStringSubmatch(line)
	if m == nil {
		t.Fatalf("expected match for line: %q", line)
	}
	if m[3] != "3001" {
		t.Errorf("code = %q, want 3001", m[3])
	}
	if !strings.Contains(m[4], "AI Core exception") {
		t.Errorf("message = %q", m[4])
	}
}
