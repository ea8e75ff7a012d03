package ascend

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// logRoot is the vendor log directory. Each device writes to its own
// file named device-<index>.log under this root.
var logRoot = "/var/log/npu"

// errorLinePattern matches device log lines, e.g.:
// "2026-01-15T10:30:45+00:00 [ERROR] code=3001 AI Core exception detected"
var errorLinePattern = regexp.MustCompile(`^(\S+)\s+\[(ERROR|WARN|INFO)\]\s+code=(\d+)\s+(.*)$`)

// fatalDescriptions documents the fatal-code set for Ascend NPUs. The
// codes are the same as the default health.fatal_ascend_errors list in
// pkg/config, so log severity agrees with the L1 fatal-code decision.
var fatalDescriptions = map[int]string{
	1001: "HBM error",
	1002: "AI core hang",
	1007: "device lost",
	1008: "uncorrectable ECC error",
}

// FatalCodes is the shared device.FatalCodeSet for Ascend error codes.
var FatalCodes = device.NewIntCodeSet(fatalCodeList(), fatalDescriptions)

func fatalCodeList() []int {
	codes := make([]int, 0, len(fatalDescriptions))
	for c := range fatalDescriptions {
		codes = append(codes, c)
	}
	return codes
}

// errorScanner tails per-device log files under logRoot, tracking a
// byte-offset cursor per file so repeated scans don't re-report lines,
// mirroring the kernel-log cursor the NVIDIA XID collector keeps.
type errorScanner struct {
	mu      sync.Mutex
	cursors map[string]int64
}

func newErrorScanner() *errorScanner {
	return &errorScanner{cursors: make(map[string]int64)}
}

func (s *errorScanner) scan(since time.Time) ([]device.ErrorEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(logRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", logRoot, err)
	}

	var events []device.ErrorEvent
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		idx, ok := parseDeviceLogName(entry.Name())
		if !ok {
			continue
		}

		path := filepath.Join(logRoot, entry.Name())
		fileEvents, err := s.scanFile(path, idx, since)
		if err != nil {
			return nil, err
		}
		events = append(events, fileEvents...)
	}
	return events, nil
}

var deviceLogName = regexp.MustCompile(`^device-(\d+)\.log$`)

func parseDeviceLogName(name string) (int, bool) {
	m := deviceLogName.FindStringSubmatch(name)
	if m == nil {
		return 0, false
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return idx, true
}

func (s *errorScanner) scanFile(path string, index int, since time.Time) ([]device.ErrorEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	pos := s.cursors[path]
	if info.Size() < pos {
		pos = 0 // file rotated
	}
	if pos > 0 {
		if _, err := f.Seek(pos, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek %s: %w", path, err)
		}
	}

	var events []device.ErrorEvent
	var bytesRead int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		bytesRead += int64(len(line)) + 1

		m := errorLinePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		code, err := strconv.Atoi(m[3])
		if err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339, m[1])
		if err != nil {
			ts = time.Now()
		}
		if ts.Before(since) {
			continue
		}

		sev := device.SeverityInformational
		switch {
		case FatalCodes.IsFatal(code):
			sev = device.SeverityFatal
		case m[2] == "WARN":
			sev = device.SeverityWarning
		}

		events = append(events, device.ErrorEvent{
			Code:        code,
			Severity:    sev,
			Message:     m[4],
			Timestamp:   ts,
			DeviceIndex: index,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}

	s.cursors[path] = pos + bytesRead
	return events, nil
}
