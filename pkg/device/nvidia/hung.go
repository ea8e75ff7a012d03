package nvidia

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// hungScanner finds processes holding an open handle to /dev/nvidia<N>
// while parked in uninterruptible sleep (state D), the signature of a
// process wedged behind a stuck GPU.
type hungScanner struct {
	procRoot string
}

func newHungScanner() *hungScanner {
	return &hungScanner{procRoot: "/proc"}
}

func (s *hungScanner) scan(ctx context.Context, index int) ([]device.HungProcess, error) {
	devNode := fmt.Sprintf("/dev/nvidia%d", index)

	entries, err := os.ReadDir(s.procRoot)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.procRoot, err)
	}

	var hung []device.HungProcess
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return hung, ctx.Err()
		default:
		}

		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		if !s.holdsDevice(pid, devNode) {
			continue
		}
		state, comm, ok := s.readStatus(pid)
		if !ok || state != "D" {
			continue
		}

		hung = append(hung, device.HungProcess{PID: pid, Comm: comm})
	}
	return hung, nil
}

func (s *hungScanner) holdsDevice(pid int, devNode string) bool {
	fdDir := filepath.Join(s.procRoot, strconv.Itoa(pid), "fd")
	fds, err := os.ReadDir(fdDir)
	if err != nil {
		return false
	}
	for _, fd := range fds {
		target, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
		if err != nil {
			continue
		}
		if target == devNode {
			return true
		}
	}
	return false
}

// readStatus parses /proc/<pid>/status for the process State and Name
// fields. State is returned as its one-letter code ("D", "R", ...).
func (s *hungScanner) readStatus(pid int) (state, comm string, ok bool) {
	f, err := os.Open(filepath.Join(s.procRoot, strconv.Itoa(pid), "status"))
	if err != nil {
		return "", "", false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "State:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				state = fields[1]
			}
		case strings.HasPrefix(line, "Name:"):
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				comm = fields[1]
			}
		}
	}
	return state, comm, state != ""
}
