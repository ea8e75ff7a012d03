package ascend

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"al.essio.dev/pkg/shellescape"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// activeCheckBinary is the Ascend micro-benchmark/bandwidth-probe
// executable, resolved via PATH. Overridable for testing.
var activeCheckBinary = "gdnd-ascend-check"

var bandwidthLinePattern = regexp.MustCompile(`(Host to Device|Device to Host): ([0-9.]+) GB/s`)

// runCheckBinary follows the same wire contract as the NVIDIA adapter:
// `<binary> -d <index> -t <seconds> [--pcie-test] [-v]`, exit 0 pass /
// 1 runtime error / 2 verification mismatch / 3 timeout, hard-killed at
// timeout+1s.
func runCheckBinary(ctx context.Context, binary string, id device.Identity, timeout time.Duration, pcieTest bool) (device.CheckOutcome, error) {
	tier := device.TierL2Active
	if pcieTest {
		tier = device.TierL3PCIe
	}

	seconds := int(timeout.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	args := []string{"-d", strconv.Itoa(id.Index), "-t", strconv.Itoa(seconds), "-v"}
	if pcieTest {
		args = append(args, "--pcie-test")
	}

	killCtx, cancel := context.WithTimeout(ctx, timeout+time.Second)
	defer cancel()

	cmd := exec.CommandContext(killCtx, binary, args...)
	slog.Debug("ascend: launching active check",
		"device", id.String(),
		"command", quoteCommand(binary, args),
	)

	var stdout strings.Builder
	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return device.CheckOutcome{}, err
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return device.CheckOutcome{}, err
	}

	scanner := bufio.NewScanner(pipe)
	for scanner.Scan() {
		stdout.WriteString(scanner.Text())
		stdout.WriteByte('\n')
	}

	runErr := cmd.Wait()
	elapsed := time.Since(start)

	if errors.Is(killCtx.Err(), context.DeadlineExceeded) {
		return device.Timeout(tier, elapsed), nil
	}

	outcome := device.CheckOutcome{Tier: tier, Duration: elapsed}
	if pcieTest {
		outcome.H2DGBps, outcome.D2HGBps, outcome.BandwidthKnown = parseBandwidthOutput(stdout.String())
	}

	var exitErr *exec.ExitError
	if runErr == nil {
		outcome.Kind = device.CheckPass
		return outcome, nil
	}
	if !errors.As(runErr, &exitErr) {
		return device.CheckOutcome{}, runErr
	}

	switch exitErr.ExitCode() {
	case 3:
		outcome.Kind = device.CheckTimeout
	case 2:
		outcome.Kind = device.CheckFail
		outcome.Reason = "kernel_mismatch"
	default:
		outcome.Kind = device.CheckFail
		outcome.Reason = "runtime_error"
	}
	return outcome, nil
}

func parseBandwidthOutput(output string) (h2d, d2h float64, known bool) {
	for _, m := range bandwidthLinePattern.FindAllStringSubmatch(output, -1) {
		v, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			continue
		}
		switch m[1] {
		case "Host to Device":
			h2d = v
			known = true
		case "Device to Host":
			d2h = v
			known = true
		}
	}
	return h2d, d2h, known
}

func quoteCommand(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellescape.Quote(binary))
	for _, a := range args {
		parts = append(parts, shellescape.Quote(a))
	}
	return strings.Join(parts, " ")
}
