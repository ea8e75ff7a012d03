package nvidia

import "testing"

func TestParseBandwidthOutput(t *testing.T) {
	out := "running pcie bandwidth test\nHost to Device: 24.50 GB/s\nDevice to Host: 23.90 GB/s\ndone\n"
	h2d, d2h, known := parseBandwidthOutput(out)
	if !known {
		t.Fatal("expected bandwidth to be known")
	}
	if h2d != 24.50 {
		t.Errorf("h2d = %v, want 24.50", h2d)
	}
	if d2h != 23.90 {
		t.Errorf("d2h = %v, want 23.90", d2h)
	}
}

func TestParseBandwidthOutputUnknownWhenAbsent(t *testing.T) {
	_, _, known := parseBandwidthOutput("no bandwidth lines here\n")
	if known {
		t.Error("expected bandwidth unknown when lines are absent")
	}
}

func TestQuoteCommandEscapesArguments(t *testing.T) {
	got := quoteCommand("gdnd-nvidia-check", []string{"-d", "0", "-t", "5", "--pcie-test"})
	want := "gdnd-nvidia-check -d 0 -t 5 --pcie-test"
	if got != want {
		t.Errorf("quoteCommand = %q, want %q", got, want)
	}
}
