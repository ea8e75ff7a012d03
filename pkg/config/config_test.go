package config

import (
	"testing"
	"time"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`device_type: nvidia`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.L1Interval != Duration(30*time.Second) {
		t.Errorf("l1_interval default = %v, want 30s", time.Duration(cfg.L1Interval))
	}
	if cfg.L3Interval != Duration(24*time.Hour) {
		t.Errorf("l3_interval default = %v, want 24h", time.Duration(cfg.L3Interval))
	}
	if cfg.Health.FailureThreshold != 3 {
		t.Errorf("failure_threshold default = %d, want 3", cfg.Health.FailureThreshold)
	}
	if got := cfg.Health.FatalXIDs; len(got) != 4 || got[0] != 31 {
		t.Errorf("fatal_xids default = %v, want [31 43 48 79]", got)
	}
	if cfg.Isolation.TaintKey != "nvidia.com/gpu-health" {
		t.Errorf("taint_key default = %q, want nvidia.com/gpu-health", cfg.Isolation.TaintKey)
	}
	if !cfg.Isolation.CordonEnabled() {
		t.Error("cordon should default to enabled")
	}
	if !cfg.Metrics.MetricsEnabled() {
		t.Error("metrics should default to enabled")
	}
	if cfg.Metrics.Port != 9100 {
		t.Errorf("metrics.port default = %d, want 9100", cfg.Metrics.Port)
	}
	if cfg.Isolation.SystemNamespace != "kube-system" {
		t.Errorf("system_namespace default = %q, want kube-system", cfg.Isolation.SystemNamespace)
	}
	if cfg.Isolation.SkipAnnotation != "gdnd.io/skip-eviction" {
		t.Errorf("skip_annotation default = %q, want gdnd.io/skip-eviction", cfg.Isolation.SkipAnnotation)
	}
}

func TestParseAscendDefaultsTaintKey(t *testing.T) {
	cfg, err := Parse([]byte(`device_type: ascend`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Isolation.TaintKey != "huawei.com/npu-health" {
		t.Errorf("taint_key default = %q, want huawei.com/npu-health", cfg.Isolation.TaintKey)
	}
}

func TestParseAutoLeavesTaintKeyUnresolved(t *testing.T) {
	cfg, err := Parse([]byte(`device_type: auto`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Isolation.TaintKey != "" {
		t.Errorf("taint_key = %q, want empty until vendor is resolved", cfg.Isolation.TaintKey)
	}
}

func TestResolveTaintKeyPicksVendorDefault(t *testing.T) {
	cfg, err := Parse([]byte(`device_type: auto`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg.ResolveTaintKey("ascend")
	if cfg.Isolation.TaintKey != "huawei.com/npu-health" {
		t.Errorf("taint_key = %q, want huawei.com/npu-health", cfg.Isolation.TaintKey)
	}
}

func TestResolveTaintKeyIsNoOpWhenAlreadySet(t *testing.T) {
	cfg, err := Parse([]byte("device_type: auto\nisolation:\n  taint_key: custom.example/health\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	cfg.ResolveTaintKey("ascend")
	if cfg.Isolation.TaintKey != "custom.example/health" {
		t.Errorf("taint_key = %q, want custom.example/health to be left untouched", cfg.Isolation.TaintKey)
	}
}

func TestParseDefaultsOrchestratorToKubernetes(t *testing.T) {
	cfg, err := Parse([]byte(`device_type: nvidia`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Orchestrator.Type != "kubernetes" {
		t.Errorf("orchestrator.type default = %q, want kubernetes", cfg.Orchestrator.Type)
	}
	if cfg.Orchestrator.WebhookTimeout != Duration(10*time.Second) {
		t.Errorf("orchestrator.webhook_timeout default = %v, want 10s", time.Duration(cfg.Orchestrator.WebhookTimeout))
	}
}

func TestParseRejectsWebhookTypeWithoutURL(t *testing.T) {
	_, err := Parse([]byte("orchestrator:\n  type: webhook\n"))
	if err == nil {
		t.Fatal("expected error for webhook orchestrator without webhook_url")
	}
}

func TestParseAcceptsWebhookTypeWithURL(t *testing.T) {
	cfg, err := Parse([]byte("device_type: nvidia\norchestrator:\n  type: webhook\n  webhook_url: https://example.com/hook\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Orchestrator.WebhookURL != "https://example.com/hook" {
		t.Errorf("webhook_url = %q, want https://example.com/hook", cfg.Orchestrator.WebhookURL)
	}
}

func TestParseRejectsInvalidOrchestratorType(t *testing.T) {
	_, err := Parse([]byte("orchestrator:\n  type: carrier-pigeon\n"))
	if err == nil {
		t.Fatal("expected error for invalid orchestrator.type")
	}
}

func TestParseRejectsUnknownOrchestratorKey(t *testing.T) {
	_, err := Parse([]byte("orchestrator:\n  typpe: webhook\n"))
	if err == nil {
		t.Fatal("expected error for unrecognized orchestrator key")
	}
}

func TestParseExplicitCordonFalseIsRespected(t *testing.T) {
	cfg, err := Parse([]byte("isolation:\n  cordon: false\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Isolation.CordonEnabled() {
		t.Error("explicit cordon: false should disable cordoning")
	}
}

func TestParseRejectsUnknownTopLevelKey(t *testing.T) {
	_, err := Parse([]byte("devcie_type: nvidia\n"))
	if err == nil {
		t.Fatal("expected error for unrecognized key")
	}
}

func TestParseRejectsUnknownNestedKey(t *testing.T) {
	_, err := Parse([]byte("health:\n  failur_threshold: 3\n"))
	if err == nil {
		t.Fatal("expected error for unrecognized nested key")
	}
}

func TestParseRejectsInvalidDeviceType(t *testing.T) {
	_, err := Parse([]byte("device_type: rocm\n"))
	if err == nil {
		t.Fatal("expected error for invalid device_type")
	}
}

func TestParseRejectsInvalidTaintEffect(t *testing.T) {
	_, err := Parse([]byte("isolation:\n  taint_effect: Reboot\n"))
	if err == nil {
		t.Fatal("expected error for invalid taint_effect")
	}
}

func TestParseRejectsInvalidDuration(t *testing.T) {
	_, err := Parse([]byte("l1_interval: not-a-duration\n"))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
