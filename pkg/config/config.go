// Package config loads and validates the agent's YAML configuration:
// a single flat document decoded twice, once to reject unrecognized
// keys and once into the typed struct, then defaulted and validated.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gdnd-project/gdnd/pkg/orchestrator"
)

// Config is the agent's full configuration, decoded from a single YAML
// document.
type Config struct {
	DeviceType string `yaml:"device_type"`

	L1Interval Duration `yaml:"l1_interval"`
	L2Interval Duration `yaml:"l2_interval"`
	L3Interval Duration `yaml:"l3_interval"`
	L3Enabled  bool     `yaml:"l3_enabled"`

	GPUCheckPath string `yaml:"gpu_check_path"`
	NPUCheckPath string `yaml:"npu_check_path"`

	Health       HealthConfig       `yaml:"health"`
	Isolation    IsolationConfig    `yaml:"isolation"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	DryRun bool `yaml:"dry_run"`
}

// OrchestratorConfig selects which Adapter implementation carries out
// isolation actions. Type kubernetes talks to the API server directly;
// webhook POSTs actions to an external workload-system endpoint for
// non-Kubernetes deployments; noop only logs (the implicit choice when
// dry_run is set, regardless of Type).
type OrchestratorConfig struct {
	Type           string   `yaml:"type"`
	WebhookURL     string   `yaml:"webhook_url"`
	WebhookTimeout Duration `yaml:"webhook_timeout"`
}

// HealthConfig configures the per-device health state machine and the
// thresholds detection tiers apply.
type HealthConfig struct {
	FailureThreshold     int      `yaml:"failure_threshold"`
	FatalXIDs            []int    `yaml:"fatal_xids"`
	FatalAscendErrors    []int    `yaml:"fatal_ascend_errors"`
	TemperatureThreshold int      `yaml:"temperature_threshold"`
	ActiveCheckTimeout   Duration `yaml:"active_check_timeout"`
}

// IsolationConfig configures what the orchestrator adapter does once a
// device reaches Unhealthy. Cordon is a *bool (default true) so that an
// explicit `cordon: false` in YAML is distinguishable from an omitted
// field, which yaml.v3 would otherwise decode identically to false.
type IsolationConfig struct {
	Cordon          *bool  `yaml:"cordon"`
	EvictPods       bool   `yaml:"evict_pods"`
	TaintKey        string `yaml:"taint_key"`
	TaintValue      string `yaml:"taint_value"`
	TaintEffect     string `yaml:"taint_effect"`
	SystemNamespace string `yaml:"system_namespace"`
	SkipAnnotation  string `yaml:"skip_annotation"`
}

// CordonEnabled returns whether cordoning is enabled, applying the
// default of true when unset.
func (i IsolationConfig) CordonEnabled() bool {
	return i.Cordon == nil || *i.Cordon
}

// MetricsConfig configures the Prometheus HTTP endpoint. Enabled is a
// *bool for the same reason as IsolationConfig.Cordon.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// MetricsEnabled returns whether the metrics endpoint is enabled,
// applying the default of true when unset.
func (m MetricsConfig) MetricsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Effect parses TaintEffect into the orchestrator's TaintEffect type.
func (i IsolationConfig) Effect() orchestrator.TaintEffect {
	return orchestrator.TaintEffect(i.TaintEffect)
}

// ResolveTaintKey fills in the vendor-specific default taint key once the
// runtime vendor is known. It's a no-op if taint_key was already set,
// either explicitly in YAML or by applyDefaults for a non-auto
// device_type. Called after device autodetection resolves which vendor
// "auto" actually means, so the default never silently stays
// nvidia.com/gpu-health for a node that turned out to be Ascend.
func (c *Config) ResolveTaintKey(vendor string) {
	if c.Isolation.TaintKey != "" {
		return
	}
	if vendor == "ascend" {
		c.Isolation.TaintKey = "huawei.com/npu-health"
		return
	}
	c.Isolation.TaintKey = "nvidia.com/gpu-health"
}

var recognizedKeys = map[string]bool{
	"device_type": true, "l1_interval": true, "l2_interval": true, "l3_interval": true,
	"l3_enabled": true, "gpu_check_path": true, "npu_check_path": true,
	"health": true, "isolation": true, "metrics": true, "orchestrator": true, "dry_run": true,
}

var recognizedHealthKeys = map[string]bool{
	"failure_threshold": true, "fatal_xids": true, "fatal_ascend_errors": true,
	"temperature_threshold": true, "active_check_timeout": true,
}

var recognizedIsolationKeys = map[string]bool{
	"cordon": true, "evict_pods": true, "taint_key": true, "taint_value": true, "taint_effect": true,
	"system_namespace": true, "skip_annotation": true,
}

var recognizedMetricsKeys = map[string]bool{
	"enabled": true, "port": true, "path": true,
}

var recognizedOrchestratorKeys = map[string]bool{
	"type": true, "webhook_url": true, "webhook_timeout": true,
}

// Load reads and parses cfg from path, applying defaults and validating
// the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes cfg from raw YAML bytes, rejecting unrecognized keys,
// applying defaults, and validating the result.
func Parse(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	if err := checkUnknownKeys(raw); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkUnknownKeys(raw map[string]any) error {
	for k := range raw {
		if !recognizedKeys[k] {
			return fmt.Errorf("unrecognized config key: %s", k)
		}
	}
	if health, ok := raw["health"].(map[string]any); ok {
		for k := range health {
			if !recognizedHealthKeys[k] {
				return fmt.Errorf("unrecognized config key: health.%s", k)
			}
		}
	}
	if isolation, ok := raw["isolation"].(map[string]any); ok {
		for k := range isolation {
			if !recognizedIsolationKeys[k] {
				return fmt.Errorf("unrecognized config key: isolation.%s", k)
			}
		}
	}
	if metrics, ok := raw["metrics"].(map[string]any); ok {
		for k := range metrics {
			if !recognizedMetricsKeys[k] {
				return fmt.Errorf("unrecognized config key: metrics.%s", k)
			}
		}
	}
	if orch, ok := raw["orchestrator"].(map[string]any); ok {
		for k := range orch {
			if !recognizedOrchestratorKeys[k] {
				return fmt.Errorf("unrecognized config key: orchestrator.%s", k)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.DeviceType == "" {
		c.DeviceType = "auto"
	}
	if c.L1Interval == 0 {
		c.L1Interval = Duration(30 * time.Second)
	}
	if c.L2Interval == 0 {
		c.L2Interval = Duration(5 * time.Minute)
	}
	if c.L3Interval == 0 {
		c.L3Interval = Duration(24 * time.Hour)
	}
	if c.GPUCheckPath == "" {
		c.GPUCheckPath = "/usr/local/bin/gpu-check"
	}
	if c.NPUCheckPath == "" {
		c.NPUCheckPath = "/usr/local/bin/npu-check"
	}

	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = 3
	}
	if len(c.Health.FatalXIDs) == 0 {
		c.Health.FatalXIDs = []int{31, 43, 48, 79}
	}
	if len(c.Health.FatalAscendErrors) == 0 {
		c.Health.FatalAscendErrors = []int{1001, 1002, 1007, 1008}
	}
	if c.Health.TemperatureThreshold == 0 {
		c.Health.TemperatureThreshold = 85
	}
	if c.Health.ActiveCheckTimeout == 0 {
		c.Health.ActiveCheckTimeout = Duration(5 * time.Second)
	}

	if c.Isolation.TaintKey == "" && c.DeviceType != "auto" {
		key := "nvidia.com/gpu-health"
		if c.DeviceType == "ascend" {
			key = "huawei.com/npu-health"
		}
		c.Isolation.TaintKey = key
	}
	if c.Isolation.SystemNamespace == "" {
		c.Isolation.SystemNamespace = "kube-system"
	}
	if c.Isolation.SkipAnnotation == "" {
		c.Isolation.SkipAnnotation = "gdnd.io/skip-eviction"
	}
	if c.Isolation.TaintValue == "" {
		c.Isolation.TaintValue = "failed"
	}
	if c.Isolation.TaintEffect == "" {
		c.Isolation.TaintEffect = "NoSchedule"
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9100
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Orchestrator.Type == "" {
		c.Orchestrator.Type = "kubernetes"
	}
	if c.Orchestrator.WebhookTimeout == 0 {
		c.Orchestrator.WebhookTimeout = Duration(10 * time.Second)
	}
}

// Validate checks the configuration for internal consistency beyond
// what unknown-key rejection and YAML type decoding already catch.
func (c *Config) Validate() error {
	switch c.DeviceType {
	case "auto", "nvidia", "ascend":
	default:
		return fmt.Errorf("device_type must be auto, nvidia, or ascend, got %q", c.DeviceType)
	}

	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("health.failure_threshold must be >= 1")
	}
	if c.Health.TemperatureThreshold <= 0 {
		return fmt.Errorf("health.temperature_threshold must be > 0")
	}

	switch c.Isolation.TaintEffect {
	case "NoSchedule", "NoExecute", "PreferNoSchedule":
	default:
		return fmt.Errorf("isolation.taint_effect must be NoSchedule, NoExecute, or PreferNoSchedule, got %q", c.Isolation.TaintEffect)
	}
	// When device_type is auto, an unset taint_key is resolved later by
	// ResolveTaintKey once the autodetected vendor is known, so it's not
	// an error here.
	if c.Isolation.TaintKey == "" && c.DeviceType != "auto" {
		return fmt.Errorf("isolation.taint_key must not be empty")
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be a valid port number")
	}

	switch c.Orchestrator.Type {
	case "kubernetes", "webhook", "noop":
	default:
		return fmt.Errorf("orchestrator.type must be kubernetes, webhook, or noop, got %q", c.Orchestrator.Type)
	}
	if c.Orchestrator.Type == "webhook" && c.Orchestrator.WebhookURL == "" {
		return fmt.Errorf("orchestrator.webhook_url must be set when orchestrator.type is webhook")
	}

	return nil
}

// Duration is a time.Duration that decodes from YAML strings like "30s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}
