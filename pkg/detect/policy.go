package detect

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/gdnd-project/gdnd/pkg/device"
)

// Policy is an optional, deployment-specific set of CEL rules layered on
// top of the deterministic tier logic. It can only upgrade a Pass into a
// Fail -- it never downgrades a Fail/Timeout/FatalError outcome, and it
// never substitutes for the transition-table threshold logic in
// pkg/health. Off by default; a nil *Evaluator is a no-op enrichment.
type Policy struct {
	Rules []Rule `yaml:"rules"`
}

// Rule is a single supplementary health rule. Condition is a CEL
// expression evaluated against a `snapshot` map built from the device's
// telemetry (fields: temperature, utilization, memory_used,
// memory_total, power_watts) and an `events` list of maps (fields: code,
// severity, message).
type Rule struct {
	Name      string `yaml:"name"`
	Condition string `yaml:"condition"`
	Reason    string `yaml:"reason"`
}

// Validate checks that the policy is well-formed.
func (p *Policy) Validate() error {
	for i, r := range p.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if r.Condition == "" {
			return fmt.Errorf("rule %q: condition is required", r.Name)
		}
	}
	return nil
}

// Evaluator compiles a Policy's CEL rules once and evaluates them against
// detection outcomes on every tick.
type Evaluator struct {
	mu       sync.RWMutex
	policy   *Policy
	env      *cel.Env
	programs map[string]cel.Program
}

// NewEvaluator compiles policy's rules. A nil or empty policy yields an
// Evaluator whose Enrich is always a no-op.
func NewEvaluator(policy *Policy) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("snapshot", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("events", cel.ListType(cel.MapType(cel.StringType, cel.DynType))),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	if policy == nil {
		policy = &Policy{}
	}

	programs := make(map[string]cel.Program, len(policy.Rules))
	for _, rule := range policy.Rules {
		ast, issues := env.Compile(rule.Condition)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule.Name, issues.Err())
		}
		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("create program for rule %q: %w", rule.Name, err)
		}
		programs[rule.Name] = program
	}

	return &Evaluator{policy: policy, env: env, programs: programs}, nil
}

// Enrich applies the policy to a Pass outcome, upgrading it to Fail if
// any rule matches. Non-Pass outcomes and a nil Evaluator pass through
// unchanged.
func (e *Evaluator) Enrich(outcome device.CheckOutcome) device.CheckOutcome {
	if e == nil || outcome.Kind != device.CheckPass {
		return outcome
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	snapshot := snapshotToMap(outcome.Snapshot)
	events := eventsToList(outcome.Events)

	for _, rule := range e.policy.Rules {
		program, ok := e.programs[rule.Name]
		if !ok {
			continue
		}
		out, _, err := program.Eval(map[string]any{"snapshot": snapshot, "events": events})
		if err != nil {
			continue
		}
		if out.Type() == types.BoolType && out.Value().(bool) {
			outcome.Kind = device.CheckFail
			outcome.Reason = rule.Reason
			if outcome.Reason == "" {
				outcome.Reason = rule.Name
			}
			return outcome
		}
	}
	return outcome
}

func snapshotToMap(s *device.Snapshot) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	m := map[string]any{
		"temperature":  int64(s.Temperature),
		"utilization":  int64(s.Utilization),
		"memory_used":  int64(s.MemoryUsed),
		"memory_total": int64(s.MemoryTotal),
	}
	if s.PowerWatts != nil {
		m["power_watts"] = *s.PowerWatts
	}
	return m
}

func eventsToList(events []device.ErrorEvent) []map[string]any {
	out := make([]map[string]any, len(events))
	for i, e := range events {
		out[i] = map[string]any{
			"code":     int64(e.Code),
			"severity": string(e.Severity),
			"message":  e.Message,
		}
	}
	return out
}
