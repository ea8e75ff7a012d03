package detect

import (
	"testing"
	"time"

	"github.com/gdnd-project/gdnd/pkg/device"
)

func TestEvaluatorUpgradesPassToFail(t *testing.T) {
	policy := &Policy{Rules: []Rule{
		{Name: "high-util-low-mem", Condition: `snapshot.utilization > 95 && snapshot.memory_used > snapshot.memory_total * 9 / 10`, Reason: "thrashing"},
	}}
	ev, err := NewEvaluator(policy)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	outcome := device.Pass(device.TierL1Passive, time.Millisecond)
	outcome.Snapshot = &device.Snapshot{Utilization: 99, MemoryUsed: 95, MemoryTotal: 100}

	enriched := ev.Enrich(outcome)
	if enriched.Kind != device.CheckFail || enriched.Reason != "thrashing" {
		t.Fatalf("got %+v, want Fail(thrashing)", enriched)
	}
}

func TestEvaluatorNeverDowngradesFail(t *testing.T) {
	policy := &Policy{Rules: []Rule{{Name: "always", Condition: "true", Reason: "anything"}}}
	ev, err := NewEvaluator(policy)
	if err != nil {
		t.Fatalf("NewEvaluator: %v", err)
	}

	outcome := device.Fail(device.TierL1Passive, time.Millisecond, "over_temperature")
	enriched := ev.Enrich(outcome)
	if enriched.Reason != "over_temperature" {
		t.Fatalf("got reason %q, want unchanged over_temperature", enriched.Reason)
	}
}

func TestNilEvaluatorIsNoOp(t *testing.T) {
	var ev *Evaluator
	outcome := device.Pass(device.TierL1Passive, time.Millisecond)
	if got := ev.Enrich(outcome); got.Kind != device.CheckPass {
		t.Fatalf("got %+v, want unchanged Pass", got)
	}
}

func TestPolicyValidateRequiresNameAndCondition(t *testing.T) {
	p := &Policy{Rules: []Rule{{Name: "", Condition: "true"}}}
	if err := p.Validate(); err == nil {
		t.Error("expected error for missing rule name")
	}

	p = &Policy{Rules: []Rule{{Name: "no-condition", Condition: ""}}}
	if err := p.Validate(); err == nil {
		t.Error("expected error for missing rule condition")
	}
}
