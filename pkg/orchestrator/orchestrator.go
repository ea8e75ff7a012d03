// Package orchestrator defines the isolation-action contract the health
// scheduler drives once a device's state machine emits an isolation
// intent: cordon, taint, and evict a node rather than drain a whole
// instance.
package orchestrator

import "context"

// TaintEffect mirrors the Kubernetes taint effect vocabulary; Webhook and
// mock adapters accept the same three values even when not backed by a
// real Kubernetes API.
type TaintEffect string

const (
	NoSchedule       TaintEffect = "NoSchedule"
	NoExecute        TaintEffect = "NoExecute"
	PreferNoSchedule TaintEffect = "PreferNoSchedule"
)

// PodPredicate selects which pods on an isolated node are eligible for
// eviction.
type PodPredicate struct {
	// SkipDaemonSetPods excludes pods owned by a DaemonSet controller.
	SkipDaemonSetPods bool
	// SystemNamespace is excluded entirely (e.g. "kube-system").
	SystemNamespace string
	// SkipAnnotation, if set on a pod, excludes it regardless of owner.
	SkipAnnotation string
}

// EvictionResult reports how many pods were evicted and any per-pod
// failures; a failure on one pod never blocks the others.
type EvictionResult struct {
	Evicted int
	Skipped int
	Errors  []error
}

// Adapter is the five-operation contract the scheduler drives against
// the local node object: cordon, uncordon, add and remove a taint, and
// evict. Implementations must
// make every operation idempotent -- adding an existing taint or
// cordoning an already-cordoned node is a no-op, not an error.
type Adapter interface {
	// Name identifies the adapter for logging.
	Name() string

	// Cordon marks the node unschedulable. Idempotent.
	Cordon(ctx context.Context, nodeName, reason string) error

	// Uncordon clears the unschedulable mark. Idempotent.
	Uncordon(ctx context.Context, nodeName string) error

	// AddTaint applies a taint to the node. Idempotent.
	AddTaint(ctx context.Context, nodeName, key, value string, effect TaintEffect) error

	// RemoveTaint clears a taint by key. Idempotent.
	RemoveTaint(ctx context.Context, nodeName, key string) error

	// EvictPods evicts pods on the node matching predicate, using the
	// orchestrator's graceful-termination API. Per-pod failures are
	// collected in EvictionResult.Errors rather than aborting the batch.
	EvictPods(ctx context.Context, nodeName string, predicate PodPredicate) (EvictionResult, error)
}
