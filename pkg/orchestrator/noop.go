package orchestrator

import (
	"context"
	"log/slog"
)

// Noop logs every action without touching any real orchestrator. Used in
// dry_run mode and in tests.
type Noop struct {
	log *slog.Logger
}

// NewNoop returns a Noop adapter. A nil logger falls back to slog.Default().
func NewNoop(log *slog.Logger) *Noop {
	if log == nil {
		log = slog.Default()
	}
	return &Noop{log: log}
}

func (n *Noop) Name() string { return "noop" }

func (n *Noop) Cordon(_ context.Context, nodeName, reason string) error {
	n.log.Info("noop: would cordon node", "node", nodeName, "reason", reason)
	return nil
}

func (n *Noop) Uncordon(_ context.Context, nodeName string) error {
	n.log.Info("noop: would uncordon node", "node", nodeName)
	return nil
}

func (n *Noop) AddTaint(_ context.Context, nodeName, key, value string, effect TaintEffect) error {
	n.log.Info("noop: would add taint", "node", nodeName, "key", key, "value", value, "effect", effect)
	return nil
}

func (n *Noop) RemoveTaint(_ context.Context, nodeName, key string) error {
	n.log.Info("noop: would remove taint", "node", nodeName, "key", key)
	return nil
}

func (n *Noop) EvictPods(_ context.Context, nodeName string, predicate PodPredicate) (EvictionResult, error) {
	n.log.Info("noop: would evict pods", "node", nodeName,
		"skip_daemonset", predicate.SkipDaemonSetPods, "system_namespace", predicate.SystemNamespace)
	return EvictionResult{}, nil
}
