// Package scheduler drives the three detection tiers against every
// discovered device on independent tickers, feeds outcomes into the
// health state machine, and dispatches isolation intents to an
// orchestrator adapter. One ticker per detection tier; devices are
// evaluated concurrently within a tick, serialized per device so tiers
// never race against the same device.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gdnd-project/gdnd/pkg/clock"
	"github.com/gdnd-project/gdnd/pkg/detect"
	"github.com/gdnd-project/gdnd/pkg/device"
	"github.com/gdnd-project/gdnd/pkg/health"
	"github.com/gdnd-project/gdnd/pkg/metrics"
	"github.com/gdnd-project/gdnd/pkg/orchestrator"
)

// Config configures a Scheduler's tier intervals and thresholds.
type Config struct {
	L1Interval time.Duration
	L2Interval time.Duration
	L3Interval time.Duration
	L3Enabled  bool

	L1 detect.L1Config
	L2 detect.L2Config
	L3 detect.L3Config

	FailureThreshold int

	NodeName  string
	DryRun    bool
	Isolation IsolationConfig

	Clock clock.Clock
}

// IsolationConfig mirrors the config package's isolation settings
// without importing it, keeping scheduler decoupled from YAML parsing.
type IsolationConfig struct {
	Cordon          bool
	EvictPods       bool
	TaintKey        string
	TaintValue      string
	TaintEffect     orchestrator.TaintEffect
	SystemNamespace string
	SkipAnnotation  string
}

// Scheduler runs the detection tiers and isolation pipeline for a set
// of devices on a single node.
type Scheduler struct {
	cfg       Config
	mgr       device.Manager
	machine   *health.Machine
	evaluator *detect.Evaluator
	adapter   orchestrator.Adapter
	metrics   *metrics.Registry
	logger    *slog.Logger
	clock     clock.Clock

	// deviceLocks serializes tiers per device so L1/L2/L3 never run
	// concurrently against the same device.
	mu          sync.Mutex
	deviceLocks map[string]*sync.Mutex

	since map[string]time.Time // per-device cursor for incremental error scans
	sinceMu sync.Mutex
}

// New builds a Scheduler. evaluator may be nil to skip the supplementary
// CEL policy layer.
func New(cfg Config, mgr device.Manager, machine *health.Machine, evaluator *detect.Evaluator, adapter orchestrator.Adapter, reg *metrics.Registry, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Scheduler{
		cfg:         cfg,
		mgr:         mgr,
		machine:     machine,
		evaluator:   evaluator,
		adapter:     adapter,
		metrics:     reg,
		logger:      logger,
		clock:       clk,
		deviceLocks: make(map[string]*sync.Mutex),
		since:       make(map[string]time.Time),
	}
}

// Run starts all tier loops and blocks until ctx is cancelled. The tier
// loops run on a context derived from ctx, so in-flight ticks see the
// cancellation at once. Run then waits for the loops to return; the
// 5-second timer only cancels the derived context again and does not put
// an upper bound on that wait.
func (s *Scheduler) Run(ctx context.Context) error {
	ids, err := s.mgr.ListDevices(ctx)
	if err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.SetDeviceCount(len(ids))
	}
	for _, id := range ids {
		s.lockFor(id.Key())
		s.sinceMu.Lock()
		s.since[id.Key()] = s.clock.Now()
		s.sinceMu.Unlock()
	}

	var wg sync.WaitGroup
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	wg.Add(1)
	go func() { defer wg.Done(); s.runTierLoop(runCtx, "l1", s.cfg.L1Interval, s.tickL1) }()

	wg.Add(1)
	go func() { defer wg.Done(); s.runTierLoop(runCtx, "l2", s.cfg.L2Interval, s.tickL2) }()

	if s.cfg.L3Enabled {
		wg.Add(1)
		go func() { defer wg.Done(); s.runTierLoop(runCtx, "l3", s.cfg.L3Interval, s.tickL3) }()
	}

	<-ctx.Done()
	s.logger.Info("scheduler shutting down, waiting for in-flight ticks")

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		cancel()
		<-done
	}
	return nil
}

func (s *Scheduler) runTierLoop(ctx context.Context, tier string, interval time.Duration, tick func(context.Context)) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("tier loop started", "tier", tier, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("tier loop stopped", "tier", tier)
			return
		case <-ticker.C():
			tick(ctx)
		}
	}
}

func (s *Scheduler) tickL1(ctx context.Context) {
	s.forEachDevice(ctx, func(ctx context.Context, id device.Identity) {
		if s.isIsolated(id) {
			return
		}
		s.sinceMu.Lock()
		since := s.since[id.Key()]
		s.since[id.Key()] = s.clock.Now()
		s.sinceMu.Unlock()

		outcome := detect.RunL1(ctx, s.mgr, id, since, s.cfg.L1)
		s.handleOutcome(ctx, id, outcome)
	})
}

func (s *Scheduler) tickL2(ctx context.Context) {
	s.forEachDevice(ctx, func(ctx context.Context, id device.Identity) {
		if s.isIsolated(id) {
			return
		}
		outcome := detect.RunL2(ctx, s.mgr, id, s.cfg.L2)
		s.handleOutcome(ctx, id, outcome)
	})
}

func (s *Scheduler) tickL3(ctx context.Context) {
	s.forEachDevice(ctx, func(ctx context.Context, id device.Identity) {
		if s.isIsolated(id) {
			return
		}
		outcome := detect.RunL3(ctx, s.mgr, id, s.cfg.L3)
		s.handleOutcome(ctx, id, outcome)
	})
}

// forEachDevice dispatches fn for every device concurrently, recovering
// from a panic in any single device task so the rest of the tick
// continues uninterrupted.
func (s *Scheduler) forEachDevice(ctx context.Context, fn func(context.Context, device.Identity)) {
	ids, err := s.mgr.ListDevices(ctx)
	if err != nil {
		s.logger.Error("list devices failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock := s.lockFor(id.Key())
			lock.Lock()
			defer lock.Unlock()

			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("panic in device task recovered", "device", id.String(), "panic", r)
				}
			}()
			fn(ctx, id)
		}()
	}
	wg.Wait()
}

func (s *Scheduler) lockFor(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.deviceLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.deviceLocks[key] = lock
	}
	return lock
}

func (s *Scheduler) isIsolated(id device.Identity) bool {
	rec := s.machine.Snapshot(id)
	return rec.State == health.Isolated
}

func (s *Scheduler) handleOutcome(ctx context.Context, id device.Identity, outcome device.CheckOutcome) {
	if s.evaluator != nil {
		outcome = s.evaluator.Enrich(outcome)
	}
	if s.metrics != nil {
		s.metrics.ObserveOutcome(id, outcome)
		if outcome.Snapshot != nil {
			s.metrics.SetTelemetry(id, outcome.Snapshot)
		}
	}

	prev := s.machine.Snapshot(id).State
	rec, intent := s.machine.Apply(id, outcome, s.cfg.FailureThreshold)
	if s.metrics != nil {
		s.metrics.SetState(id, rec.State)
	}

	if rec.State != prev {
		s.logger.Info("device health transition",
			"device", id.String(), "from_state", prev.String(), "to_state", rec.State.String(), "reason", rec.LastReason)
	}

	if intent != nil {
		s.dispatchIsolation(ctx, *intent)
	}
}

func (s *Scheduler) dispatchIsolation(ctx context.Context, intent health.Intent) {
	logger := s.logger.With("device", intent.Device.String(), "correlation_id", intent.CorrelationID, "reason", intent.Reason)

	if s.cfg.DryRun {
		logger.Info("dry_run: would isolate node", "node", s.cfg.NodeName,
			"cordon", intent.Actions.Cordon, "taint", intent.Actions.Taint, "evict", intent.Actions.EvictPods)
		if intent.Actions.Cordon {
			s.recordAction("cordon", nil)
		}
		if intent.Actions.Taint {
			s.recordAction("taint", nil)
		}
		if intent.Actions.EvictPods {
			s.recordAction("evict", nil)
		}
		s.machine.CompleteIsolation(intent.Device)
		return
	}

	var failed bool

	if intent.Actions.Cordon {
		err := s.adapter.Cordon(ctx, s.cfg.NodeName, intent.Reason)
		s.recordAction("cordon", err)
		if err != nil {
			logger.Error("cordon failed", "error", err)
			failed = true
		}
	}

	if intent.Actions.Taint {
		err := s.adapter.AddTaint(ctx, s.cfg.NodeName, s.cfg.Isolation.TaintKey, s.cfg.Isolation.TaintValue, s.cfg.Isolation.TaintEffect)
		s.recordAction("taint", err)
		if err != nil {
			logger.Error("add taint failed", "error", err)
			failed = true
		}
	}

	if intent.Actions.EvictPods {
		predicate := orchestrator.PodPredicate{
			SkipDaemonSetPods: true,
			SystemNamespace:   s.cfg.Isolation.SystemNamespace,
			SkipAnnotation:    s.cfg.Isolation.SkipAnnotation,
		}
		_, err := s.adapter.EvictPods(ctx, s.cfg.NodeName, predicate)
		s.recordAction("evict", err)
		if err != nil {
			logger.Error("evict pods failed", "error", err)
			failed = true
		}
	}

	if failed {
		logger.Warn("isolation actions incomplete, will retry next tick")
		return
	}

	logger.Info("isolation actions completed")
	s.machine.CompleteIsolation(intent.Device)
}

func (s *Scheduler) recordAction(action string, err error) {
	if s.metrics != nil {
		s.metrics.RecordIsolationAction(action, err)
	}
}
