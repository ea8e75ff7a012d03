package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/gdnd-project/gdnd/pkg/config"
	"github.com/gdnd-project/gdnd/pkg/detect"
	"github.com/gdnd-project/gdnd/pkg/device"
	"github.com/gdnd-project/gdnd/pkg/device/autodetect"
	"github.com/gdnd-project/gdnd/pkg/health"
	"github.com/gdnd-project/gdnd/pkg/metrics"
	"github.com/gdnd-project/gdnd/pkg/orchestrator"
	"github.com/gdnd-project/gdnd/pkg/scheduler"
)

func main() {
	var configPath, nodeName, logLevel string
	var dryRun bool

	rootCmd := &cobra.Command{
		Use:   "gdnd",
		Short: "GPU/NPU dead node detector agent",
		Long:  `gdnd watches accelerators on this host, isolates the ones that go bad, and taints the node so the scheduler stops placing work on it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, nodeName, logLevel, dryRun)
		},
	}

	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML configuration file (required)")
	rootCmd.Flags().StringVar(&nodeName, "node-name", "", "Overrides the NODE_NAME environment variable")
	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Log isolation actions without executing them")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "trace/debug/info/warn/error")
	rootCmd.MarkFlagRequired("config")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, nodeNameFlag, logLevel string, dryRunFlag bool) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(logLevel),
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dryRunFlag {
		cfg.DryRun = true
	}

	nodeName := nodeNameFlag
	if nodeName == "" {
		nodeName = os.Getenv("NODE_NAME")
	}
	if nodeName == "" {
		return fmt.Errorf("node identity is required: pass --node-name or set NODE_NAME")
	}

	deviceType := cfg.DeviceType
	if deviceType == "auto" {
		deviceType = ""
	}
	mgr, err := autodetect.Detect(ctx, autodetect.Config{DeviceType: deviceType})
	if err != nil {
		return fmt.Errorf("detect device manager: %w", err)
	}
	if err := mgr.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize device manager: %w", err)
	}
	defer mgr.Shutdown(context.Background())

	cfg.ResolveTaintKey(string(mgr.Vendor()))

	ids, err := mgr.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("list devices: %w", err)
	}
	printBanner(nodeName, mgr.Vendor(), ids)

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.NewRegistry(reg)
	metricsRegistry.SetDeviceCount(len(ids))

	var metricsServer *http.Server
	if cfg.Metrics.MetricsEnabled() {
		metricsServer = metrics.NewServer(metrics.ServerConfig{
			Addr: ":" + strconv.Itoa(cfg.Metrics.Port),
			Path: cfg.Metrics.Path,
		}, reg)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics endpoint listening", "addr", metricsServer.Addr, "path", cfg.Metrics.Path)
	}

	adapter, err := buildAdapter(cfg)
	if err != nil {
		return fmt.Errorf("build orchestrator adapter: %w", err)
	}

	fatalXIDs := device.NewIntCodeSet(cfg.Health.FatalXIDs, nil)
	fatalAscend := device.NewIntCodeSet(cfg.Health.FatalAscendErrors, nil)
	fatalCodes := fatalXIDs
	if mgr.Vendor() == device.VendorAscend {
		fatalCodes = fatalAscend
	}

	machine := health.NewMachine(health.Actions{
		Cordon:    cfg.Isolation.CordonEnabled(),
		Taint:     true,
		EvictPods: cfg.Isolation.EvictPods,
	})

	schedCfg := scheduler.Config{
		L1Interval: time.Duration(cfg.L1Interval),
		L2Interval: time.Duration(cfg.L2Interval),
		L3Interval: time.Duration(cfg.L3Interval),
		L3Enabled:  cfg.L3Enabled,
		L1: detect.L1Config{
			TemperatureThreshold: cfg.Health.TemperatureThreshold,
			FatalCodes:           fatalCodes,
		},
		L2: detect.L2Config{Timeout: time.Duration(cfg.Health.ActiveCheckTimeout)},
		L3: detect.L3Config{Timeout: time.Duration(cfg.Health.ActiveCheckTimeout), MinBandwidthGBps: 1.0},

		FailureThreshold: cfg.Health.FailureThreshold,
		NodeName:         nodeName,
		DryRun:           cfg.DryRun,
		Isolation: scheduler.IsolationConfig{
			Cordon:          cfg.Isolation.CordonEnabled(),
			EvictPods:       cfg.Isolation.EvictPods,
			TaintKey:        cfg.Isolation.TaintKey,
			TaintValue:      cfg.Isolation.TaintValue,
			TaintEffect:     cfg.Isolation.Effect(),
			SystemNamespace: cfg.Isolation.SystemNamespace,
			SkipAnnotation:  cfg.Isolation.SkipAnnotation,
		},
	}

	sched := scheduler.New(schedCfg, mgr, machine, nil, adapter, metricsRegistry, logger)

	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	schedErrCh := make(chan error, 1)
	go func() {
		schedErrCh <- sched.Run(runCtx)
	}()

	select {
	case <-runCtx.Done():
		logger.Info("received shutdown signal")
		<-schedErrCh // wait for the scheduler's grace-period shutdown to finish
	case err := <-schedErrCh:
		if err != nil {
			logger.Error("scheduler exited with error", "error", err)
			return err
		}
	}

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metrics.Shutdown(shutdownCtx, metricsServer); err != nil {
			logger.Warn("error shutting down metrics server", "error", err)
		}
	}

	logger.Info("gdnd stopped")
	return nil
}

func buildAdapter(cfg *config.Config) (orchestrator.Adapter, error) {
	if cfg.DryRun {
		return orchestrator.NewNoop(slog.Default()), nil
	}

	switch cfg.Orchestrator.Type {
	case "noop":
		return orchestrator.NewNoop(slog.Default()), nil

	case "webhook":
		return orchestrator.NewWebhook(orchestrator.WebhookConfig{
			BaseURL: cfg.Orchestrator.WebhookURL,
			Timeout: time.Duration(cfg.Orchestrator.WebhookTimeout),
		}), nil

	default:
		restCfg, err := rest.InClusterConfig()
		if err != nil {
			slog.Default().Warn("not running in a Kubernetes cluster, isolation actions will be logged only", "error", err)
			return orchestrator.NewNoop(slog.Default()), nil
		}
		clientset, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			return nil, fmt.Errorf("build Kubernetes clientset: %w", err)
		}
		return orchestrator.NewKubernetes(clientset), nil
	}
}

func printBanner(nodeName string, vendor device.Vendor, ids []device.Identity) {
	pterm.DefaultHeader.WithBackgroundStyle(pterm.NewStyle(pterm.BgDarkGray)).
		WithTextStyle(pterm.NewStyle(pterm.FgLightCyan, pterm.Bold)).
		Println("gdnd - GPU Dead Node Detector")

	pterm.Info.Printfln("node: %s  vendor: %s  devices: %d", nodeName, vendor, len(ids))

	table := tablewriter.NewWriter(os.Stdout)
	table.Append([]string{"Index", "UUID", "Vendor"})
	for _, id := range ids {
		table.Append([]string{strconv.Itoa(id.Index), id.UUID, string(id.Vendor)})
	}
	table.Render()
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "trace", "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
