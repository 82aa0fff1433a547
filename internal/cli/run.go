package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/cobra"

	"github.com/kubalaguna/santa/internal/authcache"
	"github.com/kubalaguna/santa/internal/config"
	"github.com/kubalaguna/santa/internal/diskops"
	"github.com/kubalaguna/santa/internal/dispatch"
	"github.com/kubalaguna/santa/internal/events"
	"github.com/kubalaguna/santa/internal/eventsource"
	"github.com/kubalaguna/santa/internal/metrics"
	"github.com/kubalaguna/santa/internal/mountpolicy"
	"github.com/kubalaguna/santa/internal/startup"
	"github.com/kubalaguna/santa/pkg/types"
)

const defaultConfigPath = "/etc/santad/config.yaml"

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the authorization agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default "+defaultConfigPath+")")
	return cmd
}

func newCheckConfigCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "checkconfig",
		Short: "Validate a config file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = defaultConfigPath
			}
			if _, err := config.Load(path); err != nil {
				return &ExitError{code: 1, message: err.Error()}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (default "+defaultConfigPath+")")
	return cmd
}

func runAgent(ctx context.Context, configPath string) error {
	cfg, path, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Logging)
	logger := slog.Default()

	collector := metrics.New()
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, collector, logger)
	}

	sys := diskops.NewSystem()
	provider := diskops.NewStatfsInfoProvider(sys)
	cache := authcache.New(diskops.RootDevice(sys),
		authcache.WithFlushHook(collector.IncCacheFlush))

	// Policy snapshot swapped atomically on reload; every evaluation sees
	// one coherent config.
	var snapshot atomic.Pointer[mountpolicy.Config]
	snapshot.Store(policySnapshot(cfg))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if path != "" {
		watcher, err := config.Watch(path, func(next *config.Config) {
			snapshot.Store(policySnapshot(next))
			cache.Flush(types.FlushAll, types.FlushReasonConfigChanged)
		}, logger)
		if err != nil {
			logger.Warn("config reload disabled", "error", err)
		} else {
			go func() {
				if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("config watcher stopped", "error", err)
				}
			}()
		}
	}

	if err := reconcileStartup(ctx, cfg, sys, provider, logger); err != nil {
		logger.Warn("startup reconciliation incomplete", "error", err)
	}

	minHeadroom, _ := cfg.Deadlines.Min()
	maxHeadroom, _ := cfg.Deadlines.Max()
	budget := dispatch.DeadlineBudget{MinHeadroom: minHeadroom, MaxHeadroom: maxHeadroom}

	src, err := eventsource.NewPlatform()
	if err != nil {
		// Degraded: reconciliation and the metrics surface still ran, but
		// no live events will arrive.
		logger.Error("kernel event source unavailable, running degraded", "error", err)
		<-ctx.Done()
		return nil
	}

	cache.SetKernelCache(src)

	fastDeny := make([]types.EventKind, 0, len(cfg.Deadlines.FastPathDenyKinds))
	for _, k := range cfg.Deadlines.FastPathDenyKinds {
		fastDeny = append(fastDeny, types.EventKind(k))
	}

	base := dispatch.NewBase(src, budget, dispatch.Options{
		Metrics:      collector.IncEvent,
		Logger:       logger,
		FastPathDeny: fastDeny,
	})

	broker := events.NewBroker()
	blockCh := broker.Subscribe(64)
	go func() {
		for range blockCh {
			collector.IncDeviceBlock()
		}
	}()

	remounter := mountpolicy.NewRemounter(sys, logger)
	remounter.SetFailureHook(collector.IncRemountFailure)
	engine := mountpolicy.NewEngine(base, provider, cache, remounter, broker, func() mountpolicy.Config {
		return *snapshot.Load()
	})

	if registrar, ok := src.(eventsource.HandlerRegistrar); ok {
		registrar.SetHandler(engine)
	}
	if !engine.Subscribe() {
		return fmt.Errorf("subscribe to kernel events failed")
	}
	logger.Info("agent running",
		"block_usb", cfg.USB.BlockMounts,
		"remount_args", cfg.USB.RemountArgs,
	)

	<-ctx.Done()

	drainDone := make(chan struct{})
	go func() {
		engine.Drain()
		close(drainDone)
	}()
	select {
	case <-drainDone:
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out waiting for remounts")
	}
	return nil
}

func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		cfg, err := config.Load(defaultConfigPath)
		return cfg, defaultConfigPath, err
	}
	return config.Default(), "", nil
}

func policySnapshot(cfg *config.Config) *mountpolicy.Config {
	return &mountpolicy.Config{
		BlockUSBMount: cfg.USB.BlockMounts,
		RemountArgs:   cfg.USB.RemountArgs,
		RemountFlags:  mountpolicy.ParseRemountArgs(cfg.USB.RemountArgs),
	}
}

func reconcileStartup(ctx context.Context, cfg *config.Config, sys *diskops.System, provider diskops.InfoProvider, logger *slog.Logger) error {
	pref, err := startup.ParsePreference(cfg.USB.OnStart)
	if err != nil {
		return err
	}
	reconciler := startup.New(sys, provider, sys, pref,
		mountpolicy.ParseRemountArgs(cfg.USB.RemountArgs), logger)
	return reconciler.Reconcile(ctx)
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func serveMetrics(addr string, collector *metrics.Collector, logger *slog.Logger) {
	r := chi.NewRouter()
	r.Handle("/metrics", collector.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("metrics server stopped", "addr", addr, "error", err)
	}
}
