package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/envforge/envforge/pkg/archive"
	"github.com/envforge/envforge/pkg/config"
	"github.com/envforge/envforge/pkg/containerdriver"
	"github.com/envforge/envforge/pkg/iaas"
	"github.com/envforge/envforge/pkg/log"
	"github.com/envforge/envforge/pkg/metrics"
	"github.com/envforge/envforge/pkg/metricscollector"
	"github.com/envforge/envforge/pkg/network"
	"github.com/envforge/envforge/pkg/notifier"
	"github.com/envforge/envforge/pkg/orchestrator"
	"github.com/envforge/envforge/pkg/portalloc"
	"github.com/envforge/envforge/pkg/providerhooks"
	"github.com/envforge/envforge/pkg/reaper"
	"github.com/envforge/envforge/pkg/resourceguard"
	"github.com/envforge/envforge/pkg/secrets"
	"github.com/envforge/envforge/pkg/storage"
	"github.com/envforge/envforge/pkg/types"
)

const shutdownTimeout = 10 * time.Second

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "envforge",
	Short: "envforge - developer environment orchestration core",
	Long: `envforge provisions, monitors, and tears down self-contained
developer environments on a local container engine or on cloud IaaS,
behind a single-process orchestration core.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"envforge version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestration core: admission, provisioning, reaping, and the observability HTTP surface",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		listenAddr, _ := cmd.Flags().GetString("listen")

		a, err := buildApp(cfg)
		if err != nil {
			return fmt.Errorf("build app: %w", err)
		}

		a.start(listenAddr)
		fmt.Printf("envforge serving on %s\n", listenAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-a.errCh:
			fmt.Fprintf(os.Stderr, "\nserver error: %v\n", err)
		}

		a.stop()
		fmt.Println("✓ shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("listen", "127.0.0.1:9191", "Address the observability HTTP surface (metrics, healthz, ws) listens on")
}

// app is the composition root: every long-lived component the orchestration
// core wires together, plus the HTTP surface that exposes metrics, health,
// and the live notification websocket to external callers.
type app struct {
	store      storage.Store
	guard      *resourceguard.Guard
	engine     *containerdriver.Engine
	driver     *containerdriver.Driver
	iaasDriver *iaas.Driver
	hooks      *providerhooks.Registry
	notify     *notifier.Notifier
	orch       *orchestrator.Orchestrator

	statsCollector *metricscollector.Collector
	gaugeCollector *metrics.Collector
	reap           *reaper.Reaper

	httpSrv *http.Server
	errCh   chan error
}

func buildApp(cfg config.Config) (*app, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	guard, err := resourceguard.New(resourceguard.Config{
		CPUCapPct:  cfg.CPUCapPct,
		MemCapPct:  cfg.MemCapPct,
		DiskCapPct: cfg.DiskCapPct,
	})
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("start resource guard: %w", err)
	}

	ports, err := portalloc.New(store, cfg.PortRangeLow, cfg.PortRangeHigh)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build port allocator: %w", err)
	}

	engine, err := containerdriver.NewEngine("")
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("connect to container engine: %w", err)
	}

	notify := notifier.New()

	publisher := network.NewHostPortPublisher()
	driver := containerdriver.New(engine, publisher, ports, store, notify)

	var encMgr *secrets.Manager
	if cfg.ArchiveEncryptionKey != "" {
		encMgr, err = secrets.NewManagerFromPassphrase(cfg.ArchiveEncryptionKey)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("build archive encryption manager: %w", err)
		}
	}

	archiveStore, err := archive.New(cfg.ArchiveDir, store, encMgr)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open workspace archive store: %w", err)
	}

	iaasDriver, err := iaas.New(cfg.IaaSBin, cfg.DataDir, archiveStore)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build iaas driver: %w", err)
	}

	hooks := providerhooks.NewRegistry()
	hooks.Register(types.InfrastructureAWS, providerhooks.NewAWSHooks(""))
	hooks.Register(types.InfrastructureAzure, providerhooks.NewAzureHooks(""))
	hooks.Register(types.InfrastructureGCP, providerhooks.NewGCPHooks(""))
	hooks.Register(types.InfrastructureHybrid, providerhooks.NewHybridHooks())

	orch := orchestrator.New(store, guard, driver, iaasDriver, ports, hooks, notify, orchestrator.Config{
		MaxEnvironmentsPerOwner: cfg.MaxEnvironmentsPerOwner,
	})

	statsCollector := metricscollector.New(store, guard, driver, notify, secondsToDuration(cfg.MetricsIntervalSeconds))
	gaugeCollector := metrics.NewCollector(store)

	reap := reaper.New(store, orch, archiveStore, driver, reaper.Config{
		StaleThreshold:   hoursToDuration(24),
		ArchiveRetention: daysToDuration(cfg.ArchiveRetentionDays),
		MetricRetention:  daysToDuration(cfg.ArchiveRetentionDays),
	})

	return &app{
		store:          store,
		guard:          guard,
		engine:         engine,
		driver:         driver,
		iaasDriver:     iaasDriver,
		hooks:          hooks,
		notify:         notify,
		orch:           orch,
		statsCollector: statsCollector,
		gaugeCollector: gaugeCollector,
		reap:           reap,
		errCh:          make(chan error, 1),
	}, nil
}

func (a *app) start(listenAddr string) {
	a.statsCollector.Start()
	a.gaugeCollector.Start()
	a.reap.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		principal := r.Header.Get("X-Principal")
		if err := a.notify.ServeSession(w, r, principal); err != nil {
			log.WithComponent("http").Warn().Err(err).Msg("websocket session failed")
		}
	})

	a.httpSrv = &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
}

func (a *app) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.httpSrv != nil {
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			log.WithComponent("http").Warn().Err(err).Msg("graceful shutdown failed")
		}
	}

	a.reap.Stop()
	a.gaugeCollector.Stop()
	a.statsCollector.Stop()

	if err := a.store.Close(); err != nil {
		log.WithComponent("storage").Warn().Err(err).Msg("close failed")
	}
}

func secondsToDuration(s int) time.Duration {
	if s <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s) * time.Second
}

func hoursToDuration(h float64) time.Duration {
	if h <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(h * float64(time.Hour))
}

func daysToDuration(d int) time.Duration {
	if d <= 0 {
		return 30 * 24 * time.Hour
	}
	return time.Duration(d) * 24 * time.Hour
}
