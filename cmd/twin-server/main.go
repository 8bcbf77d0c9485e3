package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/section-twin/core"
	"github.com/signalsfoundry/section-twin/internal/api"
	"github.com/signalsfoundry/section-twin/internal/config"
	"github.com/signalsfoundry/section-twin/internal/engine"
	"github.com/signalsfoundry/section-twin/internal/feed"
	"github.com/signalsfoundry/section-twin/internal/kpi"
	"github.com/signalsfoundry/section-twin/internal/logging"
	"github.com/signalsfoundry/section-twin/internal/observability"
	"github.com/signalsfoundry/section-twin/internal/optimize"
	"github.com/signalsfoundry/section-twin/internal/predict"
	"github.com/signalsfoundry/section-twin/internal/twin"
	"github.com/signalsfoundry/section-twin/timectrl"
)

func main() {
	var configPath string
	var realTime bool

	rootCmd := &cobra.Command{
		Use:   "twin-server",
		Short: "Section digital twin and conflict-resolution server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, realTime)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a YAML config file")
	rootCmd.Flags().BoolVar(&realTime, "real-time", true, "drive ticks from the wall clock")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, realTime bool) error {
	log := logging.NewFromEnv()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	apiCollector, err := observability.NewAPICollector(nil)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	optCollector, err := observability.NewOptimizerCollector(nil)
	if err != nil {
		return fmt.Errorf("init optimizer metrics: %w", err)
	}

	topo, err := loadSection(cfg.SectionPath)
	if err != nil {
		return err
	}

	start := time.Now().UTC().Truncate(time.Second)
	tw := twin.New(topo, start, log,
		twin.WithTick(cfg.Tick()),
		twin.WithMetricsRecorder(apiCollector),
	)

	calib := predict.NewCalibration(0.1)
	pred := predict.New(tw.Tracker(), log,
		predict.WithHorizon(cfg.Horizon()),
		predict.WithScorer(&predict.HeuristicScorer{Calibration: calib}),
	)
	opt := optimize.New(tw, log,
		optimize.WithBudget(cfg.SolverBudget()),
		optimize.WithHorizon(cfg.Horizon()),
		optimize.WithMetricsRecorder(optCollector),
	)

	engineOpts := []engine.Option{engine.WithConflictMetrics(conflictMetrics{apiCollector, optCollector})}
	if cfg.KPIPath != "" {
		store, err := kpi.Open(cfg.KPIPath)
		if err != nil {
			return err
		}
		defer store.Close()
		engineOpts = append(engineOpts, engine.WithKPIStore(store))
	}
	if cfg.FeedSpawnEvery > 0 {
		engineOpts = append(engineOpts, engine.WithFeed(feed.New(topo, cfg.FeedSeed, cfg.FeedSpawnEvery)))
	}
	eng := engine.New(tw, pred, opt, calib, log, engineOpts...)

	mode := timectrl.Accelerated
	if realTime {
		mode = timectrl.RealTime
	}
	driver := timectrl.NewTickDriver(start, cfg.Tick(), mode)
	driver.AddListener(func(ctx context.Context, at time.Time) {
		if _, err := eng.Tick(ctx); err != nil {
			log.Warn(ctx, "tick failed", logging.Err(err))
		}
	})

	var metricsHandler http.Handler
	var metricsSrv *http.Server
	if cfg.MetricsAddr == "" {
		metricsHandler = apiCollector.Handler()
	} else {
		metricsSrv = serveMetrics(cfg.MetricsAddr, apiCollector, log)
	}

	handler := api.New(api.Config{
		Engine:         eng,
		Log:            log,
		Middleware:     []func(http.Handler) http.Handler{apiCollector.Middleware},
		MetricsHandler: metricsHandler,
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	go func() {
		log.Info(ctx, "starting control API", logging.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "control API exited", logging.Err(err))
		}
	}()

	tickCtx, cancelTicks := context.WithCancel(ctx)
	defer cancelTicks()
	go func() {
		if err := driver.Run(tickCtx, 0); err != nil && err != context.Canceled {
			log.Error(tickCtx, "tick driver exited", logging.Err(err))
		}
	}()

	<-ctx.Done()
	log.Info(context.Background(), "shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func loadSection(path string) (*core.Topology, error) {
	if path == "" {
		return nil, fmt.Errorf("section_path is required (set SECTIONTWIN_SECTION_PATH or the config file)")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open section %q: %w", path, err)
	}
	defer f.Close()
	topo, _, err := core.LoadSection(f)
	if err != nil {
		return nil, fmt.Errorf("load section %q: %w", path, err)
	}
	return topo, nil
}

func serveMetrics(addr string, collector *observability.APICollector, log logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

// conflictMetrics fans prediction gauges out to both collectors.
type conflictMetrics struct {
	api *observability.APICollector
	opt *observability.OptimizerCollector
}

func (m conflictMetrics) SetOpenConflicts(n int)            { m.api.SetOpenConflicts(n) }
func (m conflictMetrics) ObservePrediction(d time.Duration) { m.opt.ObservePrediction(d) }
