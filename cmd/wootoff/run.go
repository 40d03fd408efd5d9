package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/wootoff-monitor/internal/api"
	"github.com/wootoff-monitor/internal/checker"
	"github.com/wootoff-monitor/internal/config"
	"github.com/wootoff-monitor/internal/fetcher"
	"github.com/wootoff-monitor/internal/metrics"
	"github.com/wootoff-monitor/internal/monitor"
	"github.com/wootoff-monitor/internal/notifier"
	"github.com/wootoff-monitor/internal/parser"
	"github.com/wootoff-monitor/internal/storage"
	"github.com/wootoff-monitor/internal/tracker"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the sale page until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return run(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(ctx context.Context, cfg *config.Config) error {
	log.Infof("Starting wootoff monitor v%s", version)

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := metrics.NewCollector(cfg.Metrics.Namespace, reg)

	pool, err := buildPool(ctx, cfg)
	if err != nil {
		return err
	}

	chk := checker.NewChecker(cfg.Proxies.ProbeURL, cfg.Proxies.ProbeTimeout(), nil)
	probe := func(ctx context.Context) {
		results := chk.CheckAll(ctx, pool.Endpoints(), cfg.Proxies.ProbeConcurrency)
		checker.Apply(pool, results)
		for h, n := range pool.Counts() {
			metricsCollector.SetProxies(h.String(), n)
		}
	}
	if cfg.Proxies.ProbeOnStart {
		probe(ctx)
	}

	// Initialize storage
	var journal storage.Journal
	if cfg.Notify.Journal.Enabled {
		journal, err = storage.NewJournal(cfg.Storage.Type, cfg.Storage.Path)
		if err != nil {
			return err
		}
		defer journal.Close()
	}

	multi, err := notifier.FromConfig(cfg.Notify, journal, metricsCollector)
	if err != nil {
		return err
	}
	async := notifier.NewAsync(multi, cfg.Notify.QueueSize, cfg.Notify.Timeout())
	defer func() {
		if err := async.Close(); err != nil {
			log.Errorf("Notifier shutdown error: %v", err)
		}
	}()

	p, err := parser.FromConfig(cfg.Parser)
	if err != nil {
		return err
	}

	f := fetcher.New(pool, fetcher.Options{
		Timeout:           cfg.Fetcher.Timeout(),
		MaxBodyBytes:      cfg.Fetcher.MaxBodyBytes,
		UserAgents:        cfg.Fetcher.UserAgents,
		RequestsPerMinute: cfg.Fetcher.RequestsPerMinute,
		BrowserTLS:        !cfg.Fetcher.DisableBrowserTLS,
	}, metricsCollector)

	mon := monitor.New(monitor.Options{
		URL:                        cfg.Monitor.URL,
		Interval:                   cfg.Monitor.Interval(),
		Jitter:                     cfg.Monitor.Jitter(),
		ParseFailureAlertThreshold: cfg.Monitor.ParseFailureAlertThreshold,
	}, f, p, tracker.New(cfg.Monitor.NotifyOnPriceChange), async, pool, metricsCollector)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return mon.Run(gctx)
	})

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg, mon, journal, probe, metricsCollector, reg)

		g.Go(func() error {
			if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()

			// Graceful shutdown with timeout
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := apiServer.Shutdown(shutdownCtx); err != nil {
				log.Errorf("API server shutdown error: %v", err)
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info("Shutdown complete")
	return err
}
