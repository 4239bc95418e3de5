package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/slicewatch/kpi-pipeline/internal/alerts"
	"github.com/slicewatch/kpi-pipeline/internal/api"
	"github.com/slicewatch/kpi-pipeline/internal/broker"
	"github.com/slicewatch/kpi-pipeline/internal/cache"
	"github.com/slicewatch/kpi-pipeline/internal/config"
	"github.com/slicewatch/kpi-pipeline/internal/ingest"
	"github.com/slicewatch/kpi-pipeline/internal/metrics"
	"github.com/slicewatch/kpi-pipeline/internal/pipeline"
	"github.com/slicewatch/kpi-pipeline/internal/ruleclient"
	"github.com/slicewatch/kpi-pipeline/internal/sim"
	"github.com/slicewatch/kpi-pipeline/internal/sla"
	"github.com/slicewatch/kpi-pipeline/internal/store"
	"github.com/slicewatch/kpi-pipeline/internal/utils"
	"github.com/slicewatch/kpi-pipeline/internal/validate"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting kpi-pipeline", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	var valkeyCloser cache.Provider
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable", slog.Any("error", err))
		} else {
			cacheProvider = provider
			valkeyCloser = provider
		}
	}
	if valkeyCloser != nil {
		defer valkeyCloser.Close()
	}

	fileSource, err := sla.NewFileSource(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule file", slog.Any("error", err))
		os.Exit(1)
	}
	var ruleClient *ruleclient.Client
	var ruleSource sla.RuleSource = fileSource
	if cfg.Rules.BaseURL != "" {
		ruleClient = ruleclient.NewClient(
			cfg.Rules.BaseURL,
			cfg.Rules.Timeout,
			cacheProvider,
			cfg.Cache.RulesTTL,
			logger,
		)
		ruleSource = ruleClient
		logger.Info("using slice-manager rule source", slog.String("base_url", cfg.Rules.BaseURL))
	}
	cachedRules := sla.NewCachedSource(ruleSource, cfg.Rules.CacheTTL)

	sliceIDs := make([]string, 0, len(cfg.Slices))
	for _, slice := range cfg.Slices {
		sliceIDs = append(sliceIDs, slice.ID)
	}
	// With no slices configured, the directory comes from the slice
	// manager when one is wired, otherwise from the rule-bearing slices in
	// the file so a bare rule file is enough for local development.
	if len(sliceIDs) == 0 {
		sliceIDs = discoverSlices(ruleClient, cfg.Rules.Timeout, logger)
		if len(sliceIDs) == 0 {
			sliceIDs = fileSource.SliceIDs()
		}
	}
	directory := validate.NewStaticDirectory(sliceIDs)

	validator := validate.NewValidator(directory, cfg.Validation.PastSkew, cfg.Validation.FutureSkew)
	history := store.New(store.Config{
		MaxSamples: cfg.Retention.MaxSamples,
		MaxAge:     cfg.Retention.MaxAge,
	})

	registry := broker.NewRegistry()
	dispatcher := broker.NewDispatcher(registry, logger)
	evaluator := sla.NewEvaluator(cachedRules)
	summary := alerts.NewSummary(cfg.Alerts.Window)

	coordinator := pipeline.NewCoordinator(logger, validator, history, evaluator, dispatcher, summary)

	watcher := pipeline.NewStalenessWatcher(
		logger, history, dispatcher,
		cfg.Staleness.CheckInterval, cfg.Staleness.StaleAfter,
	)

	var limiter *rate.Limiter
	if cfg.Ingest.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Ingest.RateLimit), cfg.Ingest.RateBurst)
	}

	mux := http.NewServeMux()
	api.NewHandlers(logger, history, watcher, summary, registry).Register(mux)
	mux.Handle("/api/v1/ingest", ingest.NewHTTPHandler(coordinator, limiter, logger))
	mux.Handle("GET /ws", api.NewSubscriberHandler(registry, cfg.Dispatch, logger))
	mux.Handle("GET /ws/ingest", ingest.NewWSHandler(coordinator, logger))

	server, err := api.NewServer(cfg.Server, mux)
	if err != nil {
		logger.Error("failed to create server", slog.Any("error", err))
		os.Exit(1)
	}

	var udpListener *ingest.UDPListener
	if cfg.Ingest.UDPAddress != "" {
		udpListener, err = ingest.NewUDPListener(cfg.Ingest.UDPAddress, coordinator, logger)
		if err != nil {
			logger.Error("failed to bind udp ingress", slog.Any("error", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go watcher.Run(ctx)
	if udpListener != nil {
		go udpListener.Run(ctx)
	}
	if cfg.Simulator.Enabled {
		go sim.New(coordinator, cfg.Slices, cfg.Simulator.Interval, logger).Run(ctx)
	}

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-reload:
				logger.Info("reload signal received")
				if err := fileSource.Reload(); err != nil {
					logger.Error("rule reload failed", slog.Any("error", err))
					continue
				}
				if ruleClient != nil {
					// Purge the cross-restart cache too, so the reload
					// takes effect before those entries' TTL expires.
					for _, id := range directory.IDs() {
						ruleClient.Invalidate(id)
					}
					if len(cfg.Slices) == 0 {
						if ids := discoverSlices(ruleClient, cfg.Rules.Timeout, logger); len(ids) > 0 {
							directory.Replace(ids)
						}
					}
				} else if len(cfg.Slices) == 0 {
					directory.Replace(fileSource.SliceIDs())
				}
				cachedRules.InvalidateAll()
			}
		}
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("kpi-pipeline stopped")
}

// discoverSlices asks the slice manager for its slice list; a nil client
// or a failed listing returns nothing and the caller falls back.
func discoverSlices(client *ruleclient.Client, timeout time.Duration, logger *slog.Logger) []string {
	if client == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ids, err := client.SliceIDs(ctx)
	if err != nil {
		logger.Warn("slice discovery from slice-manager failed", slog.Any("error", err))
		return nil
	}
	return ids
}
