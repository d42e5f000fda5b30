package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/halcyonai/agentstore/pkg/api"
	"github.com/halcyonai/agentstore/pkg/bootstrap"
	"github.com/halcyonai/agentstore/pkg/config"
	"github.com/halcyonai/agentstore/pkg/observability"
	"github.com/halcyonai/agentstore/pkg/quota"
	"github.com/halcyonai/agentstore/pkg/resolver"
	"github.com/halcyonai/agentstore/pkg/store"
	"github.com/halcyonai/agentstore/pkg/usage"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(nil)
	}

	storeOpts := []store.Option{store.WithCacheSize(cfg.Storage.CacheSize)}
	if metrics != nil {
		storeOpts = append(storeOpts, store.WithMetrics(metrics))
	}
	st, err := store.NewFileStore(cfg.Storage.Root, storeOpts...)
	if err != nil {
		logger.WithError(err).Error("failed to initialize store")
		os.Exit(1)
	}
	logger.WithField("root", cfg.Storage.Root).Info("document store initialized")

	ctx := context.Background()
	if cfg.Tenancy.BootstrapDefaultOrg {
		if err := bootstrap.EnsureDefaultOrganization(ctx, st, cfg.Tenancy.DefaultOrganizationID, "admin", logger); err != nil {
			logger.WithError(err).Error("bootstrap failed")
			os.Exit(1)
		}
	}

	resolverOpts := []resolver.Option{
		resolver.WithDefaultOrganization(cfg.Tenancy.DefaultOrganizationID),
	}
	if cfg.Tenancy.StrictIsolation {
		resolverOpts = append(resolverOpts, resolver.WithStrictIsolation())
	}
	if metrics != nil {
		resolverOpts = append(resolverOpts, resolver.WithMetrics(metrics))
	}
	res := resolver.NewResolver(st, logger, resolverOpts...)

	quotaOpts := []quota.ManagerOption{quota.WithThresholds(cfg.Quota.AlertThresholds)}
	if metrics != nil {
		quotaOpts = append(quotaOpts, quota.WithMetrics(metrics))
	}
	qm := quota.NewManager(st, logger, quotaOpts...)

	sweeper := quota.NewSweeper(st, qm, logger, cfg.Quota.SweepSchedule)
	if err := sweeper.Start(); err != nil {
		logger.WithError(err).Error("failed to start quota sweeper")
		os.Exit(1)
	}
	defer sweeper.Stop()

	trackerOpts := []usage.TrackerOption{
		usage.WithBatchSize(cfg.Usage.BatchSize),
		usage.WithFlushInterval(cfg.Usage.FlushInterval),
	}
	if metrics != nil {
		trackerOpts = append(trackerOpts, usage.WithMetrics(metrics))
	}
	tracker := usage.NewTracker(st, logger, trackerOpts...)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      api.NewServer(st, res, qm, tracker, logger, metrics),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("server shutdown incomplete")
	}
	// Drains queued usage events before exit.
	tracker.Close(shutdownCtx)
	logger.Info("shutdown complete")
}
