package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/brightpath/pdcore/pkg/access"
	"github.com/brightpath/pdcore/pkg/config"
	"github.com/brightpath/pdcore/pkg/httputil"
	"github.com/brightpath/pdcore/pkg/observability"
	"github.com/brightpath/pdcore/pkg/realtime"
	"github.com/brightpath/pdcore/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting pdcore access service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := postgres.Connect(postgres.ConnectionConfig{
		URL:         cfg.Database.URL,
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	})
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := access.RunMigrations(ctx, db); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// Metrics
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	postgres.StartStatsCollector(ctx, db, metrics, 0)

	// Realtime fan-out: in-process hub, plus a Redis bridge when configured
	hub := realtime.NewHub(logger, metrics)

	matrixCache := access.NewInstrumentedCache(access.NewSettingsStore(db), metrics)

	var redisClient *redis.Client
	var bridge *realtime.RedisBridge
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Redis.URL)
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		defer redisClient.Close()

		bridge = realtime.NewRedisBridge(redisClient, cfg.Redis.Channel, matrixCache, hub, logger)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("redis event bridge stopped")
			}
		}()
		logger.WithField("instance_id", bridge.InstanceID()).Info("redis event bridge enabled")
	} else {
		logger.Info("redis not configured, running single-instance")
	}

	fanout := realtime.NewFanout(hub, bridge, logger)
	service := access.NewService(matrixCache, fanout, logger, metrics)
	if err := service.Seed(ctx); err != nil {
		logger.WithError(err).Error("failed to seed access matrix")
		os.Exit(1)
	}

	rules, err := access.NewFlowRuleStore(db, metrics)
	if err != nil {
		logger.WithError(err).Error("failed to create flow rule store")
		os.Exit(1)
	}

	// Periodic reconcile: drop the cached snapshot so a missed invalidation
	// heals without a restart
	scheduler := cron.New()
	if cfg.ReconcileInterval > 0 {
		_, err := scheduler.AddFunc(fmt.Sprintf("@every %s", cfg.ReconcileInterval), func() {
			matrixCache.Invalidate()
			metrics.MatrixReloadsTotal.Inc()
			logger.Debug("matrix cache reconciled")
		})
		if err != nil {
			logger.WithError(err).Error("failed to schedule cache reconcile")
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// Main API server
	router := mux.NewRouter()
	router.Use(
		httputil.RequestIDMiddleware,
		httputil.MetricsMiddleware(metrics),
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
	)

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.Use(access.RoleFromHeader)
	handlers := access.NewHandlers(service, rules, logger)
	handlers.RegisterRoutes(apiRouter)
	apiRouter.Handle("/events", realtime.NewSSEHandler(hub, logger)).Methods("GET")

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout, // zero: SSE streams stay open
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health/metrics server on its own port for probes and scrapes
	healthMux := http.NewServeMux()
	observability.NewHealthChecker(db, redisClient).RegisterHealthRoutes(healthMux)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.HealthAddr(),
		Handler: healthMux,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", server.Addr).Info("api server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		logger.WithError(err).Error("server failed")
	}

	// Stop event delivery first so open SSE streams end, then drain HTTP
	cancel()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("api server shutdown incomplete")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("health server shutdown incomplete")
	}
	logger.Info("shutdown complete")
}
