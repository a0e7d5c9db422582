// drmaa-service exposes a job session over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobsession/internal/api"
	"jobsession/internal/config"
	"jobsession/internal/dispatcher"
	"jobsession/internal/health"
	"jobsession/internal/observability"
	"jobsession/internal/scheduler"
	"jobsession/internal/session"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	schedCfg := scheduler.LoadConfigFromEnv()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	categories, err := config.LoadCategories(svcCfg.CategoriesFile)
	if err != nil {
		return err
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create event dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)

	opts := []session.Option{
		session.WithPollSchedule(svcCfg.PollInitial, svcCfg.PollMax),
		session.WithQueryRate(svcCfg.QueryRate),
		session.WithBreakerThreshold(svcCfg.BreakerThreshold),
		session.WithBreakerCooldown(svcCfg.BreakerCooldown),
		session.WithLossWindow(svcCfg.LossWindow),
		session.WithCategories(categories),
		session.WithRecorder(metrics),
	}
	if svcCfg.EventsURL != "" {
		opts = append(opts, session.WithNotifier(dispatcher.NewNotifier(eventDispatcher, dispatcher.NotifierConfig{
			URL:        svcCfg.EventsURL,
			SigningKey: svcCfg.EventsKey,
			Types:      svcCfg.EventsTypes,
			Contact:    svcCfg.Contact,
		})))
		slog.Info("Status events enabled", "types", svcCfg.EventsTypes)
	}

	// Open the job session
	sess := session.New(scheduler.Connector(schedCfg), opts...)
	initCtx, initCancel := context.WithTimeout(ctx, 30*time.Second)
	err = sess.Init(initCtx, svcCfg.Contact)
	initCancel()
	if err != nil {
		return err
	}
	metrics.ObserveTrackedJobs(sess.Tracked)

	// Create health checker. Webhook delivery trouble degrades readiness
	// without taking the service out of rotation.
	var healthOpts []health.Option
	if svcCfg.EventsURL != "" {
		healthOpts = append(healthOpts, health.WithAuxiliary("events", health.ReadinessFunc(eventDispatcher.Ready)))
	}
	healthChecker := health.NewChecker(sess, healthOpts...)
	slog.Debug("Readiness probes configured", "dependencies", healthChecker.Dependencies())

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		Session:       sess,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Create API server. Wait and synchronize block, so there is no write
	// timeout; clients bound them with the timeout parameter.
	apiServer := &http.Server{
		Addr:              ":" + svcCfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Channel to capture server errors
	serverErr := make(chan error, 2)

	// Start API server
	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Start metrics server
	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	// closeSession ends the session, failing blocked waits, then drains
	// status events.
	closeSession := func() {
		exitCtx, exitCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer exitCancel()
		if err := sess.Exit(exitCtx); err != nil {
			slog.Warn("Session exit error", "error", err)
		}

		dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dispatcherCancel()
		if err := eventDispatcher.Close(dispatcherCtx); err != nil {
			slog.Warn("Dispatcher shutdown error", "error", err)
		}
	}

	// Wait for interrupt signal or server error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		closeSession()
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	// Wait for load balancers to stop sending traffic
	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Exit the session so blocked waits return, then stop the
	// servers and finish in-flight requests
	slog.Info("Starting graceful shutdown", "trackedJobs", sess.Tracked())
	closeSession()
	shutdown(25 * time.Second)

	// Log final dispatcher stats
	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	// Submitted jobs belong to the scheduler and keep running without us.
	slog.Info("Shutdown complete")
	return nil
}
