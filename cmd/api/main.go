package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tecbrilho/erika-relay/internal/app/bootstrap"
	appconfig "github.com/tecbrilho/erika-relay/internal/config"
	"github.com/tecbrilho/erika-relay/pkg/logging"
)

var version = "dev"

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting erika-relay",
		"env", cfg.Env,
		"port", cfg.Port,
		"version", version,
	)
	if missing := cfg.Missing(); len(missing) > 0 {
		logger.Warn("configuration incomplete", "missing", missing)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	pool := bootstrap.BuildPostgresPool(ctx, cfg.DatabaseURL, logger)
	stores := bootstrap.BuildStores(cfg, redisClient, pool)
	logger.Info("state backends ready", "dedupe", stores.Backend)

	reg, metricsHandler := setupRelayMetrics()
	relay, err := bootstrap.BuildRelay(bootstrap.RelayDeps{
		Config:   cfg,
		Logger:   logger,
		Stores:   stores,
		Registry: reg,
		Metrics:  metricsHandler,
		Version:  version,
	})
	if err != nil {
		logger.Error("failed to build relay", "error", err)
		os.Exit(1)
	}

	go bootstrap.RunRetention(ctx, stores.Processed, cfg.DedupeTTL, time.Hour, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           relay.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	// Accepted webhooks keep processing after the ack; let them finish.
	if err := relay.Runner.Shutdown(shutdownCtx); err != nil {
		logger.Error("background tasks did not finish", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if pool != nil {
		pool.Close()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupRelayMetrics builds a dedicated registry for relay metrics plus the Go
// runtime collectors, and the handler that exposes it.
func setupRelayMetrics() (*prometheus.Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
