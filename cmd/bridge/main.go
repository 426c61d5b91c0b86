package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hookbridge/hookbridge/internal/agent"
	"github.com/hookbridge/hookbridge/internal/browser"
	"github.com/hookbridge/hookbridge/internal/config"
	"github.com/hookbridge/hookbridge/internal/logging"
	"github.com/hookbridge/hookbridge/internal/metrics"
	"github.com/hookbridge/hookbridge/internal/relay"
	"github.com/hookbridge/hookbridge/internal/tracing"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New(cfg.AppName).SetLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetDefaultService(cfg.AppName)

	if cfg.DestinationURL == "" {
		logger.Plain().Fatal("WEBHOOK_URL is required")
	}

	shutdownTracing, err := tracing.InitTracing(ctx, cfg.AppName)
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdownTracing()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	factory := func(ctx context.Context) (agent.Session, error) {
		s, err := browser.New(ctx, browser.Options{
			ExecPath:  cfg.Browser.ExecPath,
			Headless:  cfg.Browser.Headless,
			NoSandbox: cfg.Browser.NoSandbox,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	coord := relay.NewCoordinator(cfg, factory, logger)
	if err := coord.Start(ctx); err != nil {
		logger.Plain().WithError(err).Fatal("failed to start relay coordinator")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           coord.Handler(reg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Plain().WithFields(map[string]any{
			"addr":        srv.Addr,
			"destination": cfg.DestinationURL,
			"pool_size":   cfg.Agent.PoolSize,
		}).Info("bridge HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("bridge HTTP server failed")
		}
	}()

	// Graceful shutdown: stop accepting, drain in-flight deliveries, then
	// tear down the browser pool.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Plain().WithField("signal", sig.String()).Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Relay.DrainGrace+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Plain().WithError(err).Warn("http server shutdown error")
	}
	coord.Shutdown()
	logger.Plain().Info("bridge stopped")
}
