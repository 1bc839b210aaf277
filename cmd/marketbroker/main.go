package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/efreitasn/marketbroker/internal/config"
	"github.com/efreitasn/marketbroker/internal/engine"
	"github.com/efreitasn/marketbroker/internal/handler"
	"github.com/efreitasn/marketbroker/internal/metrics"
	"github.com/efreitasn/marketbroker/internal/server"
	"github.com/efreitasn/marketbroker/internal/store"
	"github.com/joho/godotenv"
)

func main() {
	port := flag.Int("port", 0, "TCP port to listen on (overrides PORT, default 5000)")
	adminPort := flag.Int("admin-port", 0, "admin HTTP port (overrides ADMIN_PORT, default 5001)")
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running admin server")
	flag.Parse()

	// Optional .env for local development; absence is not an error.
	_ = godotenv.Load()

	// Handle -healthcheck flag: HTTP GET to localhost:ADMIN_PORT/healthz, exit 0/1.
	if *healthcheck {
		p := os.Getenv("ADMIN_PORT")
		if p == "" {
			p = "5001"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/healthz", p))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Port = *port
	}
	if *adminPort > 0 {
		cfg.AdminPort = *adminPort
	}

	// Set up slog logger with configured level.
	var logLevel slog.Level
	switch cfg.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Stores.
	ledgers := store.NewLedgerStore()
	purchases := store.NewPurchaseLog()

	// Engine.
	manager := engine.NewMarketManager(ledgers, purchases, cfg.InitialStock, cfg.SaleDuration, logger)

	// Metrics.
	m := metrics.New()

	// Broker server.
	broker := server.New(manager, m, logger, server.Options{
		BroadcastQueue:   cfg.BroadcastQueue,
		SessionQueue:     cfg.SessionQueue,
		HeartbeatTimeout: cfg.HeartbeatTimeout,
	})
	if err := broker.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Error("failed to bind", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Expiry sweeper, notifying the broker's broadcast fabric.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.StartSweeper(ctx, cfg.SweepInterval, broker)

	// Accept loop.
	go func() {
		if err := broker.Serve(); err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Admin HTTP server.
	adminAddr := fmt.Sprintf(":%d", cfg.AdminPort)
	adminSrv := &http.Server{
		Addr:    adminAddr,
		Handler: handler.NewRouter(manager, ledgers, purchases, broker, m, logger),
	}
	go func() {
		logger.Info("admin server starting", slog.String("addr", adminAddr))
		if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Wait for SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Graceful shutdown: stop broker (drains broadcasts, closes sessions),
	// stop admin server, cancel context (stops sweeper).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	broker.Shutdown(shutdownCtx)
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown error", slog.String("error", err.Error()))
	}
	cancel()

	logger.Info("server stopped")
}
