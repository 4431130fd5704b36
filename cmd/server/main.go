package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/config"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/httpserver"
	"github.com/MbInteligen/mbras-c2s-enrichment-sub000/internal/platform/logger"
)

// main loads configuration, builds the service and serves until SIGINT or
// SIGTERM. The webhook only records events; enrichment runs on the worker
// pool after the response.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log)
	if err != nil {
		app.close(context.Background())
		return err
	}

	ln, err := httpserver.Listen(cfg.Server)
	if err != nil {
		app.close(context.Background())
		return fmt.Errorf("listen on %s: %w", cfg.Server.Addr, err)
	}
	// Requests outlive the signal; they are cancelled only when the
	// graceful shutdown runs out of time.
	reqCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	srv := httpserver.New(reqCtx, cfg.Server, app.router, log)
	serveErr := httpserver.Start(srv, ln, log)

	app.monitor.Start(ctx)
	log.Info("lead enrichment service started")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	start := time.Now()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "error", err)
		cancelRequests()
	}
	app.close(shutdownCtx)
	log.Info("shutdown complete", "duration", time.Since(start))
	return runErr
}
