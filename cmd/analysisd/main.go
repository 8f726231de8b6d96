package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/curaition/bitcoin-newsletter/internal/metrics"
	"github.com/curaition/bitcoin-newsletter/internal/server"
)

const version = "1.0.0"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))
	logger := slog.Default()

	cfg := server.LoadConfig()

	metrics.Init(version)

	app, err := server.NewApp(cfg, version, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	logger.Info("analysis pipeline starting",
		"version", version,
		"nats_url", cfg.NatsURL,
		"backlog", cfg.BacklogPath,
		"workers", cfg.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx); err != nil {
		logger.Error("pipeline exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("pipeline stopped")
}
