package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/danielhkuo/quickform/watchdog"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}

	cfg, err := watchdog.ConfigFromEnv()
	if err != nil {
		slog.Error("Error reading watchdog config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watchdog.New(cfg, watchdog.StartCommand(cfg.Command))
	if err := w.Run(ctx); err != nil {
		slog.Error("watchdog stopped", "error", err)
		os.Exit(1)
	}
	slog.Info("watchdog stopped", "refresh_count", w.State().RefreshCount)
}
