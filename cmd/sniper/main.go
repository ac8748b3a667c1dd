package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"sniperbot/config"
	"sniperbot/internal/bot"
	"sniperbot/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("sniper", slog.LevelInfo)
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	logger.InitWithFile("sniper", cfg.SlogLevel(), logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := bot.New(ctx, cfg)
	if err != nil {
		slog.Error("init failed", "error", err)
		os.Exit(1)
	}

	if err := svc.Run(ctx); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}
