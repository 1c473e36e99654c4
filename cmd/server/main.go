package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"parkinglot/parking-server/internal/app"
	"parkinglot/parking-server/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv("PARKING_CONFIG"), "Optional YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(cfg.LogLevel)})).
		With("instance", cfg.InstanceID)
	slog.SetDefault(logger)

	logger.Info("starting parking server",
		"http_port", cfg.HTTPPort,
		"database", cfg.DatabasePath,
		"currency", cfg.Currency,
		"mqtt", cfg.MQTTBrokerURL != "",
		"redis_locks", cfg.RedisURL != "",
		"mdns", cfg.MDNSEnabled,
	)

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("application terminated", "error", err)
		os.Exit(1)
	}

	logger.Info("application stopped cleanly")
}

func logLevel(level string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
