package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"px-position-manager/internal/app"
	"px-position-manager/internal/config"
	"px-position-manager/internal/logging"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	bootstrap := flag.Bool("bootstrap", false, "create the paper market and fund the owner if missing")
	openPosition := flag.Bool("open", false, "open the configured position if none is open")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()
	log.Info("config loaded", zap.String("path", *configPath))

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *bootstrap {
		if _, err := application.Bootstrap(ctx); err != nil {
			log.Error("bootstrap failed", zap.Error(err))
			os.Exit(1)
		}
	}
	if *openPosition {
		opened, err := application.EnsureOpen(ctx)
		if err != nil {
			log.Error("open failed", zap.Error(err))
			os.Exit(1)
		}
		log.Info("position ready", zap.Bool("opened", opened), zap.Stringer("owner", application.Owner()))
	}

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("bot terminated", zap.Error(err))
		os.Exit(1)
	}
}
