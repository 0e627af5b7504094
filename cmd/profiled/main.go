package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-profiles/internal/app"
	"github.com/JakeFAU/crawl-profiles/internal/config"
	"github.com/JakeFAU/crawl-profiles/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, "profiled")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("profiled exited", zap.Error(err))
		_ = logger.Sync() //nolint:errcheck // exiting anyway
		os.Exit(1)
	}
	_ = logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}

	runErr := a.Run(ctx)

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Error("shutdown incomplete", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return runErr
}
