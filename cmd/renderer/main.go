package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/webdevavi/aureus/constants"
	"github.com/webdevavi/aureus/internal/app"
	"github.com/webdevavi/aureus/internal/common"
)

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		common.NewLogger(os.Stderr, "info").Error("config.load.failed", "error", err)
		os.Exit(1)
	}
	logger := common.NewLogger(os.Stdout, cfg.LogLevel).With("service", "renderer")
	if err := cfg.ValidateRenderer(); err != nil {
		logger.Error("config.invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("renderer.init.failed", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	logger.Info("renderer.start", "queue", constants.StageRenderer, "max_concurrent_jobs", cfg.Broker.MaxConcurrentJobs)
	if err := deps.RunStage(ctx, constants.StageRenderer, deps.Processor.HandleRender); err != nil {
		logger.Error("renderer.stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("renderer.stopped")
}
