package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"tradeguard/app"
	"tradeguard/logger"
)

func main() {
	_ = godotenv.Load()

	logger.Init(nil)

	logger.Info("============================================================")
	logger.Info(" tradeguard - equity trading control plane")
	logger.Info("============================================================")

	localConfigPath := os.Getenv("TRADEGUARD_CONFIG")
	hardLimitsPath := os.Getenv("TRADEGUARD_HARD_LIMITS")

	ctx, err := app.New(localConfigPath, hardLimitsPath)
	if err != nil {
		logger.Fatalf("failed to initialize control plane: %v", err)
	}
	logger.Info("configuration loaded and components wired")

	if ctx.Config.IsPaperMode() {
		logger.Warn("running in PAPER MODE - no live orders will be sent")
	}

	ctx.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("control plane running, waiting for trading signals (Ctrl+C to stop)")
	<-quit

	logger.Info("shutdown signal received, stopping background tasks...")
	ctx.Stop()
	logger.Info("shutdown complete")
}
