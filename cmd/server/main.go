package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ticketeer/internal/app"
	"ticketeer/internal/platform/config"
	"ticketeer/internal/platform/logger"
)

// main loads configuration, wires the application and runs it until SIGINT
// or SIGTERM. Business logic lives in the internal service packages.
func main() {
	cfg, err := config.Load()
	log := logger.New(cfg)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	log.Info("starting ticketeer", "addr", cfg.Server.Addr, "env", cfg.Server.Env, "broker", cfg.Broker.Kind)
	if err := a.Run(ctx); err != nil {
		log.Error("server stopped with error", "error", err)
		a.Close()
		os.Exit(1)
	}
	log.Info("server stopped")
}
