package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/closetmind/gateway/internal/config"
	"github.com/closetmind/gateway/internal/infra/http"
	"github.com/closetmind/gateway/pkg/logger"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ==========================================================================
	// Configuration & Logger
	// ==========================================================================
	cfg, err := config.Load()
	if err != nil {
		log := logger.NewDefault()
		log.Error("failed to load configuration", "error", err)
		return 1
	}

	log := initLogger(cfg)
	log.Info("starting gateway", "app", cfg.App.Name, "env", cfg.App.Env, "upstream", cfg.Upstream.URL)

	// ==========================================================================
	// Server
	// ==========================================================================
	server, err := http.NewServer(cfg, log)
	if err != nil {
		log.Error("failed to initialize server", "error", err)
		return 1
	}

	// ==========================================================================
	// Violation Decay Sweep
	// ==========================================================================
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(cfg.Blocklist.SweepSchedule, server.Tracker().Sweep); err != nil {
		log.Error("invalid sweep schedule", "schedule", cfg.Blocklist.SweepSchedule, "error", err)
		return 1
	}
	sweeper.Start()
	log.Info("violation sweep scheduled", "schedule", cfg.Blocklist.SweepSchedule)

	// ==========================================================================
	// Start Server
	// ==========================================================================
	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", "error", err)
		}
	}()
	log.Info("gateway started", "http_addr", cfg.Server.Addr())

	// ==========================================================================
	// Graceful Shutdown
	// ==========================================================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stop the sweep scheduler first, then drain the server.
	<-sweeper.Stop().Done()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return 1
	}

	log.Info("gateway stopped")
	return 0
}

func initLogger(cfg *config.Config) *logger.Logger {
	var log *logger.Logger
	if cfg.IsProduction() {
		log = logger.New(logger.Config{
			Level:  cfg.Log.Level,
			Format: cfg.Log.Format,
		})
	} else {
		log = logger.NewDevelopment()
	}
	log.SetDefault()
	return log
}
