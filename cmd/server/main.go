// Package main is the entry point for the allocator service: a multi-scenario
// portfolio optimization engine exposed over HTTP.
//
// Startup sequence:
// 1. Load configuration from environment variables (.env file)
// 2. Initialize the structured logger
// 3. Open the runs database and run migrations
// 4. Wire the optimization engine, sizing tester and HTTP handlers
// 5. Start the HTTP server and wait for a shutdown signal
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aristath/allocator/internal/config"
	"github.com/aristath/allocator/internal/database"
	"github.com/aristath/allocator/internal/modules/optimization"
	optimizationhandlers "github.com/aristath/allocator/internal/modules/optimization/handlers"
	"github.com/aristath/allocator/internal/modules/sizing"
	"github.com/aristath/allocator/internal/server"
	"github.com/aristath/allocator/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().
		Int("port", cfg.Port).
		Str("data_dir", cfg.DataDir).
		Msg("Starting allocator")

	runsDB, err := database.New(database.Config{
		Path: filepath.Join(cfg.DataDir, "runs.db"),
		Name: "runs",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open runs database")
	}
	defer func() {
		if err := runsDB.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close runs database")
		}
	}()

	runRepo, err := optimization.NewRunRepository(runsDB, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize run repository")
	}

	tester := sizing.NewTester(cfg.RiskFreeRate, cfg.PeriodsPerYear, log)

	handlers := optimizationhandlers.NewHandler(
		runRepo,
		tester,
		cfg.RiskFreeRate,
		cfg.PeriodsPerYear,
		log,
	)

	srv := server.New(server.Config{
		Log:                  log,
		Config:               cfg,
		RunsDB:               runsDB,
		OptimizationHandlers: handlers,
	})

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatal().Err(err).Msg("HTTP server failed")
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Allocator stopped")
}
