// Package main is the entry point for the layerwise allocation server.
//
// The server exposes the allocation engine over HTTP: layer deltas, saving
// plan allocation, instrument proposals, suggestions and the full assessment.
// Instrument reference data lives in a local SQLite knowledge base that is
// checked on a schedule.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/layerwise/internal/config"
	"github.com/aristath/layerwise/internal/di"
	"github.com/aristath/layerwise/internal/scheduler"
	"github.com/aristath/layerwise/internal/server"
	"github.com/aristath/layerwise/pkg/logger"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{
			Level:  "info",
			Pretty: true,
		})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.LogPretty,
	})
	logger.SetGlobalLogger(log)

	version := getEnv("VERSION", "dev")
	log.Info().Str("version", version).Str("profile", cfg.Profile).Msg("Starting layerwise")

	container, jobs, err := di.Wire(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}
	defer container.Close()

	var health server.HealthReporter
	if jobs.KBHealthCheck != nil {
		health = jobs.KBHealthCheck
		// The first report should not wait for the schedule
		go runInitialCheck(container.Scheduler, jobs.KBHealthCheck)
	}

	cfgServer := server.Config{
		Log:         log,
		Config:      cfg,
		Profiles:    container.Profiles,
		Assessor:    container.Assessor,
		Instruments: container.InstrumentService,
		Suggestions: container.SuggestionService,
		Health:      health,
		Version:     version,
	}
	if container.RecordRepo != nil {
		cfgServer.Records = container.RecordRepo
	}
	srv := server.New(cfgServer)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started successfully")

	container.Scheduler.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

func runInitialCheck(s *scheduler.Scheduler, job scheduler.Job) {
	// Failures are already logged and kept in the job report
	_ = s.RunNow(job)
}
