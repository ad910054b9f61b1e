package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/codevat/runbox/internal/config"
	"github.com/codevat/runbox/internal/server"
)

const shutdownGrace = 10 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	conf, err := config.LoadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Info().
		Str("db_path", conf.DBPath).
		Str("sandbox_image", conf.Sandbox.Image).
		Str("project_label", conf.Sandbox.ProjectLabel).
		Int("deadline_ms", conf.Sandbox.DeadlineMs).
		Int("max_concurrent", conf.Limiter.MaxConcurrent).
		Msg("resolved configuration")

	srv, err := server.New(conf, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		// Start sweeps leftover sandboxes before the listener opens, so a
		// failed sweep is fatal here rather than a silent leak.
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server crashed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}
