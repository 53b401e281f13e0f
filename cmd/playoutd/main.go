/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/grimnir_playout/internal/config"
	"github.com/friendsincode/grimnir_playout/internal/logbuffer"
	"github.com/friendsincode/grimnir_playout/internal/logging"
	"github.com/friendsincode/grimnir_playout/internal/server"
	"github.com/friendsincode/grimnir_playout/internal/telemetry"
	"github.com/friendsincode/grimnir_playout/internal/version"
)

const shutdownTimeout = 10 * time.Second

var (
	logger    zerolog.Logger
	cfg       *config.Config
	logBuffer *logbuffer.Buffer

	serveMigrate bool
)

var rootCmd = &cobra.Command{
	Use:           "playoutd",
	Short:         "Continuous playout scheduling daemon",
	Long:          "playoutd turns a queue of media descriptor files into back-to-back rows of a broadcast schedule table.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poller and HTTP API",
	Long: `Run the queue poller until interrupted.

The poller takes one entry at a time from the queue file, reads the item's
duration from its descriptor and appends a schedule row that starts when the
previous item ends. Items whose descriptor cannot be read are moved to the
dead-letter file.

Examples:
  # Create the schedule table on first run, then serve
  playoutd serve --migrate
`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version.String())
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", false, "Create the schedule table before serving")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuffer = logbuffer.New(logbuffer.DefaultCapacity)
	logger, err = logging.Setup(logging.Options{
		Environment: cfg.Environment,
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
		Capture:     logbuffer.NewWriter(logBuffer, nil),
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Str("queue_file", cfg.QueueFile).Msg("playoutd starting")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerProvider, err := telemetry.InitTracer(ctx, telemetry.TracerConfigFrom(cfg, version.Version), logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	srv, err := server.New(ctx, cfg, logBuffer, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("shutdown cleanup failed")
		}
	}()

	if serveMigrate {
		if err := srv.Migrate(); err != nil {
			return fmt.Errorf("migrate schedule table: %w", err)
		}
	}

	if err := srv.Start(); err != nil {
		return err
	}

	httpErr := make(chan error, 1)
	httpServer := srv.HTTPServer()
	if httpServer != nil {
		go func() {
			logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				httpErr <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down gracefully...")
	case err := <-srv.Done():
		runErr = fmt.Errorf("poller stopped: %w", err)
	case err := <-httpErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}

	if runErr != nil {
		logger.Error().Err(runErr).Msg("playoutd stopped with error")
		return runErr
	}
	logger.Info().Msg("playoutd stopped")
	return nil
}
