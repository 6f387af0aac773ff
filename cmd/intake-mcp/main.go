// Package main provides the entry point for the intake MCP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/raphaelgruber/intake/internal/app"
	"github.com/raphaelgruber/intake/internal/config"
	"github.com/raphaelgruber/intake/internal/tools"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Setup logger (dual output: stderr text + file JSON). Stdout carries
	// the protocol.
	logger, cleanup := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = cleanup() }()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("intake-mcp starting",
		"version", version,
		"store", cfg.Store,
		"provider", cfg.AnalysisProvider,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Error("failed to start pipeline", "error", err)
		os.Exit(1)
	}

	s := tools.NewServer(version, &tools.Dependencies{
		Jobs:    a.Jobs,
		Extract: a.Extract,
		Logger:  logger,
	})
	logger.Info("server ready, awaiting connections")

	if err := server.NewStdioServer(s).Listen(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Error("server error", "error", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := a.Shutdown(drainCtx); err != nil {
		logger.Warn("cancelled running jobs", "error", err)
	}
	drainCancel()
	if err := a.Close(context.Background()); err != nil {
		logger.Error("failed to close pipeline", "error", err)
	}
	logger.Info("shutdown complete")
}
