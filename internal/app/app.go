// Package app provides the top-level application lifecycle for
// tradepilot. It wires together all dependencies (broker client,
// account manager, reconciler, rules, sizing, executor, trade log,
// optional postgres/redis/s3 backends, notifications) and runs one
// trading pass in the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mwhitfield/tradepilot/internal/config"
)

// App is the root application object. It owns the configuration, the
// logger, the path to the signal file, and a list of cleanup functions
// called in reverse order on shutdown.
type App struct {
	cfg         *config.Config
	signalsPath string
	logger      *slog.Logger
	closers     []func()
}

// New creates a new App. signalsPath names the JSON file of trading
// signals produced by the strategy layer for this run.
func New(cfg *config.Config, signalsPath string, logger *slog.Logger) *App {
	return &App{
		cfg:         cfg,
		signalsPath: signalsPath,
		logger:      logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, and processes the signal file once. On return the
// caller should invoke Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("signals", a.signalsPath),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "run":
		return a.RunMode(ctx, deps)
	case "dryrun":
		return a.DryRunMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is
// safe to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
