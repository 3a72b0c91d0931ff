// Command greeterd runs the birthday/anniversary greeting pipeline: the
// daily pre-calculator, the minute-tick enqueuer, the recovery sweeper, the
// broker-consuming worker pool, and the health/readiness/metrics HTTP
// server, all under one process lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/tartampluch/greeter-service/internal/app"
	"github.com/tartampluch/greeter-service/internal/config"
)

// main is the process entry point. It delegates to runMain so that deferred
// cleanup runs before the process exits: os.Exit does not run defers.
func main() {
	os.Exit(runMain())
}

func runMain() int {
	configPath := flag.String("config", "", "path to a YAML config file (optional, env vars always win)")
	debugMode := flag.Bool("debug", false, "enable debug-level logging")
	flag.Parse()

	setupLogging(*debugMode)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error(config.ErrAppFailed, slog.String(config.LogKeyComponent, config.CompMain), slog.String(config.LogKeyError, err.Error()))
		return config.ExitCodeError
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info(config.MsgAppStarting,
		slog.String(config.LogKeyComponent, config.CompMain),
		slog.String("go_version", runtime.Version()),
		slog.Int("pid", os.Getpid()),
	)

	if err := run(ctx, cfg); err != nil {
		slog.Error(config.ErrAppFailed, slog.String(config.LogKeyComponent, config.CompMain), slog.String(config.LogKeyError, err.Error()))
		return config.ExitCodeError
	}

	slog.Info(config.MsgAppStop, slog.String(config.LogKeyComponent, config.CompMain))
	return config.ExitCodeSuccess
}

// run builds the dependency graph and blocks until ctx is cancelled or a
// component fails fatally.
func run(ctx context.Context, cfg *config.Config) error {
	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("error closing application resources",
				slog.String(config.LogKeyComponent, config.CompMain),
				slog.String(config.LogKeyError, err.Error()),
			)
		}
	}()

	return a.Run(ctx)
}

// setupLogging installs the default slog logger as JSON on stdout, the same
// structured-logging shape used throughout internal/.
func setupLogging(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: debug,
	}))
	slog.SetDefault(logger)
}
