// Command bookingd runs the booking scheduling engine: storage, completion
// sweeps, notification delivery and the calendar feed server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/resource-scheduler/internal/config"
	"github.com/example/resource-scheduler/internal/logging"
)

func main() {
	configPath := flag.String("config", "scheduler.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "path to a dotenv file")
	flag.Parse()

	bootstrap := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		bootstrap.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	daemon, err := newApp(ctx, cfg, logger, appOptions{})
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}
	if err := daemon.run(ctx); err != nil {
		logger.Error("daemon stopped with error", "error", err)
		os.Exit(1)
	}
}
