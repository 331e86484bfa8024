package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"aiprocessor/internal/app"
	"aiprocessor/internal/config"
	"aiprocessor/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ai-processor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var envFile, logLevel string

	flagSet := pflag.NewFlagSet("ai-processor", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "optional file of environment variables")
	flagSet.StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return err
	}

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("Startup failed: %v", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return application.Run(ctx)
}
