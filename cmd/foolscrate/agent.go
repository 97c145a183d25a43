package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/foolscrate/foolscrate/internal/agent"
	"github.com/foolscrate/foolscrate/internal/config"
	"github.com/foolscrate/foolscrate/internal/svc"
)

func newAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Run the resident sync agent in the foreground",
		Long: `Runs the resident agent: sweeps all tracked replicas on a fixed interval,
optionally re-sweeps shortly after a tracked directory changes on disk,
and optionally serves Prometheus metrics.

The agent is an alternative to the cron entry; running both on the same
machine is safe (the fleet lock serializes them) but pointless.`,
		Args: cobra.NoArgs,
		RunE: runAgent,
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyConfigLogLevel(cfg)

	a, err := agent.New(cfg, Version)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	return a.Run(ctx)
}

// runAsService is the entry point when launched by the service manager.
// Cobra is skipped entirely; the only flag honored is --config.
func runAsService() {
	setupServiceLogging()
	logStartupBanner()

	var configPath string
	for i, arg := range os.Args {
		if (arg == "--config" || arg == "-c") && i+1 < len(os.Args) {
			configPath = os.Args[i+1]
		}
	}
	if configPath == "" {
		configPath = svc.DefaultConfigPath()
	}

	log.Info().Str("config", configPath).Msg("Starting as system service")

	cfg := &svc.ServiceConfig{
		Name:        svc.DefaultServiceName(),
		DisplayName: svc.DefaultDisplayName(),
		Description: svc.DefaultDescription(),
		ConfigPath:  configPath,
	}
	prg := &svc.Program{
		ConfigPath: configPath,
		RunAgent:   runAgentFromService,
	}

	if err := svc.Run(prg, cfg); err != nil {
		log.Fatal().Err(err).Msg("Service error")
	}
}

func runAgentFromService(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	a, err := agent.New(cfg, Version)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

// setupServiceLogging configures logging for service mode: a rotating
// file so logs survive restarts, plus stderr for the service manager to
// capture.
func setupServiceLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	logPath := "/var/log/foolscrate-service.log"
	if runtime.GOOS == "windows" {
		logPath = filepath.Join(os.Getenv("ProgramData"), "Foolscrate", "service.log")
	}

	rotating := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    20, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}

	multi := io.MultiWriter(rotating, os.Stderr)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: multi, TimeFormat: time.RFC3339})
}
