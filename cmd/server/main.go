package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/studio-presence/internal/app"
	"github.com/vovakirdan/studio-presence/internal/config"
	"github.com/vovakirdan/studio-presence/internal/log"
)

type serveFlags struct {
	configPath string
	overrides  config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &serveFlags{}

	root := &cobra.Command{
		Use:           "studio-presence",
		Short:         "Live visitor presence for the studio website",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	bindServeFlags(root, flags)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the presence server (default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	bindServeFlags(serve, flags)

	root.AddCommand(serve, newHashPasswordCmd())
	return root
}

func bindServeFlags(cmd *cobra.Command, flags *serveFlags) {
	f := cmd.Flags()
	f.StringVar(&flags.configPath, "config", "", "path to config.yaml (created with defaults if missing)")
	f.StringVar(&flags.overrides.Addr, "addr", "", "HTTP listen address")
	f.StringVar(&flags.overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&flags.overrides.RelayURL, "relay-url", "", "relay URL (redis://, nats://, memory://); empty runs standalone")
	f.StringVar(&flags.overrides.InstanceID, "instance-id", "", "relay identity of this process")
	f.DurationVar(&flags.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
}

func runServe(parent context.Context, flags *serveFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootLogger := log.New("info", "console")
	cfg, path, err := config.Load(bootLogger, flags.configPath)
	if err != nil {
		bootLogger.Error().Err(err).Str("path", path).Msg("failed to load config")
		return err
	}
	cfg.UpdateFrom(flags.overrides)

	logger := log.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info().Str("config", path).Msg("configuration loaded")

	application, err := app.New(ctx, &cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize app")
		return err
	}

	logger.Info().Str("addr", cfg.Addr).Str("instance", application.InstanceID()).Msg("starting studio-presence")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
