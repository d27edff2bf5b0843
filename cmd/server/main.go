package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/medrelay/internal/app"
	"github.com/vovakirdan/medrelay/internal/config"
	"github.com/vovakirdan/medrelay/internal/log"
	"github.com/vovakirdan/medrelay/internal/store/sqlite"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "medrelay",
		Short:        "Real-time translation relay for doctor-patient conversations",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config.yaml")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	serve := newServeCmd(opts)
	root.AddCommand(serve, newMigrateCmd(opts))
	// Running without a subcommand serves.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			defer closeLog()
			cfg.UpdateFrom(config.Config{Addr: addr})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				logger.Error().Err(err).Msg("failed to initialize application")
				return err
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting medrelay server")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides config)")
	return cmd
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := loadRuntime(opts)
			if err != nil {
				return err
			}
			defer closeLog()

			applied, err := sqlite.MigratePath(cmd.Context(), cfg.DatabasePath)
			if err != nil {
				logger.Error().Err(err).Str("db_path", cfg.DatabasePath).Msg("migration failed")
				return err
			}
			logger.Info().Int("applied", applied).Str("db_path", cfg.DatabasePath).Msg("migrations applied")
			return nil
		},
	}
}

// loadRuntime resolves configuration and builds the process logger.
func loadRuntime(opts *rootOptions) (config.Config, *zerolog.Logger, func(), error) {
	bootstrap := log.New("info")

	cfg, path, err := config.Load(bootstrap, opts.configPath)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.UpdateFrom(config.Config{LogLevel: opts.logLevel})

	logOpts := log.Options{Format: cfg.LogFormat}
	closeLog := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return cfg, nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logOpts.File = f
		closeLog = func() { _ = f.Close() }
	}

	logger := log.NewWithOptions(cfg.LogLevel, logOpts)
	logger.Debug().Str("config", path).Msg("configuration loaded")
	return cfg, logger, closeLog, nil
}
