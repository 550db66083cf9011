package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/voiceroom/internal/app"
	"github.com/vovakirdan/voiceroom/internal/config"
	applog "github.com/vovakirdan/voiceroom/internal/log"
)

var version = "dev"

type rootFlags struct {
	configPath string
	overrides  config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "voiceroom",
		Short:         "Join a shared voice chat room from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := setup(flags)
			if err != nil {
				return err
			}
			defer closeLog()

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}

			logger.Info().Str("provider", cfg.Provider).Str("room", cfg.Room).Msg("starting voiceroom")
			if err := application.Run(cmd.Context()); err != nil {
				logger.Error().Err(err).Msg("voiceroom exited with error")
				return err
			}
			logger.Info().Msg("voiceroom stopped")
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "path to config file")
	pf.StringVar(&flags.overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.overrides.LogFile, "log-file", "", `log file path, "-" for stderr`)
	pf.StringVar(&flags.overrides.Provider, "provider", "", "room provider (rest, livekit)")
	pf.StringVar(&flags.overrides.APIKey, "api-key", "", "provider API key")
	pf.StringVar(&flags.overrides.Room, "room", "", "room name")
	root.Flags().StringVar(&flags.overrides.DiagAddr, "diag-addr", "", "diagnostics HTTP listen address")
	root.Flags().StringVar(&flags.overrides.AssumeMic, "assume-mic", "", "answer the microphone prompt up front (granted, denied)")

	root.AddCommand(newResolveCmd(flags), newVersionCmd())
	return root
}

// newResolveCmd runs only the provisioner and prints the join URL.
func newResolveCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [room]",
		Short: "Find or create a room and print its join URL",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				flags.overrides.Room = args[0]
			}
			cfg, logger, closeLog, err := setup(flags)
			if err != nil {
				return err
			}
			defer closeLog()

			provisioner, err := app.NewProvisioner(cfg, logger)
			if err != nil {
				return err
			}
			credential := cfg.APIKey
			if cfg.Provider == config.ProviderLiveKit {
				credential = ""
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.RequestTimeout)
			defer cancel()
			ref, err := provisioner.Resolve(ctx, credential, cfg.Room)
			if err != nil {
				return fmt.Errorf("resolve room %q: %w", cfg.Room, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ref.JoinURL)
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "voiceroom", version)
		},
	}
}

// setup loads configuration, applies flag overrides and opens the log.
func setup(flags *rootFlags) (config.Config, *zerolog.Logger, func(), error) {
	bootLogger := applog.New("warn", os.Stderr)

	cfg, path, err := config.Load(bootLogger, flags.configPath)
	if err != nil {
		return cfg, nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.UpdateFrom(flags.overrides)
	if err := cfg.Validate(); err != nil {
		return cfg, nil, nil, err
	}

	out := applog.Output(cfg.LogFile)
	logger := applog.New(cfg.LogLevel, out)
	logger.Debug().Str("config", path).Msg("configuration loaded")

	closeLog := func() {
		if err := out.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "close log:", err)
		}
	}
	return cfg, logger, closeLog, nil
}
