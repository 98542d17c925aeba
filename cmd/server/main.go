package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-tcp/internal/app"
	"github.com/vovakirdan/wirechat-tcp/internal/config"
	wlog "github.com/vovakirdan/wirechat-tcp/internal/log"
)

// errUsage makes main print usage instead of an error line.
var errUsage = errors.New("usage")

func main() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stdout, cmd.UsageString())
		} else {
			fmt.Fprintf(os.Stderr, "wirechat-server: %v\n", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		httpAddr   string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:           "wirechat-server <port>",
		Short:         "Run the wirechat TCP chat server",
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errUsage
			}
			port, err := config.ParsePort(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", errUsage, err)
			}

			bootLog := wlog.New("info")
			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				return err
			}
			cfg.Port = port
			if cmd.Flags().Changed("http") {
				cfg.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}

			logger := wlog.New(cfg.LogLevel)
			logger.Info().Str("config", path).Int("port", cfg.Port).Msg("starting wirechat server")

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := application.Run(ctx); err != nil {
				return fmt.Errorf("server exited with error: %w", err)
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address for /ws, /api and /metrics (empty disables)")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	return cmd
}
