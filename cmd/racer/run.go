package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/racer-mesh/racer/internal/config"
	"github.com/racer-mesh/racer/internal/logging"
	"github.com/racer-mesh/racer/internal/node"
	"github.com/racer-mesh/racer/internal/schema"
)

func isBadConfig(err error) bool {
	return errors.Is(err, node.ErrBadConfig)
}

func isTransportBind(err error) bool {
	return errors.Is(err, node.ErrTransportUnavailable)
}

func newRunCommand() *cobra.Command {
	var (
		configPath string
		schemaPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a mesh node and block until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, _ := cmd.Flags().GetString("home")

			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return errBadConfig(err)
				}
				cfg = loaded
			} else if err := cfg.Validate(); err != nil {
				return errBadConfig(err)
			}

			logCfg := logging.DefaultConfig()
			logCfg.Level = logLevel
			log, err := logging.New(logCfg)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			var msgSchema *schema.Message
			if schemaPath != "" {
				msgSchema, err = schema.LoadFile(schemaPath)
				if err != nil {
					return errBadConfig(err)
				}
			}

			n, err := node.New(node.Options{
				Home:   home,
				Config: cfg,
				Log:    log,
				Schema: msgSchema,
			})
			if err != nil {
				return err
			}

			log.Info("node started",
				zap.String("node_id", hexID(n.ID)),
				zap.String("router_bind", cfg.Node.RouterBind),
			)

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			runErr := n.Run(ctx)
			if shutdownErr := n.Shutdown(); shutdownErr != nil {
				log.Warn("shutdown reported errors", zap.Error(shutdownErr))
			}
			if runErr != nil && !errors.Is(runErr, context.Canceled) {
				return runErr
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to a racer.toml configuration file")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "path to a message schema TOML file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func errBadConfig(err error) error {
	return errors.Join(node.ErrBadConfig, err)
}
