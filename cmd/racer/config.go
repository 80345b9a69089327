package main

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/racer-mesh/racer/internal/config"
)

func newConfigCommand() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Emit a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			cfg.Node.RouterBind = "udp://0.0.0.0:9000"

			out, err := toml.Marshal(cfg)
			if err != nil {
				return err
			}

			if outPath == "" {
				_, err := os.Stdout.Write(out)
				return err
			}
			if err := os.WriteFile(outPath, out, 0600); err != nil {
				return err
			}
			fmt.Println("wrote", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", "write to this path instead of stdout")
	return cmd
}
