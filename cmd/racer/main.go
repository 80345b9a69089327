// Command racer runs a RACER mesh node, or manages its on-disk keypair and
// configuration file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Exit codes per the node facade's error taxonomy: 0 success, 1 other
// failure, 2 bad configuration, 3 transport bind failure.
const (
	exitOK            = 0
	exitOther         = 1
	exitBadConfig     = 2
	exitTransportBind = 3
)

func defaultHome() string {
	h, err := os.UserHomeDir()
	if err != nil {
		return ".racer"
	}
	return h + "/.racer"
}

func main() {
	root := &cobra.Command{
		Use:           "racer",
		Short:         "RACER mesh node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("home", defaultHome(), "node home directory (keys, config)")

	root.AddCommand(newRunCommand())
	root.AddCommand(newKeygenCommand())
	root.AddCommand(newConfigCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "racer:", err)
		os.Exit(exitCodeFor(err))
	}
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitOK
	case isBadConfig(err):
		return exitBadConfig
	case isTransportBind(err):
		return exitTransportBind
	default:
		return exitOther
	}
}
