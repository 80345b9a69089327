package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/racer-mesh/racer/internal/crypto"
)

func hexID(id [32]byte) string {
	return hex.EncodeToString(id[:])
}

func newKeygenCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate and persist a node signing keypair",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, _ := cmd.Flags().GetString("home")
			if err := os.MkdirAll(home, 0700); err != nil {
				return err
			}

			if !force {
				if _, _, err := crypto.LoadKeypair(home); err == nil {
					return fmt.Errorf("keypair already exists at %s (use --force to overwrite)", home)
				}
			}

			priv, pub, err := crypto.GenerateKeyPair()
			if err != nil {
				return err
			}
			if err := crypto.SaveKeypair(home, priv); err != nil {
				return err
			}

			id := crypto.NodeID(pub)
			fmt.Println("OK keypair generated")
			fmt.Println("pub:", pub.String())
			fmt.Println("node_id:", hexID(id))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing keypair")
	return cmd
}
