package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"stepchain/internal/security"
)

func (c *cli) keygenCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 ledger signing keypair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if write {
				signer, created, err := security.LoadOrCreateSigner(c.cfg.KeysDir)
				if err != nil {
					return err
				}
				if !created {
					fmt.Fprintf(out, "keys already exist in %s\n", c.cfg.KeysDir)
				}
				fmt.Fprintf(out, "PUBLIC_KEY_HEX: %s\n", signer.PublicHex())
				return nil
			}

			signer, err := security.GenerateSigner()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "# ======= Ed25519 Keypair (hex) =======")
			fmt.Fprintf(out, "PRIVATE_KEY_HEX: %s\n", signer.PrivateHex())
			fmt.Fprintf(out, "PUBLIC_KEY_HEX: %s\n", signer.PublicHex())
			return nil
		},
	}
	cmd.Flags().BoolVar(&write, "write", false, "store the keypair in the keys dir instead of printing the private key")
	return cmd
}
