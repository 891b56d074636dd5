package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/unicitynetwork/sol-bridge-go/core/config"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
	"github.com/unicitynetwork/sol-bridge-go/core/util"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a minter key",
	Long: fmt.Sprintf(`Generates a new secp256k1 minter key. The secret is written to --out
with mode 0600, or printed when no file is given. Load it with minter.key_file
or the %s environment variable.`, config.MinterKeyEnv),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := identity.GenerateMinterKey()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if keygenOut == "" {
			fmt.Fprintf(out, "secret:     %s\n", key.SecretHex())
		} else {
			if _, err := os.Stat(keygenOut); err == nil {
				return errors.Errorf("%s already exists", keygenOut)
			}
			if err := util.WriteFileAtomic(keygenOut, []byte(key.SecretHex()+"\n"), 0o600); err != nil {
				return err
			}
			fmt.Fprintf(out, "secret written to %s\n", keygenOut)
		}
		fmt.Fprintf(out, "public key: %s\n", key.PublicKeyHex())
		fmt.Fprintf(out, "address:    %s\n", key.Address())
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "", "file to write the secret to")
}
