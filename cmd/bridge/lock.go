package main

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
	"github.com/unicitynetwork/sol-bridge-go/core/origin"
)

var (
	lockKeypair   string
	lockRecipient string
)

var lockCmd = &cobra.Command{
	Use:   "lock <lamports>",
	Short: "Lock SOL in the bridge escrow",
	Long: `Sends a lock_sol transaction from the origin keypair. The recipient is a
Unicity address; a DIRECT:// prefix is stripped before it is stored on chain.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid amount %q", args[0])
		}
		path := lockKeypair
		if path == "" {
			path = cfg.Origin.KeypairPath
		}
		if path == "" {
			return errors.New("no origin keypair: pass --keypair or set origin.keypair_path")
		}
		user, err := origin.LoadKeypairFile(path)
		if err != nil {
			return err
		}
		accts, err := origin.DeriveBridgeAccounts(cfg.Origin.ProgramID)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		client, err := dialOrigin(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		sig, err := origin.SubmitLock(ctx, client, user, accts, amount, lockRecipient)
		if err != nil {
			return err
		}
		sol, _ := identity.LamportsToSOL(amount)
		fmt.Fprintf(cmd.OutOrStdout(), "locked %s SOL from %s\nsignature: %s\n",
			sol, origin.PublicKeyOf(user), sig)
		return nil
	},
}

func init() {
	lockCmd.Flags().StringVarP(&lockKeypair, "keypair", "k", "", "origin keypair file (JSON array of 64 bytes)")
	lockCmd.Flags().StringVarP(&lockRecipient, "recipient", "r", "", "Unicity recipient address")
	_ = lockCmd.MarkFlagRequired("recipient")
}
