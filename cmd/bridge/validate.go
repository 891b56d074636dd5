package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/unicitynetwork/sol-bridge-go/core/verifier"
)

var validateCmd = &cobra.Command{
	Use:   "validate <artifact.json>",
	Short: "Check a minted token against both chains",
	Long: `Verifies a minted token artifact: the inclusion proof, the minter's
signature over the lock commitment, the derived asset identity and the lock
event as recorded on the origin chain. Exits non-zero unless the token is valid.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		client, err := dialOrigin(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		inclusion, err := inclusionVerifier(ctx)
		if err != nil {
			return err
		}

		v := verifier.New(client, inclusion, cfg.Origin.ProgramID, verifier.WithLogger(logger))
		report, err := v.VerifyFile(ctx, args[0])
		if err != nil {
			return err
		}
		if err := report.Print(cmd.OutOrStdout()); err != nil {
			return err
		}
		if !report.Valid() {
			if c, ok := report.Failed(); ok {
				return errors.Errorf("token is invalid: %s: %s", c.Name, c.Detail)
			}
			return errors.New("token is invalid")
		}
		return nil
	},
}
