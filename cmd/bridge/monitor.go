package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
	"github.com/unicitynetwork/sol-bridge-go/core/monitor"
	"github.com/unicitynetwork/sol-bridge-go/core/oracle"
	"github.com/unicitynetwork/sol-bridge-go/core/origin"
	"github.com/unicitynetwork/sol-bridge-go/core/proof"
	"github.com/unicitynetwork/sol-bridge-go/core/replay"
	"github.com/unicitynetwork/sol-bridge-go/core/submitter"
	"go.uber.org/zap"
)

var monitorNoSubscribe bool

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch for locks and mint them",
	Long: `Subscribes to the bridge program's logs, polls for recent signatures and
periodically sweeps for missed transactions. Every lock found is proven,
validated and minted once. Stops on SIGINT or SIGTERM after flushing the
replay state.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		key, err := cfg.Minter.LoadKey()
		if err != nil {
			return err
		}
		deriver, err := identity.NewDeriver(identity.Config{
			MinterKey:       key,
			OriginProgramID: cfg.Origin.ProgramID,
		})
		if err != nil {
			return err
		}

		client, err := dialOrigin(ctx)
		if err != nil {
			return err
		}
		defer client.Close()

		orc, err := oracle.New(client, cfg.Policy, oracle.WithLogger(logger))
		if err != nil {
			return err
		}
		service, err := commitService(ctx, key)
		if err != nil {
			return err
		}

		store, err := cfg.Replay.OpenStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		out, err := cfg.Sink.Open(logger)
		if err != nil {
			return err
		}
		defer out.Close()

		mcfg := cfg.Monitor
		mcfg.ProgramID = cfg.Origin.ProgramID
		mcfg.MinterAddress = deriver.MinterAddress()

		opts := []monitor.Option{monitor.WithLogger(logger), monitor.WithSink(out)}
		if !monitorNoSubscribe {
			opts = append(opts, monitor.WithSubscription(origin.NewLogSubscriber(
				cfg.Origin.WSURL, cfg.Origin.ProgramID, cfg.Origin.Commitment,
				origin.WithSubscriberLogger(logger))))
		}
		m, err := monitor.New(mcfg, monitor.Deps{
			Client:    client,
			Builder:   proof.NewBuilder(client, orc, proof.WithLogger(logger)),
			Validator: proof.NewValidator(client, orc, cfg.Origin.ProgramID, proof.WithLogger(logger)),
			Minter:    submitter.New(deriver, service, cfg.Mint, submitter.WithLogger(logger)),
			Guard:     replay.NewGuard(store, logger),
		}, opts...)
		if err != nil {
			return err
		}

		logger.Info("starting bridge",
			zap.String("rpc", cfg.Origin.RPCURL),
			zap.String("target", cfg.Target.Kind),
			zap.String("replay", cfg.Replay.Backend),
			zap.Uint64("confirmation_threshold", cfg.Policy.ConfirmationThreshold))

		if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorNoSubscribe, "no-subscribe", false, "rely on polling only")
}
