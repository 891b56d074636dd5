package main

import (
	"context"

	"github.com/unicitynetwork/sol-bridge-go/core/config"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
	"github.com/unicitynetwork/sol-bridge-go/core/origin"
	"github.com/unicitynetwork/sol-bridge-go/core/target"
)

func dialOrigin(ctx context.Context) (*origin.RPCClient, error) {
	return origin.Dial(ctx, cfg.Origin.RPCURL,
		origin.WithRateLimit(cfg.Origin.RateLimit, cfg.Origin.RateBurst),
		origin.WithCommitment(cfg.Origin.Commitment),
		origin.WithLogger(logger))
}

// gatewayService connects to the remote commit service. key may be nil for
// read-only use.
func gatewayService(ctx context.Context, key *identity.MinterKey) (*target.GatewayCommitService, error) {
	var (
		transport *target.HTTPTransport
		err       error
	)
	if key != nil {
		signer, serr := target.SignerFromMinterKey(key)
		if serr != nil {
			return nil, serr
		}
		transport, err = target.NewHTTPTransport(ctx, cfg.Target.GatewayURL, signer, nil)
	} else {
		transport, err = target.NewHTTPTransport(ctx, cfg.Target.GatewayURL, nil, nil)
	}
	if err != nil {
		return nil, err
	}

	opts := []target.GatewayOption{target.WithGatewayLogger(logger)}
	if cfg.Target.Namespace != "" {
		opts = append(opts, target.WithNamespace(cfg.Target.Namespace))
	}
	if cfg.Target.PollInterval > 0 {
		opts = append(opts, target.WithPollInterval(cfg.Target.PollInterval))
	}
	return target.NewGatewayCommitService(transport, opts...)
}

func commitService(ctx context.Context, key *identity.MinterKey) (target.CommitService, error) {
	if cfg.Target.Kind == config.TargetGateway {
		return gatewayService(ctx, key)
	}
	logger.Warn("using the in-process commit service; inclusion proofs will not outlive this process")
	return target.NewMemoryCommitService(logger), nil
}

// inclusionVerifier checks proofs against the gateway when one is configured
// and offline otherwise.
func inclusionVerifier(ctx context.Context) (target.InclusionVerifier, error) {
	if cfg.Target.Kind == config.TargetGateway {
		return gatewayService(ctx, nil)
	}
	return target.ProofVerifier{}, nil
}
