// Package proof assembles lock event proofs from origin chain data and
// validates them.
package proof

import (
	"context"

	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"github.com/unicitynetwork/sol-bridge-go/core/origin"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"go.uber.org/zap"
)

// ConfirmationSource answers block and confirmation questions. The oracle
// implements it.
type ConfirmationSource interface {
	VerifyBlockHash(ctx context.Context, hash string, height uint64) types.Verdict
	GetConfirmation(ctx context.Context, signature string) (*types.ConfirmationRecord, error)
}

type Option func(*options)

type options struct {
	logger *zap.Logger
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.Or(o.logger)
	return o
}

// Builder assembles proofs.
type Builder struct {
	client origin.Client
	oracle ConfirmationSource
	logger *zap.Logger
}

func NewBuilder(client origin.Client, oracle ConfirmationSource, opts ...Option) *Builder {
	o := collect(opts)
	return &Builder{client: client, oracle: oracle, logger: o.logger.With(zap.String("component", "proof_builder"))}
}

// Build binds ev to the transaction sig at slot.
//
// The transaction must exist: its signature came from the chain itself, so
// absence is an integrity problem and fatal. The block hash is best effort
// and left empty when the block cannot be fetched.
func (b *Builder) Build(ctx context.Context, ev types.LockEvent, sig string, slot uint64) (*types.Proof, error) {
	raw, err := b.client.GetTransaction(ctx, sig)
	if err != nil {
		return nil, err
	}
	if raw.Empty() {
		return nil, errors.Wrapf(types.ErrTransactionNotFound, "transaction %s", sig)
	}
	view, err := raw.View()
	if err != nil {
		return nil, errors.Wrapf(types.ErrMalformedEvent, "transaction %s: %v", sig, err)
	}
	if view.Failed() {
		return nil, errors.Wrapf(types.ErrTransactionFailed, "transaction %s: %s", sig, string(view.Err))
	}
	if slot == 0 {
		slot = view.Slot
	}

	p := &types.Proof{
		Event:          ev,
		Signature:      sig,
		BlockHeight:    slot,
		Slot:           slot,
		BlockTime:      view.BlockTime,
		RawTransaction: raw,
	}

	rec, err := b.oracle.GetConfirmation(ctx, sig)
	switch {
	case errors.Is(err, types.ErrTransactionNotFound):
		// the status cache can lag behind getTransaction; validation
		// records the missing confirmation
		b.logger.Debug("no confirmation record yet", zap.String("signature", sig))
	case err != nil:
		return nil, err
	default:
		p.Confirmation = rec
	}

	block, err := b.client.GetBlock(ctx, slot)
	switch {
	case err != nil:
		b.logger.Debug("block lookup failed, leaving hash empty",
			zap.Uint64("slot", slot), zap.Error(err))
	case block == nil:
		b.logger.Debug("block not available, leaving hash empty", zap.Uint64("slot", slot))
	default:
		p.BlockHash = block.Blockhash
		if block.BlockTime != nil {
			p.BlockTime = block.BlockTime
		}
	}
	return p, nil
}
