package oracle

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/extractor"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"github.com/unicitynetwork/sol-bridge-go/core/origin"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"go.uber.org/zap"
)

// Default policy values.
const (
	DefaultConfirmationThreshold = 10
	DefaultCheckpointCacheSize   = 1024
)

// Policy tunes when a block that cannot be fetched directly is trusted.
type Policy struct {
	// ConfirmationThreshold is the number of slots a block must trail the
	// finalized frontier before its hash is accepted on format alone.
	ConfirmationThreshold uint64 `yaml:"confirmation_threshold"`
	CheckpointCacheSize   int    `yaml:"checkpoint_cache_size"`
}

func (p *Policy) SetDefaults() {
	if p.ConfirmationThreshold == 0 {
		p.ConfirmationThreshold = DefaultConfirmationThreshold
	}
	if p.CheckpointCacheSize <= 0 {
		p.CheckpointCacheSize = DefaultCheckpointCacheSize
	}
}

// Checkpoint is a block the oracle trusts.
type Checkpoint struct {
	Slot        uint64
	BlockHeight uint64
	Hash        string
	BlockTime   *int64
	// Direct is false when the hash was accepted by age rather than lookup.
	Direct bool
}

// Oracle answers confirmation questions against the origin chain. The
// origin RPC is the trust root.
type Oracle struct {
	client      origin.Client
	policy      Policy
	checkpoints *lru.Cache[uint64, Checkpoint]
	logger      *zap.Logger
}

type Option func(*Oracle)

func WithLogger(logger *zap.Logger) Option {
	return func(o *Oracle) {
		o.logger = logger
	}
}

func New(client origin.Client, policy Policy, options ...Option) (*Oracle, error) {
	policy.SetDefaults()
	cache, err := lru.New[uint64, Checkpoint](policy.CheckpointCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	o := &Oracle{client: client, policy: policy, checkpoints: cache}
	for _, option := range options {
		option(o)
	}
	o.logger = logging.Or(o.logger).With(zap.String("component", "oracle"))
	return o, nil
}

// Threshold returns the configured confirmation threshold.
func (o *Oracle) Threshold() uint64 {
	return o.policy.ConfirmationThreshold
}

// VerifyBlockHash decides whether hash is the block at height (a slot).
//
// A block the node can return is compared directly. Otherwise the hash is
// checked for format and the block's age against the finalized frontier
// decides: younger than the threshold (or ahead of the frontier) is Pending,
// older is Verified and remembered as a checkpoint. An empty hash skips the
// format check.
func (o *Oracle) VerifyBlockHash(ctx context.Context, hash string, height uint64) types.Verdict {
	if cp, ok := o.checkpoints.Get(height); ok {
		if hash == "" || cp.Hash == hash {
			return types.Verified("trusted checkpoint")
		}
		return types.Failed(fmt.Sprintf("block %d hash %s does not match checkpoint %s", height, hash, cp.Hash))
	}

	block, err := o.client.GetBlock(ctx, height)
	if err != nil {
		o.logger.Debug("direct block lookup failed, using age fallback",
			zap.Uint64("height", height), zap.Error(err))
	}
	if err == nil && block != nil {
		if hash != "" && block.Blockhash != hash {
			return types.Failed(fmt.Sprintf("block %d hash is %s, proof claims %s", height, block.Blockhash, hash))
		}
		o.remember(height, block)
		return types.Verified("block fetched from origin chain")
	}

	if hash != "" && !validHashFormat(hash) {
		return types.Failed(fmt.Sprintf("block hash %q is not a 32-byte base58 value", hash))
	}

	finalized, err := o.client.GetSlot(ctx, origin.CommitmentFinalized)
	if err != nil {
		return types.Pending(fmt.Sprintf("finalized slot unavailable: %v", err))
	}
	age := int64(finalized) - int64(height)
	switch {
	case age < 0:
		return types.Pending(fmt.Sprintf("block %d is %d slots ahead of finalized slot %d", height, -age, finalized))
	case uint64(age) < o.policy.ConfirmationThreshold:
		return types.Pending(fmt.Sprintf("block %d is only %d slots behind finalized slot %d", height, age, finalized))
	}

	if hash != "" {
		o.checkpoints.Add(height, Checkpoint{Slot: height, Hash: hash})
	}
	o.logger.Info("accepted block by age",
		zap.Uint64("height", height), zap.Int64("age", age), zap.String("hash", hash))
	return types.Verified(fmt.Sprintf("block is %d slots behind finalized frontier", age))
}

func validHashFormat(hash string) bool {
	b, err := base58.Decode(hash)
	return err == nil && len(b) == 32
}

func (o *Oracle) remember(slot uint64, block *origin.Block) Checkpoint {
	cp := Checkpoint{Slot: slot, Hash: block.Blockhash, BlockTime: block.BlockTime, Direct: true}
	if block.BlockHeight != nil {
		cp.BlockHeight = *block.BlockHeight
	}
	o.checkpoints.Add(slot, cp)
	return cp
}

// GetConfirmation fetches the chain's confirmation record for a transaction.
func (o *Oracle) GetConfirmation(ctx context.Context, signature string) (*types.ConfirmationRecord, error) {
	recs, err := o.client.GetSignatureStatuses(ctx, []string{signature})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 || recs[0] == nil {
		return nil, errors.Wrapf(types.ErrTransactionNotFound, "no status for %s", signature)
	}
	rec := recs[0]
	if rec.Failed() {
		return rec, errors.Wrapf(types.ErrTransactionFailed, "%s: %s", signature, extractor.DescribeTransactionError(rec.Err))
	}
	return rec, nil
}

// GetLatestFinalizedCheckpoint returns the newest finalized block and seeds
// the checkpoint cache with it.
func (o *Oracle) GetLatestFinalizedCheckpoint(ctx context.Context) (Checkpoint, error) {
	slot, err := o.client.GetSlot(ctx, origin.CommitmentFinalized)
	if err != nil {
		return Checkpoint{}, err
	}
	block, err := o.client.GetBlock(ctx, slot)
	if err != nil {
		return Checkpoint{}, err
	}
	if block == nil {
		return Checkpoint{}, errors.Wrapf(types.ErrOriginUnavailable, "finalized block %d not available", slot)
	}
	return o.remember(slot, block), nil
}

// TrustedCheckpoint returns a cached checkpoint for slot.
func (o *Oracle) TrustedCheckpoint(slot uint64) (Checkpoint, bool) {
	return o.checkpoints.Get(slot)
}
