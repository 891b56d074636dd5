// Package submitter mints validated lock proofs on the target network.
package submitter

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/extractor"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"github.com/unicitynetwork/sol-bridge-go/core/target"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"go.uber.org/zap"
)

const (
	DefaultInclusionTimeout = 2 * time.Minute
	// NetworkName is written into minted artifacts.
	NetworkName = "unicity"
)

type Config struct {
	// RequireFinalized refuses to mint proofs still in PENDING_VALIDATION.
	RequireFinalized bool          `yaml:"require_finalized"`
	InclusionTimeout time.Duration `yaml:"inclusion_timeout"`
}

func (c *Config) SetDefaults() {
	if c.InclusionTimeout <= 0 {
		c.InclusionTimeout = DefaultInclusionTimeout
	}
}

// Result is the outcome of a mint attempt. Duplicate means the network had
// already accepted this request: replay protection worked and nothing new
// was minted.
type Result struct {
	Handle     target.Handle
	Commitment *types.MintCommitment
	Artifact   *types.MintedArtifact
	Duplicate  bool
}

type Submitter struct {
	deriver *identity.Deriver
	service target.CommitService
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time
}

type Option func(*Submitter)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Submitter) {
		s.logger = logger
	}
}

func New(deriver *identity.Deriver, service target.CommitService, cfg Config, options ...Option) *Submitter {
	cfg.SetDefaults()
	s := &Submitter{deriver: deriver, service: service, cfg: cfg, now: time.Now}
	for _, option := range options {
		option(s)
	}
	s.logger = logging.Or(s.logger).With(zap.String("component", "submitter"))
	return s
}

// Mint submits vp on behalf of minterAddress and waits for inclusion.
//
// Only the lock's designated recipient may mint: minterAddress must equal
// the canonical recipient exactly, otherwise types.ErrUnauthorizedMinter.
// A request the network already holds yields a Duplicate result.
func (s *Submitter) Mint(ctx context.Context, vp *types.ValidatedProof, minterAddress string) (*Result, error) {
	if vp == nil {
		return nil, errors.Wrap(types.ErrInvalidEventStructure, "nil validated proof")
	}
	recipient := extractor.CanonicalRecipient(vp.LockEvent.UnicityRecipient)
	if minterAddress != recipient {
		return nil, errors.Wrapf(types.ErrUnauthorizedMinter, "lock %s is for %s, minter is %s",
			vp.LockEvent.LockID, recipient, minterAddress)
	}
	if vp.Pending() && s.cfg.RequireFinalized {
		return nil, errors.Wrapf(types.ErrPendingNotAllowed, "lock %s: %s", vp.LockEvent.LockID, vp.Validation.Reason)
	}

	commitment, err := s.deriver.Derive(vp)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(
		zap.String("lock_id", vp.LockEvent.LockID),
		zap.String("signature", vp.Signature),
		zap.String("request_id", commitment.RequestID),
		zap.String("asset_id", commitment.AssetID))

	handle, err := s.service.Submit(ctx, commitment)
	if errors.Is(err, types.ErrRequestIDExists) {
		log.Info("commitment already on target network")
		return &Result{Commitment: commitment, Duplicate: true}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "submit commitment")
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.InclusionTimeout)
	defer cancel()
	proof, err := s.service.WaitInclusion(waitCtx, handle)
	if errors.Is(err, types.ErrRequestIDExists) {
		log.Info("commitment already on target network")
		return &Result{Handle: handle, Commitment: commitment, Duplicate: true}, nil
	}
	if err != nil {
		if waitCtx.Err() != nil && !errors.Is(err, types.ErrInclusionTimeout) {
			err = errors.Wrap(types.ErrInclusionTimeout, err.Error())
		}
		return nil, err
	}

	commitment.CommitmentHandle = handle.ID
	artifact := s.artifact(commitment, proof, handle)
	log.Info("minted",
		zap.String("handle", handle.ID),
		zap.String("status", string(vp.Validation.Status)),
		zap.String("recipient", recipient))
	return &Result{Handle: handle, Commitment: commitment, Artifact: artifact}, nil
}

func (s *Submitter) artifact(c *types.MintCommitment, proof *types.InclusionProof, h target.Handle) *types.MintedArtifact {
	return &types.MintedArtifact{
		Version: types.ArtifactVersion,
		Network: NetworkName,
		Token: types.TokenState{
			TokenID:         c.AssetID,
			TokenType:       c.AssetClassID,
			Recipient:       c.RecipientAddress,
			Salt:            c.Salt,
			Payload:         hex.EncodeToString(c.Payload),
			MinterPublicKey: c.MinterPublicKey,
		},
		InclusionProof:   proof,
		CommitmentHandle: h.ID,
		MintedAt:         s.now().UnixMilli(),
	}
}
