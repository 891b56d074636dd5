package proof

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/extractor"
	"github.com/unicitynetwork/sol-bridge-go/core/origin"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"go.uber.org/zap"
)

// Validator turns proofs into validated proofs.
type Validator struct {
	client    origin.Client
	oracle    ConfirmationSource
	programID string
	logger    *zap.Logger
	now       func() time.Time
}

func NewValidator(client origin.Client, oracle ConfirmationSource, programID string, opts ...Option) *Validator {
	o := collect(opts)
	return &Validator{
		client:    client,
		oracle:    oracle,
		programID: programID,
		logger:    o.logger.With(zap.String("component", "proof_validator")),
		now:       time.Now,
	}
}

// Validate checks p and classifies it. A proof whose block cannot be
// verified yet is returned as PENDING_VALIDATION rather than rejected.
func (v *Validator) Validate(ctx context.Context, p *types.Proof) (*types.ValidatedProof, error) {
	if p == nil {
		return nil, errors.Wrap(types.ErrInvalidEventStructure, "nil proof")
	}

	// 1. structure
	if err := p.Event.Validate(); err != nil {
		return nil, err
	}
	if _, err := extractor.DecodePubkey(p.Event.User); err == nil {
		if err := extractor.VerifyLockID(p.Event); err != nil {
			return nil, err
		}
	}

	// 2. block
	var val types.Validation
	verdict := v.oracle.VerifyBlockHash(ctx, p.BlockHash, p.BlockHeight)
	switch verdict.Kind {
	case types.VerdictFailed:
		return nil, errors.Wrap(types.ErrBlockVerificationFailed, verdict.Reason)
	case types.VerdictPending:
		val.Reason = verdict.Reason
	default:
		val.BlockVerified = true
	}

	// 3. confirmation
	val.ConfirmationVerified = p.Confirmation.Usable()

	// 4. program invocation
	if val.BlockVerified && val.ConfirmationVerified {
		if err := v.checkProgramInvoked(ctx, p.Signature); err != nil {
			return nil, err
		}
	}

	// 5. classification
	if val.BlockVerified {
		val.Status = types.StatusValidated
	} else {
		val.Status = types.StatusPendingValidation
	}
	val.ValidatedAt = v.now().UnixMilli()

	vp := types.NewValidatedProof(p, val)
	v.logger.Info("proof validated",
		zap.String("signature", p.Signature),
		zap.String("lock_id", p.Event.LockIDHex()),
		zap.String("status", string(val.Status)),
		zap.Bool("block_verified", val.BlockVerified),
		zap.Bool("confirmation_verified", val.ConfirmationVerified),
		zap.String("reason", val.Reason))
	return vp, nil
}

func (v *Validator) checkProgramInvoked(ctx context.Context, sig string) error {
	raw, err := v.client.GetTransaction(ctx, sig)
	if err != nil {
		return err
	}
	if raw.Empty() {
		return errors.Wrapf(types.ErrProgramNotInvoked, "transaction %s disappeared", sig)
	}
	view, err := raw.View()
	if err != nil {
		return errors.Wrapf(types.ErrProgramNotInvoked, "transaction %s: %v", sig, err)
	}
	if !view.Invokes(v.programID) {
		return errors.Wrapf(types.ErrProgramNotInvoked, "transaction %s does not invoke %s", sig, v.programID)
	}
	return nil
}

// ValidateCryptographicChain re-checks a validated proof against the origin
// chain. It returns false for a transaction that is missing, failed or not
// yet confirmed, and ErrSignatureMismatch when the embedded transaction was
// signed under a different signature than the one claimed.
func (v *Validator) ValidateCryptographicChain(ctx context.Context, vp *types.ValidatedProof) (bool, error) {
	rec, err := v.oracle.GetConfirmation(ctx, vp.Signature)
	switch {
	case errors.Is(err, types.ErrTransactionNotFound), errors.Is(err, types.ErrTransactionFailed):
		v.logger.Warn("cryptographic chain broken", zap.String("signature", vp.Signature), zap.Error(err))
		return false, nil
	case err != nil:
		return false, err
	}

	if vp.RawTransaction.Empty() {
		v.logger.Warn("no embedded transaction, trusting signature existence only",
			zap.String("signature", vp.Signature))
	} else {
		view, err := vp.RawTransaction.View()
		if err != nil {
			return false, errors.Wrapf(types.ErrSignatureMismatch, "embedded transaction unreadable: %v", err)
		}
		if view.PrimarySignature != vp.Signature {
			return false, errors.Wrap(types.ErrSignatureMismatch,
				fmt.Sprintf("embedded transaction signed %s, proof claims %s", view.PrimarySignature, vp.Signature))
		}
	}

	if !vp.Confirmation.ConfirmationStatus.AtLeastConfirmed() {
		return false, nil
	}
	return rec.ConfirmationStatus.Valid(), nil
}
