package submitter

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unicitynetwork/sol-bridge-go/core/extractor"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
	"github.com/unicitynetwork/sol-bridge-go/core/target"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
)

const programID = "9q5thPnZG7FKKNr61wceXdfuy2QRLYky8RTJonh2YzyB"

func setup(t *testing.T) (*identity.MinterKey, *identity.Deriver) {
	t.Helper()
	key, err := identity.GenerateMinterKey()
	require.NoError(t, err)
	d, err := identity.NewDeriver(identity.Config{MinterKey: key, OriginProgramID: programID})
	require.NoError(t, err)
	return key, d
}

func proofFor(recipient string, status types.ValidationStatus) *types.ValidatedProof {
	return &types.ValidatedProof{
		LockEvent: types.LockEventRecord{
			LockID:           strings.Repeat("ef", 32),
			User:             "8qbHbw2BbbTHBW1sbeqakYXVKRQM8Ne7pLK7m6CVfeR",
			Amount:           "100000000",
			UnicityRecipient: recipient,
			Nonce:            "0",
			Timestamp:        1700000000,
		},
		Signature:    "3xSig",
		BlockHeight:  1000,
		Slot:         1000,
		Confirmation: types.ConfirmationRecord{ConfirmationStatus: types.StatusConfirmed},
		Validation:   types.Validation{Status: status, BlockVerified: status == types.StatusValidated},
	}
}

func TestMint(t *testing.T) {
	key, d := setup(t)
	svc := target.NewMemoryCommitService(nil)
	s := New(d, svc, Config{})

	// the recipient arrives stripped of its tag, as the program stores it
	bare := strings.TrimPrefix(key.Address(), extractor.RecipientPrefix)
	res, err := s.Mint(context.Background(), proofFor(bare, types.StatusValidated), key.Address())
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	require.NotNil(t, res.Artifact)
	require.NotNil(t, res.Artifact.InclusionProof)

	a := res.Artifact
	assert.Equal(t, types.ArtifactVersion, a.Version)
	assert.Equal(t, NetworkName, a.Network)
	assert.Equal(t, res.Commitment.AssetID, a.Token.TokenID)
	assert.Equal(t, key.Address(), a.Token.Recipient)
	assert.Equal(t, res.Handle.ID, a.CommitmentHandle)
	assert.Equal(t, res.Handle.ID, res.Commitment.CommitmentHandle)
	require.NoError(t, svc.VerifyInclusion(context.Background(), a.InclusionProof))

	payload, err := a.DecodePayload()
	require.NoError(t, err)
	assert.Equal(t, key.Address(), payload.LockEvent.UnicityRecipient)
}

func TestMintTwiceIsDuplicate(t *testing.T) {
	key, d := setup(t)
	svc := target.NewMemoryCommitService(nil)
	s := New(d, svc, Config{})
	vp := proofFor(key.Address(), types.StatusValidated)

	first, err := s.Mint(context.Background(), vp, key.Address())
	require.NoError(t, err)
	second, err := s.Mint(context.Background(), vp, key.Address())
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Nil(t, second.Artifact)
	assert.Equal(t, first.Commitment.AssetID, second.Commitment.AssetID)
	assert.Equal(t, 1, svc.Len())
}

func TestMintAuthorization(t *testing.T) {
	key, d := setup(t)
	svc := target.NewMemoryCommitService(nil)
	s := New(d, svc, Config{})

	other, err := identity.GenerateMinterKey()
	require.NoError(t, err)
	_, err = s.Mint(context.Background(), proofFor(other.Address(), types.StatusValidated), key.Address())
	assert.True(t, errors.Is(err, types.ErrUnauthorizedMinter))
	assert.Equal(t, types.ClassDuplicate, types.Classify(err))
	assert.Zero(t, svc.Len())
}

func TestMintPending(t *testing.T) {
	key, d := setup(t)
	vp := proofFor(key.Address(), types.StatusPendingValidation)
	vp.Validation.Reason = "block is 5 slots ahead of finalized slot"

	permissive := New(d, target.NewMemoryCommitService(nil), Config{})
	res, err := permissive.Mint(context.Background(), vp, key.Address())
	require.NoError(t, err)
	payload, err := res.Artifact.DecodePayload()
	require.NoError(t, err)
	require.NotNil(t, payload.Validation)
	assert.Equal(t, types.StatusPendingValidation, payload.Validation.Status)

	strict := New(d, target.NewMemoryCommitService(nil), Config{RequireFinalized: true})
	_, err = strict.Mint(context.Background(), vp, key.Address())
	assert.True(t, errors.Is(err, types.ErrPendingNotAllowed))
	assert.Equal(t, types.ClassPending, types.Classify(err))
}

type stallingService struct {
	*target.MemoryCommitService
}

func (s stallingService) WaitInclusion(ctx context.Context, _ target.Handle) (*types.InclusionProof, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestMintInclusionTimeout(t *testing.T) {
	key, d := setup(t)
	s := New(d, stallingService{target.NewMemoryCommitService(nil)}, Config{InclusionTimeout: 10 * time.Millisecond})

	_, err := s.Mint(context.Background(), proofFor(key.Address(), types.StatusValidated), key.Address())
	assert.True(t, errors.Is(err, types.ErrInclusionTimeout))
	assert.Equal(t, types.ClassUnavailable, types.Classify(err))
}
