package target

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientType "github.com/trufnetwork/kwil-db/core/client/types"
	"github.com/trufnetwork/kwil-db/core/crypto/auth"
	kwilTypes "github.com/trufnetwork/kwil-db/core/types"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
)

const programID = "9q5thPnZG7FKKNr61wceXdfuy2QRLYky8RTJonh2YzyB"

func testCommitment(t *testing.T, key *identity.MinterKey, nonce int) *types.MintCommitment {
	t.Helper()
	d, err := identity.NewDeriver(identity.Config{MinterKey: key, OriginProgramID: programID})
	require.NoError(t, err)
	vp := &types.ValidatedProof{
		LockEvent: types.LockEventRecord{
			LockID:           strings.Repeat("cd", 32),
			User:             "8qbHbw2BbbTHBW1sbeqakYXVKRQM8Ne7pLK7m6CVfeR",
			Amount:           "5000",
			UnicityRecipient: key.Address(),
			Nonce:            fmt.Sprint(nonce),
			Timestamp:        1700000000,
		},
		Signature:    "sig",
		BlockHeight:  10,
		Slot:         10,
		Confirmation: types.ConfirmationRecord{ConfirmationStatus: types.StatusConfirmed},
		Validation:   types.Validation{Status: types.StatusValidated},
	}
	c, err := d.Derive(vp)
	require.NoError(t, err)
	return c
}

func newKey(t *testing.T) *identity.MinterKey {
	t.Helper()
	k, err := identity.GenerateMinterKey()
	require.NoError(t, err)
	return k
}

func TestMemoryCommitServiceIdempotence(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryCommitService(nil)
	c := testCommitment(t, newKey(t), 0)

	h, err := svc.Submit(ctx, c)
	require.NoError(t, err)
	proof, err := svc.WaitInclusion(ctx, h)
	require.NoError(t, err)
	require.NoError(t, svc.VerifyInclusion(ctx, proof))

	_, err = svc.Submit(ctx, c)
	assert.True(t, errors.Is(err, types.ErrRequestIDExists))
	assert.Equal(t, types.ClassDuplicate, types.Classify(err))
	assert.Equal(t, 1, svc.Len())
}

func TestMemoryCommitServiceProofs(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryCommitService(nil)
	key := newKey(t)

	var handles []Handle
	for i := 0; i < 5; i++ {
		h, err := svc.Submit(ctx, testCommitment(t, key, i))
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for i, h := range handles {
		proof, err := svc.WaitInclusion(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, uint64(i), proof.LeafIndex)
		assert.Len(t, proof.Path, 3)
		require.NoError(t, svc.VerifyInclusion(ctx, proof), "leaf %d", i)
		require.NoError(t, ProofVerifier{}.VerifyInclusion(ctx, proof))
	}

	proof, err := svc.WaitInclusion(ctx, handles[2])
	require.NoError(t, err)

	tampered := *proof
	tampered.Path = append([]string(nil), proof.Path...)
	tampered.Path[0] = strings.Repeat("00", 32)
	assert.Error(t, svc.VerifyInclusion(ctx, &tampered))

	moved := *proof
	moved.LeafIndex = 3
	assert.Error(t, VerifyInclusionProof(&moved))

	forged := *proof
	forged.RootHash = strings.Repeat("11", 32)
	assert.Error(t, VerifyInclusionProof(&forged))
}

func TestMemoryCommitServiceRejectsUnauthenticated(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryCommitService(nil)
	c := testCommitment(t, newKey(t), 0)

	other := testCommitment(t, newKey(t), 0)
	stolen := *c
	stolen.Authenticator = other.Authenticator
	_, err := svc.Submit(ctx, &stolen)
	assert.Error(t, err)

	rebound := *c
	rebound.RequestID = other.RequestID
	_, err = svc.Submit(ctx, &rebound)
	assert.Error(t, err)

	assert.Zero(t, svc.Len())
}

func TestMemoryCommitServiceCancelledWait(t *testing.T) {
	svc := NewMemoryCommitService(nil)
	h, err := svc.Submit(context.Background(), testCommitment(t, newKey(t), 0))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = svc.WaitInclusion(ctx, h)
	assert.True(t, errors.Is(err, types.ErrInclusionTimeout))
}

// mockTransport implements Transport for testing.
type mockTransport struct {
	callFunc    func(ctx context.Context, namespace string, action string, inputs []any) (*kwilTypes.CallResult, error)
	executeFunc func(ctx context.Context, namespace string, action string, inputs [][]any, opts ...clientType.TxOpt) (kwilTypes.Hash, error)
	waitTxFunc  func(ctx context.Context, txHash kwilTypes.Hash, interval time.Duration) (*kwilTypes.TxQueryResponse, error)
	chainID     string
	signer      auth.Signer
}

func (m *mockTransport) Call(ctx context.Context, namespace string, action string, inputs []any) (*kwilTypes.CallResult, error) {
	if m.callFunc != nil {
		return m.callFunc(ctx, namespace, action, inputs)
	}
	return &kwilTypes.CallResult{QueryResult: &kwilTypes.QueryResult{}}, nil
}

func (m *mockTransport) Execute(ctx context.Context, namespace string, action string, inputs [][]any, opts ...clientType.TxOpt) (kwilTypes.Hash, error) {
	if m.executeFunc != nil {
		return m.executeFunc(ctx, namespace, action, inputs, opts...)
	}
	return kwilTypes.Hash{}, nil
}

func (m *mockTransport) WaitTx(ctx context.Context, txHash kwilTypes.Hash, interval time.Duration) (*kwilTypes.TxQueryResponse, error) {
	if m.waitTxFunc != nil {
		return m.waitTxFunc(ctx, txHash, interval)
	}
	return &kwilTypes.TxQueryResponse{Result: &kwilTypes.TxResult{Code: uint32(kwilTypes.CodeOk)}}, nil
}

func (m *mockTransport) ChainID() string {
	return m.chainID
}

func (m *mockTransport) Signer() auth.Signer {
	return m.signer
}

var _ Transport = (*mockTransport)(nil)

// gatewayBackend serves the gateway actions from a MemoryCommitService.
type gatewayBackend struct {
	svc     *MemoryCommitService
	pending map[kwilTypes.Hash]string
	code    uint32
	log     string
}

func newGatewayBackend() *gatewayBackend {
	return &gatewayBackend{svc: NewMemoryCommitService(nil), pending: map[kwilTypes.Hash]string{}, code: uint32(kwilTypes.CodeOk)}
}

func (b *gatewayBackend) transport() *mockTransport {
	return &mockTransport{
		chainID: "unicity-test",
		executeFunc: func(ctx context.Context, _ string, action string, inputs [][]any, _ ...clientType.TxOpt) (kwilTypes.Hash, error) {
			if action != ActionMint {
				return kwilTypes.Hash{}, errors.Errorf("unexpected action %s", action)
			}
			in := inputs[0]
			payload, err := hex.DecodeString(in[6].(string))
			if err != nil {
				return kwilTypes.Hash{}, err
			}
			c := &types.MintCommitment{
				RequestID:        in[0].(string),
				TransactionHash:  in[1].(string),
				AssetID:          in[2].(string),
				AssetClassID:     in[3].(string),
				Salt:             in[4].(string),
				RecipientAddress: in[5].(string),
				Payload:          payload,
				MinterPublicKey:  in[7].(string),
				MinterSignature:  in[8].(string),
				Authenticator: types.Authenticator{
					PublicKey: in[7].(string),
					Signature: in[9].(string),
					StateHash: in[10].(string),
				},
			}
			var h kwilTypes.Hash
			copy(h[:], []byte(c.RequestID))
			if _, err := b.svc.Submit(ctx, c); err != nil {
				b.code, b.log = 1, "ERROR: request id already exists"
			}
			b.pending[h] = c.RequestID
			return h, nil
		},
		waitTxFunc: func(_ context.Context, h kwilTypes.Hash, _ time.Duration) (*kwilTypes.TxQueryResponse, error) {
			return &kwilTypes.TxQueryResponse{Hash: h, Height: 7, Result: &kwilTypes.TxResult{Code: b.code, Log: b.log}}, nil
		},
		callFunc: func(ctx context.Context, _ string, action string, inputs []any) (*kwilTypes.CallResult, error) {
			if action != ActionGetMintProof {
				return nil, errors.Errorf("unexpected action %s", action)
			}
			requestID := inputs[0].(string)
			proof, err := b.svc.WaitInclusion(ctx, Handle{RequestID: requestID})
			if err != nil {
				return &kwilTypes.CallResult{QueryResult: &kwilTypes.QueryResult{}}, nil
			}
			return &kwilTypes.CallResult{QueryResult: &kwilTypes.QueryResult{
				ColumnNames: []string{"request_id", "transaction_hash", "public_key", "signature", "state_hash", "leaf_index", "path", "root_hash", "block_height", "created_at"},
				Values: [][]any{{
					proof.RequestID, proof.TransactionHash, proof.Authenticator.PublicKey, proof.Authenticator.Signature,
					proof.Authenticator.StateHash, int64(proof.LeafIndex), strings.Join(proof.Path, ","), proof.RootHash,
					int64(proof.BlockHeight), "2026-01-01",
				}},
			}}, nil
		},
	}
}

func TestGatewayCommitService(t *testing.T) {
	ctx := context.Background()
	backend := newGatewayBackend()
	svc, err := NewGatewayCommitService(backend.transport(), WithPollInterval(time.Millisecond))
	require.NoError(t, err)

	key := newKey(t)
	first := testCommitment(t, key, 0)
	_, err = backend.svc.Submit(ctx, testCommitment(t, key, 1))
	require.NoError(t, err)

	h, err := svc.Submit(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, first.RequestID, h.RequestID)

	proof, err := svc.WaitInclusion(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, first.RequestID, proof.RequestID)
	assert.Equal(t, uint64(1), proof.LeafIndex)
	assert.Len(t, proof.Path, 1)
	require.NoError(t, svc.VerifyInclusion(ctx, proof))

	h, err = svc.Submit(ctx, first)
	require.NoError(t, err)
	_, err = svc.WaitInclusion(ctx, h)
	assert.True(t, errors.Is(err, types.ErrRequestIDExists))
}

func TestGatewayCommitServiceErrors(t *testing.T) {
	ctx := context.Background()
	c := testCommitment(t, newKey(t), 0)

	_, err := NewGatewayCommitService(nil)
	assert.Error(t, err)

	svc, err := NewGatewayCommitService(&mockTransport{
		executeFunc: func(context.Context, string, string, [][]any, ...clientType.TxOpt) (kwilTypes.Hash, error) {
			return kwilTypes.Hash{}, errors.New("duplicate key value violates unique constraint")
		},
	})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, c)
	assert.True(t, errors.Is(err, types.ErrRequestIDExists))

	svc, err = NewGatewayCommitService(&mockTransport{
		waitTxFunc: func(ctx context.Context, _ kwilTypes.Hash, _ time.Duration) (*kwilTypes.TxQueryResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})
	require.NoError(t, err)
	tctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = svc.WaitInclusion(tctx, Handle{ID: strings.Repeat("ab", 32), RequestID: c.RequestID})
	assert.True(t, errors.Is(err, types.ErrInclusionTimeout))

	_, err = svc.WaitInclusion(ctx, Handle{ID: "nothex"})
	assert.Error(t, err)

	svc, err = NewGatewayCommitService(&mockTransport{
		waitTxFunc: func(context.Context, kwilTypes.Hash, time.Duration) (*kwilTypes.TxQueryResponse, error) {
			return &kwilTypes.TxQueryResponse{Result: &kwilTypes.TxResult{Code: 2, Log: "out of gas"}}, nil
		},
	})
	require.NoError(t, err)
	_, err = svc.WaitInclusion(ctx, Handle{ID: strings.Repeat("ab", 32), RequestID: c.RequestID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of gas")
	assert.Equal(t, types.ClassFatal, types.Classify(err))
}

func TestSignerFromMinterKey(t *testing.T) {
	signer, err := SignerFromMinterKey(newKey(t))
	require.NoError(t, err)
	assert.NotEmpty(t, signer.CompactID())
}
