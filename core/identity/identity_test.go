package identity

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unicitynetwork/sol-bridge-go/core/extractor"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"github.com/unicitynetwork/sol-bridge-go/core/util"
)

const programID = "9q5thPnZG7FKKNr61wceXdfuy2QRLYky8RTJonh2YzyB"

func testKey(t *testing.T) *MinterKey {
	t.Helper()
	k, err := GenerateMinterKey()
	require.NoError(t, err)
	return k
}

func testDeriver(t *testing.T, k *MinterKey) *Deriver {
	t.Helper()
	d, err := NewDeriver(Config{MinterKey: k, OriginProgramID: programID})
	require.NoError(t, err)
	return d
}

func testProof(recipient string) *types.ValidatedProof {
	return &types.ValidatedProof{
		LockEvent: types.LockEventRecord{
			LockID:           strings.Repeat("ab", 32),
			User:             "8qbHbw2BbbTHBW1sbeqakYXVKRQM8Ne7pLK7m6CVfeR",
			Amount:           "100000000",
			UnicityRecipient: recipient,
			Nonce:            "0",
			Timestamp:        1700000000,
		},
		Signature:   "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW",
		BlockHeight: 1000,
		Slot:        1000,
		Confirmation: types.ConfirmationRecord{
			ConfirmationStatus: types.StatusFinalized,
		},
		Validation: types.Validation{Status: types.StatusValidated, BlockVerified: true, ConfirmationVerified: true},
	}
}

func TestCommitmentString(t *testing.T) {
	vp := testProof("alice")
	got := CommitmentString(vp.LockEvent, vp.Signature, vp.BlockHeight)
	expected := strings.Join([]string{
		strings.Repeat("ab", 32),
		vp.Signature,
		"1000",
		vp.LockEvent.User,
		"100000000",
		"0",
		"1700000000",
	}, "|")
	assert.Equal(t, expected, got)
}

func TestSignRecoverVerify(t *testing.T) {
	k := testKey(t)
	digest := CommitmentDigest("message")
	sig, err := k.SignDigest(digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)

	pub, err := RecoverPublicKey(sig, digest)
	require.NoError(t, err)
	assert.Equal(t, k.PublicKey(), pub)
	assert.True(t, VerifySignature(k.PublicKey(), digest, sig))

	flip := func(b []byte, i int) []byte {
		out := append([]byte(nil), b...)
		out[i/8] ^= 1 << (i % 8)
		return out
	}
	for _, bit := range []int{0, 7, 100, 255} {
		assert.False(t, VerifySignature(k.PublicKey(), flip(digest, bit), sig), "digest bit %d", bit)
	}
	for _, bit := range []int{0, 63, 300, 511} {
		assert.False(t, VerifySignature(k.PublicKey(), digest, flip(sig, bit)), "signature bit %d", bit)
	}
	for bit := 512; bit < 520; bit++ {
		assert.False(t, VerifySignature(k.PublicKey(), digest, flip(sig, bit)), "recovery bit %d", bit)
	}
	assert.False(t, VerifySignature(testKey(t).PublicKey(), digest, sig))

	_, err = RecoverPublicKey(sig[:64], digest)
	assert.Error(t, err)
}

func TestLoadMinterKey(t *testing.T) {
	k := testKey(t)
	loaded, err := LoadMinterKey("0x" + k.SecretHex())
	require.NoError(t, err)
	assert.Equal(t, k.PublicKeyHex(), loaded.PublicKeyHex())
	assert.Equal(t, k.Address(), loaded.Address())

	_, err = LoadMinterKey("")
	assert.Error(t, err)
	_, err = LoadMinterKey("zz")
	assert.Error(t, err)
}

func TestAddressFromPublicKey(t *testing.T) {
	k := testKey(t)
	addr := k.Address()
	assert.True(t, strings.HasPrefix(addr, extractor.RecipientPrefix))
	assert.Len(t, strings.TrimPrefix(addr, extractor.RecipientPrefix), 64)
	assert.Equal(t, extractor.RecipientPrefix+hex.EncodeToString(util.Sha256(k.PublicKey())), addr)
}

func TestLamportsToSOL(t *testing.T) {
	tests := []struct {
		lamports uint64
		expected string
	}{
		{lamports: 100000000, expected: "0.1"},
		{lamports: 1000000000, expected: "1"},
		{lamports: 1, expected: "0.000000001"},
		{lamports: 12345678901, expected: "12.345678901"},
	}
	for _, tt := range tests {
		got, err := LamportsToSOL(tt.lamports)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got)
	}
}

func TestDeriveIsDeterministicAndSignerBound(t *testing.T) {
	k1, k2 := testKey(t), testKey(t)
	d1, d2 := testDeriver(t, k1), testDeriver(t, k2)
	vp := testProof(extractor.RecipientPrefix + strings.Repeat("0f", 32))

	a, err := d1.Derive(vp)
	require.NoError(t, err)
	b, err := d1.Derive(vp)
	require.NoError(t, err)
	assert.Equal(t, a.AssetID, b.AssetID)
	assert.Equal(t, a.MinterSignature, b.MinterSignature)
	assert.Equal(t, a.RequestID, b.RequestID)

	c, err := d2.Derive(vp)
	require.NoError(t, err)
	assert.NotEqual(t, a.AssetID, c.AssetID)
	assert.NotEqual(t, a.RequestID, c.RequestID)
	assert.Equal(t, a.AssetClassID, c.AssetClassID)
	assert.Equal(t, a.Salt, c.Salt)
}

func TestDeriveBundle(t *testing.T) {
	k := testKey(t)
	d := testDeriver(t, k)
	vp := testProof(strings.Repeat("0f", 32))

	mc, err := d.Derive(vp)
	require.NoError(t, err)

	commitment := CommitmentString(vp.LockEvent, vp.Signature, vp.BlockHeight)
	sig, err := hex.DecodeString(mc.MinterSignature)
	require.NoError(t, err)
	assert.True(t, VerifySignature(k.PublicKey(), CommitmentDigest(commitment), sig))
	assert.Equal(t, hex.EncodeToString(ComputeAssetID(commitment, sig)), mc.AssetID)
	assert.Equal(t, hex.EncodeToString(ComputeAssetClassID(types.BridgeTypeSolana, programID)), mc.AssetClassID)
	assert.Equal(t, hex.EncodeToString(ComputeSalt(commitment)), mc.Salt)
	assert.Equal(t, k.PublicKeyHex(), mc.MinterPublicKey)

	// the stripped hex recipient is restored to its tagged form
	assert.Equal(t, extractor.RecipientPrefix+strings.Repeat("0f", 32), mc.RecipientAddress)

	var payload types.BridgePayload
	require.NoError(t, json.Unmarshal(mc.Payload, &payload))
	assert.Equal(t, types.BridgeTypeSolana, payload.BridgeType)
	assert.Equal(t, mc.RecipientAddress, payload.LockEvent.UnicityRecipient)
	assert.Equal(t, mc.MinterSignature, payload.MinterSignature)
	assert.Equal(t, "0.1", payload.AmountSOL)
	assert.Equal(t, types.StatusFinalized, payload.OriginTransaction.ConfirmationStatus)
	require.NotNil(t, payload.Validation)
	assert.Equal(t, types.StatusValidated, payload.Validation.Status)

	require.NoError(t, VerifyAuthenticator(mc.RequestID, mc.TransactionHash, mc.Authenticator))
	assert.True(t, errors.Is(VerifyAuthenticator(mc.AssetID, mc.TransactionHash, mc.Authenticator), types.ErrSignatureMismatch))
}

func TestDeriveRejectsBadProof(t *testing.T) {
	d := testDeriver(t, testKey(t))
	vp := testProof("alice")
	vp.LockEvent.Amount = "lots"
	_, err := d.Derive(vp)
	assert.True(t, errors.Is(err, types.ErrInvalidEventStructure))

	_, err = d.Derive(nil)
	assert.Error(t, err)
}

func TestNewDeriverRequiresKey(t *testing.T) {
	_, err := NewDeriver(Config{OriginProgramID: programID})
	assert.Error(t, err)
	_, err = NewDeriver(Config{MinterKey: testKey(t)})
	assert.Error(t, err)
}
