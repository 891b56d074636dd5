// Package identity derives the deterministic identifiers and the minter
// signature that bind a minted token to its lock event.
package identity

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/extractor"
	"github.com/unicitynetwork/sol-bridge-go/core/util"
)

// MinterKey is the minter's secp256k1 key. It is passed explicitly to the
// components that sign; nothing holds it globally.
type MinterKey struct {
	priv *ecdsa.PrivateKey
}

// GenerateMinterKey creates a fresh random key.
func GenerateMinterKey() (*MinterKey, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate minter key")
	}
	return &MinterKey{priv: priv}, nil
}

// LoadMinterKey parses a 32-byte hex secret, with or without 0x.
func LoadMinterKey(secretHex string) (*MinterKey, error) {
	secretHex = strings.TrimPrefix(strings.TrimSpace(secretHex), "0x")
	if secretHex == "" {
		return nil, errors.New("minter secret is empty")
	}
	priv, err := crypto.HexToECDSA(secretHex)
	if err != nil {
		return nil, errors.Wrap(err, "parse minter secret")
	}
	return &MinterKey{priv: priv}, nil
}

// SecretHex returns the private key as hex. Only keygen should call it.
func (k *MinterKey) SecretHex() string {
	return hex.EncodeToString(crypto.FromECDSA(k.priv))
}

// PublicKey returns the 33-byte compressed public key.
func (k *MinterKey) PublicKey() []byte {
	return crypto.CompressPubkey(&k.priv.PublicKey)
}

func (k *MinterKey) PublicKeyHex() string {
	return hex.EncodeToString(k.PublicKey())
}

// Address is the target-network address owned by this key.
func (k *MinterKey) Address() string {
	return AddressFromPublicKey(k.PublicKey())
}

// SignDigest produces a 65-byte recoverable [R || S || V] signature.
func (k *MinterKey) SignDigest(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, k.priv)
	if err != nil {
		return nil, errors.Wrap(err, "sign digest")
	}
	return sig, nil
}

// AddressFromPublicKey derives the direct address of a compressed public key.
func AddressFromPublicKey(pub []byte) string {
	return extractor.RecipientPrefix + hex.EncodeToString(util.Sha256(pub))
}

// RecoverPublicKey returns the compressed public key that produced sig over
// digest.
func RecoverPublicKey(sig, digest []byte) ([]byte, error) {
	if len(sig) != crypto.SignatureLength {
		return nil, errors.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return nil, errors.Wrap(err, "recover public key")
	}
	return crypto.CompressPubkey(pub), nil
}

// VerifySignature checks sig over digest against a public key, compressed
// or not. The whole 65 bytes are checked: the signature must be in canonical
// low-S form and its recovery byte must recover pub itself.
func VerifySignature(pub, digest, sig []byte) bool {
	if len(sig) != crypto.SignatureLength || len(digest) != 32 || sig[crypto.RecoveryIDOffset] > 1 {
		return false
	}
	if !crypto.VerifySignature(pub, digest, sig[:crypto.RecoveryIDOffset]) {
		return false
	}
	want, err := compressed(pub)
	if err != nil {
		return false
	}
	got, err := RecoverPublicKey(sig, digest)
	return err == nil && bytes.Equal(got, want)
}

func compressed(pub []byte) ([]byte, error) {
	if len(pub) == 33 {
		k, err := crypto.DecompressPubkey(pub)
		if err != nil {
			return nil, err
		}
		return crypto.CompressPubkey(k), nil
	}
	k, err := crypto.UnmarshalPubkey(pub)
	if err != nil {
		return nil, err
	}
	return crypto.CompressPubkey(k), nil
}
