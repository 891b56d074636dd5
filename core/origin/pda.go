package origin

import (
	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/util"
)

// PublicKey is a 32-byte origin chain address.
type PublicKey [32]byte

// SystemProgramID is the native transfer program.
var SystemProgramID = PublicKey{}

const (
	maxSeeds      = 16
	maxSeedLength = 32
	pdaMarker     = "ProgramDerivedAddress"
)

// Seeds of the bridge program's accounts.
var (
	BridgeStateSeed = []byte("bridge_state")
	EscrowSeed      = []byte("escrow")
)

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	b, err := base58.Decode(s)
	if err != nil {
		return pk, errors.Wrapf(err, "decode address %q", s)
	}
	if len(b) != len(pk) {
		return pk, errors.Errorf("address %q is %d bytes, want %d", s, len(b), len(pk))
	}
	copy(pk[:], b)
	return pk, nil
}

func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// IsOnCurve reports whether pk is a valid ed25519 point. Program derived
// addresses are never on the curve.
func (pk PublicKey) IsOnCurve() bool {
	_, err := new(edwards25519.Point).SetBytes(pk[:])
	return err == nil
}

// CreateProgramAddress derives a program address from seeds that already
// include the bump.
func CreateProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, error) {
	var pk PublicKey
	if len(seeds) > maxSeeds {
		return pk, errors.Errorf("too many seeds: %d", len(seeds))
	}
	parts := make([][]byte, 0, len(seeds)+2)
	for _, s := range seeds {
		if len(s) > maxSeedLength {
			return pk, errors.Errorf("seed longer than %d bytes", maxSeedLength)
		}
		parts = append(parts, s)
	}
	parts = append(parts, programID[:], []byte(pdaMarker))
	copy(pk[:], util.Sha256(parts...))
	if pk.IsOnCurve() {
		return PublicKey{}, errors.New("derived address is on the curve")
	}
	return pk, nil
}

// FindProgramAddress searches bumps from 255 down for the first off-curve
// address, matching the runtime's canonical bump.
func FindProgramAddress(seeds [][]byte, programID PublicKey) (PublicKey, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		withBump := append(append([][]byte{}, seeds...), []byte{byte(bump)})
		pk, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return pk, uint8(bump), nil
		}
	}
	return PublicKey{}, 0, errors.New("no viable bump seed")
}

// BridgeAccounts are the program derived accounts of a bridge deployment.
type BridgeAccounts struct {
	ProgramID   PublicKey
	BridgeState PublicKey
	Escrow      PublicKey
}

// DeriveBridgeAccounts derives the state and escrow accounts of programID.
func DeriveBridgeAccounts(programID string) (BridgeAccounts, error) {
	var accts BridgeAccounts
	pid, err := ParsePublicKey(programID)
	if err != nil {
		return accts, err
	}
	accts.ProgramID = pid
	if accts.BridgeState, _, err = FindProgramAddress([][]byte{BridgeStateSeed}, pid); err != nil {
		return accts, errors.Wrap(err, "derive bridge_state")
	}
	if accts.Escrow, _, err = FindProgramAddress([][]byte{EscrowSeed}, pid); err != nil {
		return accts, errors.Wrap(err, "derive escrow")
	}
	return accts, nil
}
