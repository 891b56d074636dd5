package extractor

import (
	"crypto/sha256"
	"encoding/binary"
	"unicode/utf8"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
)

// Layout limits of the bridge program.
const (
	DiscriminatorSize  = 8
	PubkeySize         = 32
	MaxRecipientLength = 64 // enforced by lock_sol
)

// Discriminator computes an Anchor discriminator: sha256("<namespace>:<name>")[:8].
func Discriminator(namespace, name string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// EventDiscriminator returns the discriminator Anchor prefixes to emitted events.
func EventDiscriminator(name string) [DiscriminatorSize]byte {
	return Discriminator("event", name)
}

// Known discriminators of the bridge program.
var (
	TokenLockedDiscriminator         = EventDiscriminator("TokenLocked")
	BridgeInitializedDiscriminator   = EventDiscriminator("BridgeInitialized")
	EmergencyWithdrawalDiscriminator = EventDiscriminator("EmergencyWithdrawal")
	BridgeStateDiscriminator         = Discriminator("account", "BridgeState")
	LockSolDiscriminator             = Discriminator("global", "lock_sol")
)

// reader is a bounds-checked little-endian cursor over Borsh data.
type reader struct {
	buf []byte
	off int
}

func (r *reader) need(n int, field string) error {
	if n < 0 || r.off+n > len(r.buf) {
		return errors.Wrapf(types.ErrMalformedEvent, "data too short for %s", field)
	}
	return nil
}

func (r *reader) bytes(n int, field string) ([]byte, error) {
	if err := r.need(n, field); err != nil {
		return nil, err
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *reader) uint32(field string) (uint32, error) {
	b, err := r.bytes(4, field)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) uint64(field string) (uint64, error) {
	b, err := r.bytes(8, field)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *reader) int64(field string) (int64, error) {
	v, err := r.uint64(field)
	return int64(v), err
}

func (r *reader) pubkey(field string) (string, error) {
	b, err := r.bytes(PubkeySize, field)
	if err != nil {
		return "", err
	}
	return base58.Encode(b), nil
}

func (r *reader) string(field string, max int) (string, error) {
	n, err := r.uint32(field + " length")
	if err != nil {
		return "", err
	}
	if int(n) > max {
		return "", errors.Wrapf(types.ErrMalformedEvent, "%s length %d exceeds maximum %d", field, n, max)
	}
	b, err := r.bytes(int(n), field)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.Wrapf(types.ErrMalformedEvent, "%s is not valid UTF-8", field)
	}
	return string(b), nil
}

func (r *reader) discriminator(want [DiscriminatorSize]byte, what string) error {
	b, err := r.bytes(DiscriminatorSize, "discriminator")
	if err != nil {
		return err
	}
	if [DiscriminatorSize]byte(b) != want {
		return errors.Wrapf(types.ErrMalformedEvent, "discriminator is not %s", what)
	}
	return nil
}

func (r *reader) done() error {
	if r.off != len(r.buf) {
		return errors.Wrapf(types.ErrMalformedEvent, "%d trailing bytes", len(r.buf)-r.off)
	}
	return nil
}

// writer is the encoding counterpart of reader.
type writer struct {
	buf []byte
}

func (w *writer) raw(b []byte)    { w.buf = append(w.buf, b...) }
func (w *writer) uint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) uint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *writer) int64(v int64)   { w.uint64(uint64(v)) }

func (w *writer) string(s string) {
	w.uint32(uint32(len(s)))
	w.raw([]byte(s))
}

func (w *writer) pubkey(s, field string) error {
	b, err := DecodePubkey(s)
	if err != nil {
		return errors.Wrap(err, field)
	}
	w.raw(b[:])
	return nil
}

// DecodePubkey decodes a base58 account address into its 32 bytes.
func DecodePubkey(s string) ([PubkeySize]byte, error) {
	var out [PubkeySize]byte
	b, err := base58.Decode(s)
	if err != nil {
		return out, errors.Wrapf(err, "decode pubkey %q", s)
	}
	if len(b) != PubkeySize {
		return out, errors.Errorf("pubkey %q is %d bytes, want %d", s, len(b), PubkeySize)
	}
	copy(out[:], b)
	return out, nil
}
