package extractor

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"github.com/unicitynetwork/sol-bridge-go/core/util"
)

// RecipientPrefix tags direct target-network addresses. lock_sol caps the
// recipient at 64 bytes, so clients strip the tag before locking and it has
// to be restored after decoding.
const RecipientPrefix = "DIRECT://"

// DecodeTokenLocked decodes a TokenLocked event (discriminator included).
// The recipient is returned in canonical form.
//
// Layout:
//
//	[discriminator:8][lock_id:32][user:32][amount:u64][recipient_len:u32][recipient][nonce:u64][timestamp:i64]
func DecodeTokenLocked(data []byte) (types.LockEvent, error) {
	var ev types.LockEvent
	r := &reader{buf: data}

	if err := r.discriminator(TokenLockedDiscriminator, "TokenLocked"); err != nil {
		return ev, err
	}
	id, err := r.bytes(types.LockIDSize, "lock_id")
	if err != nil {
		return ev, err
	}
	copy(ev.LockID[:], id)
	if ev.User, err = r.pubkey("user"); err != nil {
		return ev, err
	}
	if ev.Amount, err = r.uint64("amount"); err != nil {
		return ev, err
	}
	recipient, err := r.string("unicity_recipient", MaxRecipientLength)
	if err != nil {
		return ev, err
	}
	ev.TargetRecipient = CanonicalRecipient(recipient)
	if ev.Nonce, err = r.uint64("nonce"); err != nil {
		return ev, err
	}
	if ev.Timestamp, err = r.int64("timestamp"); err != nil {
		return ev, err
	}
	if err := r.done(); err != nil {
		return ev, err
	}
	return ev, nil
}

// EncodeTokenLocked serializes ev exactly as the bridge program emits it.
// The recipient is stripped the same way a client strips it before locking.
func EncodeTokenLocked(ev types.LockEvent) ([]byte, error) {
	recipient := StripRecipient(ev.TargetRecipient)
	if len(recipient) > MaxRecipientLength {
		return nil, errors.Errorf("recipient length %d exceeds maximum %d", len(recipient), MaxRecipientLength)
	}

	w := &writer{}
	w.raw(TokenLockedDiscriminator[:])
	w.raw(ev.LockID[:])
	if err := w.pubkey(ev.User, "user"); err != nil {
		return nil, err
	}
	w.uint64(ev.Amount)
	w.string(recipient)
	w.uint64(ev.Nonce)
	w.int64(ev.Timestamp)
	return w.buf, nil
}

// CanonicalRecipient restores the address tag on a bare 64-hex-character
// recipient. Any other value is returned unchanged.
func CanonicalRecipient(s string) string {
	if isHexDigest(s) {
		return RecipientPrefix + s
	}
	return s
}

// StripRecipient removes the address tag when what remains is a 64-hex
// digest, so the value fits the on-chain length limit.
func StripRecipient(s string) string {
	if rest, ok := strings.CutPrefix(s, RecipientPrefix); ok && isHexDigest(rest) {
		return rest
	}
	return s
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ComputeLockID reproduces the program's lock id:
// sha256(user || nonce_le || timestamp_le).
func ComputeLockID(user [PubkeySize]byte, nonce uint64, timestamp int64) [types.LockIDSize]byte {
	var tail [16]byte
	binary.LittleEndian.PutUint64(tail[:8], nonce)
	binary.LittleEndian.PutUint64(tail[8:], uint64(timestamp))
	var id [types.LockIDSize]byte
	copy(id[:], util.Sha256(user[:], tail[:]))
	return id
}

// VerifyLockID checks that ev.LockID was derived from its own fields.
func VerifyLockID(ev types.LockEvent) error {
	user, err := DecodePubkey(ev.User)
	if err != nil {
		return errors.Wrap(types.ErrInvalidEventStructure, err.Error())
	}
	want := ComputeLockID(user, ev.Nonce, ev.Timestamp)
	if !bytes.Equal(want[:], ev.LockID[:]) {
		return errors.Wrapf(types.ErrLockIDMismatch, "lock id %s, expected %s",
			ev.LockIDHex(), hex.EncodeToString(want[:]))
	}
	return nil
}
