package types

import (
	"encoding/hex"
	"strconv"

	"github.com/pkg/errors"
)

// LockIDSize is the byte length of a lock identifier.
const LockIDSize = 32

// LockEvent is one TokenLocked emission of the bridge program.
type LockEvent struct {
	LockID          [LockIDSize]byte
	User            string // base58 origin account
	Amount          uint64 // lamports
	TargetRecipient string // canonical (tagged) target-network address
	Nonce           uint64
	Timestamp       int64 // unix seconds
}

// Validate checks the structural invariants of a decoded event.
func (e LockEvent) Validate() error {
	if e.LockID == ([LockIDSize]byte{}) {
		return errors.Wrap(ErrInvalidEventStructure, "lock id is empty")
	}
	if e.User == "" {
		return errors.Wrap(ErrInvalidEventStructure, "user is empty")
	}
	if e.TargetRecipient == "" {
		return errors.Wrap(ErrInvalidEventStructure, "recipient is empty")
	}
	if e.Amount == 0 {
		return errors.Wrap(ErrInvalidEventStructure, "amount must be greater than zero")
	}
	if e.Timestamp <= 0 {
		return errors.Wrap(ErrInvalidEventStructure, "timestamp must be positive")
	}
	return nil
}

// LockIDHex returns the lock id as lowercase hex.
func (e LockEvent) LockIDHex() string {
	return hex.EncodeToString(e.LockID[:])
}

// Record returns the canonical serialized form of the event.
func (e LockEvent) Record() LockEventRecord {
	return LockEventRecord{
		LockID:           e.LockIDHex(),
		User:             e.User,
		Amount:           strconv.FormatUint(e.Amount, 10),
		UnicityRecipient: e.TargetRecipient,
		Nonce:            strconv.FormatUint(e.Nonce, 10),
		Timestamp:        e.Timestamp,
	}
}

// LockEventRecord is the string/number form of a LockEvent used inside
// proofs and artifact payloads. 64-bit unsigned values are decimal strings.
type LockEventRecord struct {
	LockID           string `json:"lockId"`
	User             string `json:"user"`
	Amount           string `json:"amount"`
	UnicityRecipient string `json:"unicityRecipient"`
	Nonce            string `json:"nonce"`
	Timestamp        int64  `json:"timestamp"`
}

// Event parses the record back into a LockEvent.
func (r LockEventRecord) Event() (LockEvent, error) {
	var ev LockEvent
	id, err := hex.DecodeString(r.LockID)
	if err != nil {
		return ev, errors.Wrap(ErrInvalidEventStructure, "lock id is not hex")
	}
	if len(id) != LockIDSize {
		return ev, errors.Wrapf(ErrInvalidEventStructure, "lock id must be %d bytes, got %d", LockIDSize, len(id))
	}
	copy(ev.LockID[:], id)

	if ev.Amount, err = strconv.ParseUint(r.Amount, 10, 64); err != nil {
		return ev, errors.Wrapf(ErrInvalidEventStructure, "amount %q", r.Amount)
	}
	if ev.Nonce, err = strconv.ParseUint(r.Nonce, 10, 64); err != nil {
		return ev, errors.Wrapf(ErrInvalidEventStructure, "nonce %q", r.Nonce)
	}
	ev.User = r.User
	ev.TargetRecipient = r.UnicityRecipient
	ev.Timestamp = r.Timestamp
	return ev, nil
}
