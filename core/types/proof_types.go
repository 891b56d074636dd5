package types

import (
	"time"
)

// Proof binds a lock event to the transaction that emitted it and to the
// origin chain's confirmation of that transaction. The complete transaction
// is embedded so validation never depends on fetching it again.
type Proof struct {
	Event          LockEvent
	Signature      string
	BlockHash      string // empty when the block could not be resolved
	BlockHeight    uint64
	Slot           uint64
	BlockTime      *int64
	RawTransaction RawTransaction
	Confirmation   *ConfirmationRecord
}

// ValidationStatus classifies a validated proof.
type ValidationStatus string

const (
	StatusValidated         ValidationStatus = "VALIDATED"
	StatusPendingValidation ValidationStatus = "PENDING_VALIDATION"
)

// Validation records the outcome of proof validation.
type Validation struct {
	BlockVerified        bool             `json:"blockVerified"`
	ConfirmationVerified bool             `json:"confirmationVerified"`
	Status               ValidationStatus `json:"status"`
	Reason               string           `json:"reason,omitempty"`
	ValidatedAt          int64            `json:"validatedAtTimestamp"`
}

// ValidatedProof is a Proof in canonical serialized form together with its
// validation outcome. A PENDING_VALIDATION proof is still usable downstream.
type ValidatedProof struct {
	LockEvent      LockEventRecord    `json:"lockEvent"`
	Signature      string             `json:"signature"`
	BlockHash      string             `json:"blockHash"`
	BlockHeight    uint64             `json:"blockHeight"`
	Slot           uint64             `json:"slot"`
	BlockTime      *int64             `json:"blockTime"`
	RawTransaction RawTransaction     `json:"rawTransaction"`
	Confirmation   ConfirmationRecord `json:"confirmation"`
	Validation     Validation         `json:"validation"`
}

// NewValidatedProof reshapes p and attaches the validation outcome.
func NewValidatedProof(p *Proof, v Validation) *ValidatedProof {
	vp := &ValidatedProof{
		LockEvent:      p.Event.Record(),
		Signature:      p.Signature,
		BlockHash:      p.BlockHash,
		BlockHeight:    p.BlockHeight,
		Slot:           p.Slot,
		BlockTime:      p.BlockTime,
		RawTransaction: p.RawTransaction,
		Validation:     v,
	}
	if p.Confirmation != nil {
		vp.Confirmation = *p.Confirmation
	}
	if vp.Validation.ValidatedAt == 0 {
		vp.Validation.ValidatedAt = time.Now().UnixMilli()
	}
	return vp
}

// Pending reports whether the proof was accepted before the origin block
// could be verified.
func (vp *ValidatedProof) Pending() bool {
	return vp.Validation.Status != StatusValidated
}
