package types

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// ConfirmationStatus is the origin chain's commitment level for a transaction.
type ConfirmationStatus string

const (
	StatusProcessed ConfirmationStatus = "processed"
	StatusConfirmed ConfirmationStatus = "confirmed"
	StatusFinalized ConfirmationStatus = "finalized"
)

// Valid reports whether s is one of the known commitment levels.
func (s ConfirmationStatus) Valid() bool {
	switch s {
	case StatusProcessed, StatusConfirmed, StatusFinalized:
		return true
	}
	return false
}

// AtLeastConfirmed reports whether s is confirmed or finalized.
func (s ConfirmationStatus) AtLeastConfirmed() bool {
	return s == StatusConfirmed || s == StatusFinalized
}

// ConfirmationRecord is the origin chain's statement about a transaction.
type ConfirmationRecord struct {
	Signature          string             `json:"signature"`
	ConfirmationStatus ConfirmationStatus `json:"confirmationStatus"`
	Confirmations      *uint64            `json:"confirmations"`
	Err                json.RawMessage    `json:"err"`
	Slot               uint64             `json:"slot"`
}

// Failed reports whether the record carries an execution error.
func (c *ConfirmationRecord) Failed() bool {
	return c != nil && !isJSONNull(c.Err)
}

// Usable reports whether the record can back a proof: no execution error and
// a known confirmation status.
func (c *ConfirmationRecord) Usable() bool {
	return c != nil && !c.Failed() && c.ConfirmationStatus.Valid()
}

func isJSONNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// RawTransaction is the origin RPC's getTransaction response, kept verbatim.
// Use View for the handful of fields the bridge reads.
type RawTransaction json.RawMessage

func (r RawTransaction) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (r *RawTransaction) UnmarshalJSON(data []byte) error {
	if r == nil {
		return errors.New("RawTransaction: UnmarshalJSON on nil pointer")
	}
	if isJSONNull(data) {
		*r = nil
		return nil
	}
	*r = append((*r)[0:0], data...)
	return nil
}

// Empty reports whether no transaction data is embedded.
func (r RawTransaction) Empty() bool {
	return isJSONNull(json.RawMessage(r))
}

// TxView is the typed subset of a raw origin transaction.
type TxView struct {
	PrimarySignature string
	Signatures       []string
	InvokedPrograms  []string
	LogMessages      []string
	Err              json.RawMessage
	Slot             uint64
	BlockTime        *int64
}

// Invokes reports whether programID appears among the invoked programs.
func (v TxView) Invokes(programID string) bool {
	for _, p := range v.InvokedPrograms {
		if p == programID {
			return true
		}
	}
	return false
}

// Failed reports whether the transaction metadata carries an error.
func (v TxView) Failed() bool {
	return !isJSONNull(v.Err)
}

type rawInstruction struct {
	ProgramIDIndex int `json:"programIdIndex"`
}

type rawTransactionEnvelope struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err               json.RawMessage `json:"err"`
		LogMessages       []string        `json:"logMessages"`
		InnerInstructions []struct {
			Instructions []rawInstruction `json:"instructions"`
		} `json:"innerInstructions"`
		LoadedAddresses *struct {
			Writable []string `json:"writable"`
			Readonly []string `json:"readonly"`
		} `json:"loadedAddresses"`
	} `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys  []string         `json:"accountKeys"`
			Instructions []rawInstruction `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// View decodes the fields the bridge needs from the raw transaction.
func (r RawTransaction) View() (TxView, error) {
	var view TxView
	if r.Empty() {
		return view, errors.New("raw transaction is empty")
	}
	var env rawTransactionEnvelope
	if err := json.Unmarshal(r, &env); err != nil {
		return view, errors.Wrap(err, "decode raw transaction")
	}

	view.Slot = env.Slot
	view.BlockTime = env.BlockTime
	view.Signatures = env.Transaction.Signatures
	if len(view.Signatures) > 0 {
		view.PrimarySignature = view.Signatures[0]
	}

	keys := append([]string{}, env.Transaction.Message.AccountKeys...)
	var inner []rawInstruction
	if env.Meta != nil {
		view.Err = env.Meta.Err
		view.LogMessages = env.Meta.LogMessages
		if env.Meta.LoadedAddresses != nil {
			keys = append(keys, env.Meta.LoadedAddresses.Writable...)
			keys = append(keys, env.Meta.LoadedAddresses.Readonly...)
		}
		for _, set := range env.Meta.InnerInstructions {
			inner = append(inner, set.Instructions...)
		}
	}

	seen := make(map[string]struct{})
	addProgram := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		view.InvokedPrograms = append(view.InvokedPrograms, id)
	}
	for _, ix := range append(env.Transaction.Message.Instructions, inner...) {
		if ix.ProgramIDIndex >= 0 && ix.ProgramIDIndex < len(keys) {
			addProgram(keys[ix.ProgramIDIndex])
		}
	}
	// invocations are also recorded in the logs, which covers truncated
	// instruction data
	for _, line := range view.LogMessages {
		if id, ok := invokedProgramFromLog(line); ok {
			addProgram(id)
		}
	}
	return view, nil
}

// invokedProgramFromLog parses "Program <id> invoke [<depth>]".
func invokedProgramFromLog(line string) (string, bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "Program" || fields[2] != "invoke" {
		return "", false
	}
	return fields[1], true
}
