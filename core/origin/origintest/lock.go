package origintest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/unicitynetwork/sol-bridge-go/core/extractor"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
)

// Pubkey returns a deterministic address made of one repeated byte.
func Pubkey(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, extractor.PubkeySize))
}

// Signature returns a deterministic 64-byte transaction signature.
func Signature(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 64))
}

// Blockhash returns a deterministic 32-byte block hash.
func Blockhash(b byte) string {
	return Pubkey(b)
}

// LockEvent builds a well-formed lock event whose id matches its fields.
func LockEvent(user string, amount, nonce uint64, timestamp int64, recipient string) types.LockEvent {
	pk, err := extractor.DecodePubkey(user)
	if err != nil {
		panic(err)
	}
	return types.LockEvent{
		LockID:          extractor.ComputeLockID(pk, nonce, timestamp),
		User:            user,
		Amount:          amount,
		TargetRecipient: recipient,
		Nonce:           nonce,
		Timestamp:       timestamp,
	}
}

// LockTransaction renders a getTransaction response in which programID emits
// the given lock events.
func LockTransaction(sig string, slot uint64, programID string, events ...types.LockEvent) types.RawTransaction {
	logs := []string{fmt.Sprintf("Program %s invoke [1]", programID), "Program log: Instruction: LockSol"}
	for _, ev := range events {
		data, err := extractor.EncodeTokenLocked(ev)
		if err != nil {
			panic(err)
		}
		logs = append(logs, extractor.EncodeLogLine(data))
	}
	logs = append(logs, fmt.Sprintf("Program %s success", programID))
	return transaction(sig, slot, programID, nil, logs)
}

// FailedTransaction renders a transaction whose metadata carries errJSON.
func FailedTransaction(sig string, slot uint64, programID string, errJSON string) types.RawTransaction {
	logs := []string{
		fmt.Sprintf("Program %s invoke [1]", programID),
		fmt.Sprintf("Program %s failed: custom program error", programID),
	}
	return transaction(sig, slot, programID, json.RawMessage(errJSON), logs)
}

// Transaction renders a transaction invoking programID with arbitrary logs.
func Transaction(sig string, slot uint64, programID string, logs ...string) types.RawTransaction {
	return transaction(sig, slot, programID, nil, logs)
}

func transaction(sig string, slot uint64, programID string, txErr json.RawMessage, logs []string) types.RawTransaction {
	blockTime := int64(1700000000) + int64(slot)
	var errField any
	if txErr != nil {
		errField = txErr
	}
	raw, err := json.Marshal(map[string]any{
		"slot":      slot,
		"blockTime": blockTime,
		"meta": map[string]any{
			"err":         errField,
			"fee":         5000,
			"logMessages": logs,
		},
		"transaction": map[string]any{
			"signatures": []string{sig},
			"message": map[string]any{
				"accountKeys":  []string{Pubkey(1), programID},
				"instructions": []map[string]any{{"programIdIndex": 1, "accounts": []int{0}, "data": ""}},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return types.RawTransaction(raw)
}
