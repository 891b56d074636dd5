package extractor

import (
	"encoding/json"
	"fmt"
)

// BridgeState is the program's singleton state account.
type BridgeState struct {
	Admin       string
	TotalLocked uint64
	Nonce       uint64
}

// DecodeBridgeState decodes the bridge_state account data.
func DecodeBridgeState(data []byte) (BridgeState, error) {
	var st BridgeState
	r := &reader{buf: data}
	if err := r.discriminator(BridgeStateDiscriminator, "BridgeState"); err != nil {
		return st, err
	}
	var err error
	if st.Admin, err = r.pubkey("admin"); err != nil {
		return st, err
	}
	if st.TotalLocked, err = r.uint64("total_locked"); err != nil {
		return st, err
	}
	if st.Nonce, err = r.uint64("nonce"); err != nil {
		return st, err
	}
	// accounts may be allocated larger than the struct
	return st, nil
}

// Anchor custom error codes start at 6000.
const programErrorOffset = 6000

var programErrors = []string{
	"InvalidAmount: must be greater than 0",
	"InvalidRecipient",
	"Unauthorized: only admin can perform this action",
	"Overflow",
}

// DescribeProgramError names a bridge program custom error code.
func DescribeProgramError(code uint32) (string, bool) {
	idx := int(code) - programErrorOffset
	if idx < 0 || idx >= len(programErrors) {
		return "", false
	}
	return programErrors[idx], true
}

// DescribeTransactionError renders a transaction error payload, naming bridge
// program errors when the payload is an instruction custom error.
func DescribeTransactionError(raw json.RawMessage) string {
	var ixErr struct {
		InstructionError []json.RawMessage `json:"InstructionError"`
	}
	if err := json.Unmarshal(raw, &ixErr); err == nil && len(ixErr.InstructionError) == 2 {
		var custom struct {
			Custom *uint32 `json:"Custom"`
		}
		if err := json.Unmarshal(ixErr.InstructionError[1], &custom); err == nil && custom.Custom != nil {
			if name, ok := DescribeProgramError(*custom.Custom); ok {
				return fmt.Sprintf("instruction %s: %s", ixErr.InstructionError[0], name)
			}
			return fmt.Sprintf("instruction %s: custom error %d", ixErr.InstructionError[0], *custom.Custom)
		}
	}
	return string(raw)
}
