package extractor

import (
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
)

const (
	programDataPrefix = "Program data: "
	// events larger than this are not produced by the bridge program
	maxEventDataSize = 1024
)

// BridgeInitialized is emitted once by initialize.
type BridgeInitialized struct {
	Admin     string
	Timestamp int64
}

// EmergencyWithdrawal is emitted when the admin drains the escrow.
type EmergencyWithdrawal struct {
	Admin     string
	Amount    uint64
	Timestamp int64
}

// ProgramEvent holds exactly one decoded bridge program event.
type ProgramEvent struct {
	TokenLocked         *types.LockEvent
	BridgeInitialized   *BridgeInitialized
	EmergencyWithdrawal *EmergencyWithdrawal
}

// DecodeBridgeInitialized decodes a BridgeInitialized event.
func DecodeBridgeInitialized(data []byte) (BridgeInitialized, error) {
	var ev BridgeInitialized
	r := &reader{buf: data}
	if err := r.discriminator(BridgeInitializedDiscriminator, "BridgeInitialized"); err != nil {
		return ev, err
	}
	var err error
	if ev.Admin, err = r.pubkey("admin"); err != nil {
		return ev, err
	}
	if ev.Timestamp, err = r.int64("timestamp"); err != nil {
		return ev, err
	}
	return ev, r.done()
}

// DecodeEmergencyWithdrawal decodes an EmergencyWithdrawal event.
func DecodeEmergencyWithdrawal(data []byte) (EmergencyWithdrawal, error) {
	var ev EmergencyWithdrawal
	r := &reader{buf: data}
	if err := r.discriminator(EmergencyWithdrawalDiscriminator, "EmergencyWithdrawal"); err != nil {
		return ev, err
	}
	var err error
	if ev.Admin, err = r.pubkey("admin"); err != nil {
		return ev, err
	}
	if ev.Amount, err = r.uint64("amount"); err != nil {
		return ev, err
	}
	if ev.Timestamp, err = r.int64("timestamp"); err != nil {
		return ev, err
	}
	return ev, r.done()
}

// DecodeProgramEvent dispatches on the discriminator. ok is false for data
// that is not a bridge event.
func DecodeProgramEvent(data []byte) (ev ProgramEvent, ok bool, err error) {
	if len(data) < DiscriminatorSize {
		return ev, false, nil
	}
	switch [DiscriminatorSize]byte(data[:DiscriminatorSize]) {
	case TokenLockedDiscriminator:
		locked, err := DecodeTokenLocked(data)
		if err != nil {
			return ev, true, err
		}
		ev.TokenLocked = &locked
	case BridgeInitializedDiscriminator:
		bi, err := DecodeBridgeInitialized(data)
		if err != nil {
			return ev, true, err
		}
		ev.BridgeInitialized = &bi
	case EmergencyWithdrawalDiscriminator:
		w, err := DecodeEmergencyWithdrawal(data)
		if err != nil {
			return ev, true, err
		}
		ev.EmergencyWithdrawal = &w
	default:
		return ev, false, nil
	}
	return ev, true, nil
}

// ParseProgramEvents decodes every bridge event in a transaction's log
// output. When programID is set, only data logged while that program is on
// top of the invocation stack is considered.
func ParseProgramEvents(logs []string, programID string) ([]ProgramEvent, error) {
	var (
		events []ProgramEvent
		stack  []string
	)
	for _, line := range logs {
		fields := strings.Fields(line)
		// "Program log:" and "Program data:" lines never change the stack
		if len(fields) >= 3 && fields[0] == "Program" && !strings.HasSuffix(fields[1], ":") {
			switch {
			case fields[2] == "invoke":
				stack = append(stack, fields[1])
				continue
			case fields[2] == "success", strings.HasPrefix(fields[2], "failed"):
				if len(stack) > 0 {
					stack = stack[:len(stack)-1]
				}
				continue
			}
		}

		payload, ok := strings.CutPrefix(line, programDataPrefix)
		if !ok {
			continue
		}
		if programID != "" && (len(stack) == 0 || stack[len(stack)-1] != programID) {
			continue
		}
		if base64.StdEncoding.DecodedLen(len(payload)) > maxEventDataSize {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
		if err != nil {
			continue
		}
		ev, ok, err := DecodeProgramEvent(data)
		if err != nil {
			return events, err
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// ParseLogs returns every TokenLocked event in the log output.
func ParseLogs(logs []string, programID string) ([]types.LockEvent, error) {
	events, err := ParseProgramEvents(logs, programID)
	if err != nil {
		return nil, err
	}
	var locks []types.LockEvent
	for _, ev := range events {
		if ev.TokenLocked != nil {
			locks = append(locks, *ev.TokenLocked)
		}
	}
	return locks, nil
}

// FindLockEvent returns the TokenLocked event with lockID from a raw
// transaction. A transaction may emit several locks; the one asked for must
// be among them or the lookup fails with ErrMalformedEvent.
func FindLockEvent(raw types.RawTransaction, programID string, lockID [types.LockIDSize]byte) (types.LockEvent, error) {
	view, err := raw.View()
	if err != nil {
		return types.LockEvent{}, errors.Wrap(types.ErrMalformedEvent, err.Error())
	}
	locks, err := ParseLogs(view.LogMessages, programID)
	if err != nil {
		return types.LockEvent{}, err
	}
	for _, ev := range locks {
		if ev.LockID == lockID {
			return ev, nil
		}
	}
	return types.LockEvent{}, errors.Wrapf(types.ErrMalformedEvent,
		"lock %x not among %d TokenLocked events of the transaction", lockID, len(locks))
}

// EncodeLogLine renders event data the way the runtime logs it.
func EncodeLogLine(data []byte) string {
	return programDataPrefix + base64.StdEncoding.EncodeToString(data)
}
