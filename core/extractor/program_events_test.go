package extractor

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
)

const testProgramID = "9q5thPnZG7FKKNr61wceXdfuy2QRLYky8RTJonh2YzyB"

func bridgeInitializedData(t *testing.T, admin string, ts int64) []byte {
	t.Helper()
	w := &writer{}
	w.raw(BridgeInitializedDiscriminator[:])
	require.NoError(t, w.pubkey(admin, "admin"))
	w.int64(ts)
	return w.buf
}

func TestParseProgramEventsFollowsInvocationStack(t *testing.T) {
	ev := testLockEvent(t)
	data, err := EncodeTokenLocked(ev)
	require.NoError(t, err)
	line := EncodeLogLine(data)

	logs := []string{
		"Program " + testProgramID + " invoke [1]",
		"Program log: Instruction: LockSol",
		"Program 11111111111111111111111111111111 invoke [2]",
		// emitted by a nested program: ignored
		line,
		"Program 11111111111111111111111111111111 success",
		"Program log: success",
		line,
		"Program " + testProgramID + " consumed 12000 of 200000 compute units",
		"Program " + testProgramID + " success",
		// outside any invocation: ignored
		line,
	}

	locks, err := ParseLogs(logs, testProgramID)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, ev, locks[0])

	// without a program filter every data line counts
	all, err := ParseLogs(logs, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestParseProgramEventsDecodesAllKinds(t *testing.T) {
	admin := testUser(9)
	w := &writer{}
	w.raw(EmergencyWithdrawalDiscriminator[:])
	require.NoError(t, w.pubkey(admin, "admin"))
	w.uint64(5000)
	w.int64(1700000100)

	locked, err := EncodeTokenLocked(testLockEvent(t))
	require.NoError(t, err)

	logs := []string{
		"Program " + testProgramID + " invoke [1]",
		EncodeLogLine(bridgeInitializedData(t, admin, 1700000000)),
		EncodeLogLine(locked),
		EncodeLogLine(w.buf),
		EncodeLogLine([]byte("not an anchor event")),
		"Program data: %%%not-base64",
		"Program " + testProgramID + " success",
	}

	events, err := ParseProgramEvents(logs, testProgramID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.NotNil(t, events[0].BridgeInitialized)
	assert.Equal(t, BridgeInitialized{Admin: admin, Timestamp: 1700000000}, *events[0].BridgeInitialized)
	require.NotNil(t, events[1].TokenLocked)
	require.NotNil(t, events[2].EmergencyWithdrawal)
	assert.Equal(t, EmergencyWithdrawal{Admin: admin, Amount: 5000, Timestamp: 1700000100}, *events[2].EmergencyWithdrawal)
}

func TestParseLogsPropagatesMalformedLockEvent(t *testing.T) {
	locked, err := EncodeTokenLocked(testLockEvent(t))
	require.NoError(t, err)

	_, err = ParseLogs([]string{EncodeLogLine(locked[:40])}, "")
	assert.True(t, errors.Is(err, types.ErrMalformedEvent))
}

func TestFindLockEvent(t *testing.T) {
	ev := testLockEvent(t)
	locked, err := EncodeTokenLocked(ev)
	require.NoError(t, err)

	second := ev
	second.Nonce = 1
	pk, err := DecodePubkey(second.User)
	require.NoError(t, err)
	second.LockID = ComputeLockID(pk, second.Nonce, second.Timestamp)
	lockedSecond, err := EncodeTokenLocked(second)
	require.NoError(t, err)

	build := func(logs ...string) types.RawTransaction {
		raw, err := json.Marshal(map[string]any{
			"slot": 10,
			"meta": map[string]any{"err": nil, "logMessages": logs},
			"transaction": map[string]any{
				"signatures": []string{"sig"},
				"message":    map[string]any{"accountKeys": []string{testProgramID}, "instructions": []any{}},
			},
		})
		require.NoError(t, err)
		return types.RawTransaction(raw)
	}
	invoke := "Program " + testProgramID + " invoke [1]"
	done := "Program " + testProgramID + " success"

	got, err := FindLockEvent(build(invoke, EncodeLogLine(locked), done), testProgramID, ev.LockID)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	both := build(invoke, EncodeLogLine(locked), EncodeLogLine(lockedSecond), done)
	got, err = FindLockEvent(both, testProgramID, second.LockID)
	require.NoError(t, err)
	assert.Equal(t, second, got)
	got, err = FindLockEvent(both, testProgramID, ev.LockID)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	_, err = FindLockEvent(build(invoke, EncodeLogLine(lockedSecond), done), testProgramID, ev.LockID)
	assert.True(t, errors.Is(err, types.ErrMalformedEvent))

	_, err = FindLockEvent(build(invoke, done), testProgramID, ev.LockID)
	assert.True(t, errors.Is(err, types.ErrMalformedEvent))

	_, err = FindLockEvent(nil, testProgramID, ev.LockID)
	assert.True(t, errors.Is(err, types.ErrMalformedEvent))
}

func TestDecodeBridgeState(t *testing.T) {
	admin := testUser(3)
	w := &writer{}
	w.raw(BridgeStateDiscriminator[:])
	require.NoError(t, w.pubkey(admin, "admin"))
	w.uint64(250000000)
	w.uint64(3)
	// padding left by account allocation
	w.raw(make([]byte, 16))

	st, err := DecodeBridgeState(w.buf)
	require.NoError(t, err)
	assert.Equal(t, BridgeState{Admin: admin, TotalLocked: 250000000, Nonce: 3}, st)

	_, err = DecodeBridgeState(w.buf[:40])
	assert.Error(t, err)
}

func TestDescribeTransactionError(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected string
	}{
		{name: "bridge error", raw: `{"InstructionError":[0,{"Custom":6001}]}`, expected: "instruction 0: InvalidRecipient"},
		{name: "other custom error", raw: `{"InstructionError":[1,{"Custom":1}]}`, expected: "instruction 1: custom error 1"},
		{name: "non custom", raw: `{"InstructionError":[0,"InvalidAccountData"]}`, expected: `{"InstructionError":[0,"InvalidAccountData"]}`},
		{name: "plain string", raw: `"AccountInUse"`, expected: `"AccountInUse"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DescribeTransactionError(json.RawMessage(tt.raw)))
		})
	}
}

func TestDiscriminatorsAreDistinct(t *testing.T) {
	seen := map[uint64]string{}
	for name, d := range map[string][DiscriminatorSize]byte{
		"TokenLocked":         TokenLockedDiscriminator,
		"BridgeInitialized":   BridgeInitializedDiscriminator,
		"EmergencyWithdrawal": EmergencyWithdrawalDiscriminator,
		"BridgeState":         BridgeStateDiscriminator,
		"lock_sol":            LockSolDiscriminator,
	} {
		key := binary.LittleEndian.Uint64(d[:])
		_, dup := seen[key]
		assert.False(t, dup, name)
		seen[key] = name
	}
}
