package types

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() LockEvent {
	ev := LockEvent{
		User:            "9q5thPnZG7FKKNr61wceXdfuy2QRLYky8RTJonh2YzyB",
		Amount:          100000000,
		TargetRecipient: "DIRECT://0000000000000000000000000000000000000000000000000000000000000001",
		Nonce:           0,
		Timestamp:       1700000000,
	}
	ev.LockID[0] = 0xab
	ev.LockID[31] = 0xcd
	return ev
}

func TestLockEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*LockEvent)
		wantErr bool
	}{
		{name: "valid event", mutate: func(*LockEvent) {}},
		{name: "nonce zero is allowed", mutate: func(e *LockEvent) { e.Nonce = 0 }},
		{name: "empty lock id", mutate: func(e *LockEvent) { e.LockID = [LockIDSize]byte{} }, wantErr: true},
		{name: "empty user", mutate: func(e *LockEvent) { e.User = "" }, wantErr: true},
		{name: "empty recipient", mutate: func(e *LockEvent) { e.TargetRecipient = "" }, wantErr: true},
		{name: "zero amount", mutate: func(e *LockEvent) { e.Amount = 0 }, wantErr: true},
		{name: "zero timestamp", mutate: func(e *LockEvent) { e.Timestamp = 0 }, wantErr: true},
		{name: "negative timestamp", mutate: func(e *LockEvent) { e.Timestamp = -1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := sampleEvent()
			tt.mutate(&ev)
			err := ev.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidEventStructure))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLockEventRecordRoundTrip(t *testing.T) {
	ev := sampleEvent()
	ev.Amount = ^uint64(0)
	ev.Nonce = 42

	rec := ev.Record()
	assert.Equal(t, "18446744073709551615", rec.Amount)
	assert.Equal(t, "42", rec.Nonce)
	assert.Len(t, rec.LockID, 64)

	back, err := rec.Event()
	require.NoError(t, err)
	assert.Equal(t, ev, back)
}

func TestLockEventRecordRejectsBadFields(t *testing.T) {
	rec := sampleEvent().Record()

	short := rec
	short.LockID = "abcd"
	_, err := short.Event()
	assert.True(t, errors.Is(err, ErrInvalidEventStructure))

	badAmount := rec
	badAmount.Amount = "-1"
	_, err = badAmount.Event()
	assert.True(t, errors.Is(err, ErrInvalidEventStructure))
}
