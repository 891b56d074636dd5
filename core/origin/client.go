package origin

import (
	"context"
	"encoding/json"

	"github.com/unicitynetwork/sol-bridge-go/core/types"
)

// Commitment levels accepted by the origin RPC.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// Client is the read-mostly surface of the origin chain RPC that the bridge
// consumes. Lookups of data that is not (yet) available return a nil result
// and a nil error; errors are reserved for failed requests.
type Client interface {
	// GetTransaction returns the transaction verbatim, or nil when unknown.
	GetTransaction(ctx context.Context, signature string) (types.RawTransaction, error)

	// GetSignatureStatuses returns one entry per signature, nil when the
	// chain has no record of it.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*types.ConfirmationRecord, error)

	// GetBlock returns the block at slot, or nil when it is not available.
	GetBlock(ctx context.Context, slot uint64) (*Block, error)

	// GetSlot returns the newest slot at the given commitment.
	GetSlot(ctx context.Context, commitment string) (uint64, error)

	// GetSignaturesForAddress pages through signatures that mention address,
	// newest first.
	GetSignaturesForAddress(ctx context.Context, address string, opts SignaturesOptions) ([]SignatureInfo, error)

	// GetAccountInfo returns the account data, or nil when the account does not exist.
	GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error)
}

// Sender submits signed transactions. Only the lock command needs it.
type Sender interface {
	GetLatestBlockhash(ctx context.Context) (string, error)
	SendTransaction(ctx context.Context, signedTx []byte) (string, error)
}

// Block is the header subset of getBlock.
type Block struct {
	Blockhash         string  `json:"blockhash"`
	PreviousBlockhash string  `json:"previousBlockhash"`
	ParentSlot        uint64  `json:"parentSlot"`
	BlockHeight       *uint64 `json:"blockHeight"`
	BlockTime         *int64  `json:"blockTime"`
}

// SignaturesOptions bounds a getSignaturesForAddress page.
type SignaturesOptions struct {
	Before string
	Until  string
	Limit  int
}

// SignatureInfo is one getSignaturesForAddress entry.
type SignatureInfo struct {
	Signature          string                   `json:"signature"`
	Slot               uint64                   `json:"slot"`
	Err                json.RawMessage          `json:"err"`
	BlockTime          *int64                   `json:"blockTime"`
	ConfirmationStatus types.ConfirmationStatus `json:"confirmationStatus"`
}

// AccountInfo is the decoded getAccountInfo value.
type AccountInfo struct {
	Lamports   uint64
	Owner      string
	Executable bool
	Data       []byte
}
