package types

import (
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// BridgeTypeSolana tags payloads minted from the Solana lock program.
const BridgeTypeSolana = "SOLANA_BRIDGE"

// ArtifactVersion is the version written into minted artifact files.
const ArtifactVersion = "1.0"

// OriginTransaction is the origin transaction as embedded in a payload.
type OriginTransaction struct {
	Signature          string             `json:"signature"`
	RawTransaction     RawTransaction     `json:"rawTransaction"`
	BlockHeight        uint64             `json:"blockHeight"`
	Slot               uint64             `json:"slot"`
	BlockTime          *int64             `json:"blockTime"`
	ConfirmationStatus ConfirmationStatus `json:"confirmationStatus"`
}

// BridgePayload is the opaque payload carried by every minted token.
// Field names are part of the artifact format.
type BridgePayload struct {
	BridgeType        string            `json:"bridgeType"`
	LockEvent         LockEventRecord   `json:"lockEvent"`
	OriginTransaction OriginTransaction `json:"originTransaction"`
	MinterSignature   string            `json:"minterSignature"`
	BlockHash         string            `json:"blockHash,omitempty"`
	OriginProgramID   string            `json:"originProgramId,omitempty"`
	AmountSOL         string            `json:"amountSol,omitempty"`
	Validation        *Validation       `json:"validation,omitempty"`
}

// Authenticator proves the minter authorised a commitment.
type Authenticator struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	StateHash string `json:"stateHash"`
}

// MintCommitment is the identity bundle submitted to the target network.
// All byte values are lowercase hex.
type MintCommitment struct {
	AssetID          string        `json:"assetId"`
	AssetClassID     string        `json:"assetClassId"`
	Payload          []byte        `json:"payload"`
	Salt             string        `json:"salt"`
	RecipientAddress string        `json:"recipientAddress"`
	MinterSignature  string        `json:"minterSignature"`
	MinterPublicKey  string        `json:"minterPublicKey"`
	RequestID        string        `json:"requestId"`
	TransactionHash  string        `json:"transactionHash"`
	Authenticator    Authenticator `json:"authenticator"`
	CommitmentHandle string        `json:"commitmentHandle,omitempty"`
}

// InclusionProof is the target network's acknowledgement that a commitment
// was included.
type InclusionProof struct {
	RequestID       string        `json:"requestId"`
	TransactionHash string        `json:"transactionHash"`
	Authenticator   Authenticator `json:"authenticator"`
	LeafIndex       uint64        `json:"leafIndex"`
	Path            []string      `json:"path"`
	RootHash        string        `json:"rootHash"`
	BlockHeight     uint64        `json:"blockHeight"`
}

// TokenState is the minted token as stored in an artifact.
type TokenState struct {
	TokenID         string `json:"tokenId"`
	TokenType       string `json:"tokenType"`
	Recipient       string `json:"recipient"`
	Salt            string `json:"salt"`
	Payload         string `json:"payload"` // hex encoded BridgePayload JSON
	MinterPublicKey string `json:"minterPublicKey"`
}

// MintedArtifact is the persisted result of a successful mint. It is
// self-contained: the independent verifier needs nothing else.
type MintedArtifact struct {
	Version          string          `json:"version"`
	Network          string          `json:"network"`
	Token            TokenState      `json:"token"`
	InclusionProof   *InclusionProof `json:"inclusionProof"`
	CommitmentHandle string          `json:"commitmentHandle"`
	MintedAt         int64           `json:"mintedAt"`
}

// DecodePayload decodes the token's opaque payload.
func (a *MintedArtifact) DecodePayload() (*BridgePayload, error) {
	raw, err := hex.DecodeString(a.Token.Payload)
	if err != nil {
		return nil, errors.Wrap(err, "payload is not hex")
	}
	var p BridgePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.Wrap(err, "decode bridge payload")
	}
	return &p, nil
}
