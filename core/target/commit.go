// Package target talks to the target network's commit service, which
// includes mint commitments and enforces request id uniqueness.
package target

import (
	"bytes"
	"context"
	"encoding/hex"

	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"github.com/unicitynetwork/sol-bridge-go/core/util"
)

// Handle identifies a submitted commitment.
type Handle struct {
	ID        string `json:"id"`
	RequestID string `json:"requestId"`
}

func (h Handle) String() string {
	return h.ID
}

// InclusionVerifier checks an inclusion proof.
type InclusionVerifier interface {
	VerifyInclusion(ctx context.Context, proof *types.InclusionProof) error
}

// CommitService is the target network's commitment surface. It is the only
// arbiter of global replay protection: a second submission for the same
// request id fails with types.ErrRequestIDExists.
type CommitService interface {
	InclusionVerifier
	Submit(ctx context.Context, commitment *types.MintCommitment) (Handle, error)
	WaitInclusion(ctx context.Context, handle Handle) (*types.InclusionProof, error)
}

var (
	leafPrefix = []byte{0x00}
	nodePrefix = []byte{0x01}
)

// LeafHash is the tree leaf of one commitment.
func LeafHash(requestID, transactionHash []byte) []byte {
	return util.Sha256(leafPrefix, requestID, transactionHash)
}

func nodeHash(left, right []byte) []byte {
	return util.Sha256(nodePrefix, left, right)
}

// merklePath returns the root over leaves and the sibling path of leaf
// index. An odd node at the end of a level is paired with itself.
func merklePath(leaves [][]byte, index int) (root []byte, path [][]byte) {
	level := leaves
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level[:len(level):len(level)], level[len(level)-1])
		}
		sibling := index ^ 1
		path = append(path, level[sibling])
		next := make([][]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, nodeHash(level[i], level[i+1]))
		}
		level = next
		index /= 2
	}
	return level[0], path
}

// VerifyInclusionProof checks the proof's internal consistency: the
// authenticator signs the request, the request id is bound to the signer and
// the path leads to the declared root. It needs no network access.
func VerifyInclusionProof(proof *types.InclusionProof) error {
	if proof == nil {
		return errors.New("inclusion proof is missing")
	}
	if err := identity.VerifyAuthenticator(proof.RequestID, proof.TransactionHash, proof.Authenticator); err != nil {
		return err
	}
	requestID, err := hex.DecodeString(proof.RequestID)
	if err != nil {
		return errors.Wrap(err, "request id")
	}
	txHash, err := hex.DecodeString(proof.TransactionHash)
	if err != nil {
		return errors.Wrap(err, "transaction hash")
	}
	root, err := hex.DecodeString(proof.RootHash)
	if err != nil {
		return errors.Wrap(err, "root hash")
	}

	node := LeafHash(requestID, txHash)
	index := proof.LeafIndex
	for i, s := range proof.Path {
		sibling, err := hex.DecodeString(s)
		if err != nil {
			return errors.Wrapf(err, "path element %d", i)
		}
		if index%2 == 0 {
			node = nodeHash(node, sibling)
		} else {
			node = nodeHash(sibling, node)
		}
		index /= 2
	}
	if index != 0 {
		return errors.Errorf("leaf index %d exceeds path length %d", proof.LeafIndex, len(proof.Path))
	}
	if !bytes.Equal(node, root) {
		return errors.New("inclusion path does not lead to root")
	}
	return nil
}

// ProofVerifier checks inclusion proofs offline.
type ProofVerifier struct{}

var _ InclusionVerifier = ProofVerifier{}

func (ProofVerifier) VerifyInclusion(_ context.Context, proof *types.InclusionProof) error {
	return VerifyInclusionProof(proof)
}

// checkCommitment validates a commitment before it is accepted: the request
// id must belong to the minter key and asset, and the authenticator must
// sign it.
func checkCommitment(c *types.MintCommitment) error {
	if c == nil {
		return errors.New("commitment is nil")
	}
	pub, err := hex.DecodeString(c.MinterPublicKey)
	if err != nil {
		return errors.Wrap(err, "minter public key")
	}
	assetID, err := hex.DecodeString(c.AssetID)
	if err != nil {
		return errors.Wrap(err, "asset id")
	}
	if hex.EncodeToString(identity.ComputeRequestID(pub, assetID)) != c.RequestID {
		return errors.Errorf("request id %s is not bound to minter and asset", c.RequestID)
	}
	if c.Authenticator.PublicKey != c.MinterPublicKey {
		return errors.New("authenticator key is not the minter key")
	}
	return identity.VerifyAuthenticator(c.RequestID, c.TransactionHash, c.Authenticator)
}
