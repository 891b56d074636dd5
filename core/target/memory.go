package target

import (
	"context"
	"encoding/hex"
	"sync"

	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"go.uber.org/zap"
)

// MemoryCommitService is an in-process commit service. It enforces the same
// request id uniqueness as the network and issues inclusion proofs over an
// append-only tree of accepted commitments.
type MemoryCommitService struct {
	mu      sync.Mutex
	leaves  [][]byte
	index   map[string]int // request id -> leaf
	entries []*types.MintCommitment
	roots   map[string]uint64
	logger  *zap.Logger
}

var _ CommitService = (*MemoryCommitService)(nil)

// NewMemoryCommitService returns an empty service. A nil logger disables logging.
func NewMemoryCommitService(logger *zap.Logger) *MemoryCommitService {
	return &MemoryCommitService{
		index:  map[string]int{},
		roots:  map[string]uint64{},
		logger: logging.Or(logger).With(zap.String("component", "memory_commit_service")),
	}
}

// Submit accepts c and appends it to the tree.
//
// Returns:
//   - Handle whose ID is the request id
//   - types.ErrRequestIDExists if the request id was accepted before
//   - Error if the commitment is incomplete
func (s *MemoryCommitService) Submit(_ context.Context, c *types.MintCommitment) (Handle, error) {
	if err := checkCommitment(c); err != nil {
		return Handle{}, err
	}
	requestID, _ := hex.DecodeString(c.RequestID)
	txHash, err := hex.DecodeString(c.TransactionHash)
	if err != nil {
		return Handle{}, errors.Wrap(err, "transaction hash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[c.RequestID]; ok {
		return Handle{}, errors.Wrapf(types.ErrRequestIDExists, "request %s", c.RequestID)
	}
	leaf := LeafHash(requestID, txHash)
	s.index[c.RequestID] = len(s.leaves)
	s.leaves = append(s.leaves, leaf)
	cp := *c
	s.entries = append(s.entries, &cp)

	h := Handle{ID: hex.EncodeToString(leaf), RequestID: c.RequestID}
	s.logger.Debug("commitment accepted", zap.String("request_id", c.RequestID), zap.Int("leaf", len(s.leaves)-1))
	return h, nil
}

// WaitInclusion returns immediately; commitments are included on submit.
func (s *MemoryCommitService) WaitInclusion(ctx context.Context, h Handle) (*types.InclusionProof, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(types.ErrInclusionTimeout, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[h.RequestID]
	if !ok {
		return nil, errors.Errorf("unknown commitment %s", h.RequestID)
	}
	root, path := merklePath(s.leaves, i)
	rootHex := hex.EncodeToString(root)
	height := uint64(len(s.leaves))
	if _, seen := s.roots[rootHex]; !seen {
		s.roots[rootHex] = height
	}

	c := s.entries[i]
	proof := &types.InclusionProof{
		RequestID:       c.RequestID,
		TransactionHash: c.TransactionHash,
		Authenticator:   c.Authenticator,
		LeafIndex:       uint64(i),
		RootHash:        rootHex,
		BlockHeight:     s.roots[rootHex],
	}
	for _, p := range path {
		proof.Path = append(proof.Path, hex.EncodeToString(p))
	}
	return proof, nil
}

// VerifyInclusion checks the proof and that its root was issued here.
func (s *MemoryCommitService) VerifyInclusion(_ context.Context, proof *types.InclusionProof) error {
	if err := VerifyInclusionProof(proof); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roots[proof.RootHash]; !ok {
		return errors.Errorf("root %s was never issued", proof.RootHash)
	}
	return nil
}

// Len returns the number of accepted commitments.
func (s *MemoryCommitService) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.leaves)
}
