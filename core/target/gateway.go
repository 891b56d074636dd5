package target

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	kwilTypes "github.com/trufnetwork/kwil-db/core/types"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"go.uber.org/zap"
)

// Actions of the commit service deployment.
const (
	ActionMint         = "bridge_mint"
	ActionGetMintProof = "get_mint_proof"
)

const (
	DefaultPollInterval = time.Second
	pathSeparator       = ","
)

// duplicateMarkers are substrings of the gateway log that signal a rejected
// duplicate request id.
var duplicateMarkers = []string{"request id already exists", "duplicate key"}

// GatewayCommitService submits commitments to a remote commit service
// through a Transport.
type GatewayCommitService struct {
	Transport    Transport `validate:"required"`
	Namespace    string
	PollInterval time.Duration
	logger       *zap.Logger
}

var _ CommitService = (*GatewayCommitService)(nil)

// GatewayOption configures a GatewayCommitService.
type GatewayOption func(*GatewayCommitService)

// WithNamespace sets the schema namespace of the commit service actions.
func WithNamespace(ns string) GatewayOption {
	return func(s *GatewayCommitService) {
		s.Namespace = ns
	}
}

func WithPollInterval(d time.Duration) GatewayOption {
	return func(s *GatewayCommitService) {
		s.PollInterval = d
	}
}

func WithGatewayLogger(logger *zap.Logger) GatewayOption {
	return func(s *GatewayCommitService) {
		s.logger = logger
	}
}

// NewGatewayCommitService creates a commit service client over transport.
//
// Parameters:
//   - transport: Transport to the commit service gateway (required)
//   - options: Optional namespace, poll interval and logger
//
// Returns:
//   - Configured GatewayCommitService
//   - Error if transport is missing
//
// Example:
//
//	svc, err := target.NewGatewayCommitService(transport,
//	    target.WithPollInterval(500*time.Millisecond),
//	    target.WithGatewayLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
func NewGatewayCommitService(transport Transport, options ...GatewayOption) (*GatewayCommitService, error) {
	s := &GatewayCommitService{Transport: transport, PollInterval: DefaultPollInterval}
	for _, option := range options {
		option(s)
	}
	if err := validator.New().Struct(s); err != nil {
		return nil, errors.WithStack(err)
	}
	s.logger = logging.Or(s.logger).With(zap.String("component", "gateway_commit_service"))
	return s, nil
}

// Submit broadcasts a mint commitment and returns a handle for WaitInclusion.
// The commitment is checked locally before anything is sent.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - c: Commitment with request id, transaction hash, token fields and authenticator
//
// Returns:
//   - Handle carrying the broadcast transaction hash and the request id
//   - types.ErrRequestIDExists if the service already holds the request id
//   - Error if the commitment is incomplete or the broadcast fails
//
// Example:
//
//	h, err := svc.Submit(ctx, commitment)
//	if errors.Is(err, types.ErrRequestIDExists) {
//	    // already minted
//	}
func (s *GatewayCommitService) Submit(ctx context.Context, c *types.MintCommitment) (Handle, error) {
	if err := checkCommitment(c); err != nil {
		return Handle{}, err
	}
	args := []any{
		c.RequestID,
		c.TransactionHash,
		c.AssetID,
		c.AssetClassID,
		c.Salt,
		c.RecipientAddress,
		hex.EncodeToString(c.Payload),
		c.MinterPublicKey,
		c.MinterSignature,
		c.Authenticator.Signature,
		c.Authenticator.StateHash,
	}
	txHash, err := s.Transport.Execute(ctx, s.Namespace, ActionMint, [][]any{args})
	if err != nil {
		if isDuplicate(err.Error()) {
			return Handle{}, errors.Wrapf(types.ErrRequestIDExists, "request %s", c.RequestID)
		}
		return Handle{}, errors.Wrap(err, "execute "+ActionMint)
	}
	s.logger.Debug("commitment broadcast", zap.String("request_id", c.RequestID), zap.String("tx", txHash.String()))
	return Handle{ID: txHash.String(), RequestID: c.RequestID}, nil
}

// WaitInclusion blocks until the broadcast transaction is committed, then
// fetches the inclusion proof of the handle's request id.
//
// Parameters:
//   - ctx: Context bounding the wait; its deadline is the inclusion timeout
//   - h: Handle returned by Submit
//
// Returns:
//   - InclusionProof for the request id
//   - types.ErrInclusionTimeout if ctx ends first
//   - types.ErrRequestIDExists if the transaction was rejected as a duplicate
//   - Error if the transaction failed or no proof is available
//
// Example:
//
//	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
//	defer cancel()
//	proof, err := svc.WaitInclusion(ctx, h)
func (s *GatewayCommitService) WaitInclusion(ctx context.Context, h Handle) (*types.InclusionProof, error) {
	hash, err := parseHash(h.ID)
	if err != nil {
		return nil, err
	}
	res, err := s.Transport.WaitTx(ctx, hash, s.PollInterval)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(types.ErrInclusionTimeout, err.Error())
		}
		return nil, errors.Wrap(err, "wait for "+h.ID)
	}
	if res == nil || res.Result == nil {
		return nil, errors.Errorf("transaction %s returned no result", h.ID)
	}
	if res.Result.Code != uint32(kwilTypes.CodeOk) {
		if isDuplicate(res.Result.Log) {
			return nil, errors.Wrapf(types.ErrRequestIDExists, "request %s", h.RequestID)
		}
		return nil, errors.Errorf("commitment %s rejected (code %d): %s", h.ID, res.Result.Code, res.Result.Log)
	}
	return s.fetchProof(ctx, h.RequestID)
}

// VerifyInclusion checks the proof and that the service still reports the
// same leaf for its request.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - proof: Inclusion proof taken from a minted artifact
//
// Returns:
//   - nil if the path hashes to the root and the service agrees on the leaf
//   - Error describing the first mismatch or the failed lookup
func (s *GatewayCommitService) VerifyInclusion(ctx context.Context, proof *types.InclusionProof) error {
	if err := VerifyInclusionProof(proof); err != nil {
		return err
	}
	current, err := s.fetchProof(ctx, proof.RequestID)
	if err != nil {
		return err
	}
	if current.LeafIndex != proof.LeafIndex || current.TransactionHash != proof.TransactionHash {
		return errors.Errorf("service reports a different leaf for request %s", proof.RequestID)
	}
	return nil
}

type mintProofRow struct {
	RequestID       string `json:"request_id"`
	TransactionHash string `json:"transaction_hash"`
	PublicKey       string `json:"public_key"`
	Signature       string `json:"signature"`
	StateHash       string `json:"state_hash"`
	LeafIndex       int64  `json:"leaf_index"`
	Path            string `json:"path"`
	RootHash        string `json:"root_hash"`
	BlockHeight     int64  `json:"block_height"`
}

func (s *GatewayCommitService) fetchProof(ctx context.Context, requestID string) (*types.InclusionProof, error) {
	result, err := s.Transport.Call(ctx, s.Namespace, ActionGetMintProof, []any{requestID})
	if err != nil || result.Error != nil {
		if err != nil {
			return nil, errors.WithStack(err)
		}
		return nil, errors.New(*result.Error)
	}
	rows, err := decodeRows[mintProofRow](result.QueryResult)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Errorf("no inclusion proof for request %s", requestID)
	}
	r := rows[0]
	proof := &types.InclusionProof{
		RequestID:       r.RequestID,
		TransactionHash: r.TransactionHash,
		Authenticator: types.Authenticator{
			PublicKey: r.PublicKey,
			Signature: r.Signature,
			StateHash: r.StateHash,
		},
		LeafIndex:   uint64(r.LeafIndex),
		RootHash:    r.RootHash,
		BlockHeight: uint64(r.BlockHeight),
	}
	if r.Path != "" {
		proof.Path = strings.Split(r.Path, pathSeparator)
	}
	return proof, nil
}

func parseHash(s string) (kwilTypes.Hash, error) {
	var h kwilTypes.Hash
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(h) {
		return h, errors.Errorf("invalid transaction hash %q", s)
	}
	copy(h[:], b)
	return h, nil
}

func isDuplicate(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range duplicateMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
