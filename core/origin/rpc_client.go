package origin

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RPC error codes the origin node uses for data that is not available.
const (
	codeBlockCleanedUp         = -32001
	codeBlockNotAvailable      = -32004
	codeSlotSkipped            = -32007
	codeLongTermStorageMissing = -32009
)

// max signatures per getSignatureStatuses request
const maxStatusBatch = 256

// RPCClient implements Client and Sender over JSON-RPC 2.0 HTTP.
type RPCClient struct {
	rpc        *rpc.Client
	limiter    *rate.Limiter
	commitment string
	httpClient *http.Client
	logger     *zap.Logger
}

var (
	_ Client = (*RPCClient)(nil)
	_ Sender = (*RPCClient)(nil)
)

type Option func(*RPCClient)

// WithRateLimit caps outgoing requests per second. rps <= 0 disables the limit.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *RPCClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithCommitment sets the commitment used for transaction and account reads.
func WithCommitment(commitment string) Option {
	return func(c *RPCClient) {
		c.commitment = commitment
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *RPCClient) {
		c.httpClient = hc
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *RPCClient) {
		c.logger = logger
	}
}

// Dial connects to the origin RPC endpoint.
//
// Example:
//
//	client, err := origin.Dial(ctx, "https://api.devnet.solana.com", origin.WithRateLimit(10, 5))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
func Dial(ctx context.Context, endpoint string, options ...Option) (*RPCClient, error) {
	c := &RPCClient{commitment: CommitmentConfirmed}
	for _, option := range options {
		option(c)
	}
	c.logger = logging.Or(c.logger)

	var dialOpts []rpc.ClientOption
	if c.httpClient != nil {
		dialOpts = append(dialOpts, rpc.WithHTTPClient(c.httpClient))
	}
	client, err := rpc.DialOptions(ctx, endpoint, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial origin rpc %s", endpoint)
	}
	c.rpc = client
	return c, nil
}

// Close releases the underlying connection.
func (c *RPCClient) Close() {
	c.rpc.Close()
}

func (c *RPCClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *RPCClient) call(ctx context.Context, result any, method string, args ...any) error {
	if err := c.wait(ctx); err != nil {
		return errors.WithStack(err)
	}
	if err := c.rpc.CallContext(ctx, result, method, args...); err != nil {
		return wrapRPCError(method, err)
	}
	return nil
}

// wrapRPCError marks transport failures as origin unavailability. Errors the
// node answered with are returned as they are.
func wrapRPCError(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return errors.Wrapf(err, "%s (code %d)", method, rpcErr.ErrorCode())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.Wrap(err, method)
	}
	return errors.Wrapf(types.ErrOriginUnavailable, "%s: %v", method, err)
}

func isNotAvailable(err error) bool {
	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.ErrorCode() {
	case codeBlockCleanedUp, codeBlockNotAvailable, codeSlotSkipped, codeLongTermStorageMissing:
		return true
	}
	return false
}

// GetTransaction fetches a transaction by signature in json encoding at the
// client's commitment.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - signature: Base58 transaction signature
//
// Returns:
//   - The transaction exactly as the node returned it
//   - nil, nil when the node has no record of it or it aged out of storage
//   - types.ErrOriginUnavailable wrapped around transport failures
//
// Example:
//
//	raw, err := client.GetTransaction(ctx, sig)
//	if err != nil {
//	    return err
//	}
//	if raw.Empty() {
//	    // not seen yet, poll again later
//	}
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (types.RawTransaction, error) {
	var raw json.RawMessage
	err := c.call(ctx, &raw, "getTransaction", signature, map[string]any{
		"encoding":                       "json",
		"commitment":                     c.commitment,
		"maxSupportedTransactionVersion": 0,
	})
	if err != nil {
		if isNotAvailable(err) {
			return nil, nil
		}
		return nil, err
	}
	tx := types.RawTransaction(raw)
	if tx.Empty() {
		return nil, nil
	}
	return tx, nil
}

type signatureStatus struct {
	Slot               uint64                   `json:"slot"`
	Confirmations      *uint64                  `json:"confirmations"`
	Err                json.RawMessage          `json:"err"`
	ConfirmationStatus types.ConfirmationStatus `json:"confirmationStatus"`
}

type statusesResponse struct {
	Value []*signatureStatus `json:"value"`
}

// GetSignatureStatuses batches lookups into chunks the node accepts and
// searches the full transaction history.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - signatures: Signatures to look up, in any number
//
// Returns:
//   - One record per signature in input order, nil where the chain has none
//   - Error if any batch element fails
func (c *RPCClient) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*types.ConfirmationRecord, error) {
	out := make([]*types.ConfirmationRecord, 0, len(signatures))
	var batch []rpc.BatchElem
	var chunks [][]string
	for start := 0; start < len(signatures); start += maxStatusBatch {
		end := min(start+maxStatusBatch, len(signatures))
		chunk := signatures[start:end]
		chunks = append(chunks, chunk)
		batch = append(batch, rpc.BatchElem{
			Method: "getSignatureStatuses",
			Args:   []any{chunk, map[string]any{"searchTransactionHistory": true}},
			Result: &statusesResponse{},
		})
	}
	if len(batch) == 0 {
		return out, nil
	}

	if err := c.wait(ctx); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
		return nil, wrapRPCError("getSignatureStatuses", err)
	}
	for i, elem := range batch {
		if elem.Error != nil {
			return nil, wrapRPCError("getSignatureStatuses", elem.Error)
		}
		resp := elem.Result.(*statusesResponse)
		if len(resp.Value) != len(chunks[i]) {
			return nil, errors.Errorf("getSignatureStatuses returned %d entries for %d signatures", len(resp.Value), len(chunks[i]))
		}
		for j, st := range resp.Value {
			if st == nil {
				out = append(out, nil)
				continue
			}
			out = append(out, &types.ConfirmationRecord{
				Signature:          chunks[i][j],
				ConfirmationStatus: st.ConfirmationStatus,
				Confirmations:      st.Confirmations,
				Err:                st.Err,
				Slot:               st.Slot,
			})
		}
	}
	return out, nil
}

// GetBlock fetches the finalized block header at slot, without transactions
// or rewards.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - slot: Origin slot of the block
//
// Returns:
//   - Block with hash, parent slot and block time
//   - nil, nil when the slot was skipped or its block was cleaned up
//   - Error if the request fails
//
// Example:
//
//	block, err := client.GetBlock(ctx, slot)
//	if err == nil && block == nil {
//	    // skipped slot
//	}
func (c *RPCClient) GetBlock(ctx context.Context, slot uint64) (*Block, error) {
	var block *Block
	err := c.call(ctx, &block, "getBlock", slot, map[string]any{
		"encoding":                       "json",
		"transactionDetails":             "none",
		"rewards":                        false,
		"commitment":                     CommitmentFinalized,
		"maxSupportedTransactionVersion": 0,
	})
	if err != nil {
		if isNotAvailable(err) {
			c.logger.Debug("block not available", zap.Uint64("slot", slot), zap.Error(err))
			return nil, nil
		}
		return nil, err
	}
	return block, nil
}

// GetSlot returns the newest slot at commitment, e.g. CommitmentFinalized.
func (c *RPCClient) GetSlot(ctx context.Context, commitment string) (uint64, error) {
	var slot uint64
	if err := c.call(ctx, &slot, "getSlot", map[string]any{"commitment": commitment}); err != nil {
		return 0, err
	}
	return slot, nil
}

// GetSignaturesForAddress fetches one page of signatures mentioning address,
// newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - address: Account or program address
//   - opts: Before and Until signatures bounding the page, and its Limit
//
// Returns:
//   - Up to opts.Limit entries; fewer means the history is exhausted
//   - Error if the request fails
func (c *RPCClient) GetSignaturesForAddress(ctx context.Context, address string, opts SignaturesOptions) ([]SignatureInfo, error) {
	cfg := map[string]any{"commitment": c.commitment}
	if opts.Limit > 0 {
		cfg["limit"] = opts.Limit
	}
	if opts.Before != "" {
		cfg["before"] = opts.Before
	}
	if opts.Until != "" {
		cfg["until"] = opts.Until
	}
	var infos []SignatureInfo
	if err := c.call(ctx, &infos, "getSignaturesForAddress", address, cfg); err != nil {
		return nil, err
	}
	return infos, nil
}

type accountInfoResponse struct {
	Value *struct {
		Lamports   uint64   `json:"lamports"`
		Owner      string   `json:"owner"`
		Executable bool     `json:"executable"`
		Data       []string `json:"data"`
	} `json:"value"`
}

// GetAccountInfo returns the decoded account, or nil when it does not exist.
func (c *RPCClient) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	var resp accountInfoResponse
	err := c.call(ctx, &resp, "getAccountInfo", address, map[string]any{
		"encoding":   "base64",
		"commitment": c.commitment,
	})
	if err != nil {
		return nil, err
	}
	if resp.Value == nil {
		return nil, nil
	}
	info := &AccountInfo{
		Lamports:   resp.Value.Lamports,
		Owner:      resp.Value.Owner,
		Executable: resp.Value.Executable,
	}
	if len(resp.Value.Data) > 0 {
		if info.Data, err = base64.StdEncoding.DecodeString(resp.Value.Data[0]); err != nil {
			return nil, errors.Wrap(err, "decode account data")
		}
	}
	return info, nil
}

func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (string, error) {
	var resp struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	if err := c.call(ctx, &resp, "getLatestBlockhash", map[string]any{"commitment": CommitmentFinalized}); err != nil {
		return "", err
	}
	return resp.Value.Blockhash, nil
}

// SendTransaction submits a signed wire transaction and returns its signature.
// Preflight runs at the client's commitment.
func (c *RPCClient) SendTransaction(ctx context.Context, signedTx []byte) (string, error) {
	var sig string
	err := c.call(ctx, &sig, "sendTransaction", base64.StdEncoding.EncodeToString(signedTx), map[string]any{
		"encoding":            "base64",
		"preflightCommitment": c.commitment,
	})
	if err != nil {
		return "", err
	}
	return sig, nil
}
