// Package verifier decides whether a minted artifact is genuine using only
// the artifact itself, the origin chain and the target network's inclusion
// rules. It shares no state with the minting path.
package verifier

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/extractor"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
	"github.com/unicitynetwork/sol-bridge-go/core/logging"
	"github.com/unicitynetwork/sol-bridge-go/core/origin"
	"github.com/unicitynetwork/sol-bridge-go/core/target"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"go.uber.org/zap"
)

type CheckStatus string

const (
	Pass CheckStatus = "PASS"
	Fail CheckStatus = "FAIL"
	Warn CheckStatus = "WARN"
)

type Verdict string

const (
	Valid   Verdict = "VALID"
	Invalid Verdict = "INVALID"
)

// Check names, in the order they run.
const (
	CheckInclusionProof    = "inclusion_proof"
	CheckPayload           = "payload"
	CheckCommitment        = "commitment"
	CheckMinterSignature   = "minter_signature"
	CheckRecipient         = "recipient"
	CheckAssetIdentity     = "asset_identity"
	CheckOriginTransaction = "origin_transaction"
	CheckEmbeddedTx        = "embedded_transaction"
	CheckLockEvent         = "lock_event"
	CheckFinality          = "finality"
)

type Check struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail"`
}

// Report lists every check performed. Warnings do not affect the verdict.
type Report struct {
	Checks  []Check `json:"checks"`
	Verdict Verdict `json:"verdict"`
}

func (r *Report) add(name string, status CheckStatus, format string, args ...any) {
	r.Checks = append(r.Checks, Check{Name: name, Status: status, Detail: fmt.Sprintf(format, args...)})
}

func (r *Report) finish() *Report {
	r.Verdict = Valid
	for _, c := range r.Checks {
		if c.Status == Fail {
			r.Verdict = Invalid
		}
	}
	return r
}

func (r *Report) Valid() bool {
	return r.Verdict == Valid
}

// Failed returns the first failing check.
func (r *Report) Failed() (Check, bool) {
	for _, c := range r.Checks {
		if c.Status == Fail {
			return c, true
		}
	}
	return Check{}, false
}

// Print writes one line per check and the verdict.
func (r *Report) Print(w io.Writer) error {
	for _, c := range r.Checks {
		if _, err := fmt.Fprintf(w, "[%s] %-22s %s\n", c.Status, c.Name, c.Detail); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "verdict: %s\n", r.Verdict)
	return err
}

type Verifier struct {
	client    origin.Client
	inclusion target.InclusionVerifier
	programID string
	logger    *zap.Logger
}

type Option func(*Verifier)

func WithLogger(logger *zap.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

func New(client origin.Client, inclusion target.InclusionVerifier, programID string, options ...Option) *Verifier {
	v := &Verifier{client: client, inclusion: inclusion, programID: programID}
	for _, option := range options {
		option(v)
	}
	v.logger = logging.Or(v.logger).With(zap.String("component", "verifier"))
	return v
}

// VerifyFile loads and verifies an artifact file.
func (v *Verifier) VerifyFile(ctx context.Context, path string) (*Report, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var a types.MintedArtifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, errors.Wrapf(err, "decode artifact %s", path)
	}
	return v.Verify(ctx, &a), nil
}

// Verify runs every check it can. Later checks that depend on a failed
// earlier one are skipped.
func (v *Verifier) Verify(ctx context.Context, a *types.MintedArtifact) *Report {
	r := &Report{}
	defer func() {
		v.logger.Info("artifact verified",
			zap.String("token_id", a.Token.TokenID),
			zap.String("verdict", string(r.Verdict)),
			zap.Int("checks", len(r.Checks)))
	}()

	v.checkInclusion(ctx, r, a)

	payload, err := a.DecodePayload()
	if err != nil {
		r.add(CheckPayload, Fail, "%v", err)
		return r.finish()
	}
	ev, err := checkPayload(payload)
	if err != nil {
		r.add(CheckPayload, Fail, "%v", err)
		return r.finish()
	}
	r.add(CheckPayload, Pass, "%s payload for lock %s", payload.BridgeType, payload.LockEvent.LockID)

	commitment := identity.CommitmentString(payload.LockEvent, payload.OriginTransaction.Signature, payload.OriginTransaction.BlockHeight)
	r.add(CheckCommitment, Pass, "%s", commitment)

	sig, ok := v.checkSignature(r, a, payload, commitment)
	if ok {
		v.checkIdentity(r, a, payload, commitment, sig)
	}

	v.checkOrigin(ctx, r, payload, ev)
	return r.finish()
}

func (v *Verifier) checkInclusion(ctx context.Context, r *Report, a *types.MintedArtifact) {
	p := a.InclusionProof
	if p == nil {
		r.add(CheckInclusionProof, Fail, "artifact has no inclusion proof")
		return
	}
	if err := v.inclusion.VerifyInclusion(ctx, p); err != nil {
		r.add(CheckInclusionProof, Fail, "%v", err)
		return
	}
	if !strings.EqualFold(p.Authenticator.PublicKey, a.Token.MinterPublicKey) {
		r.add(CheckInclusionProof, Fail, "authenticator key %s is not the token's minter key %s", p.Authenticator.PublicKey, a.Token.MinterPublicKey)
		return
	}
	pub, errPub := hex.DecodeString(a.Token.MinterPublicKey)
	asset, errAsset := hex.DecodeString(a.Token.TokenID)
	if errPub != nil || errAsset != nil || hex.EncodeToString(identity.ComputeRequestID(pub, asset)) != p.RequestID {
		r.add(CheckInclusionProof, Fail, "request id %s does not belong to this token", p.RequestID)
		return
	}
	// the included transaction hash commits to every token field, payload included
	class, errClass := hex.DecodeString(a.Token.TokenType)
	salt, errSalt := hex.DecodeString(a.Token.Salt)
	payload, errPayload := hex.DecodeString(a.Token.Payload)
	if errClass != nil || errSalt != nil || errPayload != nil {
		r.add(CheckInclusionProof, Fail, "token type, salt or payload is not hex")
		return
	}
	txHash := hex.EncodeToString(identity.ComputeTransactionHash(asset, class, salt, payload, a.Token.Recipient))
	if !strings.EqualFold(txHash, p.TransactionHash) {
		r.add(CheckInclusionProof, Fail, "%v: token state hashes to %s, proof includes %s", types.ErrIdentityDerivationMismatch, txHash, p.TransactionHash)
		return
	}
	r.add(CheckInclusionProof, Pass, "leaf %d under root %s", p.LeafIndex, p.RootHash)
}

func checkPayload(p *types.BridgePayload) (types.LockEvent, error) {
	if p.BridgeType != types.BridgeTypeSolana {
		return types.LockEvent{}, errors.Errorf("bridge type %q, want %q", p.BridgeType, types.BridgeTypeSolana)
	}
	var missing []string
	for name, val := range map[string]string{
		"lockEvent.lockId":            p.LockEvent.LockID,
		"lockEvent.user":              p.LockEvent.User,
		"lockEvent.amount":            p.LockEvent.Amount,
		"lockEvent.unicityRecipient":  p.LockEvent.UnicityRecipient,
		"lockEvent.nonce":             p.LockEvent.Nonce,
		"originTransaction.signature": p.OriginTransaction.Signature,
		"minterSignature":             p.MinterSignature,
	} {
		if val == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return types.LockEvent{}, errors.Errorf("missing fields: %s", strings.Join(missing, ", "))
	}
	ev, err := p.LockEvent.Event()
	if err != nil {
		return ev, err
	}
	return ev, ev.Validate()
}

func (v *Verifier) checkSignature(r *Report, a *types.MintedArtifact, p *types.BridgePayload, commitment string) ([]byte, bool) {
	sig, err := hex.DecodeString(p.MinterSignature)
	if err != nil {
		r.add(CheckMinterSignature, Fail, "signature is not hex")
		return nil, false
	}
	digest := identity.CommitmentDigest(commitment)
	pub, err := identity.RecoverPublicKey(sig, digest)
	if err != nil {
		r.add(CheckMinterSignature, Fail, "%v", err)
		return nil, false
	}
	if !identity.VerifySignature(pub, digest, sig) {
		r.add(CheckMinterSignature, Fail, "signature does not verify under recovered key")
		return nil, false
	}
	if hex.EncodeToString(pub) != a.Token.MinterPublicKey {
		r.add(CheckMinterSignature, Fail, "recovered key %x is not the token's minter key %s", pub, a.Token.MinterPublicKey)
		return nil, false
	}
	r.add(CheckMinterSignature, Pass, "signed by %x", pub)

	addr := identity.AddressFromPublicKey(pub)
	recipient := p.LockEvent.UnicityRecipient
	switch {
	case recipient != a.Token.Recipient:
		r.add(CheckRecipient, Fail, "payload recipient %s differs from token recipient %s", recipient, a.Token.Recipient)
		return nil, false
	case extractor.CanonicalRecipient(strings.TrimPrefix(recipient, extractor.RecipientPrefix)) != recipient:
		r.add(CheckRecipient, Fail, "recipient %s is not a direct address", recipient)
		return nil, false
	case addr != recipient:
		r.add(CheckRecipient, Fail, "signer address %s is not recipient %s", addr, recipient)
		return nil, false
	}
	r.add(CheckRecipient, Pass, "%s", recipient)
	return sig, true
}

func (v *Verifier) checkIdentity(r *Report, a *types.MintedArtifact, p *types.BridgePayload, commitment string, sig []byte) {
	assetID := hex.EncodeToString(identity.ComputeAssetID(commitment, sig))
	if assetID != a.Token.TokenID {
		r.add(CheckAssetIdentity, Fail, "%v: derived %s, token declares %s", types.ErrIdentityDerivationMismatch, assetID, a.Token.TokenID)
		return
	}
	if salt := hex.EncodeToString(identity.ComputeSalt(commitment)); salt != a.Token.Salt {
		r.add(CheckAssetIdentity, Fail, "%v: salt %s, token declares %s", types.ErrIdentityDerivationMismatch, salt, a.Token.Salt)
		return
	}
	if p.OriginProgramID != v.programID {
		r.add(CheckAssetIdentity, Fail, "minted from program %s, expected %s", p.OriginProgramID, v.programID)
		return
	}
	class := hex.EncodeToString(identity.ComputeAssetClassID(p.BridgeType, p.OriginProgramID))
	if class != a.Token.TokenType {
		r.add(CheckAssetIdentity, Fail, "%v: asset class %s, token declares %s", types.ErrIdentityDerivationMismatch, class, a.Token.TokenType)
		return
	}
	r.add(CheckAssetIdentity, Pass, "asset %s", assetID)
}

func (v *Verifier) checkOrigin(ctx context.Context, r *Report, p *types.BridgePayload, claimed types.LockEvent) {
	sig := p.OriginTransaction.Signature
	recs, err := v.client.GetSignatureStatuses(ctx, []string{sig})
	switch {
	case err != nil:
		r.add(CheckOriginTransaction, Fail, "origin chain query failed: %v", err)
	case len(recs) == 0 || recs[0] == nil:
		r.add(CheckOriginTransaction, Fail, "%v: %s", types.ErrTransactionNotFound, sig)
	case recs[0].Failed():
		r.add(CheckOriginTransaction, Fail, "%v: %s", types.ErrTransactionFailed, extractor.DescribeTransactionError(recs[0].Err))
	case !recs[0].ConfirmationStatus.Valid():
		r.add(CheckOriginTransaction, Fail, "unknown confirmation status %q", recs[0].ConfirmationStatus)
	default:
		r.add(CheckOriginTransaction, Pass, "%s is %s at slot %d", sig, recs[0].ConfirmationStatus, recs[0].Slot)
	}

	embedded := p.OriginTransaction.RawTransaction
	if embedded.Empty() {
		r.add(CheckEmbeddedTx, Warn, "no embedded transaction, trusting signature existence only")
	} else if view, err := embedded.View(); err != nil {
		r.add(CheckEmbeddedTx, Fail, "%v", err)
	} else if view.PrimarySignature != sig {
		r.add(CheckEmbeddedTx, Fail, "%v: embedded %s, claimed %s", types.ErrSignatureMismatch, view.PrimarySignature, sig)
	} else {
		r.add(CheckEmbeddedTx, Pass, "embedded transaction signed %s", sig)
	}

	raw, err := v.client.GetTransaction(ctx, sig)
	switch {
	case err != nil:
		r.add(CheckLockEvent, Warn, "origin transaction unavailable: %v", err)
	case raw.Empty():
		r.add(CheckLockEvent, Warn, "origin transaction no longer retained")
	default:
		onChain, err := extractor.FindLockEvent(raw, v.programID, claimed.LockID)
		if err != nil {
			r.add(CheckLockEvent, Fail, "%v", err)
		} else if diff := compareEvents(onChain, claimed); diff != "" {
			r.add(CheckLockEvent, Fail, "artifact disagrees with origin log: %s", diff)
		} else {
			r.add(CheckLockEvent, Pass, "matches origin log")
		}
	}

	if p.Validation != nil && p.Validation.Status == types.StatusPendingValidation {
		r.add(CheckFinality, Warn, "minted before the origin block was verified: %s", p.Validation.Reason)
	}
}

func compareEvents(chain, claimed types.LockEvent) string {
	a, b := chain.Record(), claimed.Record()
	var diffs []string
	field := func(name, x, y string) {
		if x != y {
			diffs = append(diffs, fmt.Sprintf("%s %s != %s", name, y, x))
		}
	}
	field("lockId", a.LockID, b.LockID)
	field("user", a.User, b.User)
	field("amount", a.Amount, b.Amount)
	field("recipient", extractor.CanonicalRecipient(a.UnicityRecipient), extractor.CanonicalRecipient(b.UnicityRecipient))
	field("nonce", a.Nonce, b.Nonce)
	field("timestamp", fmt.Sprint(a.Timestamp), fmt.Sprint(b.Timestamp))
	return strings.Join(diffs, "; ")
}
