package identity

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/unicitynetwork/sol-bridge-go/core/extractor"
	"github.com/unicitynetwork/sol-bridge-go/core/types"
	"github.com/unicitynetwork/sol-bridge-go/core/util"
)

const (
	commitmentSeparator = "|"
	tokenIDSuffix       = "_tokenId"
	saltSuffix          = "_salt"
	lamportsPerSOLExp   = -9
)

// CommitmentString is the canonical pre-image of every derived identifier.
// The minting path and the verifier must agree on it byte for byte.
func CommitmentString(ev types.LockEventRecord, txSignature string, blockHeight uint64) string {
	return strings.Join([]string{
		ev.LockID,
		txSignature,
		strconv.FormatUint(blockHeight, 10),
		ev.User,
		ev.Amount,
		ev.Nonce,
		strconv.FormatInt(ev.Timestamp, 10),
	}, commitmentSeparator)
}

// CommitmentDigest is the message the minter signs.
func CommitmentDigest(commitment string) []byte {
	return util.Sha256([]byte(commitment))
}

// ComputeAssetID binds the commitment to the minter's signature.
func ComputeAssetID(commitment string, minterSignature []byte) []byte {
	return util.Sha256([]byte(commitment), minterSignature, []byte(tokenIDSuffix))
}

// ComputeAssetClassID is shared by every asset minted from one deployment.
func ComputeAssetClassID(bridgeTag, originProgramID string) []byte {
	return util.Sha256([]byte(bridgeTag), []byte(originProgramID))
}

func ComputeSalt(commitment string) []byte {
	return util.Sha256([]byte(commitment), []byte(saltSuffix))
}

// ComputeRequestID is the target network's uniqueness key.
func ComputeRequestID(minterPublicKey, assetID []byte) []byte {
	return util.Sha256(minterPublicKey, assetID)
}

// ComputeTransactionHash commits to the token state being created.
func ComputeTransactionHash(assetID, assetClassID, salt, payload []byte, recipient string) []byte {
	return util.Sha256(assetID, assetClassID, salt, util.Sha256(payload), []byte(recipient))
}

// AuthenticatorDigest is what the authenticator signature covers.
func AuthenticatorDigest(requestID, transactionHash []byte) []byte {
	return util.Sha256(requestID, transactionHash)
}

// LamportsToSOL renders an amount as a reduced decimal string.
func LamportsToSOL(lamports uint64) (string, error) {
	d, _, err := apd.NewFromString(strconv.FormatUint(lamports, 10))
	if err != nil {
		return "", errors.WithStack(err)
	}
	d.Exponent += lamportsPerSOLExp
	d.Reduce(d)
	return d.Text('f'), nil
}

// Config is everything a Deriver needs. The key is the only secret.
type Config struct {
	MinterKey       *MinterKey `validate:"required"`
	OriginProgramID string     `validate:"required"`
	BridgeTag       string
}

// Deriver produces mint commitments for one minter and one deployment.
type Deriver struct {
	key          *MinterKey
	programID    string
	bridgeTag    string
	assetClassID []byte
}

func NewDeriver(cfg Config) (*Deriver, error) {
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid deriver config")
	}
	if cfg.BridgeTag == "" {
		cfg.BridgeTag = types.BridgeTypeSolana
	}
	return &Deriver{
		key:          cfg.MinterKey,
		programID:    cfg.OriginProgramID,
		bridgeTag:    cfg.BridgeTag,
		assetClassID: ComputeAssetClassID(cfg.BridgeTag, cfg.OriginProgramID),
	}, nil
}

// MinterAddress is the address this deriver mints for.
func (d *Deriver) MinterAddress() string {
	return d.key.Address()
}

func (d *Deriver) MinterPublicKeyHex() string {
	return d.key.PublicKeyHex()
}

// Sign signs the digest of a commitment string.
func (d *Deriver) Sign(commitment string) ([]byte, error) {
	return d.key.SignDigest(CommitmentDigest(commitment))
}

// AssetClassID returns the deployment's asset class.
func (d *Deriver) AssetClassID() []byte {
	return append([]byte(nil), d.assetClassID...)
}

// Payload builds the opaque token payload for vp.
func (d *Deriver) Payload(vp *types.ValidatedProof, minterSignature []byte) (*types.BridgePayload, error) {
	ev := vp.LockEvent
	ev.UnicityRecipient = extractor.CanonicalRecipient(ev.UnicityRecipient)

	amount, err := strconv.ParseUint(ev.Amount, 10, 64)
	if err != nil {
		return nil, errors.Wrapf(types.ErrInvalidEventStructure, "amount %q", ev.Amount)
	}
	sol, err := LamportsToSOL(amount)
	if err != nil {
		return nil, err
	}
	validation := vp.Validation
	return &types.BridgePayload{
		BridgeType: d.bridgeTag,
		LockEvent:  ev,
		OriginTransaction: types.OriginTransaction{
			Signature:          vp.Signature,
			RawTransaction:     vp.RawTransaction,
			BlockHeight:        vp.BlockHeight,
			Slot:               vp.Slot,
			BlockTime:          vp.BlockTime,
			ConfirmationStatus: vp.Confirmation.ConfirmationStatus,
		},
		MinterSignature: hex.EncodeToString(minterSignature),
		BlockHash:       vp.BlockHash,
		OriginProgramID: d.programID,
		AmountSOL:       sol,
		Validation:      &validation,
	}, nil
}

// Derive builds the full commitment bundle for a validated proof.
func (d *Deriver) Derive(vp *types.ValidatedProof) (*types.MintCommitment, error) {
	if vp == nil {
		return nil, errors.Wrap(types.ErrInvalidEventStructure, "nil validated proof")
	}
	if _, err := vp.LockEvent.Event(); err != nil {
		return nil, err
	}

	commitment := CommitmentString(vp.LockEvent, vp.Signature, vp.BlockHeight)
	sig, err := d.Sign(commitment)
	if err != nil {
		return nil, err
	}
	assetID := ComputeAssetID(commitment, sig)
	salt := ComputeSalt(commitment)
	pub := d.key.PublicKey()
	requestID := ComputeRequestID(pub, assetID)

	payload, err := d.Payload(vp, sig)
	if err != nil {
		return nil, err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	recipient := payload.LockEvent.UnicityRecipient
	txHash := ComputeTransactionHash(assetID, d.assetClassID, salt, payloadJSON, recipient)

	authSig, err := d.key.SignDigest(AuthenticatorDigest(requestID, txHash))
	if err != nil {
		return nil, err
	}

	return &types.MintCommitment{
		AssetID:          hex.EncodeToString(assetID),
		AssetClassID:     hex.EncodeToString(d.assetClassID),
		Payload:          payloadJSON,
		Salt:             hex.EncodeToString(salt),
		RecipientAddress: recipient,
		MinterSignature:  hex.EncodeToString(sig),
		MinterPublicKey:  hex.EncodeToString(pub),
		RequestID:        hex.EncodeToString(requestID),
		TransactionHash:  hex.EncodeToString(txHash),
		Authenticator: types.Authenticator{
			PublicKey: hex.EncodeToString(pub),
			Signature: hex.EncodeToString(authSig),
			StateHash: hex.EncodeToString(util.Sha256(assetID, salt)),
		},
	}, nil
}

// VerifyAuthenticator checks that auth signs requestID and txHash, all hex.
func VerifyAuthenticator(requestIDHex, txHashHex string, auth types.Authenticator) error {
	requestID, err := hex.DecodeString(requestIDHex)
	if err != nil {
		return errors.Wrap(err, "request id")
	}
	txHash, err := hex.DecodeString(txHashHex)
	if err != nil {
		return errors.Wrap(err, "transaction hash")
	}
	pub, err := hex.DecodeString(auth.PublicKey)
	if err != nil {
		return errors.Wrap(err, "authenticator public key")
	}
	sig, err := hex.DecodeString(auth.Signature)
	if err != nil {
		return errors.Wrap(err, "authenticator signature")
	}
	if !VerifySignature(pub, AuthenticatorDigest(requestID, txHash), sig) {
		return errors.Wrap(types.ErrSignatureMismatch, "authenticator signature does not verify")
	}
	return nil
}
