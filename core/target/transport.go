package target

import (
	"context"
	"time"

	"github.com/pkg/errors"
	clientType "github.com/trufnetwork/kwil-db/core/client/types"
	"github.com/trufnetwork/kwil-db/core/crypto"
	"github.com/trufnetwork/kwil-db/core/crypto/auth"
	"github.com/trufnetwork/kwil-db/core/gatewayclient"
	"github.com/trufnetwork/kwil-db/core/log"
	kwilTypes "github.com/trufnetwork/kwil-db/core/types"
	"github.com/unicitynetwork/sol-bridge-go/core/identity"
)

// Transport is the communication layer to a gateway-fronted commit service
// deployment. HTTPTransport is the default; tests substitute a mock.
type Transport interface {
	// Call executes a read-only action.
	Call(ctx context.Context, namespace string, action string, inputs []any) (*kwilTypes.CallResult, error)

	// Execute submits a signed write action and returns its transaction hash.
	Execute(ctx context.Context, namespace string, action string, inputs [][]any, opts ...clientType.TxOpt) (kwilTypes.Hash, error)

	// WaitTx polls until the transaction is included or ctx ends.
	WaitTx(ctx context.Context, txHash kwilTypes.Hash, interval time.Duration) (*kwilTypes.TxQueryResponse, error)

	ChainID() string

	// Signer returns nil in read-only mode.
	Signer() auth.Signer
}

// HTTPTransport implements Transport with kwil-db's GatewayClient.
type HTTPTransport struct {
	gatewayClient *gatewayclient.GatewayClient
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport connects to provider. signer and logger may be nil.
func NewHTTPTransport(ctx context.Context, provider string, signer auth.Signer, logger log.Logger) (*HTTPTransport, error) {
	opts := &gatewayclient.GatewayOptions{
		Options: *clientType.DefaultOptions(),
	}
	if signer != nil {
		opts.Signer = signer
	}
	if logger != nil {
		opts.Logger = logger
	}

	gwClient, err := gatewayclient.NewClient(ctx, provider, opts)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gateway client")
	}
	return &HTTPTransport{gatewayClient: gwClient}, nil
}

func (t *HTTPTransport) Call(ctx context.Context, namespace string, action string, inputs []any) (*kwilTypes.CallResult, error) {
	return t.gatewayClient.Call(ctx, namespace, action, inputs)
}

func (t *HTTPTransport) Execute(ctx context.Context, namespace string, action string, inputs [][]any, opts ...clientType.TxOpt) (kwilTypes.Hash, error) {
	return t.gatewayClient.Execute(ctx, namespace, action, inputs, opts...)
}

func (t *HTTPTransport) WaitTx(ctx context.Context, txHash kwilTypes.Hash, interval time.Duration) (*kwilTypes.TxQueryResponse, error) {
	return t.gatewayClient.WaitTx(ctx, txHash, interval)
}

func (t *HTTPTransport) ChainID() string {
	return t.gatewayClient.ChainID()
}

func (t *HTTPTransport) Signer() auth.Signer {
	return t.gatewayClient.Signer()
}

// SignerFromMinterKey authenticates gateway transactions with the minter's
// own secp256k1 key.
func SignerFromMinterKey(k *identity.MinterKey) (auth.Signer, error) {
	pk, err := crypto.Secp256k1PrivateKeyFromHex(k.SecretHex())
	if err != nil {
		return nil, errors.Wrap(err, "convert minter key")
	}
	return &auth.EthPersonalSigner{Key: *pk}, nil
}
