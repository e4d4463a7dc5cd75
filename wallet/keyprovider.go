package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/vitwit/web3checkout/clients"
	"github.com/vitwit/web3checkout/utils"
)

// KeyProvider is a Provider backed by a local private key and one JSON-RPC
// endpoint per chain. It is used by the command line payer and in tests.
type KeyProvider struct {
	key     *ecdsa.PrivateKey
	address common.Address
	feed    event.Feed

	mu       sync.Mutex
	backends map[uint64]*clients.EVMClient
	active   uint64
}

var _ Provider = (*KeyProvider)(nil)

// NewKeyProvider returns a provider that starts on the first backend's chain.
func NewKeyProvider(key *ecdsa.PrivateKey, backends ...*clients.EVMClient) (*KeyProvider, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required")
	}
	if len(backends) == 0 {
		return nil, fmt.Errorf("at least one rpc backend is required")
	}

	kp := &KeyProvider{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		backends: make(map[uint64]*clients.EVMClient, len(backends)),
	}
	for i, b := range backends {
		id := b.ChainID()
		if !id.IsUint64() {
			return nil, fmt.Errorf("chain id %s out of range", id)
		}
		kp.backends[id.Uint64()] = b
		if i == 0 {
			kp.active = id.Uint64()
		}
	}
	return kp, nil
}

func (k *KeyProvider) Name() string      { return "local-key" }
func (k *KeyProvider) IsCanonical() bool { return false }

func (k *KeyProvider) Address() common.Address { return k.address }

func (k *KeyProvider) RequestAccounts(context.Context) ([]common.Address, error) {
	return []common.Address{k.address}, nil
}

func (k *KeyProvider) ChainID(context.Context) (*big.Int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return new(big.Int).SetUint64(k.active), nil
}

func (k *KeyProvider) SwitchChain(_ context.Context, chainIDHex string) error {
	id, err := hexutil.DecodeBig(chainIDHex)
	if err != nil || !id.IsUint64() {
		return &RPCError{Code: -32602, Message: fmt.Sprintf("invalid chain id %q", chainIDHex)}
	}

	k.mu.Lock()
	if _, ok := k.backends[id.Uint64()]; !ok {
		k.mu.Unlock()
		return &RPCError{Code: CodeUnrecognizedChain, Message: fmt.Sprintf("unrecognized chain %s", chainIDHex)}
	}
	changed := k.active != id.Uint64()
	k.active = id.Uint64()
	k.mu.Unlock()

	if changed {
		k.feed.Send(Event{Kind: ChainChanged, ChainID: id})
	}
	return nil
}

func (k *KeyProvider) SignMessage(_ context.Context, account common.Address, message []byte) (string, error) {
	if account != k.address {
		return "", &RPCError{Code: CodeUnauthorized, Message: "unknown account " + account.Hex()}
	}
	return utils.SignPersonalMessage(message, k.key)
}

func (k *KeyProvider) CallContract(ctx context.Context, call ethereum.CallMsg) ([]byte, error) {
	return k.backend().CallContract(ctx, call)
}

func (k *KeyProvider) SendTransaction(ctx context.Context, req TxRequest) (PendingTx, error) {
	if req.From != (common.Address{}) && req.From != k.address {
		return nil, &RPCError{Code: CodeUnauthorized, Message: "unknown account " + req.From.Hex()}
	}
	b := k.backend()
	tx, err := b.SendTransfer(ctx, k.key, req.To, req.Value, req.Data)
	if err != nil {
		return nil, err
	}
	return &pendingTx{backend: b, hash: tx.Hash()}, nil
}

func (k *KeyProvider) SubscribeEvents(ch chan<- Event) event.Subscription {
	return k.feed.Subscribe(ch)
}

// Close closes every backend.
func (k *KeyProvider) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, b := range k.backends {
		b.Close()
	}
}

func (k *KeyProvider) backend() *clients.EVMClient {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.backends[k.active]
}

type pendingTx struct {
	backend *clients.EVMClient
	hash    common.Hash
}

func (p *pendingTx) Hash() common.Hash { return p.hash }

func (p *pendingTx) Wait(ctx context.Context) (*gethtypes.Receipt, error) {
	return p.backend.WaitMined(ctx, p.hash)
}
