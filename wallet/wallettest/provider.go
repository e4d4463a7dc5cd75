// Package wallettest provides an in-memory wallet.Provider for tests.
package wallettest

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/vitwit/web3checkout/utils"
	"github.com/vitwit/web3checkout/wallet"
)

// Provider records every call and answers from its fields.
type Provider struct {
	ProviderName string
	Canonical    bool
	Key          *ecdsa.PrivateKey

	AccountsErr error
	ChainErr    error
	SignErr     error
	CallErr     error
	SendErr     error
	WaitErr     error

	// RefuseSwitch rejects network switch requests with code 4001.
	RefuseSwitch bool
	// Decimals is returned from decimals() calls.
	Decimals uint8
	// Reverted makes receipts report a failed status.
	Reverted bool
	// SignGate, if set, blocks SignMessage until it is closed.
	SignGate chan struct{}
	// WaitGate, if set, blocks Wait until it is closed.
	WaitGate chan struct{}
	// OnSend runs after a transaction is accepted.
	OnSend func(wallet.TxRequest)

	mu       sync.Mutex
	account  common.Address
	chainID  *big.Int
	feed     event.Feed
	counts   map[string]int
	sent     []wallet.TxRequest
	messages [][]byte
}

var _ wallet.Provider = (*Provider)(nil)

// New returns a provider with a fresh key on chainID.
func New(chainID uint64) *Provider {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	return &Provider{
		ProviderName: "test-wallet",
		Key:          key,
		Decimals:     6,
		account:      crypto.PubkeyToAddress(key.PublicKey),
		chainID:      new(big.Int).SetUint64(chainID),
		counts:       map[string]int{},
	}
}

func (p *Provider) Account() common.Address { return p.account }

func (p *Provider) count(name string) {
	p.mu.Lock()
	p.counts[name]++
	p.mu.Unlock()
}

// Calls returns how often method was invoked.
func (p *Provider) Calls(method string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[method]
}

func (p *Provider) Sent() []wallet.TxRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]wallet.TxRequest(nil), p.sent...)
}

func (p *Provider) Messages() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.messages...)
}

// SetChain changes the chain without emitting an event.
func (p *Provider) SetChain(id uint64) {
	p.mu.Lock()
	p.chainID = new(big.Int).SetUint64(id)
	p.mu.Unlock()
}

// Emit delivers ev to subscribers.
func (p *Provider) Emit(ev wallet.Event) {
	p.feed.Send(ev)
}

func (p *Provider) Name() string      { return p.ProviderName }
func (p *Provider) IsCanonical() bool { return p.Canonical }

func (p *Provider) RequestAccounts(context.Context) ([]common.Address, error) {
	p.count("RequestAccounts")
	if p.AccountsErr != nil {
		return nil, p.AccountsErr
	}
	return []common.Address{p.account}, nil
}

func (p *Provider) ChainID(context.Context) (*big.Int, error) {
	p.count("ChainID")
	if p.ChainErr != nil {
		return nil, p.ChainErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return new(big.Int).Set(p.chainID), nil
}

func (p *Provider) SwitchChain(_ context.Context, chainIDHex string) error {
	p.count("SwitchChain")
	if p.RefuseSwitch {
		return wallet.ErrUserRejected
	}
	id, err := hexutil.DecodeBig(chainIDHex)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.chainID = id
	p.mu.Unlock()
	p.feed.Send(wallet.Event{Kind: wallet.ChainChanged, ChainID: id})
	return nil
}

func (p *Provider) SignMessage(_ context.Context, _ common.Address, message []byte) (string, error) {
	p.count("SignMessage")
	p.mu.Lock()
	p.messages = append(p.messages, append([]byte(nil), message...))
	p.mu.Unlock()
	if p.SignGate != nil {
		<-p.SignGate
	}
	if p.SignErr != nil {
		return "", p.SignErr
	}
	return utils.SignPersonalMessage(message, p.Key)
}

func (p *Provider) CallContract(context.Context, ethereum.CallMsg) ([]byte, error) {
	p.count("CallContract")
	if p.CallErr != nil {
		return nil, p.CallErr
	}
	return common.LeftPadBytes([]byte{p.Decimals}, 32), nil
}

func (p *Provider) SendTransaction(_ context.Context, req wallet.TxRequest) (wallet.PendingTx, error) {
	p.count("SendTransaction")
	if p.SendErr != nil {
		return nil, p.SendErr
	}
	p.mu.Lock()
	p.sent = append(p.sent, req)
	n := len(p.sent)
	p.mu.Unlock()

	if p.OnSend != nil {
		p.OnSend(req)
	}
	hash := crypto.Keccak256Hash(p.account.Bytes(), big.NewInt(int64(n)).Bytes())
	return &pending{p: p, hash: hash}, nil
}

func (p *Provider) SubscribeEvents(ch chan<- wallet.Event) event.Subscription {
	return p.feed.Subscribe(ch)
}

type pending struct {
	p    *Provider
	hash common.Hash
}

func (t *pending) Hash() common.Hash { return t.hash }

func (t *pending) Wait(ctx context.Context) (*gethtypes.Receipt, error) {
	if t.p.WaitGate != nil {
		select {
		case <-t.p.WaitGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if t.p.WaitErr != nil {
		return nil, t.p.WaitErr
	}
	status := gethtypes.ReceiptStatusSuccessful
	if t.p.Reverted {
		status = gethtypes.ReceiptStatusFailed
	}
	return &gethtypes.Receipt{Status: status, TxHash: t.hash, BlockNumber: big.NewInt(1)}, nil
}
