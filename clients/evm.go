package clients

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthBackend is the subset of the JSON-RPC client used to build, sign and
// track transfers. *ethclient.Client satisfies it.
type EthBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error)
}

var _ bind.DeployBackend = (EthBackend)(nil)

type EVMClient struct {
	rpcURL  string
	eth     EthBackend
	closer  func()
	chainID *big.Int
}

// NewEVMClient dials rpcURL and reads its chain id.
func NewEVMClient(ctx context.Context, rpcURL string) (*EVMClient, error) {
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("ethereum rpc dial: %w", err)
	}
	c, err := NewEVMClientWithBackend(ctx, eth)
	if err != nil {
		eth.Close()
		return nil, err
	}
	c.rpcURL = rpcURL
	c.closer = eth.Close
	return c, nil
}

// NewEVMClientWithBackend wraps an already connected backend.
func NewEVMClientWithBackend(ctx context.Context, backend EthBackend) (*EVMClient, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("chain id fetch failed: %w", err)
	}
	return &EVMClient{eth: backend, chainID: chainID}, nil
}

func (c *EVMClient) ChainID() *big.Int { return new(big.Int).Set(c.chainID) }

func (c *EVMClient) Close() {
	if c.closer != nil {
		c.closer()
	}
}

func (c *EVMClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, nil)
}

// SendTransfer signs and broadcasts a legacy transaction from the key's
// address to `to`, carrying value and optional call data.
func (c *EVMClient) SendTransfer(
	ctx context.Context,
	key *ecdsa.PrivateKey,
	to common.Address,
	value *big.Int,
	data []byte,
) (*types.Transaction, error) {
	if key == nil {
		return nil, errors.New("no signer configured")
	}
	if value == nil {
		value = new(big.Int)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)

	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		return nil, fmt.Errorf("estimate gas failed: %w", err)
	}

	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest gas price failed: %w", err)
	}

	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("pending nonce failed: %w", err)
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), key)
	if err != nil {
		return nil, fmt.Errorf("sign tx failed: %w", err)
	}

	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, fmt.Errorf("send tx failed: %w", err)
	}
	return signed, nil
}

// WaitMined blocks until the receipt of hash is available or ctx ends.
func (c *EVMClient) WaitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	receipt, err := bind.WaitMinedHash(ctx, c.eth, hash)
	if err != nil {
		return nil, fmt.Errorf("receipt for %s: %w", hash.Hex(), err)
	}
	return receipt, nil
}
