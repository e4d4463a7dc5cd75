package wallet_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/web3checkout/clients"
	"github.com/vitwit/web3checkout/utils"
	"github.com/vitwit/web3checkout/wallet"
)

func bigInt(v int64) *big.Int { return big.NewInt(v) }

func newKeyProvider(t *testing.T) (*wallet.KeyProvider, *simulated.Backend) {
	t.Helper()
	key, err := utils.PrivateKeyFromHex("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)

	from := crypto.PubkeyToAddress(key.PublicKey)
	funds := new(big.Int).Mul(big.NewInt(10), big.NewInt(1e18))
	backend := simulated.NewBackend(types.GenesisAlloc{from: {Balance: funds}})
	t.Cleanup(func() { _ = backend.Close() })

	evm, err := clients.NewEVMClientWithBackend(context.Background(), backend.Client())
	require.NoError(t, err)

	kp, err := wallet.NewKeyProvider(key, evm)
	require.NoError(t, err)
	return kp, backend
}

func TestKeyProviderSendAndWait(t *testing.T) {
	kp, backend := newKeyProvider(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	accounts, err := kp.RequestAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	to := common.HexToAddress("0x3cfde8c9a3f1804aa9828be38a966762d98dced1")
	pending, err := kp.SendTransaction(ctx, wallet.TxRequest{From: accounts[0], To: to, Value: big.NewInt(1e15)})
	require.NoError(t, err)

	backend.Commit()

	receipt, err := pending.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, pending.Hash(), receipt.TxHash)
}

func TestKeyProviderSignMessage(t *testing.T) {
	kp, _ := newKeyProvider(t)
	msg := []byte("Payment 50 EUR in 54.347826 USDT (Order A1)")

	sig, err := kp.SignMessage(context.Background(), kp.Address(), msg)
	require.NoError(t, err)

	ok, err := utils.VerifyPersonalMessage(msg, sig, kp.Address())
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = kp.SignMessage(context.Background(), common.HexToAddress("0x01"), msg)
	assert.Error(t, err)
}

func TestKeyProviderSwitchUnknownChain(t *testing.T) {
	kp, _ := newKeyProvider(t)

	before, err := kp.ChainID(context.Background())
	require.NoError(t, err)

	err = kp.SwitchChain(context.Background(), "0x38")
	var rpcErr *wallet.RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, wallet.CodeUnrecognizedChain, rpcErr.Code)

	after, err := kp.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// switching to the current chain is a no-op
	require.NoError(t, kp.SwitchChain(context.Background(), "0x539"))
}
