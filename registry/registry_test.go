package registry

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitwit/web3checkout/types"
)

func TestNormalizeChainAliases(t *testing.T) {
	r := Default()

	cases := map[string]types.ChainKey{
		"ETHEREUM": types.ChainEthereum,
		"ethereum": types.ChainEthereum,
		"ETH":      types.ChainEthereum,
		"eth":      types.ChainEthereum,
		"BSC":      types.ChainBNB,
		"Binance":  types.ChainBNB,
		"bnb":      types.ChainBNB,
		"POLYGON":  types.ChainPolygon,
		" matic ":  types.ChainPolygon,
	}
	for raw, want := range cases {
		got, err := r.NormalizeChain(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}
}

func TestNormalizeChainUnknownIsConfigError(t *testing.T) {
	_, err := Default().NormalizeChain("SOLANA")
	require.Error(t, err)
	assert.True(t, errors.Is(err, &types.CheckoutError{Code: types.ReasonConfigError}))

	_, err = Default().NormalizeChain("")
	require.Error(t, err)
}

func TestResolveIsTotalOverOfferedSymbols(t *testing.T) {
	r := Default()
	for _, key := range r.Keys() {
		c, ok := r.Chain(key)
		require.True(t, ok)
		for _, sym := range c.Symbols() {
			_, tok, err := r.Resolve(key, sym)
			require.NoError(t, err, "%s/%s", key, sym)
			assert.NotEmpty(t, tok.PriceFeedID)
			if tok.Contract != nil {
				assert.True(t, common.IsHexAddress(*tok.Contract), "%s/%s", key, sym)
			}
		}
		_, native, err := r.Resolve(key, c.NativeSymbol)
		require.NoError(t, err)
		assert.True(t, native.IsNative())
	}
}

func TestResolveUnknownCoin(t *testing.T) {
	_, _, err := Default().Resolve(types.ChainBNB, "SHIB")
	require.Error(t, err)
	assert.Equal(t, types.ReasonConfigError, types.ReasonOf(err))
}

func TestRecipientIsChecksummed(t *testing.T) {
	c, ok := Default().Chain(types.ChainEthereum)
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress(merchantRecipient).Hex(), c.Recipient)
	assert.Equal(t, "0x1", c.ChainIDHex())

	p, _ := Default().Chain(types.ChainPolygon)
	assert.Equal(t, "0x89", p.ChainIDHex())
}

func TestChainReturnsCopy(t *testing.T) {
	c, _ := Default().Chain(types.ChainEthereum)
	delete(c.Tokens, "USDT")

	_, _, err := Default().Resolve(types.ChainEthereum, "USDT")
	assert.NoError(t, err)
}

func TestNewRejectsBadTables(t *testing.T) {
	_, err := New(types.ChainConfig{Key: "x", Recipient: "nope", Tokens: map[string]types.TokenConfig{"X": {PriceFeedID: "x"}}})
	assert.Error(t, err)

	_, err = New(types.ChainConfig{Key: "x", Recipient: merchantRecipient, Tokens: map[string]types.TokenConfig{"X": {}}})
	assert.Error(t, err)

	_, err = New(types.ChainConfig{Key: "x", Recipient: merchantRecipient})
	assert.Error(t, err)
}
