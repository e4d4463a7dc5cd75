// Package registry holds the static chain and token tables the checkout
// accepts payments on.
package registry

import (
	"fmt"
	"maps"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/vitwit/web3checkout/types"
)

// Merchant wallet, identical on every chain.
const merchantRecipient = "0x3cfde8c9a3f1804aa9828be38a966762d98dced1"

// aliases maps shop-side chain names onto registry keys.
var aliases = map[string]types.ChainKey{
	"ETH":      types.ChainEthereum,
	"ETHEREUM": types.ChainEthereum,
	"BSC":      types.ChainBNB,
	"BNB":      types.ChainBNB,
	"BINANCE":  types.ChainBNB,
	"POLYGON":  types.ChainPolygon,
	"MATIC":    types.ChainPolygon,
}

// Registry is an immutable chain table.
type Registry struct {
	chains map[types.ChainKey]types.ChainConfig
}

var defaultRegistry = MustNew(defaultChains()...)

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// New validates and indexes the given chains. Recipients are stored in
// checksummed form.
func New(chains ...types.ChainConfig) (*Registry, error) {
	r := &Registry{chains: make(map[types.ChainKey]types.ChainConfig, len(chains))}
	for _, c := range chains {
		if c.Key == "" {
			return nil, fmt.Errorf("chain without key")
		}
		if _, dup := r.chains[c.Key]; dup {
			return nil, fmt.Errorf("duplicate chain %s", c.Key)
		}
		if !common.IsHexAddress(c.Recipient) {
			return nil, fmt.Errorf("chain %s: invalid recipient %q", c.Key, c.Recipient)
		}
		if len(c.Tokens) == 0 {
			return nil, fmt.Errorf("chain %s: no tokens", c.Key)
		}
		for sym, t := range c.Tokens {
			if t.PriceFeedID == "" {
				return nil, fmt.Errorf("chain %s: token %s has no price feed", c.Key, sym)
			}
		}
		c.Recipient = common.HexToAddress(c.Recipient).Hex()
		c.Tokens = maps.Clone(c.Tokens)
		r.chains[c.Key] = c
	}
	return r, nil
}

// MustNew is New that panics on an invalid table.
func MustNew(chains ...types.ChainConfig) *Registry {
	r, err := New(chains...)
	if err != nil {
		panic(err)
	}
	return r
}

// NormalizeChain maps a raw chain name from the order service onto a known
// key. Unknown names are a configuration error.
func (r *Registry) NormalizeChain(raw string) (types.ChainKey, error) {
	raw = strings.TrimSpace(raw)
	key, ok := aliases[strings.ToUpper(raw)]
	if !ok {
		key = types.ChainKey(strings.ToLower(raw))
	}
	if _, ok := r.chains[key]; !ok {
		return "", types.NewError(types.ReasonConfigError, fmt.Sprintf("unknown chain %q", raw), nil)
	}
	return key, nil
}

// Chain returns a copy of the chain entry.
func (r *Registry) Chain(key types.ChainKey) (types.ChainConfig, bool) {
	c, ok := r.chains[key]
	if !ok {
		return types.ChainConfig{}, false
	}
	c.Tokens = maps.Clone(c.Tokens)
	return c, true
}

// Resolve looks up a coin on a chain. Both must exist; there is no fallback.
func (r *Registry) Resolve(key types.ChainKey, coin string) (types.ChainConfig, types.TokenConfig, error) {
	c, ok := r.Chain(key)
	if !ok {
		return types.ChainConfig{}, types.TokenConfig{}, types.NewError(
			types.ReasonConfigError, fmt.Sprintf("unknown chain %q", key), nil)
	}
	t, ok := c.Tokens[strings.ToUpper(strings.TrimSpace(coin))]
	if !ok {
		return types.ChainConfig{}, types.TokenConfig{}, types.NewError(
			types.ReasonConfigError, fmt.Sprintf("coin %s not supported on %s", coin, c.DisplayName), nil)
	}
	return c, t, nil
}

// Keys lists the registered chains, sorted.
func (r *Registry) Keys() []types.ChainKey {
	out := make([]types.ChainKey, 0, len(r.chains))
	for k := range r.chains {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func addr(s string) *string {
	return &s
}

func defaultChains() []types.ChainConfig {
	return []types.ChainConfig{
		{
			Key:          types.ChainEthereum,
			DisplayName:  "Ethereum",
			ChainID:      1,
			NativeSymbol: "ETH",
			Recipient:    merchantRecipient,
			Explorer:     "https://etherscan.io",
			Tokens: map[string]types.TokenConfig{
				"ETH":  {Contract: nil, PriceFeedID: "ethereum"},
				"USDC": {Contract: addr("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"), PriceFeedID: "usd-coin"},
				"USDT": {Contract: addr("0xdac17f958d2ee523a2206206994597c13d831ec7"), PriceFeedID: "tether"},
				"DAI":  {Contract: addr("0x6b175474e89094c44da98b954eedeac495271d0f"), PriceFeedID: "dai"},
				"LINK": {Contract: addr("0x514910771af9ca656af840dff83e8264ecf986ca"), PriceFeedID: "chainlink"},
				"AAVE": {Contract: addr("0x7fc66500c84a76ad7e9c93437bfc5ac33e2ddae9"), PriceFeedID: "aave"},
				"SHIB": {Contract: addr("0x95ad61b0a150d79219dcf64e1e6cc01f0b64c4ce"), PriceFeedID: "shiba-inu"},
				"GRT":  {Contract: addr("0xc944e90c64b2c07662a292be6244bdf05cda44a7"), PriceFeedID: "the-graph"},
			},
		},
		{
			Key:          types.ChainBNB,
			DisplayName:  "BNB Chain",
			ChainID:      56,
			NativeSymbol: "BNB",
			Recipient:    merchantRecipient,
			Explorer:     "https://bscscan.com",
			Tokens: map[string]types.TokenConfig{
				"BNB":  {Contract: nil, PriceFeedID: "binancecoin"},
				"USDT": {Contract: addr("0x55d398326f99059fF775485246999027B3197955"), PriceFeedID: "tether"},
				"USDC": {Contract: addr("0x8ac76a51cc950d9822d68b83fe1ad97b32cd580d"), PriceFeedID: "usd-coin"},
			},
		},
		{
			Key:          types.ChainPolygon,
			DisplayName:  "Polygon",
			ChainID:      137,
			NativeSymbol: "MATIC",
			Recipient:    merchantRecipient,
			Explorer:     "https://polygonscan.com",
			Tokens: map[string]types.TokenConfig{
				"MATIC": {Contract: nil, PriceFeedID: "matic-network"},
				"USDT":  {Contract: addr("0xc2132d05d31c914a87c6611c10748aeb04b58e8f"), PriceFeedID: "tether"},
				"USDC":  {Contract: addr("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"), PriceFeedID: "usd-coin"},
				"DAI":   {Contract: addr("0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063"), PriceFeedID: "dai"},
				"LINK":  {Contract: addr("0x53e0bca35ec356bd5dddfebbd1fc0fd03fabad39"), PriceFeedID: "chainlink"},
				"AAVE":  {Contract: addr("0xd6df932a45c0f255f85145f286ea0b292b21c90b"), PriceFeedID: "aave"},
				// bridged WETH
				"ETH":  {Contract: addr("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"), PriceFeedID: "weth"},
				"WETH": {Contract: addr("0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619"), PriceFeedID: "weth"},
			},
		},
	}
}
