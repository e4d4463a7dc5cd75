package types

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ChainKey identifies a chain in the registry.
type ChainKey string

const (
	ChainEthereum ChainKey = "eth"
	ChainBNB      ChainKey = "bnb"
	ChainPolygon  ChainKey = "matic"
)

func (k ChainKey) String() string {
	return string(k)
}

// NativeDecimals is the smallest-unit precision of every supported native asset.
const NativeDecimals = 18

// TokenConfig describes one payable asset on a chain.
// A nil Contract means the chain's native asset.
type TokenConfig struct {
	Contract    *string `json:"contract,omitempty"`
	PriceFeedID string  `json:"priceFeedId"`
}

// IsNative reports whether the token is the chain's native asset.
func (t TokenConfig) IsNative() bool {
	return t.Contract == nil
}

// ChainConfig is an immutable registry entry.
type ChainConfig struct {
	Key          ChainKey               `json:"key"`
	DisplayName  string                 `json:"displayName"`
	ChainID      uint64                 `json:"chainId"`
	NativeSymbol string                 `json:"nativeSymbol"`
	Recipient    string                 `json:"recipient"`
	Explorer     string                 `json:"explorer"`
	Tokens       map[string]TokenConfig `json:"tokens"`
}

// ChainIDHex returns the chain id in the 0x-prefixed form wallets expect.
func (c *ChainConfig) ChainIDHex() string {
	return hexutil.EncodeBig(new(big.Int).SetUint64(c.ChainID))
}

// Symbols returns the coin symbols offered on the chain, sorted.
func (c *ChainConfig) Symbols() []string {
	out := make([]string, 0, len(c.Tokens))
	for s := range c.Tokens {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// TxURL links a transaction hash on the chain's block explorer.
func (c *ChainConfig) TxURL(txHash string) string {
	return fmt.Sprintf("%s/tx/%s", c.Explorer, txHash)
}
