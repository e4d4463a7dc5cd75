package clients

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
	{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var erc20 = mustParseABI(erc20ABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse abi: %v", err))
	}
	return parsed
}

// PackERC20Transfer encodes transfer(to, value).
func PackERC20Transfer(to common.Address, value *big.Int) ([]byte, error) {
	return erc20.Pack("transfer", to, value)
}

// PackERC20Decimals encodes decimals().
func PackERC20Decimals() ([]byte, error) {
	return erc20.Pack("decimals")
}

// UnpackERC20Decimals decodes the return data of decimals().
func UnpackERC20Decimals(out []byte) (uint8, error) {
	if len(out) == 0 {
		return 0, fmt.Errorf("empty decimals() result")
	}
	vals, err := erc20.Unpack("decimals", out)
	if err != nil {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	if len(vals) != 1 {
		return 0, fmt.Errorf("unexpected decimals() result length %d", len(vals))
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals() type %T", vals[0])
	}
	return d, nil
}
