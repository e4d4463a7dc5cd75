package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// zeroWidth are the invisible characters that show up in copy-pasted addresses.
var zeroWidth = strings.NewReplacer(
	"\u200B", "",
	"\u200C", "",
	"\u200D", "",
	"\uFEFF", "",
)

var hexAddress = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// SanitizeAddress trims whitespace and removes zero-width characters.
func SanitizeAddress(raw string) string {
	return strings.TrimSpace(zeroWidth.Replace(raw))
}

// ValidateAddress sanitizes raw and returns the checksummed address.
// Anything other than 0x + 40 hex digits after sanitizing is rejected, as is
// a mixed-case address whose EIP-55 checksum does not match.
func ValidateAddress(raw string) (common.Address, error) {
	s := SanitizeAddress(raw)
	if s == "" {
		return common.Address{}, fmt.Errorf("address cannot be empty")
	}
	if !hexAddress.MatchString(s) {
		return common.Address{}, fmt.Errorf("malformed address %q", s)
	}
	addr := common.HexToAddress(s)
	body := s[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) && addr.Hex() != s {
		return common.Address{}, fmt.Errorf("bad checksum for address %s", s)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address")
	}
	return addr, nil
}

// ValidateAmount checks that an amount is strictly positive.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be greater than zero, got %s", amount.String())
	}
	return nil
}

// ParseAmountWithDecimals scales a decimal amount to the smallest unit of an
// asset with the given precision. Amounts carrying more fractional digits
// than the asset supports are rejected instead of silently truncated.
func ParseAmountWithDecimals(amount decimal.Decimal, decimals uint8) (*big.Int, error) {
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}

	scaled := amount.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("amount %s exceeds %d decimals", amount.String(), decimals)
	}

	return scaled.BigInt(), nil
}

// FormatAmountFromBigInt formats a smallest-unit amount as a decimal string.
func FormatAmountFromBigInt(amount *big.Int, decimals uint8) string {
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}
