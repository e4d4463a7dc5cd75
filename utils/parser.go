package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vitwit/web3checkout/types"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validator returns the shared validator instance.
func Validator() *validator.Validate {
	return validate
}

// ParseOrderEnvelope parses and validates the order lookup body.
func ParseOrderEnvelope(data []byte) (*types.OrderEnvelope, error) {
	var env types.OrderEnvelope

	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse order: %w", err)
	}

	env.Chain = strings.TrimSpace(env.Chain)
	env.Coin = strings.TrimSpace(env.Coin)
	env.Email = strings.TrimSpace(env.Email)

	if err := validate.Struct(&env); err != nil {
		return nil, fmt.Errorf("order validation failed: %w", err)
	}

	if env.FiatAmount.IsNegative() {
		return nil, fmt.Errorf("order validation failed: negative amount %s", env.FiatAmount.String())
	}

	return &env, nil
}
