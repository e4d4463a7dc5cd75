package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vitwit/web3checkout/clients"
	"github.com/vitwit/web3checkout/logger"
	"github.com/vitwit/web3checkout/metrics"
	"github.com/vitwit/web3checkout/registry"
	"github.com/vitwit/web3checkout/types"
)

// Verifier turns an (orderId, token) pair into a trusted Order.
type Verifier interface {
	Verify(ctx context.Context, orderID, token string) (*types.Order, error)
}

// OrderLookup fetches the raw order envelope. *clients.OrderClient satisfies it.
type OrderLookup interface {
	Lookup(ctx context.Context, orderID, token string) (*types.OrderEnvelope, error)
}

// VerificationService verifies orders against the shop backend and maps them
// onto the chain registry.
type VerificationService struct {
	lookup   OrderLookup
	registry *registry.Registry
	timeout  time.Duration
	logger   logger.Logger
	metrics  metrics.Recorder
}

var _ Verifier = (*VerificationService)(nil)

func NewVerificationService(lookup OrderLookup, reg *registry.Registry, timeout time.Duration, log logger.Logger, rec metrics.Recorder) *VerificationService {
	if reg == nil {
		reg = registry.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &VerificationService{lookup: lookup, registry: reg, timeout: timeout, logger: log, metrics: rec}
}

// Verify fetches and validates the order. Failures carry one of the reasons
// missing_params, verify_error, verify_failed_<status> or config_error; no
// request is made when either parameter is empty.
func (s *VerificationService) Verify(ctx context.Context, orderID, token string) (*types.Order, error) {
	orderID, token = strings.TrimSpace(orderID), strings.TrimSpace(token)
	if orderID == "" || token == "" {
		return nil, s.reject(types.NewError(types.ReasonMissingParams, "orderId and token are required", nil))
	}

	verifyCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	env, err := s.lookup.Lookup(verifyCtx, orderID, token)
	if err != nil {
		var se *clients.StatusError
		if errors.As(err, &se) {
			return nil, s.reject(types.NewError(types.VerifyFailedReason(se.StatusCode), "order verification failed", err))
		}
		return nil, s.reject(types.NewError(types.ReasonVerifyError, "order verification error", err))
	}

	key, err := s.registry.NormalizeChain(env.Chain)
	if err != nil {
		return nil, s.reject(err)
	}
	coin := strings.ToUpper(env.Coin)
	if _, _, err := s.registry.Resolve(key, coin); err != nil {
		return nil, s.reject(err)
	}

	order := &types.Order{
		OrderID:       orderID,
		Token:         token,
		ChainKey:      key,
		CoinSymbol:    coin,
		FiatAmount:    *env.FiatAmount,
		CustomerName:  env.Name,
		CustomerEmail: env.Email,
		WalletHint:    env.Wallet,
		UserID:        env.UserID,
	}

	s.metrics.IncCounter(metrics.OrderVerified, map[string]string{"chain": key.String()})
	s.logger.Info("order verified", map[string]any{
		"order": orderID,
		"chain": key.String(),
		"coin":  coin,
		"fiat":  order.FiatAmount.String(),
	})
	return order, nil
}

func (s *VerificationService) reject(err error) error {
	reason := types.ReasonOf(err)
	s.metrics.IncCounter(metrics.OrderRejected, map[string]string{"reason": reason})
	s.logger.Warn("order rejected", map[string]any{"reason": reason, "error": err.Error()})
	return err
}

// IsConfigError reports whether err came from the registry rather than the
// order backend.
func IsConfigError(err error) bool {
	return errors.Is(err, &types.CheckoutError{Code: types.ReasonConfigError})
}

// Describe renders a verification failure for logs and inline status.
func Describe(err error) string {
	return fmt.Sprintf("%s (%s)", err.Error(), types.ReasonOf(err))
}
