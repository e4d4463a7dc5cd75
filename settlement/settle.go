package settlement

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/vitwit/web3checkout/clients"
	"github.com/vitwit/web3checkout/logger"
	"github.com/vitwit/web3checkout/metrics"
	"github.com/vitwit/web3checkout/pricing"
	"github.com/vitwit/web3checkout/types"
	"github.com/vitwit/web3checkout/utils"
	"github.com/vitwit/web3checkout/wallet"
)

// Settler submits a single transfer for an order.
type Settler interface {
	Settle(ctx context.Context, session *wallet.Session, req *Request) (*types.PaymentAttempt, error)
}

// Request describes the transfer to build.
type Request struct {
	Order    *types.Order
	Chain    types.ChainConfig
	Token    types.TokenConfig
	Amount   decimal.Decimal
	Currency string

	// Open is checked before each wallet prompt. An error aborts the
	// attempt without further provider contact.
	Open func() error
	// Gate runs immediately before broadcast. An error aborts the attempt
	// and nothing is sent. Errors carry their own reason code; plain errors
	// mean timeout.
	Gate func() error
	// Observe is called after every state change of the attempt.
	Observe func(types.PaymentAttempt)
}

// SettlementService builds, signs, broadcasts and confirms transfers through
// the connected wallet.
type SettlementService struct {
	timeout time.Duration
	logger  logger.Logger
	metrics metrics.Recorder
	now     func() time.Time
}

var _ Settler = (*SettlementService)(nil)

// NewSettlementService creates a settlement service. timeout bounds each
// wallet round trip before broadcast; confirmation waits on ctx alone.
func NewSettlementService(timeout time.Duration, log logger.Logger, rec metrics.Recorder) *SettlementService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &SettlementService{timeout: timeout, logger: log, metrics: rec, now: time.Now}
}

// ConfirmationMessage is the text the payer signs before the transfer.
func ConfirmationMessage(order *types.Order, currency string, amount decimal.Decimal) string {
	return fmt.Sprintf("Payment %s %s in %s %s (Order %s)",
		order.FiatAmount.StringFixed(2), strings.ToUpper(currency), pricing.Format(amount), order.CoinSymbol, order.OrderID)
}

// Settle runs one payment attempt. It returns the attempt in every case; the
// error is a *types.CheckoutError carrying the failure reason.
func (s *SettlementService) Settle(ctx context.Context, session *wallet.Session, req *Request) (*types.PaymentAttempt, error) {
	attempt := &types.PaymentAttempt{
		ID:           uuid.NewString(),
		OrderID:      req.Order.OrderID,
		ChainKey:     req.Chain.Key,
		Coin:         req.Order.CoinSymbol,
		CryptoAmount: req.Amount,
		Recipient:    req.Chain.Recipient,
		State:        types.StateIdle,
		StartedAt:    s.now(),
	}
	if !req.Token.IsNative() {
		contract := *req.Token.Contract
		attempt.TokenAddress = &contract
	}
	log := logger.With(s.logger, map[string]any{
		"attempt": attempt.ID,
		"order":   attempt.OrderID,
		"chain":   attempt.ChainKey.String(),
		"coin":    attempt.Coin,
	})

	fail := func(reason string, msg string, err error) (*types.PaymentAttempt, error) {
		attempt.State = types.StateFailed
		attempt.Reason = reason
		attempt.FinishedAt = s.now()
		s.observe(req, attempt)
		s.metrics.IncCounter(metrics.PaymentFailed, map[string]string{"chain": attempt.ChainKey.String(), "reason": reason})
		log.Warn("payment attempt failed", map[string]any{"reason": reason, "error": errString(err)})
		return attempt, types.NewError(reason, msg, err)
	}

	// Preconditions. None of these reach the signing capability.
	provider, payer, ok := session.Active()
	if !ok {
		return fail(types.ReasonNoWallet, "connect a wallet first", nil)
	}
	attempt.Payer = payer.Hex()

	if err := utils.ValidateAmount(req.Amount); err != nil {
		return fail(types.ReasonInvalidAmount, "no valid amount to pay", err)
	}

	recipient, err := utils.ValidateAddress(req.Chain.Recipient)
	if err != nil {
		return fail(types.ReasonBadAddress, "invalid recipient address", err)
	}
	var token common.Address
	if !req.Token.IsNative() {
		token, err = utils.ValidateAddress(*req.Token.Contract)
		if err != nil {
			return fail(types.ReasonBadAddress, "invalid token contract address", err)
		}
	}

	if err := s.ensureNetwork(ctx, session, req.Chain); err != nil {
		if errors.Is(err, wallet.ErrNotConnected) {
			return fail(types.ReasonNoWallet, "wallet disconnected", err)
		}
		return fail(types.ReasonWrongNetwork, "wallet is on the wrong network", err)
	}

	attempt.State = types.StateBuilding
	s.observe(req, attempt)

	if err := admit(req.Open); err != nil {
		return fail(closedReason(err), "payment aborted", err)
	}
	msg := ConfirmationMessage(req.Order, req.Currency, req.Amount)
	if err := s.confirm(ctx, provider, payer, msg, log); err != nil {
		return fail(types.ReasonUserRejected, "payment confirmation rejected", err)
	}

	if err := admit(req.Open); err != nil {
		return fail(closedReason(err), "payment aborted", err)
	}
	tx, err := s.build(ctx, provider, payer, recipient, token, req)
	if err != nil {
		return fail(classify(err), "failed to build transfer", err)
	}

	if err := admit(req.Gate); err != nil {
		return fail(closedReason(err), "payment aborted", err)
	}

	attempt.State = types.StateBroadcasting
	s.observe(req, attempt)

	pending, err := provider.SendTransaction(ctx, tx)
	if err != nil {
		return fail(classify(err), "transfer was not sent", err)
	}
	attempt.TxHash = pending.Hash().Hex()
	attempt.State = types.StateConfirming
	s.observe(req, attempt)
	s.metrics.IncCounter(metrics.PaymentSubmitted, map[string]string{"chain": attempt.ChainKey.String()})
	log.Info("transfer broadcast", map[string]any{"tx": attempt.TxHash, "amount": pricing.Format(req.Amount)})

	receipt, err := pending.Wait(ctx)
	if err != nil {
		return fail(types.ReasonTxFailed, "transfer confirmation failed", err)
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return fail(types.ReasonTxFailed, "transfer reverted", fmt.Errorf("receipt status %d", receipt.Status))
	}
	if receipt.TxHash != (common.Hash{}) {
		attempt.TxHash = receipt.TxHash.Hex()
	}

	attempt.State = types.StateConfirmed
	attempt.FinishedAt = s.now()
	s.observe(req, attempt)
	s.metrics.IncCounter(metrics.PaymentConfirmed, map[string]string{"chain": attempt.ChainKey.String()})
	s.metrics.ObserveLatency(metrics.ConfirmationDelay, attempt.FinishedAt.Sub(attempt.StartedAt), map[string]string{"chain": attempt.ChainKey.String()})
	log.Info("transfer confirmed", map[string]any{"tx": attempt.TxHash})

	return attempt, nil
}

func admit(check func() error) error {
	if check == nil {
		return nil
	}
	return check()
}

// closedReason is the reason for an attempt stopped by Open or Gate.
func closedReason(err error) string {
	var ce *types.CheckoutError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return types.ReasonTimeout
}

// ensureNetwork re-reads the wallet chain and requests one switch on mismatch.
func (s *SettlementService) ensureNetwork(ctx context.Context, session *wallet.Session, chain types.ChainConfig) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := session.Refresh(cctx); err != nil {
		return err
	}
	if session.OnChain(chain.ChainID) {
		return nil
	}
	return session.SwitchNetwork(cctx, chain)
}

// confirm asks the payer to sign the confirmation message. Only an explicit
// rejection stops the attempt.
func (s *SettlementService) confirm(ctx context.Context, p wallet.Provider, payer common.Address, msg string, log logger.Logger) error {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sig, err := p.SignMessage(cctx, payer, []byte(msg))
	if err != nil {
		if wallet.IsUserRejection(err) {
			return err
		}
		log.Warn("confirmation signature skipped", map[string]any{"error": err})
		return nil
	}

	valid, err := utils.VerifyPersonalMessage([]byte(msg), sig, payer)
	if err != nil || !valid {
		log.Warn("confirmation signature does not match payer", map[string]any{"error": errString(err)})
	}
	return nil
}

func (s *SettlementService) build(
	ctx context.Context,
	p wallet.Provider,
	payer, recipient, token common.Address,
	req *Request,
) (wallet.TxRequest, error) {
	if req.Token.IsNative() {
		value, err := utils.ParseAmountWithDecimals(req.Amount, types.NativeDecimals)
		if err != nil {
			return wallet.TxRequest{}, err
		}
		return wallet.TxRequest{From: payer, To: recipient, Value: value}, nil
	}

	decimals, err := s.tokenDecimals(ctx, p, token)
	if err != nil {
		return wallet.TxRequest{}, err
	}
	units, err := utils.ParseAmountWithDecimals(req.Amount, decimals)
	if err != nil {
		return wallet.TxRequest{}, err
	}
	data, err := clients.PackERC20Transfer(recipient, units)
	if err != nil {
		return wallet.TxRequest{}, err
	}
	return wallet.TxRequest{From: payer, To: token, Value: new(big.Int), Data: data}, nil
}

func (s *SettlementService) tokenDecimals(ctx context.Context, p wallet.Provider, token common.Address) (uint8, error) {
	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := clients.PackERC20Decimals()
	if err != nil {
		return 0, err
	}
	out, err := p.CallContract(cctx, ethereum.CallMsg{To: &token, Data: data})
	if err != nil {
		return 0, fmt.Errorf("%w: decimals() on %s: %v", wallet.ErrUnresolvable, token.Hex(), err)
	}
	d, err := clients.UnpackERC20Decimals(out)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", wallet.ErrUnresolvable, err)
	}
	return d, nil
}

func (s *SettlementService) observe(req *Request, attempt *types.PaymentAttempt) {
	if req.Observe != nil {
		req.Observe(*attempt)
	}
}

// classify maps a wallet or RPC failure to a reason code.
func classify(err error) string {
	switch {
	case wallet.IsUserRejection(err):
		return types.ReasonUserRejected
	case errors.Is(err, wallet.ErrUnresolvable):
		return types.ReasonBadAddress
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "bad_data") || strings.Contains(msg, "resolver") {
		return types.ReasonBadAddress
	}
	return types.ReasonTxFailed
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
