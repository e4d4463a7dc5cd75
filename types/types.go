package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Order is the payment order as returned by the external order service.
// It is read-only for the checkout and identified by (OrderID, Token).
type Order struct {
	OrderID       string          `json:"orderId"`
	Token         string          `json:"token"`
	ChainKey      ChainKey        `json:"chain"`
	CoinSymbol    string          `json:"coin"`
	FiatAmount    decimal.Decimal `json:"fiatAmount"`
	CustomerName  string          `json:"name"`
	CustomerEmail string          `json:"email"`
	WalletHint    string          `json:"wallet,omitempty"`
	UserID        string          `json:"userId,omitempty"`
}

// OrderEnvelope is the success body of the order lookup endpoint.
// Field names follow the shop backend.
type OrderEnvelope struct {
	Chain      string           `json:"chain" validate:"required"`
	Coin       string           `json:"coin" validate:"required"`
	FiatAmount *decimal.Decimal `json:"warenkorbWert" validate:"required"`
	Name       string           `json:"name" validate:"required"`
	Email      string           `json:"email" validate:"required,email"`
	UserID     string           `json:"userId,omitempty"`
	Wallet     string           `json:"wallet,omitempty"`
}

// QuoteTicket is a single fiat price observation for a price feed.
type QuoteTicket struct {
	PriceFeedID string          `json:"priceFeedId"`
	Currency    string          `json:"currency"`
	FiatPerUnit decimal.Decimal `json:"fiatPerUnit"`
	FetchedAt   time.Time       `json:"fetchedAt"`
}

// CountdownState is a snapshot of the payment window.
type CountdownState struct {
	Deadline  time.Time `json:"deadline"`
	Remaining int       `json:"remaining"`
	Active    bool      `json:"active"`
}

// NotificationPayload is posted to the order backend once a transfer is confirmed.
type NotificationPayload struct {
	OrderID       string `json:"orderId"`
	Token         string `json:"token"`
	Coin          string `json:"coin"`
	Chain         string `json:"chain"`
	WalletAddress string `json:"walletAdresse"`
	CryptoAmount  string `json:"cryptoAmount"`
	TxHash        string `json:"txHash"`
}

// CheckoutError carries a reason code that doubles as the redirect reason.
type CheckoutError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *CheckoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *CheckoutError) Unwrap() error {
	return e.Err
}

// Is matches another *CheckoutError by code.
func (e *CheckoutError) Is(target error) bool {
	t, ok := target.(*CheckoutError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError builds a CheckoutError with the given code.
func NewError(code, message string, err error) *CheckoutError {
	return &CheckoutError{Code: code, Message: message, Err: err}
}

// ReasonOf extracts the reason code of err, falling back to ReasonTxFailed.
func ReasonOf(err error) string {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ReasonTxFailed
}

// Reason codes. The redirect-visible ones are part of the shop contract.
const (
	ReasonMissingParams = "missing_params"
	ReasonVerifyError   = "verify_error"
	ReasonTimeout       = "timeout"
	ReasonUserRejected  = "user_rejected"
	ReasonBadAddress    = "bad_address"
	ReasonTxFailed      = "tx_failed"

	// not redirected; surfaced inline
	ReasonConfigError      = "config_error"
	ReasonQuoteUnavailable = "quote_unavailable"
	ReasonInvalidAmount    = "invalid_amount"
	ReasonNoWallet         = "no_wallet"
	ReasonWrongNetwork     = "wrong_network"
	ReasonBusy             = "busy"
	ReasonAbandoned        = "abandoned"
)

// VerifyFailedReason is the reason for a non-2xx order lookup.
func VerifyFailedReason(status int) string {
	return fmt.Sprintf("verify_failed_%d", status)
}
