package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConfirmationState is the lifecycle of a payment attempt.
type ConfirmationState string

const (
	StateIdle         ConfirmationState = "idle"
	StateBuilding     ConfirmationState = "building"
	StateBroadcasting ConfirmationState = "broadcasting"
	StateConfirming   ConfirmationState = "confirming"
	StateConfirmed    ConfirmationState = "confirmed"
	StateFailed       ConfirmationState = "failed"
)

// Terminal reports whether no further transition is possible for the attempt.
func (s ConfirmationState) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Sent reports whether the transfer may already be on the network.
func (s ConfirmationState) Sent() bool {
	return s == StateBroadcasting || s == StateConfirming || s == StateConfirmed
}

// PaymentAttempt records one user-triggered transfer.
type PaymentAttempt struct {
	ID           string            `json:"id"`
	OrderID      string            `json:"orderId"`
	ChainKey     ChainKey          `json:"chain"`
	Coin         string            `json:"coin"`
	CryptoAmount decimal.Decimal   `json:"cryptoAmount"`
	Payer        string            `json:"payer"`
	Recipient    string            `json:"recipient"`
	TokenAddress *string           `json:"tokenAddress,omitempty"`
	TxHash       string            `json:"txHash,omitempty"`
	State        ConfirmationState `json:"state"`
	Reason       string            `json:"reason,omitempty"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   time.Time         `json:"finishedAt,omitempty"`
}
