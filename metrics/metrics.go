package metrics

import "time"

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}

// Event names recorded by the checkout.
const (
	OrderVerified     = "order_verified"
	OrderRejected     = "order_rejected"
	QuoteFailed       = "quote_failed"
	PaymentSubmitted  = "payment_submitted"
	PaymentConfirmed  = "payment_confirmed"
	PaymentFailed     = "payment_failed"
	CountdownExpired  = "countdown_expired"
	NotifyFailed      = "notify_failed"
	NotifyDelivered   = "notify_delivered"
	ProxyRequest      = "proxy_request"
	ConfirmationDelay = "confirmation"
)
