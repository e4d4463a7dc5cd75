package notification

import (
	"context"
	"time"

	"github.com/vitwit/web3checkout/logger"
	"github.com/vitwit/web3checkout/metrics"
	"github.com/vitwit/web3checkout/types"
)

// DefaultRetryDelay is the pause before the single retry.
const DefaultRetryDelay = 600 * time.Millisecond

// Poster delivers a payload to the order backend. *clients.OrderClient
// satisfies it.
type Poster interface {
	Notify(ctx context.Context, payload types.NotificationPayload) error
}

// Sender posts payment confirmations with one retry. Delivery is advisory:
// the result only feeds the posted flag of the success redirect.
type Sender struct {
	poster     Poster
	retryDelay time.Duration
	logger     logger.Logger
	metrics    metrics.Recorder
}

func NewSender(poster Poster, retryDelay time.Duration, log logger.Logger, rec metrics.Recorder) *Sender {
	if retryDelay < 0 {
		retryDelay = DefaultRetryDelay
	}
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Sender{poster: poster, retryDelay: retryDelay, logger: log, metrics: rec}
}

// Send posts payload at most twice and reports whether one attempt succeeded.
func (s *Sender) Send(ctx context.Context, payload types.NotificationPayload) bool {
	fields := map[string]any{"order": payload.OrderID, "tx": payload.TxHash}

	err := s.poster.Notify(ctx, payload)
	if err == nil {
		s.delivered(payload, fields, 1)
		return true
	}
	s.logger.Warn("notification failed, retrying", merge(fields, "error", err))

	timer := time.NewTimer(s.retryDelay)
	select {
	case <-ctx.Done():
		timer.Stop()
		s.failed(payload, fields, ctx.Err())
		return false
	case <-timer.C:
	}

	if err := s.poster.Notify(ctx, payload); err != nil {
		s.failed(payload, fields, err)
		return false
	}
	s.delivered(payload, fields, 2)
	return true
}

func (s *Sender) delivered(payload types.NotificationPayload, fields map[string]any, attempts int) {
	s.metrics.IncCounter(metrics.NotifyDelivered, map[string]string{"chain": payload.Chain})
	s.logger.Info("notification delivered", merge(fields, "attempts", attempts))
}

func (s *Sender) failed(payload types.NotificationPayload, fields map[string]any, err error) {
	s.metrics.IncCounter(metrics.NotifyFailed, map[string]string{"chain": payload.Chain})
	s.logger.Error("notification not delivered", merge(fields, "error", err))
}

func merge(fields map[string]any, k string, v any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for fk, fv := range fields {
		out[fk] = fv
	}
	out[k] = v
	return out
}
