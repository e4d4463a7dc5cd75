package pricing

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/vitwit/web3checkout/logger"
	"github.com/vitwit/web3checkout/types"
)

// AmountPlaces is the number of fractional digits a crypto amount is rounded to.
const AmountPlaces = 6

// Convert returns fiat/fiatPerUnit rounded half-up to six decimal places.
func Convert(fiat, fiatPerUnit decimal.Decimal) (decimal.Decimal, error) {
	if fiat.IsNegative() {
		return decimal.Zero, invalidAmount(fmt.Errorf("negative fiat amount %s", fiat.String()))
	}
	if !fiatPerUnit.IsPositive() {
		return decimal.Zero, invalidAmount(fmt.Errorf("non-positive price %s", fiatPerUnit.String()))
	}

	amount := fiat.DivRound(fiatPerUnit, AmountPlaces)
	if !amount.IsPositive() {
		return decimal.Zero, invalidAmount(fmt.Errorf("%s at %s rounds to zero", fiat.String(), fiatPerUnit.String()))
	}
	return amount, nil
}

// Format renders an amount with exactly six decimal places.
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(AmountPlaces)
}

func invalidAmount(err error) error {
	return types.NewError(types.ReasonInvalidAmount, "invalid crypto amount", err)
}

// Oracle returns the fiat price of one unit of a price feed.
type Oracle interface {
	Price(ctx context.Context, feedID, currency string) (types.QuoteTicket, error)
}

type quoteKey struct {
	feedID string
	fiat   string
}

// Quoter keeps the latest crypto amount for the current selection. A failed
// quote clears the amount so a stale value is never reused.
type Quoter struct {
	oracle   Oracle
	currency string
	logger   logger.Logger

	mu     sync.Mutex
	key    quoteKey
	amount decimal.Decimal
	ticket types.QuoteTicket
	valid  bool
}

func NewQuoter(oracle Oracle, currency string, log logger.Logger) *Quoter {
	if log == nil {
		log = &logger.NoopLogger{}
	}
	return &Quoter{oracle: oracle, currency: currency, logger: log}
}

// Quote returns the amount for (feedID, fiat), reusing the last result when
// the selection has not changed.
func (q *Quoter) Quote(ctx context.Context, feedID string, fiat decimal.Decimal) (decimal.Decimal, types.QuoteTicket, error) {
	key := quoteKey{feedID: feedID, fiat: fiat.String()}

	q.mu.Lock()
	if q.valid && q.key == key {
		amount, ticket := q.amount, q.ticket
		q.mu.Unlock()
		return amount, ticket, nil
	}
	q.mu.Unlock()

	return q.Refresh(ctx, feedID, fiat)
}

// Refresh fetches a fresh price regardless of the cached selection.
func (q *Quoter) Refresh(ctx context.Context, feedID string, fiat decimal.Decimal) (decimal.Decimal, types.QuoteTicket, error) {
	key := quoteKey{feedID: feedID, fiat: fiat.String()}

	q.Invalidate()

	ticket, err := q.oracle.Price(ctx, feedID, q.currency)
	if err != nil {
		q.logger.Warn("quote unavailable", map[string]any{"feed": feedID, "error": err.Error()})
		return decimal.Zero, types.QuoteTicket{}, err
	}

	amount, err := Convert(fiat, ticket.FiatPerUnit)
	if err != nil {
		return decimal.Zero, types.QuoteTicket{}, err
	}

	q.mu.Lock()
	q.key, q.amount, q.ticket, q.valid = key, amount, ticket, true
	q.mu.Unlock()

	q.logger.Debug("quote computed", map[string]any{
		"feed":   feedID,
		"fiat":   fiat.String(),
		"price":  ticket.FiatPerUnit.String(),
		"amount": Format(amount),
	})
	return amount, ticket, nil
}

// Current returns the cached amount if one is set.
func (q *Quoter) Current() (decimal.Decimal, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.amount, q.valid
}

func (q *Quoter) Invalidate() {
	q.mu.Lock()
	q.amount, q.ticket, q.valid = decimal.Zero, types.QuoteTicket{}, false
	q.mu.Unlock()
}
