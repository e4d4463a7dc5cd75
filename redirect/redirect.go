// Package redirect builds the shop return URLs for terminal outcomes.
package redirect

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Success carries the parameters of a successful payment.
type Success struct {
	OrderID string
	TxHash  string
	Posted  bool
	Coin    string
	Chain   string
	Wallet  string
	Amount  decimal.Decimal
}

// Builder turns outcomes into return URLs. A base URL that is empty, not
// http(s) or not on AllowedHosts is replaced by its fallback.
type Builder struct {
	SuccessURL   string
	FailURL      string
	AllowedHosts []string

	SuccessFallback string
	FailFallback    string
}

// Override returns a builder for caller-supplied return URLs. The current
// base URLs become the fallbacks, so an empty or foreign override lands on
// them.
func (b Builder) Override(successURL, failURL string) Builder {
	return Builder{
		SuccessURL:      successURL,
		FailURL:         failURL,
		AllowedHosts:    b.AllowedHosts,
		SuccessFallback: b.safe(b.SuccessURL, b.SuccessFallback),
		FailFallback:    b.safe(b.FailURL, b.FailFallback),
	}
}

// Failure returns the failure URL for orderID and reason.
func (b Builder) Failure(orderID, reason string) string {
	return Append(b.safe(b.FailURL, b.FailFallback), [][2]string{
		{"orderId", orderID},
		{"reason", reason},
	})
}

// Success returns the success URL.
func (b Builder) Success(s Success) string {
	posted := "0"
	if s.Posted {
		posted = "1"
	}
	return Append(b.safe(b.SuccessURL, b.SuccessFallback), [][2]string{
		{"orderId", s.OrderID},
		{"tx", s.TxHash},
		{"posted", posted},
		{"coin", s.Coin},
		{"chain", s.Chain},
		{"wallet", s.Wallet},
		{"amount", s.Amount.StringFixed(6)},
	})
}

// Validate checks that both base URLs are absolute http(s) URLs on an allowed host.
func (b Builder) Validate() error {
	for _, raw := range []string{b.SuccessURL, b.FailURL} {
		if _, err := b.check(raw); err != nil {
			return err
		}
	}
	return nil
}

func (b Builder) safe(raw, fallback string) string {
	if _, err := b.check(raw); err != nil && fallback != "" {
		return fallback
	}
	return raw
}

func (b Builder) check(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect url %q: %w", raw, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("redirect url %q must be http(s)", raw)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("redirect url %q has no host", raw)
	}
	if len(b.AllowedHosts) == 0 {
		return u, nil
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range b.AllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if host == h || strings.HasSuffix(host, "."+h) {
			return u, nil
		}
	}
	return nil, fmt.Errorf("redirect host %q is not allowed", host)
}

// Append adds query parameters to base in order, keeping any parameters
// base already has.
func Append(base string, params [][2]string) string {
	var sb strings.Builder
	sb.WriteString(base)

	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
		if strings.HasSuffix(base, "?") || strings.HasSuffix(base, "&") {
			sep = ""
		}
	}
	for _, kv := range params {
		sb.WriteString(sep)
		sb.WriteString(url.QueryEscape(kv[0]))
		sb.WriteByte('=')
		sb.WriteString(url.QueryEscape(kv[1]))
		sep = "&"
	}
	return sb.String()
}
