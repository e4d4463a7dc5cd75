package checkout

import (
	"time"

	"github.com/vitwit/web3checkout/clients"
	"github.com/vitwit/web3checkout/countdown"
	"github.com/vitwit/web3checkout/logger"
	"github.com/vitwit/web3checkout/metrics"
	"github.com/vitwit/web3checkout/pricing"
	"github.com/vitwit/web3checkout/registry"
	"github.com/vitwit/web3checkout/settlement"
	"github.com/vitwit/web3checkout/verification"
)

type Option func(*Checkout)

func WithLogger(l logger.Logger) Option {
	return func(c *Checkout) {
		c.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(c *Checkout) {
		c.metrics = r
	}
}

// WithTimeout bounds each backend and wallet round trip.
func WithTimeout(t time.Duration) Option {
	return func(c *Checkout) {
		c.timeout = t
	}
}

func WithHTTPClient(h clients.HTTPDoer) Option {
	return func(c *Checkout) {
		c.http = h
	}
}

func WithRegistry(r *registry.Registry) Option {
	return func(c *Checkout) {
		c.registry = r
	}
}

func WithVerifier(v verification.Verifier) Option {
	return func(c *Checkout) {
		c.verifier = v
	}
}

func WithOracle(o pricing.Oracle) Option {
	return func(c *Checkout) {
		c.oracle = o
	}
}

func WithNotifier(n Notifier) Option {
	return func(c *Checkout) {
		c.notifier = n
	}
}

func WithSettler(s settlement.Settler) Option {
	return func(c *Checkout) {
		c.settler = s
	}
}

// WithCountdown passes options to every countdown guard, e.g. a manual ticker.
func WithCountdown(opts ...countdown.Option) Option {
	return func(c *Checkout) {
		c.guardOpts = append(c.guardOpts, opts...)
	}
}

// WithTickHandler observes the remaining seconds after every countdown tick.
func WithTickHandler(fn func(remaining int)) Option {
	return func(c *Checkout) {
		c.onTick = fn
	}
}

// StartOption customises a single checkout session.
type StartOption func(*startParams)

type startParams struct {
	successURL string
	failURL    string
}

// WithReturnURLs sets the shop return URLs for this session. URLs that are
// empty or not on the configured redirect hosts fall back to the configured
// defaults.
func WithReturnURLs(successURL, failURL string) StartOption {
	return func(p *startParams) {
		p.successURL = successURL
		p.failURL = failURL
	}
}
