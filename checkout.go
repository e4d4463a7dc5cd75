// Package checkout drives one crypto checkout session: order verification,
// price quote, wallet connection, on-chain transfer, backend notification
// and the final return to the shop, all under a bounded payment window.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/web3checkout/clients"
	"github.com/vitwit/web3checkout/config"
	"github.com/vitwit/web3checkout/countdown"
	"github.com/vitwit/web3checkout/logger"
	"github.com/vitwit/web3checkout/metrics"
	"github.com/vitwit/web3checkout/notification"
	"github.com/vitwit/web3checkout/pricing"
	"github.com/vitwit/web3checkout/redirect"
	"github.com/vitwit/web3checkout/registry"
	"github.com/vitwit/web3checkout/settlement"
	"github.com/vitwit/web3checkout/types"
	"github.com/vitwit/web3checkout/verification"
	"github.com/vitwit/web3checkout/wallet"
)

var (
	ErrNotStarted = errors.New("checkout has no verified order")
	ErrStarted    = errors.New("checkout already started")
	ErrFinished   = errors.New("checkout already finished")
)

// Navigator leaves the checkout for a shop URL.
type Navigator interface {
	Navigate(url string)
}

type NavigatorFunc func(url string)

func (f NavigatorFunc) Navigate(url string) { f(url) }

// Notifier delivers the payment confirmation to the order backend.
type Notifier interface {
	Send(ctx context.Context, payload types.NotificationPayload) bool
}

// State is a point-in-time view of the session for rendering.
type State struct {
	Order      *types.Order
	Amount     decimal.Decimal
	Quoted     bool
	Wallet     wallet.Snapshot
	Countdown  types.CountdownState
	Attempt    *types.PaymentAttempt
	Status     string
	LateExpiry bool
	Finished   bool
	Location   string
}

// Checkout is one checkout session. It is safe for concurrent use; at most
// one connect or payment runs at a time.
type Checkout struct {
	cfg       *config.Config
	navigator Navigator
	defaults  redirect.Builder
	timeout   time.Duration
	logger    logger.Logger
	metrics   metrics.Recorder
	http      clients.HTTPDoer

	registry  *registry.Registry
	verifier  verification.Verifier
	oracle    pricing.Oracle
	quoter    *pricing.Quoter
	settler   settlement.Settler
	notifier  Notifier
	session   *wallet.Session
	guardOpts []countdown.Option
	onTick    func(remaining int)

	mu        sync.Mutex
	starting  bool
	order     *types.Order
	chain     types.ChainConfig
	token     types.TokenConfig
	guard     *countdown.Guard
	redirects redirect.Builder
	attempt   *types.PaymentAttempt
	status    string
	paying    bool
	building  bool
	broadcast bool
	expired   bool
	late      bool
	done      bool
	location  string
}

// New wires a checkout from cfg. Collaborators not supplied through options
// are built from the configured endpoints.
func New(cfg *config.Config, nav Navigator, opts ...Option) (*Checkout, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if nav == nil {
		return nil, types.NewError(types.ReasonConfigError, "navigator is required", nil)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Checkout{
		cfg:       cfg,
		navigator: nav,
		timeout:   cfg.HTTPTimeout(),
		logger:    logger.NoopLogger{},
		metrics:   metrics.NoopRecorder{},
		defaults: redirect.Builder{
			SuccessURL:   cfg.SuccessURL,
			FailURL:      cfg.FailURL,
			AllowedHosts: cfg.RedirectHosts,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.defaults.Validate(); err != nil {
		return nil, types.NewError(types.ReasonConfigError, "invalid redirect configuration", err)
	}
	c.redirects = c.defaults

	if c.http == nil {
		c.http = clients.NewHTTPClient(c.timeout)
	}
	if c.registry == nil {
		c.registry = registry.Default()
	}
	if c.verifier == nil {
		orders := clients.NewOrderClient(cfg.OrderURL, c.http)
		c.verifier = verification.NewVerificationService(orders, c.registry, c.timeout, c.logger, c.metrics)
	}
	if c.oracle == nil {
		c.oracle = clients.NewCoinGeckoClient(cfg.QuoteURL, c.http)
	}
	if c.notifier == nil {
		poster := clients.NewOrderClient(cfg.NotifyEndpoint(), c.http)
		c.notifier = notification.NewSender(poster, cfg.NotifyRetryDelay(), c.logger, c.metrics)
	}
	if c.settler == nil {
		c.settler = settlement.NewSettlementService(c.timeout, c.logger, c.metrics)
	}
	c.quoter = pricing.NewQuoter(c.oracle, cfg.FiatCurrency, c.logger)
	c.session = wallet.NewSession(c.logger)
	c.session.OnChange(c.walletChanged)

	return c, nil
}

// Start verifies the order and opens the payment window. A verification
// failure leaves the checkout through the failure URL; a configuration error
// is reported inline. A failed quote does not fail Start.
func (c *Checkout) Start(ctx context.Context, orderID, token string, opts ...StartOption) (*types.Order, error) {
	var p startParams
	for _, opt := range opts {
		opt(&p)
	}

	c.mu.Lock()
	switch {
	case c.done:
		c.mu.Unlock()
		return nil, ErrFinished
	case c.order != nil, c.starting:
		c.mu.Unlock()
		return nil, ErrStarted
	}
	c.starting = true
	if p.successURL != "" || p.failURL != "" {
		c.redirects = c.defaults.Override(p.successURL, p.failURL)
	} else {
		c.redirects = c.defaults
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	order, err := c.verifier.Verify(ctx, orderID, token)
	if err != nil {
		if verification.IsConfigError(err) {
			c.setStatus(err.Error())
			return nil, err
		}
		c.fail(orderID, types.ReasonOf(err))
		return nil, err
	}

	chain, coin, err := c.registry.Resolve(order.ChainKey, order.CoinSymbol)
	if err != nil {
		c.setStatus(err.Error())
		return nil, err
	}

	guard := countdown.New(c.cfg.CountdownSeconds, c.guardOpts...)

	c.mu.Lock()
	c.order, c.chain, c.token, c.guard = order, chain, coin, guard
	c.status = ""
	c.mu.Unlock()

	if err := guard.Start(c.tick, c.expire); err != nil {
		return nil, err
	}

	c.logger.Info("checkout started", map[string]any{
		"order": order.OrderID,
		"chain": chain.Key.String(),
		"coin":  order.CoinSymbol,
	})

	_, _ = c.Quote(ctx)
	return order, nil
}

// Quote fetches a fresh price and recomputes the amount. On failure the
// amount is cleared so payment stays blocked until a later quote succeeds.
func (c *Checkout) Quote(ctx context.Context) (decimal.Decimal, error) {
	c.mu.Lock()
	order, token, chain := c.order, c.token, c.chain
	c.mu.Unlock()
	if order == nil {
		return decimal.Zero, ErrNotStarted
	}

	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	amount, _, err := c.quoter.Refresh(qctx, token.PriceFeedID, order.FiatAmount)
	if err != nil {
		c.metrics.IncCounter(metrics.QuoteFailed, map[string]string{"chain": chain.Key.String(), "reason": types.ReasonOf(err)})
		c.setStatus("price unavailable, retry shortly")
		return decimal.Zero, err
	}
	c.setStatus("")
	return amount, nil
}

// Connect attaches a wallet and asks it once to switch to the order's
// network if needed. A refused switch is reported inline and returned; the
// wallet stays connected.
func (c *Checkout) Connect(ctx context.Context, providers ...wallet.Provider) (wallet.Snapshot, error) {
	release, err := c.session.Acquire()
	if err != nil {
		return wallet.Snapshot{}, err
	}
	defer release()

	snap, err := c.session.Connect(ctx, providers...)
	if err != nil {
		c.setStatus(err.Error())
		return snap, err
	}

	c.mu.Lock()
	order, chain := c.order, c.chain
	c.mu.Unlock()
	if order == nil || c.session.OnChain(chain.ChainID) {
		return snap, nil
	}

	sctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.session.SwitchNetwork(sctx, chain); err != nil {
		c.setStatus(err.Error())
		return c.session.Snapshot(), err
	}
	return c.session.Snapshot(), nil
}

// Disconnect drops the wallet.
func (c *Checkout) Disconnect() {
	c.session.Disconnect()
}

// Pay submits the transfer for the current quote. Precondition failures
// are reported inline and may be retried. Once signing has begun the
// outcome is final and the checkout leaves through the success or failure
// URL.
func (c *Checkout) Pay(ctx context.Context) (*types.PaymentAttempt, error) {
	c.mu.Lock()
	switch {
	case c.done:
		c.mu.Unlock()
		return nil, ErrFinished
	case c.order == nil:
		c.mu.Unlock()
		return nil, ErrNotStarted
	case c.paying:
		c.mu.Unlock()
		return nil, wallet.ErrBusy
	}
	order, chain, token := c.order, c.chain, c.token
	c.mu.Unlock()

	qctx, cancel := context.WithTimeout(ctx, c.timeout)
	amount, _, err := c.quoter.Quote(qctx, token.PriceFeedID, order.FiatAmount)
	cancel()
	if err != nil {
		c.setStatus("price unavailable, retry shortly")
		return nil, err
	}

	release, err := c.session.Acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return nil, ErrFinished
	}
	c.paying, c.building, c.broadcast = true, false, false
	c.status = ""
	c.mu.Unlock()

	attempt, err := c.settler.Settle(ctx, c.session, &settlement.Request{
		Order:    order,
		Chain:    chain,
		Token:    token,
		Amount:   amount,
		Currency: c.cfg.FiatCurrency,
		Open:     c.open,
		Gate:     c.gate,
		Observe:  c.observe,
	})

	c.mu.Lock()
	c.paying = false
	if attempt != nil {
		cp := *attempt
		c.attempt = &cp
	}
	building := c.building
	c.mu.Unlock()

	if err != nil {
		if !building {
			c.setStatus(err.Error())
			return attempt, err
		}
		c.fail(order.OrderID, types.ReasonOf(err))
		return attempt, err
	}

	c.succeed(ctx, order, chain, attempt)
	return attempt, nil
}

// Abandon ends the session without leaving the page. The countdown stops
// and the wallet is released.
func (c *Checkout) Abandon() {
	c.mu.Lock()
	finished := c.done
	c.done = true
	guard := c.guard
	c.mu.Unlock()

	if guard != nil {
		guard.Stop()
	}
	c.session.Disconnect()
	if !finished {
		c.logger.Info("checkout abandoned", nil)
	}
}

func (c *Checkout) State() State {
	amount, quoted := c.quoter.Current()

	c.mu.Lock()
	defer c.mu.Unlock()

	st := State{
		Order:      c.order,
		Amount:     amount,
		Quoted:     quoted,
		Wallet:     c.session.Snapshot(),
		Status:     c.status,
		LateExpiry: c.late,
		Finished:   c.done,
		Location:   c.location,
	}
	if c.guard != nil {
		st.Countdown = c.guard.State()
	}
	if c.attempt != nil {
		cp := *c.attempt
		st.Attempt = &cp
	}
	return st
}

// Session exposes the wallet session, e.g. to subscribe to its changes.
func (c *Checkout) Session() *wallet.Session {
	return c.session
}

// open reports whether the attempt may still prompt the wallet.
func (c *Checkout) open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedLocked()
}

// gate runs right before broadcast. Passing it marks the transfer as sent
// for the expiry handler.
func (c *Checkout) gate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.closedLocked(); err != nil {
		return err
	}
	c.broadcast = true
	return nil
}

func (c *Checkout) closedLocked() error {
	switch {
	case c.expired:
		return types.NewError(types.ReasonTimeout, "payment window closed", nil)
	case c.done:
		return types.NewError(types.ReasonAbandoned, "checkout abandoned", nil)
	}
	return nil
}

func (c *Checkout) observe(a types.PaymentAttempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a.State == types.StateBuilding {
		c.building = true
	}
	c.attempt = &a
}

func (c *Checkout) tick(remaining int) {
	if c.onTick != nil {
		c.onTick(remaining)
	}
}

// expire handles the end of the payment window. Before broadcast it aborts
// with reason timeout. After broadcast the chain decides: the expiry is only
// recorded and the pending confirmation completes the checkout.
func (c *Checkout) expire() {
	c.mu.Lock()
	c.expired = true
	if c.done {
		c.mu.Unlock()
		return
	}
	var orderID, chain string
	if c.order != nil {
		orderID, chain = c.order.OrderID, c.order.ChainKey.String()
	}
	if c.broadcast {
		c.late = true
		c.status = "payment window expired, waiting for confirmation"
		c.mu.Unlock()
		c.metrics.IncCounter(metrics.CountdownExpired, map[string]string{"chain": chain, "reason": "after_broadcast"})
		c.logger.Warn("payment window expired after broadcast", map[string]any{"order": orderID})
		return
	}
	c.mu.Unlock()

	c.metrics.IncCounter(metrics.CountdownExpired, map[string]string{"chain": chain, "reason": types.ReasonTimeout})
	c.fail(orderID, types.ReasonTimeout)
}

func (c *Checkout) succeed(ctx context.Context, order *types.Order, chain types.ChainConfig, attempt *types.PaymentAttempt) {
	c.mu.Lock()
	guard := c.guard
	c.mu.Unlock()
	if guard != nil {
		guard.Stop()
	}

	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*c.timeout+c.cfg.NotifyRetryDelay())
	defer cancel()
	posted := c.notifier.Send(nctx, types.NotificationPayload{
		OrderID:       order.OrderID,
		Token:         order.Token,
		Coin:          order.CoinSymbol,
		Chain:         chain.Key.String(),
		WalletAddress: attempt.Payer,
		CryptoAmount:  pricing.Format(attempt.CryptoAmount),
		TxHash:        attempt.TxHash,
	})

	c.mu.Lock()
	redirects := c.redirects
	c.mu.Unlock()

	c.leave(redirects.Success(redirect.Success{
		OrderID: order.OrderID,
		TxHash:  attempt.TxHash,
		Posted:  posted,
		Coin:    order.CoinSymbol,
		Chain:   chain.Key.String(),
		Wallet:  attempt.Payer,
		Amount:  attempt.CryptoAmount,
	}), "payment confirmed")
}

func (c *Checkout) fail(orderID, reason string) {
	c.mu.Lock()
	redirects := c.redirects
	c.mu.Unlock()
	c.leave(redirects.Failure(orderID, reason), fmt.Sprintf("payment failed: %s", reason))
}

// leave navigates once. Later terminal outcomes are dropped.
func (c *Checkout) leave(url, status string) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	c.location = url
	c.status = status
	guard := c.guard
	c.mu.Unlock()

	if guard != nil {
		guard.Stop()
	}
	c.logger.Info("leaving checkout", map[string]any{"url": url})
	c.navigator.Navigate(url)
}

func (c *Checkout) setStatus(s string) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Checkout) walletChanged(s wallet.Snapshot) {
	if !s.Connected {
		c.setStatus("wallet disconnected")
	}
}
