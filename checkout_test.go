package checkout_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	checkout "github.com/vitwit/web3checkout"
	"github.com/vitwit/web3checkout/config"
	"github.com/vitwit/web3checkout/countdown"
	"github.com/vitwit/web3checkout/types"
	"github.com/vitwit/web3checkout/wallet"
	"github.com/vitwit/web3checkout/wallet/wallettest"
)

const order = `{"chain":"ETH","coin":"USDT","warenkorbWert":"50.00","name":"Ada","email":"ada@example.com","userId":"u-1"}`

// backend plays the order backend and the price feed.
type backend struct {
	t *testing.T

	orderStatus int
	orderBody   string
	priceDown   atomic.Bool
	failNotify  atomic.Int32
	// hold, if set, blocks order lookups until it is closed.
	hold chan struct{}

	lookups  atomic.Int32
	notifies atomic.Int32

	mu       sync.Mutex
	payloads []types.NotificationPayload
}

func newBackend(t *testing.T) (*backend, *config.Config) {
	b := &backend{t: t, orderStatus: http.StatusOK, orderBody: order}

	orders := httptest.NewServer(http.HandlerFunc(b.serveOrder))
	t.Cleanup(orders.Close)
	prices := httptest.NewServer(http.HandlerFunc(b.servePrice))
	t.Cleanup(prices.Close)

	cfg := config.Default()
	cfg.OrderURL = orders.URL + "/api/web3zahlung"
	cfg.QuoteURL = prices.URL + "/simple/price"
	cfg.SuccessURL = "https://shop.example/zahlung-erfolgreich"
	cfg.FailURL = "https://shop.example/zahlung-fehlgeschlagen"
	cfg.RedirectHosts = []string{"shop.example"}
	cfg.NotifyRetryMillis = 1
	cfg.HTTPTimeoutSecs = 5
	cfg.CountdownSeconds = 3
	return b, cfg
}

func (b *backend) serveOrder(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		b.lookups.Add(1)
		if b.hold != nil {
			<-b.hold
		}
		w.WriteHeader(b.orderStatus)
		_, _ = w.Write([]byte(b.orderBody))
	case http.MethodPost:
		b.notifies.Add(1)
		var p types.NotificationPayload
		assert.NoError(b.t, json.NewDecoder(r.Body).Decode(&p))
		b.mu.Lock()
		b.payloads = append(b.payloads, p)
		b.mu.Unlock()
		if b.failNotify.Add(-1) >= 0 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func (b *backend) servePrice(w http.ResponseWriter, r *http.Request) {
	if b.priceDown.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	prices := map[string]string{"tether": "0.92", "ethereum": "2000"}
	id := r.URL.Query().Get("ids")
	cur := r.URL.Query().Get("vs_currencies")
	_, _ = w.Write([]byte(`{"` + id + `":{"` + cur + `":` + prices[id] + `}}`))
}

func (b *backend) lastPayload() types.NotificationPayload {
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(b.t, b.payloads)
	return b.payloads[len(b.payloads)-1]
}

// navigator records every navigation.
type navigator struct {
	mu   sync.Mutex
	urls []string
}

func (n *navigator) Navigate(u string) {
	n.mu.Lock()
	n.urls = append(n.urls, u)
	n.mu.Unlock()
}

func (n *navigator) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.urls...)
}

func (n *navigator) only(t *testing.T) url.Values {
	t.Helper()
	urls := n.all()
	require.Len(t, urls, 1, "%v", urls)
	u, err := url.Parse(urls[0])
	require.NoError(t, err)
	return u.Query()
}

type harness struct {
	*backend
	co    *checkout.Checkout
	nav   *navigator
	ticks chan time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	b, cfg := newBackend(t)

	ticks := make(chan time.Time)
	nav := &navigator{}
	co, err := checkout.New(cfg, nav, checkout.WithCountdown(countdown.WithTicker(
		func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} },
	)))
	require.NoError(t, err)
	t.Cleanup(co.Abandon)

	return &harness{backend: b, co: co, nav: nav, ticks: ticks}
}

func (h *harness) tick(n int) {
	for i := 0; i < n; i++ {
		h.ticks <- time.Now()
	}
}

func reason(t *testing.T, err error) string {
	t.Helper()
	var ce *types.CheckoutError
	require.True(t, errors.As(err, &ce), "%v", err)
	return ce.Code
}

func TestCheckoutEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	o, err := h.co.Start(ctx, "A1", "T1")
	require.NoError(t, err)
	assert.Equal(t, types.ChainEthereum, o.ChainKey)

	st := h.co.State()
	require.True(t, st.Quoted)
	assert.Equal(t, "54.347826", st.Amount.StringFixed(6))
	assert.True(t, st.Countdown.Active)

	p := wallettest.New(1)
	_, err = h.co.Connect(ctx, p)
	require.NoError(t, err)

	attempt, err := h.co.Pay(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StateConfirmed, attempt.State)
	require.NotEmpty(t, attempt.TxHash)

	q := h.nav.only(t)
	assert.Equal(t, "A1", q.Get("orderId"))
	assert.Equal(t, attempt.TxHash, q.Get("tx"))
	assert.Equal(t, "1", q.Get("posted"))
	assert.Equal(t, "USDT", q.Get("coin"))
	assert.Equal(t, "eth", q.Get("chain"))
	assert.Equal(t, p.Account().Hex(), q.Get("wallet"))
	assert.Equal(t, "54.347826", q.Get("amount"))

	assert.Equal(t, types.NotificationPayload{
		OrderID:       "A1",
		Token:         "T1",
		Coin:          "USDT",
		Chain:         "eth",
		WalletAddress: p.Account().Hex(),
		CryptoAmount:  "54.347826",
		TxHash:        attempt.TxHash,
	}, h.lastPayload())

	st = h.co.State()
	assert.True(t, st.Finished)
	assert.False(t, st.Countdown.Active)
	assert.Len(t, p.Sent(), 1)

	// the window is closed, a late tick is not received
	select {
	case h.ticks <- time.Now():
		t.Fatal("countdown still running after confirmation")
	case <-time.After(20 * time.Millisecond):
	}
	_, err = h.co.Pay(ctx)
	assert.ErrorIs(t, err, checkout.ErrFinished)
}

func TestCheckoutTimeoutRedirectsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.co.Start(ctx, "A1", "T1")
	require.NoError(t, err)
	p := wallettest.New(1)
	_, err = h.co.Connect(ctx, p)
	require.NoError(t, err)

	h.tick(3)
	require.Eventually(t, func() bool { return len(h.nav.all()) == 1 }, time.Second, time.Millisecond)

	q := h.nav.only(t)
	assert.Equal(t, "A1", q.Get("orderId"))
	assert.Equal(t, types.ReasonTimeout, q.Get("reason"))

	_, err = h.co.Pay(ctx)
	assert.ErrorIs(t, err, checkout.ErrFinished)
	assert.Empty(t, p.Sent())
	assert.Len(t, h.nav.all(), 1)
}

func TestCheckoutTickHandler(t *testing.T) {
	_, cfg := newBackend(t)
	ticks := make(chan time.Time)
	var got []int
	var mu sync.Mutex
	nav := &navigator{}

	co, err := checkout.New(cfg, nav,
		checkout.WithCountdown(countdown.WithTicker(func(time.Duration) (<-chan time.Time, func()) { return ticks, func() {} })),
		checkout.WithTickHandler(func(r int) {
			mu.Lock()
			got = append(got, r)
			mu.Unlock()
		}),
	)
	require.NoError(t, err)
	_, err = co.Start(context.Background(), "A1", "T1")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ticks <- time.Now()
	}
	require.Eventually(t, func() bool { return len(nav.all()) == 1 }, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{2, 1, 0}, got)
}

func TestCheckoutNotifyRetry(t *testing.T) {
	cases := []struct {
		name     string
		failures int32
		posted   string
		notifies int32
	}{
		{"first attempt", 0, "1", 1},
		{"second attempt", 1, "1", 2},
		{"both fail", 2, "0", 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.failNotify.Store(tc.failures)
			ctx := context.Background()

			_, err := h.co.Start(ctx, "A1", "T1")
			require.NoError(t, err)
			p := wallettest.New(1)
			_, err = h.co.Connect(ctx, p)
			require.NoError(t, err)

			attempt, err := h.co.Pay(ctx)
			require.NoError(t, err)
			assert.Equal(t, types.StateConfirmed, attempt.State)

			q := h.nav.only(t)
			assert.Equal(t, tc.posted, q.Get("posted"))
			assert.Equal(t, attempt.TxHash, q.Get("tx"))
			assert.Equal(t, tc.notifies, h.notifies.Load())
			assert.Len(t, p.Sent(), 1, "a failed notification never resubmits")
		})
	}
}

func TestCheckoutVerificationFailures(t *testing.T) {
	t.Run("missing params", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.co.Start(context.Background(), "A1", "")
		require.Error(t, err)
		q := h.nav.only(t)
		assert.Equal(t, types.ReasonMissingParams, q.Get("reason"))
		assert.Equal(t, "A1", q.Get("orderId"))
		assert.Equal(t, int32(0), h.lookups.Load())
	})

	t.Run("rejected token", func(t *testing.T) {
		h := newHarness(t)
		h.orderStatus = http.StatusForbidden
		h.orderBody = `{"error":"invalid token"}`

		_, err := h.co.Start(context.Background(), "A1", "expired")
		require.Error(t, err)
		assert.Equal(t, "verify_failed_403", h.nav.only(t).Get("reason"))
		assert.Equal(t, int32(1), h.lookups.Load())

		_, err = h.co.Start(context.Background(), "A1", "T1")
		assert.ErrorIs(t, err, checkout.ErrFinished)
	})

	t.Run("garbled body", func(t *testing.T) {
		h := newHarness(t)
		h.orderBody = `<html>`
		_, err := h.co.Start(context.Background(), "A1", "T1")
		require.Error(t, err)
		assert.Equal(t, types.ReasonVerifyError, h.nav.only(t).Get("reason"))
	})

	t.Run("unknown chain stays inline", func(t *testing.T) {
		h := newHarness(t)
		h.orderBody = `{"chain":"SOLANA","coin":"USDT","warenkorbWert":"5","name":"Ada","email":"ada@example.com"}`
		_, err := h.co.Start(context.Background(), "A1", "T1")
		assert.Equal(t, types.ReasonConfigError, reason(t, err))
		assert.Empty(t, h.nav.all())

		st := h.co.State()
		assert.NotEmpty(t, st.Status)
		assert.False(t, st.Countdown.Active)
	})
}

func TestCheckoutPreconditionsAreInline(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.co.Start(ctx, "A1", "T1")
	require.NoError(t, err)

	_, err = h.co.Pay(ctx)
	assert.Equal(t, types.ReasonNoWallet, reason(t, err))
	assert.NotEmpty(t, h.co.State().Status)

	p := wallettest.New(56)
	p.RefuseSwitch = true
	_, err = h.co.Connect(ctx, p)
	require.Error(t, err)
	assert.Equal(t, types.ReasonWrongNetwork, reason(t, err))
	assert.True(t, h.co.State().Wallet.Connected)

	_, err = h.co.Pay(ctx)
	assert.Equal(t, types.ReasonWrongNetwork, reason(t, err))

	assert.Empty(t, p.Sent())
	assert.Zero(t, p.Calls("SignMessage"))
	assert.Empty(t, h.nav.all())

	// the user switches by hand and retries
	p.RefuseSwitch = false
	p.SetChain(1)
	attempt, err := h.co.Pay(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.StateConfirmed, attempt.State)
	assert.Equal(t, "1", h.nav.only(t).Get("posted"))
}

func TestCheckoutConnectSwitchesNetwork(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.co.Start(ctx, "A1", "T1")
	require.NoError(t, err)

	p := wallettest.New(137)
	snap, err := h.co.Connect(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Calls("SwitchChain"))
	assert.Equal(t, uint64(1), snap.ChainID.Uint64())
}

func TestCheckoutQuoteUnavailableBlocksPayment(t *testing.T) {
	h := newHarness(t)
	h.priceDown.Store(true)
	ctx := context.Background()

	_, err := h.co.Start(ctx, "A1", "T1")
	require.NoError(t, err)
	st := h.co.State()
	assert.False(t, st.Quoted)
	assert.NotEmpty(t, st.Status)

	p := wallettest.New(1)
	_, err = h.co.Connect(ctx, p)
	require.NoError(t, err)

	_, err = h.co.Pay(ctx)
	assert.Equal(t, types.ReasonQuoteUnavailable, reason(t, err))
	assert.Empty(t, p.Sent())
	assert.Empty(t, h.nav.all())

	h.priceDown.Store(false)
	amount, err := h.co.Quote(ctx)
	require.NoError(t, err)
	assert.Equal(t, "54.347826", amount.StringFixed(6))
}

func TestCheckoutSubmissionFailureRedirects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*wallettest.Provider)
		want   string
	}{
		{"rejected signature", func(p *wallettest.Provider) { p.SignErr = &wallet.RPCError{Code: wallet.CodeUserRejected, Message: "denied"} }, types.ReasonUserRejected},
		{"rejected send", func(p *wallettest.Provider) { p.SendErr = &wallet.RPCError{Code: wallet.CodeUserRejected, Message: "denied"} }, types.ReasonUserRejected},
		{"reverted", func(p *wallettest.Provider) { p.Reverted = true }, types.ReasonTxFailed},
		{"unresolvable token", func(p *wallettest.Provider) { p.CallErr = errors.New("execution reverted") }, types.ReasonBadAddress},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			_, err := h.co.Start(ctx, "A1", "T1")
			require.NoError(t, err)

			p := wallettest.New(1)
			tc.mutate(p)
			_, err = h.co.Connect(ctx, p)
			require.NoError(t, err)

			attempt, err := h.co.Pay(ctx)
			assert.Equal(t, tc.want, reason(t, err))
			assert.Equal(t, types.StateFailed, attempt.State)

			q := h.nav.only(t)
			assert.Equal(t, tc.want, q.Get("reason"))
			assert.Equal(t, int32(0), h.notifies.Load())
		})
	}
}

func TestCheckoutExpiryAfterBroadcast(t *testing.T) {
	for _, reverted := range []bool{false, true} {
		h := newHarness(t)
		ctx := context.Background()
		_, err := h.co.Start(ctx, "A1", "T1")
		require.NoError(t, err)

		p := wallettest.New(1)
		p.WaitGate = make(chan struct{})
		p.Reverted = reverted
		_, err = h.co.Connect(ctx, p)
		require.NoError(t, err)

		type result struct {
			attempt *types.PaymentAttempt
			err     error
		}
		done := make(chan result, 1)
		go func() {
			a, err := h.co.Pay(ctx)
			done <- result{a, err}
		}()

		require.Eventually(t, func() bool { return len(p.Sent()) == 1 }, time.Second, time.Millisecond)
		_, err = h.co.Pay(ctx)
		assert.ErrorIs(t, err, wallet.ErrBusy)

		h.tick(3)
		require.Eventually(t, func() bool { return h.co.State().LateExpiry }, time.Second, time.Millisecond)
		assert.Empty(t, h.nav.all(), "no timeout redirect once the transfer is on the network")

		close(p.WaitGate)
		res := <-done

		q := h.nav.only(t)
		if reverted {
			require.Error(t, res.err)
			assert.Equal(t, types.ReasonTxFailed, reason(t, res.err))
			assert.Equal(t, types.ReasonTxFailed, q.Get("reason"), "the mined outcome is reported, not the expiry")
		} else {
			require.NoError(t, res.err)
			assert.Equal(t, types.StateConfirmed, res.attempt.State)
			assert.Equal(t, res.attempt.TxHash, q.Get("tx"))
			assert.Equal(t, "1", q.Get("posted"))
		}
	}
}

func TestCheckoutAbandon(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.co.Start(ctx, "A1", "T1")
	require.NoError(t, err)
	p := wallettest.New(1)
	_, err = h.co.Connect(ctx, p)
	require.NoError(t, err)

	h.co.Abandon()
	h.co.Abandon()

	select {
	case h.ticks <- time.Now():
		t.Fatal("countdown still running after abandon")
	case <-time.After(20 * time.Millisecond):
	}
	st := h.co.State()
	assert.True(t, st.Finished)
	assert.False(t, st.Wallet.Connected)
	assert.Empty(t, h.nav.all())

	_, err = h.co.Pay(ctx)
	assert.ErrorIs(t, err, checkout.ErrFinished)
}

func TestCheckoutExpiryDuringConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.co.Start(ctx, "A1", "T1")
	require.NoError(t, err)

	p := wallettest.New(1)
	p.SignGate = make(chan struct{})
	_, err = h.co.Connect(ctx, p)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.co.Pay(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return p.Calls("SignMessage") == 1 }, time.Second, time.Millisecond)

	h.tick(3)
	require.Eventually(t, func() bool { return len(h.nav.all()) == 1 }, time.Second, time.Millisecond)
	close(p.SignGate)

	err = <-done
	assert.Equal(t, types.ReasonTimeout, reason(t, err))
	assert.Zero(t, p.Calls("CallContract"))
	assert.Empty(t, p.Sent())
	assert.Equal(t, types.ReasonTimeout, h.nav.only(t).Get("reason"))
}

func TestCheckoutAbandonDuringPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.co.Start(ctx, "A1", "T1")
	require.NoError(t, err)

	p := wallettest.New(1)
	p.SignGate = make(chan struct{})
	_, err = h.co.Connect(ctx, p)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := h.co.Pay(ctx)
		done <- err
	}()
	require.Eventually(t, func() bool { return p.Calls("SignMessage") == 1 }, time.Second, time.Millisecond)

	h.co.Abandon()
	close(p.SignGate)

	err = <-done
	assert.Equal(t, types.ReasonAbandoned, reason(t, err))
	assert.Zero(t, p.Calls("CallContract"))
	assert.Empty(t, p.Sent())
	assert.Empty(t, h.nav.all())
}

func TestCheckoutConcurrentStart(t *testing.T) {
	h := newHarness(t)
	h.hold = make(chan struct{})
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.co.Start(ctx, "A1", "T1")
		done <- err
	}()
	require.Eventually(t, func() bool { return h.lookups.Load() == 1 }, time.Second, time.Millisecond)

	_, err := h.co.Start(ctx, "A1", "T1")
	assert.ErrorIs(t, err, checkout.ErrStarted)

	close(h.hold)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), h.lookups.Load())
	assert.True(t, h.co.State().Countdown.Active)

	_, err = h.co.Start(ctx, "A1", "T1")
	assert.ErrorIs(t, err, checkout.ErrStarted)
}

func TestCheckoutReturnURLs(t *testing.T) {
	t.Run("foreign fail url falls back", func(t *testing.T) {
		h := newHarness(t)
		h.orderStatus = http.StatusForbidden
		h.orderBody = `{"error":"invalid token"}`

		_, err := h.co.Start(context.Background(), "A1", "T1",
			checkout.WithReturnURLs("https://shop.example/danke", "https://evil.example/phish"))
		require.Error(t, err)

		urls := h.nav.all()
		require.Len(t, urls, 1)
		u, err := url.Parse(urls[0])
		require.NoError(t, err)
		assert.Equal(t, "shop.example", u.Host)
		assert.Equal(t, "/zahlung-fehlgeschlagen", u.Path)
		assert.Equal(t, "verify_failed_403", u.Query().Get("reason"))
	})

	t.Run("allowed success url is used", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		_, err := h.co.Start(ctx, "A1", "T1",
			checkout.WithReturnURLs("https://www.shop.example/danke?ref=mail", ""))
		require.NoError(t, err)

		p := wallettest.New(1)
		_, err = h.co.Connect(ctx, p)
		require.NoError(t, err)
		attempt, err := h.co.Pay(ctx)
		require.NoError(t, err)

		urls := h.nav.all()
		require.Len(t, urls, 1)
		u, err := url.Parse(urls[0])
		require.NoError(t, err)
		assert.Equal(t, "www.shop.example", u.Host)
		assert.Equal(t, "/danke", u.Path)
		assert.Equal(t, "mail", u.Query().Get("ref"))
		assert.Equal(t, attempt.TxHash, u.Query().Get("tx"))
	})
}

func TestNewRejectsForeignRedirect(t *testing.T) {
	_, cfg := newBackend(t)
	cfg.FailURL = "https://elsewhere.example/fail"
	_, err := checkout.New(cfg, &navigator{})
	assert.Equal(t, types.ReasonConfigError, reason(t, err))

	_, err = checkout.New(config.Default(), nil)
	assert.Error(t, err)
}
