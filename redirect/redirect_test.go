package redirect

import (
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shop = Builder{
	SuccessURL:   "https://shop.example/danke",
	FailURL:      "https://shop.example/fehler?lang=de",
	AllowedHosts: []string{"shop.example"},
	FailFallback: "https://shop.example/",
}

func TestFailure(t *testing.T) {
	assert.Equal(t,
		"https://shop.example/fehler?lang=de&orderId=A1&reason=timeout",
		shop.Failure("A1", "timeout"))

	assert.Equal(t,
		"https://shop.example/fehler?lang=de&orderId=A%261+%3F&reason=verify_failed_403",
		shop.Failure("A&1 ?", "verify_failed_403"))
}

func TestSuccess(t *testing.T) {
	got := shop.Success(Success{
		OrderID: "A1",
		TxHash:  "0xabc",
		Posted:  true,
		Coin:    "USDT",
		Chain:   "eth",
		Wallet:  "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266",
		Amount:  decimal.RequireFromString("54.347826"),
	})

	assert.Equal(t, "https://shop.example/danke?orderId=A1&tx=0xabc&posted=1&coin=USDT&chain=eth&wallet=0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266&amount=54.347826", got)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "1", u.Query().Get("posted"))
}

func TestSuccessNotPosted(t *testing.T) {
	got := shop.Success(Success{OrderID: "A1", TxHash: "0xabc", Amount: decimal.RequireFromString("0.064975")})
	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "0", u.Query().Get("posted"))
	assert.Equal(t, "0.064975", u.Query().Get("amount"))
}

func TestDisallowedHostFallsBack(t *testing.T) {
	b := shop
	b.FailURL = "https://evil.example/steal"
	assert.Equal(t, "https://shop.example/?orderId=A1&reason=timeout", b.Failure("A1", "timeout"))
	assert.Error(t, b.Validate())
	assert.NoError(t, shop.Validate())
}

func TestOverride(t *testing.T) {
	b := shop.Override("https://www.shop.example/thanks?ref=mail", "https://evil.example/steal")
	assert.Equal(t, "https://www.shop.example/thanks?ref=mail&orderId=A1&tx=0xabc&posted=0&coin=&chain=&wallet=&amount=0.000000",
		b.Success(Success{OrderID: "A1", TxHash: "0xabc"}))
	assert.Equal(t, "https://shop.example/fehler?lang=de&orderId=A1&reason=timeout", b.Failure("A1", "timeout"))

	b = shop.Override("", "javascript:alert(1)")
	assert.Equal(t, "https://shop.example/danke?orderId=A1&tx=&posted=0&coin=&chain=&wallet=&amount=0.000000",
		b.Success(Success{OrderID: "A1"}))
	assert.Equal(t, "https://shop.example/fehler?lang=de&orderId=A1&reason=tx_failed", b.Failure("A1", "tx_failed"))
}

func TestSubdomainAllowed(t *testing.T) {
	b := shop
	b.SuccessURL = "https://www.shop.example/ok"
	assert.NoError(t, b.Validate())
}

func TestAppendSeparators(t *testing.T) {
	assert.Equal(t, "https://a.b/x?k=v", Append("https://a.b/x", [][2]string{{"k", "v"}}))
	assert.Equal(t, "https://a.b/x?k=v", Append("https://a.b/x?", [][2]string{{"k", "v"}}))
	assert.Equal(t, "https://a.b/x?a=1&k=v", Append("https://a.b/x?a=1&", [][2]string{{"k", "v"}}))
}
