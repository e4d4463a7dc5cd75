package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vitwit/web3checkout/types"
)

const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3/simple/price"

// CoinGeckoClient reads spot prices from the simple/price endpoint.
type CoinGeckoClient struct {
	endpoint string
	http     HTTPDoer
	now      func() time.Time
}

func NewCoinGeckoClient(endpoint string, httpClient HTTPDoer) *CoinGeckoClient {
	if endpoint == "" {
		endpoint = DefaultCoinGeckoURL
	}
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &CoinGeckoClient{endpoint: endpoint, http: httpClient, now: time.Now}
}

// Price returns the fiat price of one unit of feedID in currency.
func (c *CoinGeckoClient) Price(ctx context.Context, feedID, currency string) (types.QuoteTicket, error) {
	currency = strings.ToLower(currency)

	u, err := url.Parse(c.endpoint)
	if err != nil {
		return types.QuoteTicket{}, unavailable(feedID, err)
	}
	q := u.Query()
	q.Set("ids", feedID)
	q.Set("vs_currencies", currency)
	u.RawQuery = q.Encode()

	req, err := newRequest(ctx, http.MethodGet, u.String())
	if err != nil {
		return types.QuoteTicket{}, unavailable(feedID, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return types.QuoteTicket{}, unavailable(feedID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return types.QuoteTicket{}, unavailable(feedID, err)
	}
	if !isSuccess(resp.StatusCode) {
		return types.QuoteTicket{}, unavailable(feedID, &StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	var prices map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &prices); err != nil {
		return types.QuoteTicket{}, unavailable(feedID, err)
	}

	price, ok := prices[feedID][currency]
	if !ok {
		return types.QuoteTicket{}, unavailable(feedID, fmt.Errorf("no %s price in response", currency))
	}
	if !price.IsPositive() {
		return types.QuoteTicket{}, unavailable(feedID, fmt.Errorf("non-positive price %s", price.String()))
	}

	return types.QuoteTicket{
		PriceFeedID: feedID,
		Currency:    strings.ToUpper(currency),
		FiatPerUnit: price,
		FetchedAt:   c.now(),
	}, nil
}

func unavailable(feedID string, err error) error {
	return types.NewError(types.ReasonQuoteUnavailable, fmt.Sprintf("price for %s unavailable", feedID), err)
}
