package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/vitwit/web3checkout/types"
	"github.com/vitwit/web3checkout/utils"
)

const maxBodyBytes = 2 << 20

// OrderClient talks to the shop's order backend. The same endpoint serves
// order lookups (GET) and payment notifications (POST).
type OrderClient struct {
	endpoint string
	http     HTTPDoer
}

func NewOrderClient(endpoint string, httpClient HTTPDoer) *OrderClient {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &OrderClient{endpoint: endpoint, http: httpClient}
}

// Lookup fetches the order envelope for (orderID, token). A non-2xx answer
// yields *StatusError; an incomplete body yields a validation error.
func (c *OrderClient) Lookup(ctx context.Context, orderID, token string) (*types.OrderEnvelope, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid order endpoint: %w", err)
	}
	q := u.Query()
	q.Set("orderId", orderID)
	q.Set("token", token)
	u.RawQuery = q.Encode()

	req, err := newRequest(ctx, http.MethodGet, u.String())
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("order lookup: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read order response: %w", err)
	}

	if !isSuccess(resp.StatusCode) {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	return utils.ParseOrderEnvelope(body)
}

// Notify posts a payment confirmation. Any non-2xx status is an error.
func (c *OrderClient) Notify(ctx context.Context, payload types.NotificationPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	status, _, err := c.Forward(ctx, http.MethodPost, "", data)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return &StatusError{StatusCode: status}
	}
	return nil
}

// Forward relays a raw request to the backend and returns its status and
// body unchanged.
func (c *OrderClient) Forward(ctx context.Context, method, rawQuery string, body []byte) (int, []byte, error) {
	target := c.endpoint
	if rawQuery != "" {
		u, err := url.Parse(c.endpoint)
		if err != nil {
			return 0, nil, fmt.Errorf("invalid order endpoint: %w", err)
		}
		u.RawQuery = rawQuery
		target = u.String()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("order backend %s: %w", method, err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read order backend response: %w", err)
	}
	return resp.StatusCode, out, nil
}
