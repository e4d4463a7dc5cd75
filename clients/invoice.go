package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// InvoiceRequest is the body accepted by the invoice service.
type InvoiceRequest struct {
	Secret        string          `json:"secret"`
	OrderID       string          `json:"orderId" validate:"required"`
	Name          string          `json:"name" validate:"required"`
	Email         string          `json:"email" validate:"required,email"`
	FiatAmount    decimal.Decimal `json:"warenkorbWert"`
	Chain         string          `json:"chain" validate:"required"`
	Coin          string          `json:"coin" validate:"required"`
	TxHash        string          `json:"txHash" validate:"required"`
	WalletAddress string          `json:"walletAdresse" validate:"required"`
	UserID        string          `json:"userId" validate:"required"`
	Provider      string          `json:"provider,omitempty"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
}

// Invoice is a rendered invoice document.
type Invoice struct {
	Filename string
	Content  []byte
}

type invoiceResponse struct {
	Base64   string `json:"base64"`
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// InvoiceClient requests invoice documents for confirmed payments.
type InvoiceClient struct {
	endpoint string
	secret   string
	http     HTTPDoer
}

func NewInvoiceClient(endpoint, secret string, httpClient HTTPDoer) *InvoiceClient {
	if httpClient == nil {
		httpClient = NewHTTPClient(0)
	}
	return &InvoiceClient{endpoint: endpoint, secret: secret, http: httpClient}
}

func (c *InvoiceClient) Request(ctx context.Context, in InvoiceRequest) (*Invoice, error) {
	in.Secret = c.secret
	if !in.FiatAmount.IsPositive() {
		return nil, fmt.Errorf("invoice amount must be positive")
	}

	data, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoice request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16*maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read invoice response: %w", err)
	}
	if !isSuccess(resp.StatusCode) {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out invoiceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode invoice response: %w", err)
	}
	content, err := base64.StdEncoding.DecodeString(out.Base64)
	if err != nil {
		return nil, fmt.Errorf("decode invoice document: %w", err)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("empty invoice document")
	}

	filename := strings.TrimSpace(out.Filename)
	if filename == "" {
		filename = fmt.Sprintf("Rechnung_%s.pdf", in.OrderID)
	}
	return &Invoice{Filename: filename, Content: content}, nil
}
