package clients

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewHTTPClient returns an http.Client with the given timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// StatusError is returned when a collaborator answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if hint := httpCodeHint(e.StatusCode); hint != "" {
		return fmt.Sprintf("unexpected status %d (%s)", e.StatusCode, hint)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

func httpCodeHint(code int) string {
	switch code {
	case http.StatusTooManyRequests:
		return "too many requests"
	case http.StatusServiceUnavailable:
		return "service unavailable"
	case http.StatusGatewayTimeout:
		return "gateway timeout"
	}
	return ""
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

func newRequest(ctx context.Context, method, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}
