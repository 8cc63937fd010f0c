package crm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	contractx "github.com/tanpawarit/chative-crm-assistant/agent/contract"
)

const maxErrorBodyBytes = 4 << 10

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider contractx.Provider
	Op       string
	Status   int
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: http status=%d body=%s", e.Provider, e.Op, e.Status, e.Body)
}

// IsAuth reports an authorization-class status.
func (e *APIError) IsAuth() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// TransportError is a network-level failure; no HTTP status was received.
type TransportError struct {
	Provider contractx.Provider
	Op       string
	Timeout  bool
	Err      error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s %s: http_error: timeout", e.Provider, e.Op)
	}
	return fmt.Sprintf("%s %s: http_error: %v", e.Provider, e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newTransportError(provider contractx.Provider, op string, err error) *TransportError {
	var netErr net.Error
	timeout := errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout())
	return &TransportError{Provider: provider, Op: op, Timeout: timeout, Err: err}
}

// execute sends req and converts transport failures and non-2xx answers into typed errors.
func execute(req *resty.Request, provider contractx.Provider, op, method, url string) ([]byte, error) {
	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, newTransportError(provider, op, err)
	}
	body := resp.Body()
	if resp.StatusCode() < http.StatusOK || resp.StatusCode() >= http.StatusMultipleChoices {
		if len(body) > maxErrorBodyBytes {
			body = body[:maxErrorBodyBytes]
		}
		return nil, &APIError{Provider: provider, Op: op, Status: resp.StatusCode(), Body: string(body)}
	}
	return body, nil
}

var tokenErrorWords = []string{"token", "expired", "unauthorized", "session", "invalid"}

// mentionsTokenProblem is the free-text fallback for payloads without a known error code.
func mentionsTokenProblem(body string) bool {
	lower := strings.ToLower(body)
	for _, w := range tokenErrorWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
