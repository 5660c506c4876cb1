package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rl1809/storefront-orders/internal/port"
)

const maxResponseBodySize = 64 * 1024

var ErrCircuitOpen = errors.New("payment provider circuit open")

// HTTPProvider starts payment sessions on a JSON provider API. Requests are
// signed with the shared secret the provider also uses for callbacks.
type HTTPProvider struct {
	baseURL string
	secret  string
	client  *http.Client
	breaker *CircuitBreaker
}

func NewHTTPProvider(baseURL, secret string, timeout time.Duration, breaker *CircuitBreaker) *HTTPProvider {
	if breaker == nil {
		breaker = NewCircuitBreaker(defaultBreakerThreshold, defaultBreakerCooldown)
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
	}
}

func (p *HTTPProvider) Initiate(ctx context.Context, req port.PaymentInitiation) (port.PaymentHandle, error) {
	if p.breaker.IsOpen() {
		return port.PaymentHandle{}, ErrCircuitOpen
	}

	handle, err := p.initiate(ctx, req)
	if err != nil {
		p.breaker.RecordFailure()
		return port.PaymentHandle{}, err
	}
	p.breaker.RecordSuccess()
	return handle, nil
}

func (p *HTTPProvider) initiate(ctx context.Context, req port.PaymentInitiation) (port.PaymentHandle, error) {
	if req.Currency == "" {
		req.Currency = "VND"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return port.PaymentHandle{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return port.PaymentHandle{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.PaymentID)
	httpReq.Header.Set(SignatureHeader, Sign(body, p.secret))

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return port.PaymentHandle{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return port.PaymentHandle{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return port.PaymentHandle{}, fmt.Errorf("provider returned %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var handle port.PaymentHandle
	if err := json.Unmarshal(respBody, &handle); err != nil {
		return port.PaymentHandle{}, fmt.Errorf("decode response: %w", err)
	}
	if handle.TransactionID == "" || handle.RedirectURL == "" {
		return port.PaymentHandle{}, errors.New("provider response missing transaction id or redirect url")
	}
	return handle, nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// BreakerState reports "closed", "open" or "half-open" for health checks.
func (p *HTTPProvider) BreakerState() string {
	return p.breaker.State()
}
