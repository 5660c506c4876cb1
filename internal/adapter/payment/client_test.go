package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront-orders/internal/port"
)

const testSecret = "shh"

func TestInitiate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.True(t, VerifySignature(body, r.Header.Get(SignatureHeader), testSecret))
		assert.Equal(t, "pay-1", r.Header.Get("Idempotency-Key"))

		var req port.PaymentInitiation
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, int64(480_000), req.Amount)
		assert.Equal(t, "VND", req.Currency)

		json.NewEncoder(w).Encode(port.PaymentHandle{TransactionID: "tx-9", RedirectURL: "https://pay.example/tx-9"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, testSecret, time.Second, nil)
	handle, err := p.Initiate(context.Background(), port.PaymentInitiation{OrderID: 1, PaymentID: "pay-1", Amount: 480_000})
	require.NoError(t, err)
	assert.Equal(t, "tx-9", handle.TransactionID)
	assert.Equal(t, "closed", p.BreakerState())
}

func TestInitiate_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, testSecret, time.Second, nil)
	_, err := p.Initiate(context.Background(), port.PaymentInitiation{PaymentID: "pay-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestInitiate_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p := NewHTTPProvider(srv.URL, testSecret, 5*time.Second, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Initiate(ctx, port.PaymentInitiation{PaymentID: "pay-1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestInitiate_BreakerFailsFast(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL, testSecret, time.Second, NewCircuitBreaker(2, time.Minute))
	for i := 0; i < 2; i++ {
		_, err := p.Initiate(context.Background(), port.PaymentInitiation{PaymentID: "pay"})
		require.Error(t, err)
	}

	_, err := p.Initiate(context.Background(), port.PaymentInitiation{PaymentID: "pay"})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, "open", p.BreakerState())
}

func TestCircuitBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(1, time.Minute)
	cb.now = func() time.Time { return now }

	cb.RecordFailure()
	assert.True(t, cb.IsOpen())

	now = now.Add(time.Minute)
	assert.False(t, cb.IsOpen())
	assert.Equal(t, "half-open", cb.State())

	cb.RecordSuccess()
	assert.Equal(t, "closed", cb.State())
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"transaction_id":"tx-1","success":true}`)
	sig := Sign(payload, testSecret)

	assert.True(t, VerifySignature(payload, sig, testSecret))
	assert.False(t, VerifySignature(payload, sig, "other"))
	assert.False(t, VerifySignature([]byte(`{}`), sig, testSecret))
}
