package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront-orders/internal/adapter/payment"
	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
	"github.com/rl1809/storefront-orders/internal/port"
)

const testSecret = "callback-secret"

type stubProvider struct {
	calls atomic.Int64
}

func (p *stubProvider) Initiate(ctx context.Context, req port.PaymentInitiation) (port.PaymentHandle, error) {
	n := p.calls.Add(1)
	txID := fmt.Sprintf("tx-%d-%d", req.OrderID, n)
	return port.PaymentHandle{TransactionID: txID, RedirectURL: "https://pay.example/" + txID}, nil
}

type testEnv struct {
	store    *storage.SQLStore
	orders   *service.OrderService
	payments *service.PaymentService
	handler  *HTTPHandler
	server   *httptest.Server
	variant  domain.Variant
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	ctx := context.Background()
	store, err := storage.Open(ctx, "sqlite3", fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	v := domain.Variant{ProductName: "Eau de Toilette", Volume: "50ml", Price: 500_000, StockQuantity: 10}
	require.NoError(t, store.CreateVariant(ctx, &v))
	require.NoError(t, store.CreateDiscount(ctx, &domain.Discount{
		Code:               "SALE10",
		DiscountPercentage: decimal.NewFromInt(10),
		IsActive:           true,
	}))

	orders := service.NewOrderService(store, nil, nil, service.Options{ShippingFee: 30_000})
	payments := service.NewPaymentService(orders, &stubProvider{})
	h := NewHTTPHandler(orders, payments, testSecret, nil)

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)

	return &testEnv{store: store, orders: orders, payments: payments, handler: h, server: srv, variant: v}
}

func (e *testEnv) do(t *testing.T, method, path string, actor domain.Actor, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, e.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if actor.Kind != "" {
		req.Header.Set(ActorKindHeader, string(actor.Kind))
		req.Header.Set(ActorIDHeader, actor.ID)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

var (
	customer = domain.Actor{Kind: domain.ActorCustomer, ID: "user-1"}
	operator = domain.Actor{Kind: domain.ActorOperator, ID: "op-1"}
)

func (e *testEnv) checkoutBody(method, code string) CheckoutHTTPRequest {
	return CheckoutHTTPRequest{
		Cart:          []CartLineRequest{{VariantID: e.variant.ID, Quantity: 1}},
		Address:       AddressRequest{RecipientName: "Nguyen An", Phone: "0901234567", Line: "12 Nguyen Hue", City: "HCMC"},
		PaymentMethod: method,
		DiscountCode:  code,
	}
}

func (e *testEnv) createOrder(t *testing.T, method, code string) OrderResponse {
	t.Helper()

	resp := e.do(t, http.MethodPost, "/orders", customer, e.checkoutBody(method, code))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[OrderResponse](t, resp)
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/health", domain.Actor{}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestCreateOrder_HTTP(t *testing.T) {
	env := newTestEnv(t)

	order := env.createOrder(t, "online", "sale10")
	assert.Equal(t, domain.OrderStatusPending, order.Status)
	assert.Equal(t, int64(480_000), order.TotalAmount)
	assert.Equal(t, "awaiting online payment", order.StatusMessage)
	assert.NotNil(t, order.PaymentExpiresAt)
	require.Len(t, order.Items, 1)
	assert.Equal(t, int64(500_000), order.Items[0].LineTotal)
}

func TestCreateOrder_HTTPErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name       string
		actor      domain.Actor
		body       interface{}
		wantStatus int
		wantCode   string
	}{
		{"missing actor", domain.Actor{}, env.checkoutBody("cod", ""), http.StatusBadRequest, "invalid_actor"},
		{"malformed body", customer, "not-an-object", http.StatusBadRequest, "invalid_request"},
		{"bad payment method", customer, env.checkoutBody("crypto", ""), http.StatusBadRequest, "invalid_checkout"},
		{"operator checkout", operator, env.checkoutBody("cod", ""), http.StatusForbidden, "forbidden"},
		{"unknown code", customer, env.checkoutBody("cod", "NOPE"), http.StatusUnprocessableEntity, "code_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/orders", tt.actor, tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, resp).Error)
		})
	}
}

func TestCreateOrder_InsufficientStockDetails(t *testing.T) {
	env := newTestEnv(t)

	body := env.checkoutBody("cod", "")
	body.Cart[0].Quantity = 11
	resp := env.do(t, http.MethodPost, "/orders", customer, body)
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	errResp := decode[ErrorResponse](t, resp)
	assert.Equal(t, "insufficient_stock", errResp.Error)
	details, ok := errResp.Details.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(10), details["available"])
	assert.Equal(t, float64(11), details["requested"])
}

func TestOrderRoutes_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "cod", "")
	base := fmt.Sprintf("/orders/%d", order.ID)

	resp := env.do(t, http.MethodGet, base, domain.Actor{Kind: domain.ActorCustomer, ID: "user-2"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/orders/9999", operator, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/orders/abc", operator, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, base+"/transitions", operator, TransitionHTTPRequest{Status: "shipped"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, resp).Error)

	resp = env.do(t, http.MethodPost, base+"/transitions", customer, TransitionHTTPRequest{Status: "processing"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	for _, status := range []string{"processing", "shipped"} {
		resp = env.do(t, http.MethodPost, base+"/transitions", operator, TransitionHTTPRequest{Status: status, TrackingNumber: "VN-1"})
		require.Equal(t, http.StatusOK, resp.StatusCode, status)
	}
	res := decode[TransitionResponse](t, resp)
	assert.Equal(t, domain.OrderStatusShipped, res.Order.Status)
	assert.Equal(t, "VN-1", res.Order.TrackingNumber)

	resp = env.do(t, http.MethodPost, base+"/transitions", operator, TransitionHTTPRequest{Status: "cancelled", Reason: "lost in transit"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled: lost in transit", decode[TransitionResponse](t, resp).Order.StatusMessage)

	stock, err := env.store.GetStock(context.Background(), env.variant.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, stock)

	resp = env.do(t, http.MethodGet, base+"/activity", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	activity := decode[[]ActivityResponse](t, resp)
	require.Len(t, activity, 4)
	assert.Equal(t, domain.OrderStatusCancelled, activity[3].ToStatus)
}

func TestDiscountRoutes(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "online", "")
	base := fmt.Sprintf("/orders/%d/discount", order.ID)

	resp := env.do(t, http.MethodPut, base, customer, DiscountHTTPRequest{Code: "sale10"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	applied := decode[DiscountResponse](t, resp)
	assert.Equal(t, int64(50_000), applied.AppliedAmount)
	assert.Equal(t, int64(480_000), applied.Order.TotalAmount)

	resp = env.do(t, http.MethodDelete, base, customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int64(530_000), decode[OrderResponse](t, resp).TotalAmount)
}

func TestPaymentRoutes(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "online", "")
	base := fmt.Sprintf("/orders/%d", order.ID)

	resp := env.do(t, http.MethodPost, base+"/payment-session", customer, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	session := decode[domain.PaymentSession](t, resp)
	assert.NotEmpty(t, session.TransactionID)
	assert.WithinDuration(t, *order.PaymentExpiresAt, session.ExpiresAt, time.Millisecond)

	callback := func(body []byte, signature string) *http.Response {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/payments/callback", bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set(payment.SignatureHeader, signature)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	body := []byte(fmt.Sprintf(`{"transaction_id":%q,"success":true,"details":{"bank":"VCB"}}`, session.TransactionID))
	resp = callback(body, "deadbeef")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = callback(body, payment.Sign(body, testSecret))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, base, customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", decode[OrderResponse](t, resp).PaymentStatus)

	resp = env.do(t, http.MethodGet, base+"/payments", customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	payments := decode[[]PaymentResponse](t, resp)
	require.Len(t, payments, 1)
	assert.Equal(t, "completed", payments[0].Status)

	resp = env.do(t, http.MethodPost, base+"/cash-on-delivery", customer, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "payment_not_allowed", decode[ErrorResponse](t, resp).Error)
}

func TestCashOnDeliveryRoute(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "online", "")

	resp := env.do(t, http.MethodPost, fmt.Sprintf("/orders/%d/cash-on-delivery", order.ID), customer, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[OrderResponse](t, resp)
	assert.Equal(t, "cod", got.PaymentMethod)
	assert.Nil(t, got.PaymentExpiresAt)
	assert.Equal(t, "order received", got.StatusMessage)
}

func TestPaymentCountdown_WebSocket(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "online", "")

	env.handler.countdownInterval = 10 * time.Millisecond
	env.handler.now = func() time.Time { return order.PaymentExpiresAt.Add(-90 * time.Second) }

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + fmt.Sprintf("/orders/%d/payment-window/ws", order.ID)
	header := http.Header{}
	header.Set(ActorKindHeader, string(customer.Kind))
	header.Set(ActorIDHeader, customer.ID)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	var msg CountdownMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, order.ID, msg.OrderID)
	assert.Equal(t, int64(90), msg.RemainingSeconds)
	assert.False(t, msg.Expired)

	_, err = env.payments.ConvertToCashOnDelivery(context.Background(), order.ID, customer)
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if err := conn.ReadJSON(&msg); err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
			break
		}
	}
	assert.Zero(t, msg.RemainingSeconds)
	assert.Equal(t, domain.OrderStatusPending, msg.Status)
}

func TestPaymentCountdown_KeepsIdleClientAlive(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "online", "")

	env.handler.countdownInterval = 300 * time.Millisecond
	env.handler.pongWait = 100 * time.Millisecond

	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + fmt.Sprintf("/orders/%d/payment-window/ws", order.ID)
	header := http.Header{}
	header.Set(ActorKindHeader, string(customer.Kind))
	header.Set(ActorIDHeader, customer.ID)

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	// the client only reads; pongs go out from its default ping handler
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < 4; i++ {
		var msg CountdownMessage
		require.NoError(t, conn.ReadJSON(&msg), "frame %d", i)
		assert.Positive(t, msg.RemainingSeconds)
	}
}

func TestPaymentCountdown_Forbidden(t *testing.T) {
	env := newTestEnv(t)
	order := env.createOrder(t, "online", "")

	resp := env.do(t, http.MethodGet, fmt.Sprintf("/orders/%d/payment-window/ws", order.ID),
		domain.Actor{Kind: domain.ActorGuest, ID: "someone@example.com"}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
