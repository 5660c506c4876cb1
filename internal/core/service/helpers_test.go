package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

var (
	customer = domain.Actor{Kind: domain.ActorCustomer, ID: "user-1"}
	operator = domain.Actor{Kind: domain.ActorOperator, ID: "op-1"}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Initiate(ctx context.Context, req port.PaymentInitiation) (port.PaymentHandle, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(port.PaymentHandle), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Notify(ctx context.Context, n domain.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

// memoryCache is an in-process CacheRepository.
type memoryCache struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryCache() *memoryCache {
	return &memoryCache{keys: make(map[string]string)}
}

func (c *memoryCache) SetIdempotency(ctx context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys[key]; ok {
		return false, nil
	}
	c.keys[key] = "1"
	return true, nil
}

func (c *memoryCache) ClearIdempotency(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.keys, key)
	return nil
}

func (c *memoryCache) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.keys["lock:"+key]; ok {
		return false, nil
	}
	c.keys["lock:"+key] = token
	return true, nil
}

func (c *memoryCache) ReleaseLock(ctx context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keys["lock:"+key] == token {
		delete(c.keys, "lock:"+key)
	}
	return nil
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.keys[key]
	return ok
}

type fixture struct {
	store    *storage.SQLStore
	clock    *testClock
	cache    *memoryCache
	notifier *mockNotifier
	provider *mockProvider
	orders   *OrderService
	payments *PaymentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := storage.Open(ctx, "sqlite3", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	f := &fixture{
		store:    store,
		clock:    newTestClock(),
		cache:    newMemoryCache(),
		notifier: &mockNotifier{},
		provider: &mockProvider{},
	}
	f.notifier.On("Notify", mock.Anything, mock.Anything).Return(nil).Maybe()

	f.orders = NewOrderService(store, f.cache, f.notifier, Options{
		PaymentWindow:     24 * time.Hour,
		ShippingFee:       30_000,
		LowStockThreshold: intPtr(5),
		Now:               f.clock.Now,
	})
	f.payments = NewPaymentService(f.orders, f.provider)
	return f
}

func (f *fixture) seedVariant(t *testing.T, price int64, stock int) domain.Variant {
	t.Helper()

	v := domain.Variant{ProductName: "Eau de Parfum", Volume: "100ml", Price: price, StockQuantity: stock}
	require.NoError(t, f.store.CreateVariant(context.Background(), &v))
	return v
}

func (f *fixture) seedDiscount(t *testing.T, code string, pct int64, uses *int) *domain.Discount {
	t.Helper()

	d := &domain.Discount{
		Code:               code,
		DiscountPercentage: decimal.NewFromInt(pct),
		MaxUses:            uses,
		IsActive:           true,
	}
	if uses != nil {
		remaining := *uses
		d.RemainingUses = &remaining
	}
	require.NoError(t, f.store.CreateDiscount(context.Background(), d))
	return d
}

func (f *fixture) stock(t *testing.T, variantID int64) int {
	t.Helper()

	n, err := f.store.GetStock(context.Background(), variantID)
	require.NoError(t, err)
	return n
}

func (f *fixture) remainingUses(t *testing.T, discountID int64) int {
	t.Helper()

	d, err := f.store.GetDiscount(context.Background(), discountID)
	require.NoError(t, err)
	require.NotNil(t, d.RemainingUses)
	return *d.RemainingUses
}

func checkout(method domain.PaymentMethod, code string, lines ...CartLine) CheckoutRequest {
	return CheckoutRequest{
		Actor: customer,
		Cart:  lines,
		Address: domain.Address{
			RecipientName: "Nguyen An",
			Phone:         "0901234567",
			Line:          "12 Nguyen Hue",
			District:      "District 1",
			City:          "Ho Chi Minh City",
		},
		PaymentMethod: method,
		DiscountCode:  code,
	}
}

func intPtr(v int) *int {
	return &v
}
