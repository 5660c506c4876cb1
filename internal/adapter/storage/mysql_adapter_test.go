package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

// startMySQLContainer runs a throwaway MySQL when no MYSQL_DSN is given.
// It returns "" when Docker is not usable.
func startMySQLContainer(t *testing.T) (dsn string) {
	t.Helper()
	defer func() {
		// testcontainers panics when no Docker host can be resolved
		if r := recover(); r != nil {
			dsn = ""
		}
	}()

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mysql:8.0",
			ExposedPorts: []string{"3306/tcp"},
			Env: map[string]string{
				"MYSQL_ROOT_PASSWORD": "root",
				"MYSQL_DATABASE":      "storefront",
			},
			WaitingFor: wait.ForListeningPort("3306/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return ""
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		return ""
	}
	port, err := container.MappedPort(ctx, "3306/tcp")
	if err != nil {
		return ""
	}
	return fmt.Sprintf("root:root@tcp(%s:%s)/storefront?parseTime=true&loc=UTC", host, port.Port())
}

func getMySQLStore(t *testing.T) *SQLStore {
	if testing.Short() {
		t.Skip("MySQL tests skipped in short mode")
	}

	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = startMySQLContainer(t)
	}
	if dsn == "" {
		t.Skipf("MySQL not available: set MYSQL_DSN or run Docker")
	}

	var store *SQLStore
	var err error
	// the server may still be initialising right after the port opens
	for attempt := 0; attempt < 20; attempt++ {
		store, err = Open(context.Background(), "mysql", dsn)
		if err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return store
}

func TestMySQL_MigrateTwice(t *testing.T) {
	store := getMySQLStore(t)

	// second run must tolerate existing indexes
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestMySQL_CreateOrderAndShip(t *testing.T) {
	store := getMySQLStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	v := domain.Variant{ProductName: "Test Perfume", Volume: "100ml", Price: 500_000, StockQuantity: 10}
	if err := store.CreateVariant(ctx, &v); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	order := newTestOrder(v, 3, now)
	if err := store.CreateOrder(ctx, order); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	err := store.Transact(ctx, func(ctx context.Context) error {
		if err := store.CompareAndSetStatus(ctx, port.StatusChange{
			OrderID: order.ID, From: domain.OrderStatusPending, To: domain.OrderStatusProcessing, At: now,
		}); err != nil {
			return err
		}
		ok, err := store.DecrementStock(ctx, v.ID, 3)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInsufficientStock
		}
		return store.SetItemsDeducted(ctx, order.ID, true)
	})
	if err != nil {
		t.Fatalf("transaction failed: %v", err)
	}

	got, err := store.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if got.Status != domain.OrderStatusProcessing {
		t.Errorf("expected processing, got %s", got.Status)
	}
	if got.Items[0].DeductedQuantity != 3 {
		t.Errorf("expected deducted 3, got %d", got.Items[0].DeductedQuantity)
	}

	stock, _ := store.GetStock(ctx, v.ID)
	if stock != 7 {
		t.Errorf("expected stock 7, got %d", stock)
	}
}

func TestMySQL_CompareAndSetStatus_Concurrent(t *testing.T) {
	store := getMySQLStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	v := domain.Variant{ProductName: "Race Perfume", Price: 100_000, StockQuantity: 1}
	if err := store.CreateVariant(ctx, &v); err != nil {
		t.Fatalf("setup failed: %v", err)
	}
	order := newTestOrder(v, 1, now)
	if err := store.CreateOrder(ctx, order); err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	var wins, stale atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.CompareAndSetStatus(ctx, port.StatusChange{
				OrderID: order.ID, From: domain.OrderStatusPending, To: domain.OrderStatusCancelled, At: now,
			})
			switch err {
			case nil:
				wins.Add(1)
			case domain.ErrStaleOrderState:
				stale.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 || stale.Load() != 9 {
		t.Errorf("expected 1 winner and 9 stale, got %d and %d", wins.Load(), stale.Load())
	}
}

func TestMySQL_DecrementStock_Concurrent(t *testing.T) {
	store := getMySQLStore(t)
	ctx := context.Background()

	initialStock := 20
	totalRequests := 50

	v := domain.Variant{ProductName: "Flash Perfume", Price: 100_000, StockQuantity: initialStock}
	if err := store.CreateVariant(ctx, &v); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	var successCount atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.DecrementStock(ctx, v.ID, 1)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if ok {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	if successCount.Load() != int32(initialStock) {
		t.Errorf("expected %d successes, got %d", initialStock, successCount.Load())
	}
	stock, _ := store.GetStock(ctx, v.ID)
	if stock != 0 {
		t.Errorf("expected stock 0, got %d", stock)
	}
}

func TestMySQL_DecrementRemainingUses_Concurrent(t *testing.T) {
	store := getMySQLStore(t)
	ctx := context.Background()

	totalRequests := 20
	uses := 1
	remaining := 1
	d := &domain.Discount{
		Code:               fmt.Sprintf("ONCE%d", time.Now().UnixNano()),
		DiscountPercentage: decimal.NewFromInt(10),
		MaxUses:            &uses,
		RemainingUses:      &remaining,
		IsActive:           true,
	}
	if err := store.CreateDiscount(ctx, d); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	var redeemed, exhausted atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			// checkout takes the use inside its own transaction
			err := store.Transact(ctx, func(ctx context.Context) error {
				ok, err := store.DecrementRemainingUses(ctx, d.ID)
				if err != nil {
					return err
				}
				if !ok {
					return domain.ErrCodeExhausted
				}
				return nil
			})
			switch {
			case err == nil:
				redeemed.Add(1)
			case errors.Is(err, domain.ErrCodeExhausted):
				exhausted.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if redeemed.Load() != 1 {
		t.Errorf("expected 1 redemption, got %d", redeemed.Load())
	}
	if exhausted.Load() != int32(totalRequests-1) {
		t.Errorf("expected %d exhausted, got %d", totalRequests-1, exhausted.Load())
	}

	got, err := store.GetDiscount(ctx, d.ID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got.RemainingUses == nil || *got.RemainingUses != 0 {
		t.Errorf("expected remaining uses 0, got %v", got.RemainingUses)
	}
}
