package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront-orders/internal/adapter/storage"
	"github.com/rl1809/storefront-orders/internal/config"
	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
)

const (
	initialStock  = 1000
	codeUses      = 1
	totalRequests = 50
)

// Races totalRequests checkouts for a single-use discount code against the
// configured database and checks exactly one of them wins it.
func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := storage.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("failed to connect %s: %v", cfg.DBDriver, err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	variant := domain.Variant{ProductName: "Stress Test Parfum", Volume: "100ml", Price: 1_000_000, StockQuantity: initialStock}
	if err := store.CreateVariant(ctx, &variant); err != nil {
		log.Fatalf("failed to seed variant: %v", err)
	}

	uses := codeUses
	remaining := codeUses
	discount := &domain.Discount{
		Code:               "STRESS" + strings.ToUpper(uuid.NewString()[:8]),
		DiscountPercentage: decimal.NewFromInt(20),
		MaxUses:            &uses,
		RemainingUses:      &remaining,
		IsActive:           true,
	}
	if err := store.CreateDiscount(ctx, discount); err != nil {
		log.Fatalf("failed to seed discount: %v", err)
	}

	orders := service.NewOrderService(store, nil, nil, service.Options{ShippingFee: cfg.ShippingFee})

	var successCount, exhaustedCount, otherCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(userID int) {
			defer wg.Done()

			_, err := orders.CreateOrder(ctx, service.CheckoutRequest{
				Actor: domain.Actor{Kind: domain.ActorCustomer, ID: fmt.Sprintf("user-%d", userID)},
				Cart:  []service.CartLine{{VariantID: variant.ID, Quantity: 1}},
				Address: domain.Address{
					RecipientName: "Stress Tester",
					Phone:         "0900000000",
					Line:          "1 Test Street",
				},
				PaymentMethod: domain.PaymentMethodCOD,
				DiscountCode:  discount.Code,
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrCodeExhausted):
				exhaustedCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("user-%d: unexpected error: %v", userID, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := successCount.Load()
	exhausted := exhaustedCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Driver:           %s\n", cfg.DBDriver)
	fmt.Printf("Discount Code:    %s (%d use)\n", discount.Code, codeUses)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Redeemed:         %d\n", success)
	fmt.Printf("Exhausted:        %d\n", exhausted)
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	failed := false
	if success == codeUses && exhausted == totalRequests-codeUses {
		fmt.Printf("PASS: exactly %d checkout redeemed the code\n", codeUses)
	} else {
		fmt.Printf("FAIL: expected %d redeemed/%d exhausted, got %d/%d\n",
			codeUses, totalRequests-codeUses, success, exhausted)
		failed = true
	}

	final, err := store.GetDiscount(ctx, discount.ID)
	if err != nil {
		log.Fatalf("failed to reload discount: %v", err)
	}
	if final.RemainingUses != nil && *final.RemainingUses == 0 {
		fmt.Println("PASS: remaining uses is 0")
	} else {
		fmt.Printf("FAIL: unexpected remaining uses %v\n", final.RemainingUses)
		failed = true
	}

	if failed {
		os.Exit(1)
	}
}
