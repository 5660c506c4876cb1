package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

type DiscountEngine struct {
	repo port.DiscountRepository
}

func NewDiscountEngine(repo port.DiscountRepository) *DiscountEngine {
	return &DiscountEngine{repo: repo}
}

// Validate resolves code and returns the discount with the amount it takes
// off subtotal at now. It does not consume a use.
func (e *DiscountEngine) Validate(ctx context.Context, code string, subtotal int64, now time.Time) (*domain.Discount, int64, error) {
	code = domain.NormalizeCode(code)
	if code == "" {
		return nil, 0, domain.ErrCodeNotFound
	}

	d, err := e.repo.GetActiveDiscountByCode(ctx, code)
	if err != nil {
		return nil, 0, err
	}

	amount, err := d.Evaluate(subtotal, now)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", code, err)
	}
	return d, amount, nil
}

// Redeem takes one use. When another checkout took the last one first it
// fails with ErrCodeExhausted.
func (e *DiscountEngine) Redeem(ctx context.Context, discountID int64) error {
	ok, err := e.repo.DecrementRemainingUses(ctx, discountID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrCodeExhausted
	}
	return nil
}

func (e *DiscountEngine) Release(ctx context.Context, discountID int64) error {
	return e.repo.IncrementRemainingUses(ctx, discountID)
}
