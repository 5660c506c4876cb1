package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type Discount struct {
	ID                 int64
	Code               string
	DiscountPercentage decimal.Decimal
	MaxDiscountAmount  *int64
	MinOrderValue      int64
	StartDate          *time.Time
	EndDate            *time.Time

	// nil MaxUses/RemainingUses means the code is unlimited.
	MaxUses       *int
	RemainingUses *int

	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NormalizeCode gives discount codes their case-insensitive stored form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (d *Discount) Unlimited() bool {
	return d.RemainingUses == nil
}

// Evaluate checks the code against subtotal at now and returns the amount it
// takes off. Checks run in order: active, window, remaining uses, minimum.
func (d *Discount) Evaluate(subtotal int64, now time.Time) (int64, error) {
	if !d.IsActive {
		return 0, ErrCodeNotFound
	}
	if d.StartDate != nil && now.Before(*d.StartDate) {
		return 0, ErrCodeExpired
	}
	if d.EndDate != nil && now.After(*d.EndDate) {
		return 0, ErrCodeExpired
	}
	if d.RemainingUses != nil && *d.RemainingUses <= 0 {
		return 0, ErrCodeExhausted
	}
	if subtotal < d.MinOrderValue {
		return 0, ErrMinimumNotMet
	}
	return d.Amount(subtotal), nil
}

// Amount is floor(subtotal * pct / 100), capped by MaxDiscountAmount and by
// the subtotal itself.
func (d *Discount) Amount(subtotal int64) int64 {
	raw := decimal.NewFromInt(subtotal).Mul(d.DiscountPercentage).Div(hundred).Floor()
	amount := raw.IntPart()
	if d.MaxDiscountAmount != nil && amount > *d.MaxDiscountAmount {
		amount = *d.MaxDiscountAmount
	}
	if amount > subtotal {
		amount = subtotal
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}
