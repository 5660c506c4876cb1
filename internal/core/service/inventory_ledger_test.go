package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

func TestInventoryLedger_ReserveMergesDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.seedVariant(t, 100_000, 20)
	ledger := NewInventoryLedger(f.store, 5)

	warnings, err := ledger.ReserveOnShip(ctx, []domain.StockLine{
		{VariantID: v.ID, Quantity: 4},
		{VariantID: v.ID, Quantity: 6},
	})
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 10, f.stock(t, v.ID))
}

func TestInventoryLedger_ReserveAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.seedVariant(t, 100_000, 5)
	b := f.seedVariant(t, 100_000, 2)
	ledger := NewInventoryLedger(f.store, 0)

	_, err := ledger.ReserveOnShip(ctx, []domain.StockLine{
		{VariantID: a.ID, Quantity: 5},
		{VariantID: b.ID, Quantity: 3},
	})
	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, b.ID, stockErr.VariantID)
	assert.Equal(t, 3, stockErr.Requested)
	assert.Equal(t, 2, stockErr.Available)

	assert.Equal(t, 5, f.stock(t, a.ID))
	assert.Equal(t, 2, f.stock(t, b.ID))
}

func TestInventoryLedger_RestoreIsInverse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.seedVariant(t, 100_000, 8)
	ledger := NewInventoryLedger(f.store, -1)

	lines := []domain.StockLine{{VariantID: v.ID, Quantity: 8}}
	warnings, err := ledger.ReserveOnShip(ctx, lines)
	require.NoError(t, err)
	assert.Empty(t, warnings, "negative threshold disables warnings")
	assert.Zero(t, f.stock(t, v.ID))

	require.NoError(t, ledger.RestoreOnCancel(ctx, lines))
	assert.Equal(t, 8, f.stock(t, v.ID))

	err = ledger.RestoreOnCancel(ctx, []domain.StockLine{{VariantID: v.ID + 99, Quantity: 1}})
	assert.ErrorIs(t, err, domain.ErrVariantNotFound)
}

func TestDiscountEngine_ValidateAndRedeem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := NewDiscountEngine(f.store)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	capped := int64(100_000)
	d := f.seedDiscount(t, "BIG20", 20, intPtr(1))
	_, err := f.store.DB().ExecContext(ctx, f.store.DB().Rebind("UPDATE discounts SET max_discount_amount = ? WHERE id = ?"), capped, d.ID)
	require.NoError(t, err)

	got, amount, err := engine.Validate(ctx, " big20 ", 1_000_000, now)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, int64(100_000), amount)

	_, amount, err = engine.Validate(ctx, "BIG20", 300_000, now)
	require.NoError(t, err)
	assert.Equal(t, int64(60_000), amount)

	require.NoError(t, engine.Redeem(ctx, d.ID))
	assert.ErrorIs(t, engine.Redeem(ctx, d.ID), domain.ErrCodeExhausted)

	_, _, err = engine.Validate(ctx, "BIG20", 300_000, now)
	assert.ErrorIs(t, err, domain.ErrCodeExhausted)

	require.NoError(t, engine.Release(ctx, d.ID))
	assert.Equal(t, 1, f.remainingUses(t, d.ID))

	_, _, err = engine.Validate(ctx, "", 300_000, now)
	assert.ErrorIs(t, err, domain.ErrCodeNotFound)
}
