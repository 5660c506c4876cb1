package service

import (
	"context"
	"fmt"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

type ledgerStore interface {
	port.Transactor
	port.InventoryRepository
}

// InventoryLedger adjusts variant stock in batches. A batch either applies
// to every variant or to none.
type InventoryLedger struct {
	store     ledgerStore
	threshold int
}

func NewInventoryLedger(store ledgerStore, lowStockThreshold int) *InventoryLedger {
	return &InventoryLedger{store: store, threshold: lowStockThreshold}
}

// ReserveOnShip decrements stock for every line. The first short variant
// aborts the batch with an *InsufficientStockError and nothing is kept.
func (l *InventoryLedger) ReserveOnShip(ctx context.Context, lines []domain.StockLine) ([]domain.LowStockWarning, error) {
	merged := domain.MergeStockLines(lines)

	var warnings []domain.LowStockWarning
	err := l.store.Transact(ctx, func(ctx context.Context) error {
		warnings = warnings[:0]
		for _, line := range merged {
			ok, err := l.store.DecrementStock(ctx, line.VariantID, line.Quantity)
			if err != nil {
				return fmt.Errorf("reserve variant %d: %w", line.VariantID, err)
			}
			if !ok {
				available, err := l.store.GetStock(ctx, line.VariantID)
				if err != nil {
					return err
				}
				return &domain.InsufficientStockError{
					VariantID: line.VariantID,
					Requested: line.Quantity,
					Available: available,
				}
			}

			remaining, err := l.store.GetStock(ctx, line.VariantID)
			if err != nil {
				return err
			}
			if remaining <= l.threshold {
				warnings = append(warnings, domain.LowStockWarning{
					VariantID: line.VariantID,
					Remaining: remaining,
					Threshold: l.threshold,
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return warnings, nil
}

// RestoreOnCancel puts stock back. Increments are never rejected.
func (l *InventoryLedger) RestoreOnCancel(ctx context.Context, lines []domain.StockLine) error {
	merged := domain.MergeStockLines(lines)

	return l.store.Transact(ctx, func(ctx context.Context) error {
		for _, line := range merged {
			if err := l.store.IncrementStock(ctx, line.VariantID, line.Quantity); err != nil {
				return fmt.Errorf("restore variant %d: %w", line.VariantID, err)
			}
		}
		return nil
	})
}
