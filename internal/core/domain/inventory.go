package domain

import (
	"sort"
	"time"
)

// Variant is the catalog SKU referenced by order items. Only StockQuantity is
// ever written by this service.
type Variant struct {
	ID            int64
	ProductName   string
	Volume        string
	Price         int64
	StockQuantity int
	UpdatedAt     time.Time
}

type StockLine struct {
	VariantID int64
	Quantity  int
}

type LowStockWarning struct {
	VariantID int64 `json:"variant_id"`
	Remaining int   `json:"remaining"`
	Threshold int   `json:"threshold"`
}

// MergeStockLines folds duplicate variants together and orders the result by
// variant id, so every batch touches rows in the same order.
func MergeStockLines(lines []StockLine) []StockLine {
	totals := make(map[int64]int, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		totals[line.VariantID] += line.Quantity
	}

	merged := make([]StockLine, 0, len(totals))
	for id, qty := range totals {
		merged = append(merged, StockLine{VariantID: id, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].VariantID < merged[j].VariantID })
	return merged
}
