package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

var decrementStockQuery = `UPDATE product_variants
	SET stock_quantity = stock_quantity - ?, updated_at = ?
	WHERE id = ? AND stock_quantity >= ?`

// DecrementStock is a conditional update: it only applies when enough stock
// remains, so concurrent callers can never drive stock negative.
func (s *SQLStore) DecrementStock(ctx context.Context, variantID int64, quantity int) (bool, error) {
	rows, err := s.exec(ctx, decrementStockQuery, quantity, time.Now().UTC(), variantID, quantity)
	if err != nil {
		return false, fmt.Errorf("decrement stock: %w", err)
	}
	return rows > 0, nil
}

var incrementStockQuery = `UPDATE product_variants
	SET stock_quantity = stock_quantity + ?, updated_at = ?
	WHERE id = ?`

func (s *SQLStore) IncrementStock(ctx context.Context, variantID int64, quantity int) error {
	rows, err := s.exec(ctx, incrementStockQuery, quantity, time.Now().UTC(), variantID)
	if err != nil {
		return fmt.Errorf("increment stock: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("variant %d: %w", variantID, domain.ErrVariantNotFound)
	}
	return nil
}

var getStockQuery = "SELECT stock_quantity FROM product_variants WHERE id = ?"

func (s *SQLStore) GetStock(ctx context.Context, variantID int64) (int, error) {
	var stock int
	if err := s.get(ctx, &stock, getStockQuery, variantID); err != nil {
		if isNoRows(err) {
			return 0, fmt.Errorf("variant %d: %w", variantID, domain.ErrVariantNotFound)
		}
		return 0, fmt.Errorf("query stock: %w", err)
	}
	return stock, nil
}

// SetStock overwrites stock for seeding and operator corrections.
func (s *SQLStore) SetStock(ctx context.Context, variantID int64, quantity int) error {
	_, err := s.exec(ctx, "UPDATE product_variants SET stock_quantity = ?, updated_at = ? WHERE id = ?",
		quantity, time.Now().UTC(), variantID)
	if err != nil {
		return fmt.Errorf("set stock: %w", err)
	}
	return nil
}

type variantRow struct {
	ID            int64     `db:"id"`
	ProductName   string    `db:"product_name"`
	Volume        string    `db:"volume"`
	Price         int64     `db:"price"`
	StockQuantity int       `db:"stock_quantity"`
	UpdatedAt     time.Time `db:"updated_at"`
}

var getVariantsQuery = `SELECT id, product_name, volume, price, stock_quantity, updated_at
	FROM product_variants WHERE id IN (?)`

func (s *SQLStore) GetVariants(ctx context.Context, ids []int64) (map[int64]domain.Variant, error) {
	variants := make(map[int64]domain.Variant, len(ids))
	if len(ids) == 0 {
		return variants, nil
	}

	query, args, err := sqlx.In(getVariantsQuery, ids)
	if err != nil {
		return nil, err
	}

	var rows []variantRow
	if err := s.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	for _, r := range rows {
		variants[r.ID] = domain.Variant{
			ID:            r.ID,
			ProductName:   r.ProductName,
			Volume:        r.Volume,
			Price:         r.Price,
			StockQuantity: r.StockQuantity,
			UpdatedAt:     r.UpdatedAt.UTC(),
		}
	}
	return variants, nil
}

var createVariantQuery = `INSERT INTO product_variants (product_name, volume, price, stock_quantity, updated_at)
	VALUES (?, ?, ?, ?, ?)`

// CreateVariant seeds the catalog; the storefront owns variants in production.
func (s *SQLStore) CreateVariant(ctx context.Context, v *domain.Variant) error {
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now().UTC()
	}
	id, err := s.insert(ctx, createVariantQuery, v.ProductName, v.Volume, v.Price, v.StockQuantity, v.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert variant: %w", err)
	}
	v.ID = id
	return nil
}
