package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

type discountRow struct {
	ID                 int64           `db:"id"`
	Code               string          `db:"code"`
	DiscountPercentage decimal.Decimal `db:"discount_percentage"`
	MaxDiscountAmount  sql.NullInt64   `db:"max_discount_amount"`
	MinOrderValue      int64           `db:"min_order_value"`
	StartDate          sql.NullTime    `db:"start_date"`
	EndDate            sql.NullTime    `db:"end_date"`
	MaxUses            sql.NullInt64   `db:"max_uses"`
	RemainingUses      sql.NullInt64   `db:"remaining_uses"`
	IsActive           bool            `db:"is_active"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
}

func (r discountRow) toDomain() *domain.Discount {
	return &domain.Discount{
		ID:                 r.ID,
		Code:               r.Code,
		DiscountPercentage: r.DiscountPercentage,
		MaxDiscountAmount:  int64Ptr(r.MaxDiscountAmount),
		MinOrderValue:      r.MinOrderValue,
		StartDate:          timePtr(r.StartDate),
		EndDate:            timePtr(r.EndDate),
		MaxUses:            intPtr(r.MaxUses),
		RemainingUses:      intPtr(r.RemainingUses),
		IsActive:           r.IsActive,
		CreatedAt:          r.CreatedAt.UTC(),
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

const discountColumns = `id, code, discount_percentage, max_discount_amount, min_order_value,
	start_date, end_date, max_uses, remaining_uses, is_active, created_at, updated_at`

var getActiveDiscountQuery = "SELECT " + discountColumns + " FROM discounts WHERE code = ? AND is_active = ?"

func (s *SQLStore) GetActiveDiscountByCode(ctx context.Context, code string) (*domain.Discount, error) {
	var row discountRow
	if err := s.get(ctx, &row, getActiveDiscountQuery, domain.NormalizeCode(code), true); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrCodeNotFound
		}
		return nil, fmt.Errorf("query discount: %w", err)
	}
	return row.toDomain(), nil
}

var getDiscountQuery = "SELECT " + discountColumns + " FROM discounts WHERE id = ?"

func (s *SQLStore) GetDiscount(ctx context.Context, id int64) (*domain.Discount, error) {
	var row discountRow
	if err := s.get(ctx, &row, getDiscountQuery, id); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrCodeNotFound
		}
		return nil, fmt.Errorf("query discount: %w", err)
	}
	return row.toDomain(), nil
}

// NULL - 1 stays NULL, so unlimited codes pass the same statement.
var decrementRemainingUsesQuery = `UPDATE discounts
	SET remaining_uses = remaining_uses - 1, updated_at = ?
	WHERE id = ? AND (remaining_uses IS NULL OR remaining_uses > 0)`

func (s *SQLStore) DecrementRemainingUses(ctx context.Context, id int64) (bool, error) {
	rows, err := s.exec(ctx, decrementRemainingUsesQuery, time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("redeem discount: %w", err)
	}
	return rows > 0, nil
}

var incrementRemainingUsesQuery = `UPDATE discounts
	SET remaining_uses = remaining_uses + 1, updated_at = ?
	WHERE id = ? AND remaining_uses IS NOT NULL
		AND (max_uses IS NULL OR remaining_uses < max_uses)`

func (s *SQLStore) IncrementRemainingUses(ctx context.Context, id int64) error {
	if _, err := s.exec(ctx, incrementRemainingUsesQuery, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("release discount: %w", err)
	}
	return nil
}

var createDiscountQuery = `INSERT INTO discounts (code, discount_percentage, max_discount_amount,
	min_order_value, start_date, end_date, max_uses, remaining_uses, is_active, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateDiscount seeds a code; codes are administered outside this service.
func (s *SQLStore) CreateDiscount(ctx context.Context, d *domain.Discount) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	d.Code = domain.NormalizeCode(d.Code)

	id, err := s.insert(ctx, createDiscountQuery,
		d.Code, d.DiscountPercentage, nullInt64(d.MaxDiscountAmount), d.MinOrderValue,
		nullTime(d.StartDate), nullTime(d.EndDate), nullInt(d.MaxUses), nullInt(d.RemainingUses),
		d.IsActive, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert discount: %w", err)
	}
	d.ID = id
	return nil
}
