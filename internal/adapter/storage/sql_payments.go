package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

type paymentRow struct {
	ID              string         `db:"id"`
	OrderID         int64          `db:"order_id"`
	Amount          int64          `db:"amount"`
	Status          string         `db:"status"`
	Method          string         `db:"method"`
	TransactionID   sql.NullString `db:"transaction_id"`
	ProviderDetails string         `db:"provider_details"`
	RedirectURL     string         `db:"redirect_url"`
	ExpiresAt       sql.NullTime   `db:"expires_at"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

func (r paymentRow) toDomain() domain.Payment {
	return domain.Payment{
		ID:              r.ID,
		OrderID:         r.OrderID,
		Amount:          r.Amount,
		Status:          domain.PaymentRecordStatus(r.Status),
		Method:          domain.PaymentMethod(r.Method),
		TransactionID:   r.TransactionID.String,
		ProviderDetails: r.ProviderDetails,
		RedirectURL:     r.RedirectURL,
		ExpiresAt:       timePtr(r.ExpiresAt),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}
}

const paymentColumns = `id, order_id, amount, status, method, transaction_id, provider_details,
	redirect_url, expires_at, created_at, updated_at`

var createPaymentQuery = `INSERT INTO payments (id, order_id, amount, status, method, transaction_id,
	provider_details, redirect_url, expires_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *SQLStore) CreatePayment(ctx context.Context, p *domain.Payment) error {
	if p.ProviderDetails == "" {
		p.ProviderDetails = "{}"
	}
	_, err := s.exec(ctx, createPaymentQuery,
		p.ID, p.OrderID, p.Amount, string(p.Status), string(p.Method), nullString(p.TransactionID),
		p.ProviderDetails, p.RedirectURL, nullTime(p.ExpiresAt), p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

var getPaymentByTransactionQuery = "SELECT " + paymentColumns + " FROM payments WHERE transaction_id = ?"

func (s *SQLStore) GetPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	var row paymentRow
	if err := s.get(ctx, &row, getPaymentByTransactionQuery, transactionID); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("transaction %s: %w", transactionID, domain.ErrPaymentNotFound)
		}
		return nil, fmt.Errorf("query payment: %w", err)
	}
	p := row.toDomain()
	return &p, nil
}

var listPaymentsQuery = "SELECT " + paymentColumns + " FROM payments WHERE order_id = ? ORDER BY created_at, id"

func (s *SQLStore) ListPayments(ctx context.Context, orderID int64) ([]domain.Payment, error) {
	var rows []paymentRow
	if err := s.selectAll(ctx, &rows, listPaymentsQuery, orderID); err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	payments := make([]domain.Payment, 0, len(rows))
	for _, r := range rows {
		payments = append(payments, r.toDomain())
	}
	return payments, nil
}

func (s *SQLStore) SetPaymentStatus(ctx context.Context, id string, to domain.PaymentRecordStatus, details string, at time.Time, from ...domain.PaymentRecordStatus) (bool, error) {
	query := "UPDATE payments SET status = ?, updated_at = ?"
	args := []interface{}{string(to), at.UTC()}
	if details != "" {
		query += ", provider_details = ?"
		args = append(args, details)
	}
	query += " WHERE id = ?"
	args = append(args, id)

	if len(from) > 0 {
		states := make([]string, 0, len(from))
		for _, f := range from {
			states = append(states, string(f))
		}
		query += " AND status IN (?)"
		args = append(args, states)

		var err error
		query, args, err = sqlx.In(query, args...)
		if err != nil {
			return false, err
		}
	}

	rows, err := s.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update payment status: %w", err)
	}
	return rows > 0, nil
}

var failPendingPaymentsQuery = `UPDATE payments SET status = ?, provider_details = ?, updated_at = ?
	WHERE order_id = ? AND status = ?`

func (s *SQLStore) FailPendingPayments(ctx context.Context, orderID int64, reason string, at time.Time) (int64, error) {
	details, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return 0, err
	}
	rows, err := s.exec(ctx, failPendingPaymentsQuery,
		string(domain.PaymentRecordFailed), string(details), at.UTC(),
		orderID, string(domain.PaymentRecordPending),
	)
	if err != nil {
		return 0, fmt.Errorf("fail pending payments: %w", err)
	}
	return rows, nil
}

var refundCompletedPaymentsQuery = `UPDATE payments SET status = ?, updated_at = ?
	WHERE order_id = ? AND status = ?`

func (s *SQLStore) RefundCompletedPayments(ctx context.Context, orderID int64, at time.Time) (int64, error) {
	rows, err := s.exec(ctx, refundCompletedPaymentsQuery,
		string(domain.PaymentRecordRefunded), at.UTC(),
		orderID, string(domain.PaymentRecordCompleted),
	)
	if err != nil {
		return 0, fmt.Errorf("refund payments: %w", err)
	}
	return rows, nil
}
