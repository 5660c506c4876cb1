package port

import (
	"context"
	"time"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

// Transactor runs fn inside one store transaction. Repository calls made with
// the ctx handed to fn join that transaction; nested calls reuse it.
type Transactor interface {
	Transact(ctx context.Context, fn func(ctx context.Context) error) error
}

// StatusChange is a compare-and-swap on an order's status.
type StatusChange struct {
	OrderID        int64
	From           domain.OrderStatus
	To             domain.OrderStatus
	At             time.Time
	TrackingNumber string
	CancelReason   string

	// RequireUnpaid additionally guards on payment_status <> 'paid'.
	RequireUnpaid bool
}

type OrderRepository interface {
	// CreateOrder inserts the order and its items, filling in their ids
	CreateOrder(ctx context.Context, order *domain.Order) error

	// GetOrder loads an order with its items, ErrOrderNotFound if missing
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)

	// GetOrderForUpdate reads the latest committed order and locks its row until the transaction ends
	GetOrderForUpdate(ctx context.Context, id int64) (*domain.Order, error)

	// CompareAndSetStatus moves the order only if it is still in change.From, ErrStaleOrderState otherwise
	CompareAndSetStatus(ctx context.Context, change StatusChange) error

	// UpdateOrderDiscount writes discount fields and totals while the order is modifiable
	// and still carries prevDiscountID, ErrStaleOrderState otherwise
	UpdateOrderDiscount(ctx context.Context, order *domain.Order, prevDiscountID *int64) error

	// SetDiscountRedeemed flips the redeemed flag after a release
	SetDiscountRedeemed(ctx context.Context, orderID int64, redeemed bool) error

	// SwitchToCashOnDelivery converts an unpaid online order before its deadline, ErrStaleOrderState otherwise
	SwitchToCashOnDelivery(ctx context.Context, orderID int64, at time.Time) error

	// MarkOrderPaid sets payment_status paid when the order is not cancelled, not already paid
	// and its total equals amount
	MarkOrderPaid(ctx context.Context, orderID, amount int64, at time.Time) (bool, error)

	// SetOrderPaymentStatus updates payment_status, restricted to the given prior states when non-empty
	SetOrderPaymentStatus(ctx context.Context, orderID int64, to domain.PaymentStatus, at time.Time, from ...domain.PaymentStatus) (bool, error)

	// SetItemsDeducted records whether item stock is currently committed
	SetItemsDeducted(ctx context.Context, orderID int64, deducted bool) error

	// ListPaymentDue returns unpaid online orders whose window closed at or before now
	ListPaymentDue(ctx context.Context, now time.Time, limit int) ([]int64, error)
}

type InventoryRepository interface {
	// DecrementStock subtracts quantity only if enough stock remains
	DecrementStock(ctx context.Context, variantID int64, quantity int) (bool, error)

	// IncrementStock restores stock
	IncrementStock(ctx context.Context, variantID int64, quantity int) error

	// GetStock reads the current stock of a variant
	GetStock(ctx context.Context, variantID int64) (int, error)
}

type CatalogRepository interface {
	// GetVariants loads the requested variants keyed by id; missing ids are absent
	GetVariants(ctx context.Context, ids []int64) (map[int64]domain.Variant, error)
}

type DiscountRepository interface {
	// GetActiveDiscountByCode looks up an active code, ErrCodeNotFound if none
	GetActiveDiscountByCode(ctx context.Context, code string) (*domain.Discount, error)

	GetDiscount(ctx context.Context, id int64) (*domain.Discount, error)

	// DecrementRemainingUses takes one use, false if none remain
	DecrementRemainingUses(ctx context.Context, id int64) (bool, error)

	// IncrementRemainingUses gives one use back to a limited code
	IncrementRemainingUses(ctx context.Context, id int64) error
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *domain.Payment) error

	// GetPaymentByTransactionID returns ErrPaymentNotFound if the provider id is unknown
	GetPaymentByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)

	ListPayments(ctx context.Context, orderID int64) ([]domain.Payment, error)

	// SetPaymentStatus moves a payment to status if it is currently in one of from
	SetPaymentStatus(ctx context.Context, id string, to domain.PaymentRecordStatus, details string, at time.Time, from ...domain.PaymentRecordStatus) (bool, error)

	// FailPendingPayments marks every pending payment of the order failed
	FailPendingPayments(ctx context.Context, orderID int64, reason string, at time.Time) (int64, error)

	// RefundCompletedPayments marks every completed payment of the order refunded
	RefundCompletedPayments(ctx context.Context, orderID int64, at time.Time) (int64, error)
}

type ActivityRepository interface {
	AppendActivity(ctx context.Context, entry domain.ActivityEntry) error
	ListActivity(ctx context.Context, orderID int64) ([]domain.ActivityEntry, error)
}

// Store is the full persistence surface the core needs.
type Store interface {
	Transactor
	OrderRepository
	InventoryRepository
	CatalogRepository
	DiscountRepository
	PaymentRepository
	ActivityRepository
}
