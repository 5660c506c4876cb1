package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

type orderRow struct {
	ID               int64          `db:"id"`
	UserID           sql.NullString `db:"user_id"`
	GuestName        string         `db:"guest_name"`
	GuestEmail       string         `db:"guest_email"`
	GuestPhone       string         `db:"guest_phone"`
	Status           string         `db:"status"`
	PaymentMethod    string         `db:"payment_method"`
	PaymentStatus    string         `db:"payment_status"`
	SubtotalAmount   int64          `db:"subtotal_amount"`
	DiscountAmount   int64          `db:"discount_amount"`
	ShippingFee      int64          `db:"shipping_fee"`
	TotalAmount      int64          `db:"total_amount"`
	DiscountID       sql.NullInt64  `db:"discount_id"`
	DiscountCode     string         `db:"discount_code"`
	DiscountRedeemed bool           `db:"discount_redeemed"`
	RecipientName    string         `db:"recipient_name"`
	Phone            string         `db:"phone"`
	AddressLine      string         `db:"address_line"`
	Ward             string         `db:"ward"`
	District         string         `db:"district"`
	City             string         `db:"city"`
	Note             string         `db:"note"`
	TrackingNumber   string         `db:"tracking_number"`
	PaymentExpiresAt sql.NullTime   `db:"payment_expires_at"`
	ShippedAt        sql.NullTime   `db:"shipped_at"`
	DeliveredAt      sql.NullTime   `db:"delivered_at"`
	CancelledAt      sql.NullTime   `db:"cancelled_at"`
	CancelReason     string         `db:"cancel_reason"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

func (r orderRow) toDomain() *domain.Order {
	return &domain.Order{
		ID:             r.ID,
		UserID:         r.UserID.String,
		GuestName:      r.GuestName,
		GuestEmail:     r.GuestEmail,
		GuestPhone:     r.GuestPhone,
		Status:         domain.OrderStatus(r.Status),
		SubtotalAmount: r.SubtotalAmount,
		DiscountAmount: r.DiscountAmount,
		ShippingFee:    r.ShippingFee,
		TotalAmount:    r.TotalAmount,

		DiscountID:       int64Ptr(r.DiscountID),
		DiscountCode:     r.DiscountCode,
		DiscountRedeemed: r.DiscountRedeemed,

		PaymentMethod:    domain.PaymentMethod(r.PaymentMethod),
		PaymentStatus:    domain.PaymentStatus(r.PaymentStatus),
		PaymentExpiresAt: timePtr(r.PaymentExpiresAt),

		Address: domain.Address{
			RecipientName: r.RecipientName,
			Phone:         r.Phone,
			Line:          r.AddressLine,
			Ward:          r.Ward,
			District:      r.District,
			City:          r.City,
			Note:          r.Note,
		},
		TrackingNumber: r.TrackingNumber,

		ShippedAt:    timePtr(r.ShippedAt),
		DeliveredAt:  timePtr(r.DeliveredAt),
		CancelledAt:  timePtr(r.CancelledAt),
		CancelReason: r.CancelReason,

		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type orderItemRow struct {
	ID               int64  `db:"id"`
	OrderID          int64  `db:"order_id"`
	VariantID        int64  `db:"variant_id"`
	ProductName      string `db:"product_name"`
	Volume           string `db:"volume"`
	UnitPrice        int64  `db:"unit_price"`
	Quantity         int    `db:"quantity"`
	DeductedQuantity int    `db:"deducted_quantity"`
}

const orderColumns = `id, user_id, guest_name, guest_email, guest_phone, status, payment_method,
	payment_status, subtotal_amount, discount_amount, shipping_fee, total_amount, discount_id,
	discount_code, discount_redeemed, recipient_name, phone, address_line, ward, district, city,
	note, tracking_number, payment_expires_at, shipped_at, delivered_at, cancelled_at,
	cancel_reason, created_at, updated_at`

var createOrderQuery = `INSERT INTO orders (user_id, guest_name, guest_email, guest_phone, status,
	payment_method, payment_status, subtotal_amount, discount_amount, shipping_fee, total_amount,
	discount_id, discount_code, discount_redeemed, recipient_name, phone, address_line, ward,
	district, city, note, tracking_number, payment_expires_at, cancel_reason, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

var createOrderItemQuery = `INSERT INTO order_items (order_id, variant_id, product_name, volume,
	unit_price, quantity, deducted_quantity) VALUES (?, ?, ?, ?, ?, ?, ?)`

func (s *SQLStore) CreateOrder(ctx context.Context, order *domain.Order) error {
	return s.Transact(ctx, func(ctx context.Context) error {
		id, err := s.insert(ctx, createOrderQuery,
			nullString(order.UserID), order.GuestName, order.GuestEmail, order.GuestPhone,
			string(order.Status), string(order.PaymentMethod), string(order.PaymentStatus),
			order.SubtotalAmount, order.DiscountAmount, order.ShippingFee, order.TotalAmount,
			nullInt64(order.DiscountID), order.DiscountCode, order.DiscountRedeemed,
			order.Address.RecipientName, order.Address.Phone, order.Address.Line,
			order.Address.Ward, order.Address.District, order.Address.City, order.Address.Note,
			order.TrackingNumber, nullTime(order.PaymentExpiresAt), order.CancelReason,
			order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		order.ID = id

		for i := range order.Items {
			item := &order.Items[i]
			item.OrderID = id
			itemID, err := s.insert(ctx, createOrderItemQuery,
				id, item.VariantID, item.ProductName, item.Volume,
				item.UnitPrice, item.Quantity, item.DeductedQuantity,
			)
			if err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
			item.ID = itemID
		}
		return nil
	})
}

var getOrderQuery = "SELECT " + orderColumns + " FROM orders WHERE id = ?"

var getOrderItemsQuery = `SELECT id, order_id, variant_id, product_name, volume, unit_price,
	quantity, deducted_quantity FROM order_items WHERE order_id = ? ORDER BY id`

func (s *SQLStore) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return s.getOrder(ctx, getOrderQuery, id)
}

func (s *SQLStore) GetOrderForUpdate(ctx context.Context, id int64) (*domain.Order, error) {
	query := getOrderQuery
	// sqlite runs one writer at a time and has no row locks
	if s.dialect != dialectSQLite {
		query += " FOR UPDATE"
	}
	return s.getOrder(ctx, query, id)
}

func (s *SQLStore) getOrder(ctx context.Context, query string, id int64) (*domain.Order, error) {
	var row orderRow
	if err := s.get(ctx, &row, query, id); err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("order %d: %w", id, domain.ErrOrderNotFound)
		}
		return nil, fmt.Errorf("query order: %w", err)
	}

	var items []orderItemRow
	if err := s.selectAll(ctx, &items, getOrderItemsQuery, id); err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}

	order := row.toDomain()
	order.Items = make([]domain.OrderItem, 0, len(items))
	for _, it := range items {
		order.Items = append(order.Items, domain.OrderItem{
			ID:               it.ID,
			OrderID:          it.OrderID,
			VariantID:        it.VariantID,
			ProductName:      it.ProductName,
			Volume:           it.Volume,
			UnitPrice:        it.UnitPrice,
			Quantity:         it.Quantity,
			DeductedQuantity: it.DeductedQuantity,
		})
	}
	return order, nil
}

func (s *SQLStore) CompareAndSetStatus(ctx context.Context, change port.StatusChange) error {
	var sb strings.Builder
	sb.WriteString("UPDATE orders SET status = ?, updated_at = ?")
	args := []interface{}{string(change.To), change.At.UTC()}

	switch change.To {
	case domain.OrderStatusShipped:
		sb.WriteString(", shipped_at = ?, tracking_number = ?")
		args = append(args, change.At.UTC(), change.TrackingNumber)
	case domain.OrderStatusDelivered:
		sb.WriteString(", delivered_at = ?")
		args = append(args, change.At.UTC())
	case domain.OrderStatusCancelled:
		sb.WriteString(", cancelled_at = ?, cancel_reason = ?")
		args = append(args, change.At.UTC(), change.CancelReason)
	}

	sb.WriteString(" WHERE id = ? AND status = ?")
	args = append(args, change.OrderID, string(change.From))
	if change.RequireUnpaid {
		sb.WriteString(" AND payment_status <> ?")
		args = append(args, string(domain.PaymentStatusPaid))
	}

	rows, err := s.exec(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if rows == 0 {
		return domain.ErrStaleOrderState
	}
	return nil
}

var updateOrderDiscountQuery = `UPDATE orders
	SET discount_id = ?, discount_code = ?, discount_redeemed = ?, discount_amount = ?,
		shipping_fee = ?, total_amount = ?, updated_at = ?
	WHERE id = ? AND status = ? AND payment_status <> ? AND COALESCE(discount_id, 0) = ?`

func (s *SQLStore) UpdateOrderDiscount(ctx context.Context, order *domain.Order, prevDiscountID *int64) error {
	var prev int64
	if prevDiscountID != nil {
		prev = *prevDiscountID
	}

	rows, err := s.exec(ctx, updateOrderDiscountQuery,
		nullInt64(order.DiscountID), order.DiscountCode, order.DiscountRedeemed,
		order.DiscountAmount, order.ShippingFee, order.TotalAmount, order.UpdatedAt.UTC(),
		order.ID, string(domain.OrderStatusPending), string(domain.PaymentStatusPaid), prev,
	)
	if err != nil {
		return fmt.Errorf("update order discount: %w", err)
	}
	if rows == 0 {
		return domain.ErrStaleOrderState
	}
	return nil
}

var setDiscountRedeemedQuery = "UPDATE orders SET discount_redeemed = ? WHERE id = ?"

func (s *SQLStore) SetDiscountRedeemed(ctx context.Context, orderID int64, redeemed bool) error {
	if _, err := s.exec(ctx, setDiscountRedeemedQuery, redeemed, orderID); err != nil {
		return fmt.Errorf("update discount redeemed: %w", err)
	}
	return nil
}

var switchToCODQuery = `UPDATE orders
	SET payment_method = ?, payment_status = ?, payment_expires_at = NULL, updated_at = ?
	WHERE id = ? AND status = ? AND payment_method = ? AND payment_status <> ?
		AND (payment_expires_at IS NULL OR payment_expires_at > ?)`

func (s *SQLStore) SwitchToCashOnDelivery(ctx context.Context, orderID int64, at time.Time) error {
	rows, err := s.exec(ctx, switchToCODQuery,
		string(domain.PaymentMethodCOD), string(domain.PaymentStatusPending), at.UTC(),
		orderID, string(domain.OrderStatusPending), string(domain.PaymentMethodOnline),
		string(domain.PaymentStatusPaid), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("switch payment method: %w", err)
	}
	if rows == 0 {
		return domain.ErrStaleOrderState
	}
	return nil
}

var markOrderPaidQuery = `UPDATE orders SET payment_status = ?, updated_at = ?
	WHERE id = ? AND status <> ? AND payment_status <> ? AND total_amount = ?`

func (s *SQLStore) MarkOrderPaid(ctx context.Context, orderID, amount int64, at time.Time) (bool, error) {
	rows, err := s.exec(ctx, markOrderPaidQuery,
		string(domain.PaymentStatusPaid), at.UTC(),
		orderID, string(domain.OrderStatusCancelled), string(domain.PaymentStatusPaid), amount,
	)
	if err != nil {
		return false, fmt.Errorf("mark order paid: %w", err)
	}
	return rows > 0, nil
}

func (s *SQLStore) SetOrderPaymentStatus(ctx context.Context, orderID int64, to domain.PaymentStatus, at time.Time, from ...domain.PaymentStatus) (bool, error) {
	query := "UPDATE orders SET payment_status = ?, updated_at = ? WHERE id = ?"
	args := []interface{}{string(to), at.UTC(), orderID}

	if len(from) > 0 {
		states := make([]string, 0, len(from))
		for _, f := range from {
			states = append(states, string(f))
		}
		var err error
		query, args, err = sqlx.In(query+" AND payment_status IN (?)", string(to), at.UTC(), orderID, states)
		if err != nil {
			return false, err
		}
	}

	rows, err := s.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update order payment status: %w", err)
	}
	return rows > 0, nil
}

func (s *SQLStore) SetItemsDeducted(ctx context.Context, orderID int64, deducted bool) error {
	query := "UPDATE order_items SET deducted_quantity = 0 WHERE order_id = ?"
	if deducted {
		query = "UPDATE order_items SET deducted_quantity = quantity WHERE order_id = ?"
	}
	if _, err := s.exec(ctx, query, orderID); err != nil {
		return fmt.Errorf("update deducted quantity: %w", err)
	}
	return nil
}

var listPaymentDueQuery = `SELECT id FROM orders
	WHERE status = ? AND payment_method = ? AND payment_status <> ?
		AND payment_expires_at IS NOT NULL AND payment_expires_at <= ?
	ORDER BY payment_expires_at
	LIMIT ?`

func (s *SQLStore) ListPaymentDue(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	var ids []int64
	err := s.selectAll(ctx, &ids, listPaymentDueQuery,
		string(domain.OrderStatusPending), string(domain.PaymentMethodOnline),
		string(domain.PaymentStatusPaid), now.UTC(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query payment due orders: %w", err)
	}
	return ids, nil
}

var appendActivityQuery = `INSERT INTO order_activity_logs (order_id, from_status, to_status,
	actor_kind, actor_id, description, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

func (s *SQLStore) AppendActivity(ctx context.Context, entry domain.ActivityEntry) error {
	_, err := s.insert(ctx, appendActivityQuery,
		entry.OrderID, string(entry.FromStatus), string(entry.ToStatus),
		string(entry.ActorKind), entry.ActorID, entry.Description, entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

type activityRow struct {
	ID          int64     `db:"id"`
	OrderID     int64     `db:"order_id"`
	FromStatus  string    `db:"from_status"`
	ToStatus    string    `db:"to_status"`
	ActorKind   string    `db:"actor_kind"`
	ActorID     string    `db:"actor_id"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
}

var listActivityQuery = `SELECT id, order_id, from_status, to_status, actor_kind, actor_id,
	description, created_at FROM order_activity_logs WHERE order_id = ? ORDER BY id`

func (s *SQLStore) ListActivity(ctx context.Context, orderID int64) ([]domain.ActivityEntry, error) {
	var rows []activityRow
	if err := s.selectAll(ctx, &rows, listActivityQuery, orderID); err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}

	entries := make([]domain.ActivityEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, domain.ActivityEntry{
			ID:          r.ID,
			OrderID:     r.OrderID,
			FromStatus:  domain.OrderStatus(r.FromStatus),
			ToStatus:    domain.OrderStatus(r.ToStatus),
			ActorKind:   domain.ActorKind(r.ActorKind),
			ActorID:     r.ActorID,
			Description: r.Description,
			CreatedAt:   r.CreatedAt.UTC(),
		})
	}
	return entries, nil
}
