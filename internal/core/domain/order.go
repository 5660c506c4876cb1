package domain

import (
	"fmt"
	"strings"
	"time"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// orderTransitions is the adjacency table of the order state machine.
// Delivered and cancelled are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := orderTransitions[status]; !ok {
		return "", fmt.Errorf("unknown order status %q", s)
	}
	return status, nil
}

func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, next := range orderTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

func (s OrderStatus) IsTerminal() bool {
	next, ok := orderTransitions[s]
	return ok && len(next) == 0
}

type PaymentMethod string

const (
	PaymentMethodOnline PaymentMethod = "online"
	PaymentMethodCOD    PaymentMethod = "cod"
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(s))); m {
	case PaymentMethodOnline, PaymentMethodCOD:
		return m, nil
	}
	return "", fmt.Errorf("unknown payment method %q", s)
}

// PaymentStatus is the order-level payment state.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

const (
	ReasonPaymentExpired = "payment window expired"
	ReasonOrderCancelled = "order cancelled"
)

type Address struct {
	RecipientName string
	Phone         string
	Line          string
	Ward          string
	District      string
	City          string
	Note          string
}

type Order struct {
	ID int64

	// UserID is empty for guest checkouts.
	UserID     string
	GuestName  string
	GuestEmail string
	GuestPhone string

	Status OrderStatus
	Items  []OrderItem

	SubtotalAmount int64
	DiscountAmount int64
	ShippingFee    int64
	TotalAmount    int64

	DiscountID       *int64
	DiscountCode     string
	DiscountRedeemed bool

	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	PaymentExpiresAt *time.Time

	Address        Address
	TrackingNumber string

	ShippedAt    *time.Time
	DeliveredAt  *time.Time
	CancelledAt  *time.Time
	CancelReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderItem struct {
	ID          int64
	OrderID     int64
	VariantID   int64
	ProductName string
	Volume      string
	UnitPrice   int64
	Quantity    int

	// DeductedQuantity is the stock committed by the ledger at shipment.
	DeductedQuantity int
}

func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Recalculate keeps TotalAmount = Subtotal - Discount + Shipping, never below zero.
func (o *Order) Recalculate() {
	var subtotal int64
	for _, item := range o.Items {
		subtotal += item.LineTotal()
	}
	if len(o.Items) > 0 {
		o.SubtotalAmount = subtotal
	}
	if o.DiscountAmount > o.SubtotalAmount {
		o.DiscountAmount = o.SubtotalAmount
	}
	o.TotalAmount = o.SubtotalAmount - o.DiscountAmount + o.ShippingFee
	if o.TotalAmount < 0 {
		o.TotalAmount = 0
	}
}

func (o *Order) ApplyDiscount(d *Discount, amount int64) {
	id := d.ID
	o.DiscountID = &id
	o.DiscountCode = d.Code
	o.DiscountAmount = amount
	o.DiscountRedeemed = true
	o.Recalculate()
}

func (o *Order) ClearDiscount() {
	o.DiscountID = nil
	o.DiscountCode = ""
	o.DiscountAmount = 0
	o.DiscountRedeemed = false
	o.Recalculate()
}

func (o *Order) IsGuest() bool {
	return o.UserID == ""
}

// OwnedBy reports whether a customer or guest actor placed this order.
func (o *Order) OwnedBy(actor Actor) bool {
	switch actor.Kind {
	case ActorCustomer:
		return !o.IsGuest() && o.UserID == actor.ID
	case ActorGuest:
		return o.IsGuest() && o.GuestEmail != "" && strings.EqualFold(o.GuestEmail, actor.ID)
	}
	return false
}

// Modifiable reports whether discounts and the payment method may still change.
func (o *Order) Modifiable() bool {
	return o.Status == OrderStatusPending && o.PaymentStatus != PaymentStatusPaid
}

func (o *Order) AwaitingOnlinePayment() bool {
	return o.Modifiable() && o.PaymentMethod == PaymentMethodOnline
}

// PaymentDue reports whether the online payment window has elapsed while the
// order is still unpaid.
func (o *Order) PaymentDue(now time.Time) bool {
	if !o.AwaitingOnlinePayment() || o.PaymentExpiresAt == nil {
		return false
	}
	return !now.Before(*o.PaymentExpiresAt)
}

func (o *Order) ExpiredUnpaid() bool {
	return o.Status == OrderStatusCancelled && o.CancelReason == ReasonPaymentExpired
}

func (o *Order) StockLines() []StockLine {
	lines := make([]StockLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, StockLine{VariantID: item.VariantID, Quantity: item.Quantity})
	}
	return lines
}

// DeductedLines returns the stock committed at shipment, the exact inverse of
// what a cancellation must restore.
func (o *Order) DeductedLines() []StockLine {
	var lines []StockLine
	for _, item := range o.Items {
		if item.DeductedQuantity > 0 {
			lines = append(lines, StockLine{VariantID: item.VariantID, Quantity: item.DeductedQuantity})
		}
	}
	return lines
}

// StatusMessage is the customer-facing explanation of the current status.
func (o *Order) StatusMessage() string {
	switch o.Status {
	case OrderStatusPending:
		if o.AwaitingOnlinePayment() {
			return "awaiting online payment"
		}
		return "order received"
	case OrderStatusProcessing:
		return "order is being prepared"
	case OrderStatusShipped:
		return "order has been shipped"
	case OrderStatusDelivered:
		return "order delivered"
	case OrderStatusCancelled:
		if o.ExpiredUnpaid() {
			return "cancelled due to payment timeout"
		}
		if o.CancelReason != "" {
			return "cancelled: " + o.CancelReason
		}
		return "cancelled"
	}
	return string(o.Status)
}

func (o *Order) VisibleTo(actor Actor) bool {
	return actor.Privileged() || o.OwnedBy(actor)
}
