package handler

import (
	"encoding/json"
	"time"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
)

type CartLineRequest struct {
	VariantID int64 `json:"variant_id"`
	Quantity  int   `json:"quantity"`
}

type AddressRequest struct {
	RecipientName string `json:"recipient_name"`
	Phone         string `json:"phone"`
	Line          string `json:"line"`
	Ward          string `json:"ward,omitempty"`
	District      string `json:"district,omitempty"`
	City          string `json:"city,omitempty"`
	Note          string `json:"note,omitempty"`
}

type GuestRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type CheckoutHTTPRequest struct {
	RequestID     string            `json:"request_id,omitempty"`
	Cart          []CartLineRequest `json:"cart"`
	Address       AddressRequest    `json:"address"`
	PaymentMethod string            `json:"payment_method"`
	DiscountCode  string            `json:"discount_code,omitempty"`
	Guest         *GuestRequest     `json:"guest,omitempty"`
}

func (r CheckoutHTTPRequest) toCheckout(actor domain.Actor) service.CheckoutRequest {
	req := service.CheckoutRequest{
		RequestID: r.RequestID,
		Actor:     actor,
		Address: domain.Address{
			RecipientName: r.Address.RecipientName,
			Phone:         r.Address.Phone,
			Line:          r.Address.Line,
			Ward:          r.Address.Ward,
			District:      r.Address.District,
			City:          r.Address.City,
			Note:          r.Address.Note,
		},
		PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
		DiscountCode:  r.DiscountCode,
	}
	for _, line := range r.Cart {
		req.Cart = append(req.Cart, service.CartLine{VariantID: line.VariantID, Quantity: line.Quantity})
	}
	if r.Guest != nil {
		req.Guest = service.GuestContact{Name: r.Guest.Name, Email: r.Guest.Email, Phone: r.Guest.Phone}
	}
	return req
}

type TransitionHTTPRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

type DiscountHTTPRequest struct {
	Code string `json:"code"`
}

type CallbackHTTPRequest struct {
	TransactionID string          `json:"transaction_id"`
	Success       bool            `json:"success"`
	Details       json.RawMessage `json:"details,omitempty"`
}

type OrderItemResponse struct {
	VariantID   int64  `json:"variant_id"`
	ProductName string `json:"product_name"`
	Volume      string `json:"volume"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	LineTotal   int64  `json:"line_total"`
}

type OrderResponse struct {
	ID               int64               `json:"id"`
	Status           domain.OrderStatus  `json:"status"`
	StatusMessage    string              `json:"status_message"`
	Items            []OrderItemResponse `json:"items"`
	SubtotalAmount   int64               `json:"subtotal_amount"`
	DiscountAmount   int64               `json:"discount_amount"`
	ShippingFee      int64               `json:"shipping_fee"`
	TotalAmount      int64               `json:"total_amount"`
	DiscountCode     string              `json:"discount_code,omitempty"`
	PaymentMethod    string              `json:"payment_method"`
	PaymentStatus    string              `json:"payment_status"`
	PaymentExpiresAt *time.Time          `json:"payment_expires_at,omitempty"`
	Address          AddressRequest      `json:"address"`
	TrackingNumber   string              `json:"tracking_number,omitempty"`
	ShippedAt        *time.Time          `json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time          `json:"delivered_at,omitempty"`
	CancelledAt      *time.Time          `json:"cancelled_at,omitempty"`
	CancelReason     string              `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

func toOrderResponse(o *domain.Order) OrderResponse {
	resp := OrderResponse{
		ID:               o.ID,
		Status:           o.Status,
		StatusMessage:    o.StatusMessage(),
		Items:            make([]OrderItemResponse, 0, len(o.Items)),
		SubtotalAmount:   o.SubtotalAmount,
		DiscountAmount:   o.DiscountAmount,
		ShippingFee:      o.ShippingFee,
		TotalAmount:      o.TotalAmount,
		DiscountCode:     o.DiscountCode,
		PaymentMethod:    string(o.PaymentMethod),
		PaymentStatus:    string(o.PaymentStatus),
		PaymentExpiresAt: o.PaymentExpiresAt,
		Address: AddressRequest{
			RecipientName: o.Address.RecipientName,
			Phone:         o.Address.Phone,
			Line:          o.Address.Line,
			Ward:          o.Address.Ward,
			District:      o.Address.District,
			City:          o.Address.City,
			Note:          o.Address.Note,
		},
		TrackingNumber: o.TrackingNumber,
		ShippedAt:      o.ShippedAt,
		DeliveredAt:    o.DeliveredAt,
		CancelledAt:    o.CancelledAt,
		CancelReason:   o.CancelReason,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			VariantID:   item.VariantID,
			ProductName: item.ProductName,
			Volume:      item.Volume,
			UnitPrice:   item.UnitPrice,
			Quantity:    item.Quantity,
			LineTotal:   item.LineTotal(),
		})
	}
	return resp
}

type TransitionResponse struct {
	Order    OrderResponse            `json:"order"`
	Warnings []domain.LowStockWarning `json:"warnings,omitempty"`
}

type DiscountResponse struct {
	AppliedAmount int64         `json:"applied_amount"`
	Order         OrderResponse `json:"order"`
}

type ActivityResponse struct {
	FromStatus  domain.OrderStatus `json:"from_status,omitempty"`
	ToStatus    domain.OrderStatus `json:"to_status"`
	ActorKind   domain.ActorKind   `json:"actor_kind"`
	ActorID     string             `json:"actor_id,omitempty"`
	Description string             `json:"description"`
	CreatedAt   time.Time          `json:"created_at"`
}

type PaymentResponse struct {
	ID            string     `json:"id"`
	Amount        int64      `json:"amount"`
	Status        string     `json:"status"`
	TransactionID string     `json:"transaction_id,omitempty"`
	RedirectURL   string     `json:"redirect_url,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CountdownMessage is one frame of the payment-window websocket stream.
type CountdownMessage struct {
	OrderID          int64              `json:"order_id"`
	Status           domain.OrderStatus `json:"status"`
	PaymentStatus    string             `json:"payment_status"`
	RemainingSeconds int64              `json:"remaining_seconds"`
	Expired          bool               `json:"expired"`
}
