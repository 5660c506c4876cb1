package port

import (
	"context"
	"time"
)

type PaymentInitiation struct {
	OrderID   int64     `json:"order_id"`
	PaymentID string    `json:"payment_id"`
	Amount    int64     `json:"amount"`
	Currency  string    `json:"currency"`
	ExpiresAt time.Time `json:"expires_at"`
}

type PaymentHandle struct {
	TransactionID string `json:"transaction_id"`
	RedirectURL   string `json:"redirect_url"`
}

type PaymentProvider interface {
	// Initiate opens a provider session; callers bound it with a deadline on ctx
	Initiate(ctx context.Context, req PaymentInitiation) (PaymentHandle, error)
}
