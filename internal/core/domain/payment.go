package domain

import "time"

// PaymentRecordStatus is the state of a single provider payment attempt.
type PaymentRecordStatus string

const (
	PaymentRecordPending   PaymentRecordStatus = "pending"
	PaymentRecordCompleted PaymentRecordStatus = "completed"
	PaymentRecordFailed    PaymentRecordStatus = "failed"
	PaymentRecordRefunded  PaymentRecordStatus = "refunded"
)

func (s PaymentRecordStatus) Settled() bool {
	return s == PaymentRecordCompleted || s == PaymentRecordRefunded
}

const ReasonSupersededByCOD = "superseded by cash on delivery"

type Payment struct {
	ID              string
	OrderID         int64
	Amount          int64
	Status          PaymentRecordStatus
	Method          PaymentMethod
	TransactionID   string
	ProviderDetails string
	RedirectURL     string
	ExpiresAt       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PaymentSession is what the customer needs to finish paying online.
type PaymentSession struct {
	OrderID       int64     `json:"order_id"`
	PaymentID     string    `json:"payment_id"`
	TransactionID string    `json:"transaction_id"`
	RedirectURL   string    `json:"redirect_url"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// PaymentResult is the provider's verdict on a transaction.
type PaymentResult struct {
	TransactionID string `json:"transaction_id"`
	Success       bool   `json:"success"`
	Details       string `json:"details,omitempty"`
}
