package service

import (
	"io"
	"log/slog"
	"time"
)

const (
	DefaultPaymentWindow     = 24 * time.Hour
	DefaultProviderTimeout   = 10 * time.Second
	DefaultLowStockThreshold = 5
)

// Options carries the tunables shared by the order and payment services.
type Options struct {
	PaymentWindow         time.Duration
	ProviderTimeout       time.Duration
	ShippingFee           int64
	FreeShippingThreshold int64
	// LowStockThreshold defaults to DefaultLowStockThreshold when nil; a
	// negative value turns low-stock warnings off.
	LowStockThreshold     *int

	Now    func() time.Time
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.PaymentWindow <= 0 {
		o.PaymentWindow = DefaultPaymentWindow
	}
	if o.ProviderTimeout <= 0 {
		o.ProviderTimeout = DefaultProviderTimeout
	}
	if o.LowStockThreshold == nil {
		threshold := DefaultLowStockThreshold
		o.LowStockThreshold = &threshold
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}
