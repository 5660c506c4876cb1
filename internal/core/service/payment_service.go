package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

const paymentCurrency = "VND"

// errCallbackSettled marks a provider callback that lost to an earlier one.
var errCallbackSettled = errors.New("payment already settled")

// PaymentService manages online payment sessions for orders owned by an
// OrderService.
type PaymentService struct {
	orders   *OrderService
	store    port.Store
	provider port.PaymentProvider
	opts     Options
	logger   *slog.Logger
}

func NewPaymentService(orders *OrderService, provider port.PaymentProvider) *PaymentService {
	return &PaymentService{
		orders:   orders,
		store:    orders.store,
		provider: provider,
		opts:     orders.opts,
		logger:   orders.logger,
	}
}

// StartSession opens a provider session for an unpaid online order. Each call
// records a new pending payment; earlier sessions stay valid until settled.
func (p *PaymentService) StartSession(ctx context.Context, orderID int64, actor domain.Actor) (*domain.PaymentSession, error) {
	order, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.VisibleTo(actor) {
		return nil, fmt.Errorf("%w: order %d", domain.ErrForbidden, orderID)
	}

	now := p.opts.Now()
	if order.PaymentDue(now) {
		if _, err := p.orders.expire(ctx, order); err != nil {
			return nil, err
		}
		return nil, domain.ErrPaymentWindowExpired
	}
	if order.ExpiredUnpaid() {
		return nil, domain.ErrPaymentWindowExpired
	}
	if !order.AwaitingOnlinePayment() {
		return nil, fmt.Errorf("%w: order %d is %s/%s/%s", domain.ErrPaymentNotAllowed,
			orderID, order.Status, order.PaymentMethod, order.PaymentStatus)
	}

	expiresAt := order.CreatedAt.Add(p.opts.PaymentWindow)
	if order.PaymentExpiresAt != nil {
		expiresAt = *order.PaymentExpiresAt
	}

	paymentID := uuid.NewString()
	callCtx, cancel := context.WithTimeout(ctx, p.opts.ProviderTimeout)
	handle, err := p.provider.Initiate(callCtx, port.PaymentInitiation{
		OrderID:   order.ID,
		PaymentID: paymentID,
		Amount:    order.TotalAmount,
		Currency:  paymentCurrency,
		ExpiresAt: expiresAt,
	})
	cancel()
	if err != nil {
		p.logger.Warn("payment: provider initiation failed",
			slog.Int64("order_id", orderID), slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", domain.ErrPaymentInitiationFailed, err)
	}

	payment := &domain.Payment{
		ID:            paymentID,
		OrderID:       order.ID,
		Amount:        order.TotalAmount,
		Status:        domain.PaymentRecordPending,
		Method:        domain.PaymentMethodOnline,
		TransactionID: handle.TransactionID,
		RedirectURL:   handle.RedirectURL,
		ExpiresAt:     &expiresAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = p.store.Transact(ctx, func(ctx context.Context) error {
		// the provider call ran outside the transaction, so re-check
		current, err := p.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !current.AwaitingOnlinePayment() || current.TotalAmount != order.TotalAmount {
			return fmt.Errorf("%w: order %d changed during initiation", domain.ErrPaymentNotAllowed, orderID)
		}
		return p.store.CreatePayment(ctx, payment)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("payment: session started",
		slog.Int64("order_id", orderID),
		slog.String("payment_id", paymentID),
		slog.String("transaction_id", handle.TransactionID),
	)
	return &domain.PaymentSession{
		OrderID:       order.ID,
		PaymentID:     paymentID,
		TransactionID: handle.TransactionID,
		RedirectURL:   handle.RedirectURL,
		ExpiresAt:     expiresAt,
	}, nil
}

// ConvertToCashOnDelivery switches an unpaid online order to COD before its
// deadline and stops the countdown.
func (p *PaymentService) ConvertToCashOnDelivery(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error) {
	order, err := p.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.VisibleTo(actor) {
		return nil, fmt.Errorf("%w: order %d", domain.ErrForbidden, orderID)
	}
	if order.ExpiredUnpaid() {
		return nil, domain.ErrPaymentWindowExpired
	}
	if !order.AwaitingOnlinePayment() {
		return nil, fmt.Errorf("%w: order %d is %s/%s/%s", domain.ErrPaymentNotAllowed,
			orderID, order.Status, order.PaymentMethod, order.PaymentStatus)
	}

	now := p.opts.Now()
	description := "payment method changed to cash on delivery"
	err = p.store.Transact(ctx, func(ctx context.Context) error {
		if err := p.store.SwitchToCashOnDelivery(ctx, orderID, now); err != nil {
			return err
		}
		if _, err := p.store.FailPendingPayments(ctx, orderID, domain.ReasonSupersededByCOD, now); err != nil {
			return err
		}
		return p.orders.appendActivity(ctx, order, actor, description, now)
	})
	if err != nil {
		return nil, err
	}

	updated, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	p.logger.Info("payment: switched to cash on delivery", slog.Int64("order_id", orderID))
	p.orders.notify(ctx, domain.EventPaymentMethodChanged, updated, description)
	return updated, nil
}

// HandleCallback applies the provider's verdict. Repeated callbacks for a
// settled payment are accepted and change nothing.
func (p *PaymentService) HandleCallback(ctx context.Context, result domain.PaymentResult) error {
	payment, err := p.store.GetPaymentByTransactionID(ctx, result.TransactionID)
	if err != nil {
		return err
	}
	if payment.Status.Settled() {
		p.logger.Debug("payment: duplicate callback ignored",
			slog.String("transaction_id", result.TransactionID))
		return nil
	}

	now := p.opts.Now()
	var (
		kind        domain.EventKind
		description string
	)
	err = p.store.Transact(ctx, func(ctx context.Context) error {
		order, err := p.store.GetOrderForUpdate(ctx, payment.OrderID)
		if err != nil {
			return err
		}

		if !result.Success {
			ok, err := p.store.SetPaymentStatus(ctx, payment.ID, domain.PaymentRecordFailed, result.Details, now,
				domain.PaymentRecordPending)
			if err != nil {
				return err
			}
			if !ok {
				return errCallbackSettled
			}
			if _, err := p.store.SetOrderPaymentStatus(ctx, order.ID, domain.PaymentStatusFailed, now,
				domain.PaymentStatusPending, domain.PaymentStatusFailed); err != nil {
				return err
			}
			kind, description = domain.EventPaymentFailed, "payment failed"
			return p.orders.appendActivity(ctx, order, domain.SystemActor, description, now)
		}

		// a late success may follow a failure verdict for the same session
		ok, err := p.store.SetPaymentStatus(ctx, payment.ID, domain.PaymentRecordCompleted, result.Details, now,
			domain.PaymentRecordPending, domain.PaymentRecordFailed)
		if err != nil {
			return err
		}
		if !ok {
			return errCallbackSettled
		}

		if order.Status != domain.OrderStatusCancelled {
			paid, err := p.store.MarkOrderPaid(ctx, order.ID, payment.Amount, now)
			if err != nil {
				return err
			}
			if paid {
				kind, description = domain.EventPaymentReceived, "payment received"
				return p.orders.appendActivity(ctx, order, domain.SystemActor, description, now)
			}
			// the guarded update saw a newer order than the first read
			if order, err = p.store.GetOrderForUpdate(ctx, payment.OrderID); err != nil {
				return err
			}
		}

		kind, description, err = p.refundUnsettled(ctx, order, payment, result.Details, now)
		if err != nil {
			return err
		}
		return p.orders.appendActivity(ctx, order, domain.SystemActor, description, now)
	})
	if errors.Is(err, errCallbackSettled) {
		p.logger.Debug("payment: callback lost to an earlier one",
			slog.String("transaction_id", result.TransactionID))
		return nil
	}
	if err != nil {
		return err
	}

	p.logger.Info("payment: callback applied",
		slog.Int64("order_id", payment.OrderID),
		slog.String("transaction_id", result.TransactionID),
		slog.Bool("success", result.Success),
	)
	if kind == "" {
		return nil
	}
	order, err := p.store.GetOrder(ctx, payment.OrderID)
	if err != nil {
		return err
	}
	p.orders.notify(ctx, kind, order, description)
	return nil
}

// refundUnsettled refunds a captured payment that could not settle the
// order: the order was cancelled, already paid by another session, or its
// total changed after the session opened.
func (p *PaymentService) refundUnsettled(ctx context.Context, order *domain.Order, payment *domain.Payment, details string, now time.Time) (domain.EventKind, string, error) {
	if _, err := p.store.SetPaymentStatus(ctx, payment.ID, domain.PaymentRecordRefunded, details, now,
		domain.PaymentRecordCompleted); err != nil {
		return "", "", err
	}

	switch {
	case order.Status == domain.OrderStatusCancelled:
		if _, err := p.store.SetOrderPaymentStatus(ctx, order.ID, domain.PaymentStatusRefunded, now); err != nil {
			return "", "", err
		}
		return domain.EventPaymentReceived, "payment received after cancellation, refund issued", nil
	case order.PaymentStatus == domain.PaymentStatusPaid:
		return domain.EventPaymentReceived, "duplicate payment received, refund issued", nil
	default:
		p.logger.Warn("payment: amount does not match order total",
			slog.Int64("order_id", order.ID),
			slog.Int64("amount", payment.Amount),
			slog.Int64("total", order.TotalAmount),
		)
		return domain.EventPaymentFailed, fmt.Sprintf(
			"payment of %d does not match order total %d, refund issued", payment.Amount, order.TotalAmount), nil
	}
}

// ExpireIfDue is the deadline watch for one order.
func (p *PaymentService) ExpireIfDue(ctx context.Context, orderID int64) (bool, error) {
	return p.orders.ExpireIfDue(ctx, orderID)
}

func (p *PaymentService) ListPayments(ctx context.Context, orderID int64, actor domain.Actor) ([]domain.Payment, error) {
	order, err := p.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.VisibleTo(actor) {
		return nil, fmt.Errorf("%w: order %d", domain.ErrForbidden, orderID)
	}
	return p.store.ListPayments(ctx, orderID)
}
