package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/port"
)

const notifyTimeout = 5 * time.Second

type CartLine struct {
	VariantID int64
	Quantity  int
}

type GuestContact struct {
	Name  string
	Email string
	Phone string
}

type CheckoutRequest struct {
	// RequestID makes checkout idempotent when set.
	RequestID     string
	Actor         domain.Actor
	Guest         GuestContact
	Cart          []CartLine
	Address       domain.Address
	PaymentMethod domain.PaymentMethod
	DiscountCode  string
}

type TransitionOptions struct {
	TrackingNumber string
	Reason         string
}

type TransitionResult struct {
	Order    *domain.Order
	Warnings []domain.LowStockWarning
}

// transitionMeta carries what differs between caller-driven transitions and
// the automatic payment expiry.
type transitionMeta struct {
	event         domain.EventKind
	requireUnpaid bool
}

type OrderService struct {
	store     port.Store
	cache     port.CacheRepository
	notifier  port.Notifier
	ledger    *InventoryLedger
	discounts *DiscountEngine
	opts      Options
	logger    *slog.Logger
}

// NewOrderService wires the lifecycle. cache may be nil, which disables
// checkout idempotency keys.
func NewOrderService(store port.Store, cache port.CacheRepository, notifier port.Notifier, opts Options) *OrderService {
	opts = opts.withDefaults()
	return &OrderService{
		store:     store,
		cache:     cache,
		notifier:  notifier,
		ledger:    NewInventoryLedger(store, *opts.LowStockThreshold),
		discounts: NewDiscountEngine(store),
		opts:      opts,
		logger:    opts.Logger,
	}
}

func (s *OrderService) now() time.Time {
	return s.opts.Now()
}

func (s *OrderService) CreateOrder(ctx context.Context, req CheckoutRequest) (order *domain.Order, err error) {
	lines, err := validateCheckout(req)
	if err != nil {
		return nil, err
	}

	if req.RequestID != "" && s.cache != nil {
		key := "checkout:" + req.RequestID
		ok, err := s.cache.SetIdempotency(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, domain.ErrDuplicateRequest
		}
		defer func() {
			if err == nil {
				return
			}
			if clearErr := s.cache.ClearIdempotency(context.WithoutCancel(ctx), key); clearErr != nil {
				s.logger.Warn("order: failed to clear idempotency key", slog.String("key", key), slog.Any("error", clearErr))
			}
		}()
	}

	order, discount, err := s.priceOrder(ctx, req, lines)
	if err != nil {
		return nil, err
	}

	actorID := req.Actor.ID
	if req.Actor.Kind == domain.ActorGuest {
		actorID = order.GuestEmail
	}

	err = s.store.Transact(ctx, func(ctx context.Context) error {
		if discount != nil {
			if err := s.discounts.Redeem(ctx, discount.ID); err != nil {
				return err
			}
		}
		if err := s.store.CreateOrder(ctx, order); err != nil {
			return err
		}
		return s.store.AppendActivity(ctx, domain.ActivityEntry{
			OrderID:     order.ID,
			ToStatus:    domain.OrderStatusPending,
			ActorKind:   req.Actor.Kind,
			ActorID:     actorID,
			Description: "order created",
			CreatedAt:   order.CreatedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("order: created",
		slog.Int64("order_id", order.ID),
		slog.Int64("total", order.TotalAmount),
		slog.String("payment_method", string(order.PaymentMethod)),
	)
	s.notify(ctx, domain.EventOrderCreated, order, "order created")
	return order, nil
}

func validateCheckout(req CheckoutRequest) ([]domain.StockLine, error) {
	switch req.Actor.Kind {
	case domain.ActorCustomer:
		if req.Actor.ID == "" {
			return nil, fmt.Errorf("%w: customer id is required", domain.ErrInvalidCheckout)
		}
	case domain.ActorGuest:
		if strings.TrimSpace(req.Guest.Email) == "" {
			return nil, fmt.Errorf("%w: guest email is required", domain.ErrInvalidCheckout)
		}
	default:
		return nil, fmt.Errorf("%w: %s actors cannot place orders", domain.ErrForbidden, req.Actor.Kind)
	}

	if len(req.Cart) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", domain.ErrInvalidCheckout)
	}
	lines := make([]domain.StockLine, 0, len(req.Cart))
	for _, line := range req.Cart {
		if line.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for variant %d must be at least 1", domain.ErrInvalidCheckout, line.VariantID)
		}
		lines = append(lines, domain.StockLine{VariantID: line.VariantID, Quantity: line.Quantity})
	}

	addr := req.Address
	if strings.TrimSpace(addr.RecipientName) == "" || strings.TrimSpace(addr.Phone) == "" || strings.TrimSpace(addr.Line) == "" {
		return nil, fmt.Errorf("%w: recipient name, phone and address line are required", domain.ErrInvalidCheckout)
	}

	if _, err := domain.ParsePaymentMethod(string(req.PaymentMethod)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCheckout, err)
	}
	return domain.MergeStockLines(lines), nil
}

// priceOrder snapshots catalog prices and works out totals. Stock is only
// checked here; it is committed at shipment.
func (s *OrderService) priceOrder(ctx context.Context, req CheckoutRequest, lines []domain.StockLine) (*domain.Order, *domain.Discount, error) {
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.VariantID)
	}
	variants, err := s.store.GetVariants(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	now := s.now()
	order := &domain.Order{
		Status:        domain.OrderStatusPending,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: domain.PaymentStatusPending,
		Address:       req.Address,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if req.Actor.Kind == domain.ActorCustomer {
		order.UserID = req.Actor.ID
	} else {
		order.GuestName = req.Guest.Name
		order.GuestEmail = strings.TrimSpace(req.Guest.Email)
		order.GuestPhone = req.Guest.Phone
	}

	for _, line := range lines {
		v, ok := variants[line.VariantID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: variant %d not found", domain.ErrInvalidCheckout, line.VariantID)
		}
		if v.StockQuantity < line.Quantity {
			return nil, nil, &domain.InsufficientStockError{
				VariantID: v.ID,
				Requested: line.Quantity,
				Available: v.StockQuantity,
			}
		}
		order.Items = append(order.Items, domain.OrderItem{
			VariantID:   v.ID,
			ProductName: v.ProductName,
			Volume:      v.Volume,
			UnitPrice:   v.Price,
			Quantity:    line.Quantity,
		})
	}
	order.Recalculate()
	order.ShippingFee = s.shippingFee(order.SubtotalAmount)

	var discount *domain.Discount
	if strings.TrimSpace(req.DiscountCode) != "" {
		d, amount, err := s.discounts.Validate(ctx, req.DiscountCode, order.SubtotalAmount, now)
		if err != nil {
			return nil, nil, err
		}
		order.ApplyDiscount(d, amount)
		discount = d
	}
	order.Recalculate()

	if order.PaymentMethod == domain.PaymentMethodOnline {
		deadline := now.Add(s.opts.PaymentWindow)
		order.PaymentExpiresAt = &deadline
	}
	return order, discount, nil
}

func (s *OrderService) shippingFee(subtotal int64) int64 {
	if s.opts.FreeShippingThreshold > 0 && subtotal >= s.opts.FreeShippingThreshold {
		return 0
	}
	return s.opts.ShippingFee
}

// GetOrder loads an order, first expiring it if its payment window closed.
func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.PaymentDue(s.now()) {
		return order, nil
	}

	if _, err := s.expire(ctx, order); err != nil {
		return nil, err
	}
	return s.store.GetOrder(ctx, orderID)
}

func (s *OrderService) ListActivity(ctx context.Context, orderID int64) ([]domain.ActivityEntry, error) {
	if _, err := s.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.ListActivity(ctx, orderID)
}

func (s *OrderService) Transition(ctx context.Context, orderID int64, target domain.OrderStatus, actor domain.Actor, opts TransitionOptions) (*TransitionResult, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.applyTransition(ctx, order, target, actor, opts, transitionMeta{event: domain.EventOrderStatusChanged})
}

// TransitionWithRetry re-reads the order and tries once more when another
// writer moved it first.
func (s *OrderService) TransitionWithRetry(ctx context.Context, orderID int64, target domain.OrderStatus, actor domain.Actor, opts TransitionOptions) (*TransitionResult, error) {
	res, err := s.Transition(ctx, orderID, target, actor, opts)
	if !errors.Is(err, domain.ErrStaleOrderState) {
		return res, err
	}
	s.logger.Debug("order: stale state, retrying transition",
		slog.Int64("order_id", orderID), slog.String("target", string(target)))
	return s.Transition(ctx, orderID, target, actor, opts)
}

// ExpireIfDue cancels the order when its online payment window has closed.
// Losing a race to another writer is not an error.
func (s *OrderService) ExpireIfDue(ctx context.Context, orderID int64) (bool, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return false, err
	}
	return s.expire(ctx, order)
}

func (s *OrderService) expire(ctx context.Context, order *domain.Order) (bool, error) {
	if !order.PaymentDue(s.now()) {
		return false, nil
	}

	_, err := s.applyTransition(ctx, order, domain.OrderStatusCancelled, domain.SystemActor,
		TransitionOptions{Reason: domain.ReasonPaymentExpired},
		transitionMeta{event: domain.EventPaymentExpired, requireUnpaid: true})
	switch {
	case err == nil:
		s.logger.Info("order: payment window expired", slog.Int64("order_id", order.ID))
		return true, nil
	case errors.Is(err, domain.ErrStaleOrderState), errors.Is(err, domain.ErrInvalidTransition):
		s.logger.Debug("order: expiry already settled", slog.Int64("order_id", order.ID))
		return false, nil
	}
	return false, err
}

func authorizeTransition(order *domain.Order, target domain.OrderStatus, actor domain.Actor) error {
	if actor.Privileged() {
		return nil
	}
	if order.OwnedBy(actor) && target == domain.OrderStatusCancelled && order.Status == domain.OrderStatusPending {
		return nil
	}
	return fmt.Errorf("%w: %s may not move order %d to %s", domain.ErrForbidden, actor.Kind, order.ID, target)
}

func (s *OrderService) applyTransition(ctx context.Context, order *domain.Order, target domain.OrderStatus, actor domain.Actor, opts TransitionOptions, meta transitionMeta) (*TransitionResult, error) {
	if !order.Status.CanTransitionTo(target) {
		return nil, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, target)
	}
	if err := authorizeTransition(order, target, actor); err != nil {
		return nil, err
	}

	now := s.now()
	reason := strings.TrimSpace(opts.Reason)
	if target == domain.OrderStatusCancelled && reason == "" {
		reason = fmt.Sprintf("cancelled by %s", actor.Kind)
	}
	description := fmt.Sprintf("status changed from %s to %s", order.Status, target)
	if reason != "" {
		description += ": " + reason
	}

	var warnings []domain.LowStockWarning
	err := s.store.Transact(ctx, func(ctx context.Context) error {
		change := port.StatusChange{
			OrderID:        order.ID,
			From:           order.Status,
			To:             target,
			At:             now,
			TrackingNumber: strings.TrimSpace(opts.TrackingNumber),
			RequireUnpaid:  meta.requireUnpaid,
		}
		if target == domain.OrderStatusCancelled {
			change.CancelReason = reason
		}
		if err := s.store.CompareAndSetStatus(ctx, change); err != nil {
			return err
		}

		// the row is ours now; side effects use its committed state
		current, err := s.store.GetOrder(ctx, order.ID)
		if err != nil {
			return err
		}

		switch target {
		case domain.OrderStatusShipped:
			w, err := s.ledger.ReserveOnShip(ctx, current.StockLines())
			if err != nil {
				return err
			}
			warnings = w
			if err := s.store.SetItemsDeducted(ctx, order.ID, true); err != nil {
				return err
			}
		case domain.OrderStatusCancelled:
			if err := s.releaseOnCancel(ctx, current, now); err != nil {
				return err
			}
		}

		return s.store.AppendActivity(ctx, domain.ActivityEntry{
			OrderID:     order.ID,
			FromStatus:  order.Status,
			ToStatus:    target,
			ActorKind:   actor.Kind,
			ActorID:     actor.ID,
			Description: description,
			CreatedAt:   now,
		})
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.store.GetOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("order: status changed",
		slog.Int64("order_id", order.ID),
		slog.String("from", string(order.Status)),
		slog.String("to", string(target)),
		slog.String("actor", string(actor.Kind)),
	)
	for _, w := range warnings {
		s.logger.Warn("order: low stock after shipment",
			slog.Int64("variant_id", w.VariantID),
			slog.Int("remaining", w.Remaining),
			slog.Int("threshold", w.Threshold),
		)
	}
	s.notify(ctx, meta.event, updated, description)
	return &TransitionResult{Order: updated, Warnings: warnings}, nil
}

// releaseOnCancel undoes everything the order holds: shipped stock, a
// redeemed code and any captured payment.
func (s *OrderService) releaseOnCancel(ctx context.Context, order *domain.Order, now time.Time) error {
	if lines := order.DeductedLines(); len(lines) > 0 {
		if err := s.ledger.RestoreOnCancel(ctx, lines); err != nil {
			return err
		}
		if err := s.store.SetItemsDeducted(ctx, order.ID, false); err != nil {
			return err
		}
	}

	if order.DiscountRedeemed && order.DiscountID != nil {
		if err := s.discounts.Release(ctx, *order.DiscountID); err != nil {
			return err
		}
		if err := s.store.SetDiscountRedeemed(ctx, order.ID, false); err != nil {
			return err
		}
	}

	refunded, err := s.store.RefundCompletedPayments(ctx, order.ID, now)
	if err != nil {
		return err
	}
	if refunded > 0 || order.PaymentStatus == domain.PaymentStatusPaid {
		if _, err := s.store.SetOrderPaymentStatus(ctx, order.ID, domain.PaymentStatusRefunded, now); err != nil {
			return err
		}
	}

	_, err = s.store.FailPendingPayments(ctx, order.ID, domain.ReasonOrderCancelled, now)
	return err
}

// ApplyDiscount swaps the order's code for code and returns the new amount.
// A previously redeemed code is released in the same transaction.
func (s *OrderService) ApplyDiscount(ctx context.Context, orderID int64, code string, actor domain.Actor) (*domain.Order, int64, error) {
	order, err := s.modifiableOrder(ctx, orderID, actor)
	if err != nil {
		return nil, 0, err
	}

	// the order already holds this code's use, so there is nothing to redeem
	if order.DiscountID != nil && order.DiscountRedeemed && order.DiscountCode == domain.NormalizeCode(code) {
		return order, order.DiscountAmount, nil
	}

	now := s.now()
	d, amount, err := s.discounts.Validate(ctx, code, order.SubtotalAmount, now)
	if err != nil {
		return nil, 0, err
	}

	updated := *order
	updated.ApplyDiscount(d, amount)
	updated.UpdatedAt = now

	description := fmt.Sprintf("discount %s applied", d.Code)
	if err := s.changeDiscount(ctx, order, &updated, &d.ID, description, now); err != nil {
		return nil, 0, err
	}

	result, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, 0, err
	}
	s.notify(ctx, domain.EventDiscountChanged, result, description)
	return result, amount, nil
}

func (s *OrderService) RemoveDiscount(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error) {
	order, err := s.modifiableOrder(ctx, orderID, actor)
	if err != nil {
		return nil, err
	}
	if order.DiscountID == nil {
		return order, nil
	}

	now := s.now()
	updated := *order
	updated.ClearDiscount()
	updated.UpdatedAt = now

	description := fmt.Sprintf("discount %s removed", order.DiscountCode)
	if err := s.changeDiscount(ctx, order, &updated, nil, description, now); err != nil {
		return nil, err
	}

	result, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, domain.EventDiscountChanged, result, description)
	return result, nil
}

func (s *OrderService) modifiableOrder(ctx context.Context, orderID int64, actor domain.Actor) (*domain.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.VisibleTo(actor) {
		return nil, fmt.Errorf("%w: order %d", domain.ErrForbidden, orderID)
	}
	if order.ExpiredUnpaid() {
		return nil, domain.ErrPaymentWindowExpired
	}
	if !order.Modifiable() {
		return nil, fmt.Errorf("%w: order %d is %s", domain.ErrOrderLocked, orderID, order.Status)
	}
	return order, nil
}

// changeDiscount persists the new discount fields, guarded on the discount
// the order carried when it was read, then moves code uses to match.
func (s *OrderService) changeDiscount(ctx context.Context, before, after *domain.Order, redeemID *int64, description string, now time.Time) error {
	return s.store.Transact(ctx, func(ctx context.Context) error {
		if err := s.store.UpdateOrderDiscount(ctx, after, before.DiscountID); err != nil {
			return err
		}
		if before.DiscountRedeemed && before.DiscountID != nil {
			if err := s.discounts.Release(ctx, *before.DiscountID); err != nil {
				return err
			}
		}
		if redeemID != nil {
			if err := s.discounts.Redeem(ctx, *redeemID); err != nil {
				return err
			}
		}
		// sessions opened for the old total must not be paid
		if _, err := s.store.FailPendingPayments(ctx, before.ID, "order total changed", now); err != nil {
			return err
		}
		return s.store.AppendActivity(ctx, domain.ActivityEntry{
			OrderID:     before.ID,
			FromStatus:  before.Status,
			ToStatus:    before.Status,
			ActorKind:   domain.ActorSystem,
			Description: description,
			CreatedAt:   now,
		})
	})
}

func (s *OrderService) appendActivity(ctx context.Context, order *domain.Order, actor domain.Actor, description string, now time.Time) error {
	return s.store.AppendActivity(ctx, domain.ActivityEntry{
		OrderID:     order.ID,
		FromStatus:  order.Status,
		ToStatus:    order.Status,
		ActorKind:   actor.Kind,
		ActorID:     actor.ID,
		Description: description,
		CreatedAt:   now,
	})
}

// notify runs after commit. Failures are logged and never undo the change.
func (s *OrderService) notify(ctx context.Context, kind domain.EventKind, order *domain.Order, description string) {
	if s.notifier == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	err := s.notifier.Notify(ctx, domain.Notification{
		Kind:          kind,
		OrderID:       order.ID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Description:   description,
		OccurredAt:    s.now(),
	})
	if err != nil {
		s.logger.Warn("order: notify failed",
			slog.Int64("order_id", order.ID),
			slog.String("kind", string(kind)),
			slog.Any("error", err),
		)
	}
}
