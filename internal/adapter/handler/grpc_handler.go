package handler

import (
	"context"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
)

type GRPCHandler struct {
	orders   *service.OrderService
	payments *service.PaymentService
}

func NewGRPCHandler(orders *service.OrderService, payments *service.PaymentService) *GRPCHandler {
	return &GRPCHandler{orders: orders, payments: payments}
}

var _ OrderServiceServer = (*GRPCHandler)(nil)

func (m ActorMessage) toActor() (domain.Actor, error) {
	kind, err := domain.ParseActorKind(m.Kind)
	if err != nil {
		return domain.Actor{}, status.Error(codes.InvalidArgument, err.Error())
	}
	return domain.Actor{Kind: kind, ID: m.ID}, nil
}

// grpcError reuses the HTTP classification so both transports agree.
func grpcError(err error) error {
	code, name := classify(err)
	var c codes.Code
	switch code {
	case http.StatusBadRequest:
		c = codes.InvalidArgument
	case http.StatusForbidden:
		c = codes.PermissionDenied
	case http.StatusNotFound:
		c = codes.NotFound
	case http.StatusConflict:
		c = codes.FailedPrecondition
		if name == "stale_order_state" || name == "duplicate_request" {
			c = codes.Aborted
		}
	case http.StatusGone:
		c = codes.DeadlineExceeded
	case http.StatusUnprocessableEntity:
		c = codes.FailedPrecondition
	case http.StatusBadGateway:
		c = codes.Unavailable
	default:
		return status.Error(codes.Internal, "internal error")
	}
	return status.Errorf(c, "%s: %v", name, err)
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderResponse, error) {
	actor, err := req.Actor.toActor()
	if err != nil {
		return nil, err
	}
	order, err := h.orders.CreateOrder(ctx, req.Checkout.toCheckout(actor))
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toOrderResponse(order)
	return &resp, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	actor, err := req.Actor.toActor()
	if err != nil {
		return nil, err
	}
	order, err := h.orders.GetOrder(ctx, req.OrderID)
	if err != nil {
		return nil, grpcError(err)
	}
	if !order.VisibleTo(actor) {
		return nil, status.Error(codes.PermissionDenied, "order belongs to another customer")
	}
	resp := toOrderResponse(order)
	return &resp, nil
}

func (h *GRPCHandler) TransitionOrder(ctx context.Context, req *TransitionOrderRequest) (*TransitionResponse, error) {
	actor, err := req.Actor.toActor()
	if err != nil {
		return nil, err
	}
	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := h.orders.TransitionWithRetry(ctx, req.OrderID, target, actor, service.TransitionOptions{
		TrackingNumber: req.TrackingNumber,
		Reason:         req.Reason,
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return &TransitionResponse{Order: toOrderResponse(res.Order), Warnings: res.Warnings}, nil
}

func (h *GRPCHandler) StartPaymentSession(ctx context.Context, req *OrderRequest) (*PaymentSessionReply, error) {
	actor, err := req.Actor.toActor()
	if err != nil {
		return nil, err
	}
	session, err := h.payments.StartSession(ctx, req.OrderID, actor)
	if err != nil {
		return nil, grpcError(err)
	}
	return &PaymentSessionReply{
		OrderID:       session.OrderID,
		TransactionID: session.TransactionID,
		RedirectURL:   session.RedirectURL,
		ExpiresAtUnix: session.ExpiresAt.Unix(),
	}, nil
}

func (h *GRPCHandler) ConvertToCashOnDelivery(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	actor, err := req.Actor.toActor()
	if err != nil {
		return nil, err
	}
	order, err := h.payments.ConvertToCashOnDelivery(ctx, req.OrderID, actor)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toOrderResponse(order)
	return &resp, nil
}

func (h *GRPCHandler) ApplyDiscount(ctx context.Context, req *ApplyDiscountRequest) (*DiscountResponse, error) {
	actor, err := req.Actor.toActor()
	if err != nil {
		return nil, err
	}
	order, amount, err := h.orders.ApplyDiscount(ctx, req.OrderID, req.Code, actor)
	if err != nil {
		return nil, grpcError(err)
	}
	return &DiscountResponse{AppliedAmount: amount, Order: toOrderResponse(order)}, nil
}

func (h *GRPCHandler) RemoveDiscount(ctx context.Context, req *OrderRequest) (*OrderResponse, error) {
	actor, err := req.Actor.toActor()
	if err != nil {
		return nil, err
	}
	order, err := h.orders.RemoveDiscount(ctx, req.OrderID, actor)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := toOrderResponse(order)
	return &resp, nil
}
