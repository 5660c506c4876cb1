package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rl1809/storefront-orders/internal/adapter/payment"
	"github.com/rl1809/storefront-orders/internal/core/domain"
	"github.com/rl1809/storefront-orders/internal/core/service"
)

const (
	ActorKindHeader = "X-Actor-Kind"
	ActorIDHeader   = "X-Actor-ID"

	maxCallbackBody = 64 * 1024
)

type HTTPHandler struct {
	orders         *service.OrderService
	payments       *service.PaymentService
	callbackSecret string
	logger         *slog.Logger

	countdownInterval time.Duration
	pongWait          time.Duration
	now               func() time.Time
}

func NewHTTPHandler(orders *service.OrderService, payments *service.PaymentService, callbackSecret string, logger *slog.Logger) *HTTPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandler{
		orders:            orders,
		payments:          payments,
		callbackSecret:    callbackSecret,
		logger:            logger,
		countdownInterval: time.Second,
		pongWait:          defaultPongWait,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Routes builds the REST API. Order routes identify the caller through the
// actor headers set by the upstream identity layer.
func (h *HTTPHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)
	r.Post("/payments/callback", h.PaymentCallback)

	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetOrder)
			r.Get("/activity", h.ListActivity)
			r.Post("/transitions", h.TransitionOrder)
			r.Post("/payment-session", h.StartPaymentSession)
			r.Get("/payments", h.ListPayments)
			r.Post("/cash-on-delivery", h.ConvertToCashOnDelivery)
			r.Put("/discount", h.ApplyDiscount)
			r.Delete("/discount", h.RemoveDiscount)
			r.Get("/payment-window/ws", h.PaymentCountdown)
		})
	})
	return r
}

func actorFromRequest(r *http.Request) (domain.Actor, error) {
	kind, err := domain.ParseActorKind(r.Header.Get(ActorKindHeader))
	if err != nil {
		return domain.Actor{}, err
	}
	return domain.Actor{Kind: kind, ID: r.Header.Get(ActorIDHeader)}, nil
}

// requestScope resolves the caller and the {id} path parameter, writing the
// error response itself when either is missing.
func (h *HTTPHandler) requestScope(w http.ResponseWriter, r *http.Request) (domain.Actor, int64, bool) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
		return domain.Actor{}, 0, false
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_order_id", "order id must be a positive integer")
		return domain.Actor{}, 0, false
	}
	return actor, id, true
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_actor", err.Error())
		return
	}

	var req CheckoutHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	order, err := h.orders.CreateOrder(r.Context(), req.toCheckout(actor))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !order.VisibleTo(actor) {
		writeError(w, http.StatusForbidden, "forbidden", "order belongs to another customer")
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !order.VisibleTo(actor) {
		writeError(w, http.StatusForbidden, "forbidden", "order belongs to another customer")
		return
	}

	entries, err := h.orders.ListActivity(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := make([]ActivityResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, ActivityResponse{
			FromStatus:  e.FromStatus,
			ToStatus:    e.ToStatus,
			ActorKind:   e.ActorKind,
			ActorID:     e.ActorID,
			Description: e.Description,
			CreatedAt:   e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	var req TransitionHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}

	res, err := h.orders.TransitionWithRetry(r.Context(), id, target, actor, service.TransitionOptions{
		TrackingNumber: req.TrackingNumber,
		Reason:         req.Reason,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransitionResponse{Order: toOrderResponse(res.Order), Warnings: res.Warnings})
}

func (h *HTTPHandler) StartPaymentSession(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	session, err := h.payments.StartSession(r.Context(), id, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *HTTPHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	payments, err := h.payments.ListPayments(r.Context(), id, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := make([]PaymentResponse, 0, len(payments))
	for _, p := range payments {
		resp = append(resp, PaymentResponse{
			ID:            p.ID,
			Amount:        p.Amount,
			Status:        string(p.Status),
			TransactionID: p.TransactionID,
			RedirectURL:   p.RedirectURL,
			ExpiresAt:     p.ExpiresAt,
			CreatedAt:     p.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) ConvertToCashOnDelivery(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	order, err := h.payments.ConvertToCashOnDelivery(r.Context(), id, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *HTTPHandler) ApplyDiscount(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	var req DiscountHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	order, amount, err := h.orders.ApplyDiscount(r.Context(), id, req.Code, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DiscountResponse{AppliedAmount: amount, Order: toOrderResponse(order)})
}

func (h *HTTPHandler) RemoveDiscount(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.requestScope(w, r)
	if !ok {
		return
	}

	order, err := h.orders.RemoveDiscount(r.Context(), id, actor)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(order))
}

// PaymentCallback accepts the provider's verdict. The raw body must carry a
// valid HMAC-SHA256 signature in the X-Signature header.
func (h *HTTPHandler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "failed to read body")
		return
	}
	if h.callbackSecret == "" || !payment.VerifySignature(body, r.Header.Get(payment.SignatureHeader), h.callbackSecret) {
		h.logger.Warn("http: rejected unsigned payment callback", "remote_addr", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, "invalid_signature", "callback signature mismatch")
		return
	}

	var req CallbackHTTPRequest
	if err := json.Unmarshal(body, &req); err != nil || req.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "transaction_id is required")
		return
	}

	err = h.payments.HandleCallback(r.Context(), domain.PaymentResult{
		TransactionID: req.TransactionID,
		Success:       req.Success,
		Details:       string(req.Details),
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
