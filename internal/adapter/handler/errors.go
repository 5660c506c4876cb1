package handler

import (
	"errors"
	"net/http"

	"github.com/rl1809/storefront-orders/internal/core/domain"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Message string      `json:"message,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

type errorMapping struct {
	err    error
	status int
	code   string
}

// errorMappings is checked in order; the first match wins.
var errorMappings = []errorMapping{
	{domain.ErrInvalidCheckout, http.StatusBadRequest, "invalid_checkout"},
	{domain.ErrForbidden, http.StatusForbidden, "forbidden"},
	{domain.ErrOrderNotFound, http.StatusNotFound, "order_not_found"},
	{domain.ErrPaymentNotFound, http.StatusNotFound, "payment_not_found"},
	{domain.ErrVariantNotFound, http.StatusNotFound, "variant_not_found"},
	{domain.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{domain.ErrStaleOrderState, http.StatusConflict, "stale_order_state"},
	{domain.ErrDuplicateRequest, http.StatusConflict, "duplicate_request"},
	{domain.ErrOrderLocked, http.StatusConflict, "order_locked"},
	{domain.ErrPaymentNotAllowed, http.StatusConflict, "payment_not_allowed"},
	{domain.ErrInsufficientStock, http.StatusConflict, "insufficient_stock"},
	{domain.ErrPaymentWindowExpired, http.StatusGone, "payment_window_expired"},
	{domain.ErrCodeNotFound, http.StatusUnprocessableEntity, "code_not_found"},
	{domain.ErrCodeExpired, http.StatusUnprocessableEntity, "code_expired"},
	{domain.ErrCodeExhausted, http.StatusUnprocessableEntity, "code_exhausted"},
	{domain.ErrMinimumNotMet, http.StatusUnprocessableEntity, "minimum_not_met"},
	{domain.ErrPaymentInitiationFailed, http.StatusBadGateway, "payment_initiation_failed"},
}

// classify maps a core error to an HTTP status and a machine code.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	resp := ErrorResponse{Error: code, Message: err.Error()}

	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		resp.Details = map[string]interface{}{
			"variant_id": stockErr.VariantID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("http: request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
		resp.Message = "internal error"
	}
	writeJSON(w, status, resp)
}
