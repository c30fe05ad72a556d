package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/merchkit/storefront/internal/domain/order"
	"github.com/merchkit/storefront/internal/domain/pricing"
	"github.com/merchkit/storefront/internal/domain/product"
	"github.com/merchkit/storefront/internal/domain/review"
)

// errorResponse is the uniform error payload. Field names the offending
// input when one can be identified.
type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message, field string) {
	writeJSON(w, status, errorResponse{Code: status, Message: message, Field: field})
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, message, "")
}

// writeDomainError maps a domain error onto the HTTP taxonomy: invalid input
// 400, unconfirmed payment 402, forbidden 403, unknown ids 404, stock and
// transition conflicts 409. Anything unrecognized is a 500 and gets logged.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cartErr   *pricing.InvalidCartError
		shipErr   *order.InvalidShippingError
		ratingErr *review.InvalidRatingError
		stockErr  *order.InsufficientStockError
		transErr  *order.InvalidTransitionError
	)

	switch {
	case errors.As(err, &cartErr):
		writeError(w, http.StatusBadRequest, cartErr.Error(), cartErr.ProductID)
	case errors.As(err, &shipErr):
		writeError(w, http.StatusBadRequest, shipErr.Error(), shipErr.Field)
	case errors.As(err, &ratingErr):
		writeError(w, http.StatusBadRequest, ratingErr.Error(), "rating")
	case errors.Is(err, order.ErrPaymentNotConfirmed):
		writeError(w, http.StatusPaymentRequired, err.Error(), "payment.status")
	case errors.Is(err, order.ErrForbidden), errors.Is(err, review.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "")
	case errors.Is(err, order.ErrNotFound), errors.Is(err, review.ErrNotFound),
		errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "")
	case errors.As(err, &stockErr):
		writeError(w, http.StatusConflict, stockErr.Error(), stockErr.ProductID)
	case errors.Is(err, order.ErrStockConflict):
		// The bounded retry in the order service already ran; tell the
		// client to resubmit instead of reporting a server fault.
		writeError(w, http.StatusConflict, "order creation conflicted, retry", "")
	case errors.As(err, &transErr):
		writeError(w, http.StatusConflict, transErr.Error(), "status")
	default:
		zctx.From(r.Context()).Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}
