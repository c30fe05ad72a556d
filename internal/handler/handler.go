// Package handler is the HTTP facade over the storefront domain. It
// translates authenticated identity and JSON payloads into domain calls and
// maps domain errors onto the HTTP error taxonomy; no business rules live
// here.
package handler

import (
	"net/http"

	"github.com/merchkit/storefront/internal/domain/order"
	"github.com/merchkit/storefront/internal/domain/product"
	"github.com/merchkit/storefront/internal/domain/review"
)

// Handler dispatches API requests to the domain services.
type Handler struct {
	products product.Repository
	orders   *order.Service
	reviews  *review.Service
}

// New constructs a Handler with the required domain dependencies.
func New(products product.Repository, orders *order.Service, reviews *review.Service) *Handler {
	return &Handler{
		products: products,
		orders:   orders,
		reviews:  reviews,
	}
}

// Routes mounts the v1 API. requireAuth wraps every route that needs a caller
// identity; ownership and role checks themselves live in the domain services.
func (h *Handler) Routes(requireAuth func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/products", h.listProducts)
	mux.HandleFunc("GET /api/v1/products/{id}", h.getProduct)
	mux.HandleFunc("GET /api/v1/reviews", h.listReviews)

	authed := func(fn http.HandlerFunc) http.Handler { return requireAuth(fn) }
	mux.Handle("PUT /api/v1/review", authed(h.submitReview))
	mux.Handle("DELETE /api/v1/reviews", authed(h.deleteReview))
	mux.Handle("POST /api/v1/order/new", authed(h.createOrder))
	mux.Handle("GET /api/v1/order/{id}", authed(h.getOrder))
	mux.Handle("GET /api/v1/orders/me", authed(h.listMyOrders))
	mux.Handle("GET /api/v1/admin/orders", authed(h.listAllOrders))
	mux.Handle("PUT /api/v1/admin/order/{id}", authed(h.advanceOrder))

	return mux
}
