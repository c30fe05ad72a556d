package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/merchkit/storefront/internal/auth"
	"github.com/merchkit/storefront/internal/domain/order"
	"github.com/merchkit/storefront/internal/domain/pricing"
	"github.com/merchkit/storefront/internal/domain/product"
)

type orderItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type createOrderRequest struct {
	Items    []orderItemRequest `json:"items"`
	Shipping order.ShippingInfo `json:"shipping"`
	Payment  order.PaymentInfo  `json:"payment"`
}

type orderItemResponse struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int     `json:"quantity"`
}

type priceResponse struct {
	ItemsPrice    float64 `json:"itemsPrice"`
	ShippingPrice float64 `json:"shippingPrice"`
	TaxPrice      float64 `json:"taxPrice"`
	TotalPrice    float64 `json:"totalPrice"`
}

type orderResponse struct {
	ID          string              `json:"id"`
	UserID      string              `json:"userId"`
	Items       []orderItemResponse `json:"items"`
	Shipping    order.ShippingInfo  `json:"shipping"`
	Payment     order.PaymentInfo   `json:"payment"`
	Price       priceResponse       `json:"price"`
	Status      string              `json:"status"`
	CreatedAt   time.Time           `json:"createdAt"`
	PaidAt      time.Time           `json:"paidAt"`
	DeliveredAt *time.Time          `json:"deliveredAt,omitempty"`
}

type ordersListResponse struct {
	Orders      []orderResponse `json:"orders"`
	TotalAmount float64         `json:"totalAmount"`
}

type advanceOrderRequest struct {
	Status string `json:"status"`
}

// createOrder prices the cart from catalog data and creates the order. Unit
// prices are never taken from the client: every line is resolved against the
// product repository first.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	items, err := h.resolveCart(r, req.Items)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	o, err := h.orders.Create(r.Context(), order.CreateRequest{
		Items:    items,
		Shipping: req.Shipping,
		Payment:  req.Payment,
	}, actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResponse(o))
}

// resolveCart looks the requested products up in the catalog and builds the
// priced cart the domain operates on.
func (h *Handler) resolveCart(r *http.Request, reqItems []orderItemRequest) ([]pricing.CartItem, error) {
	if len(reqItems) == 0 {
		return nil, nil
	}

	ids := make([]string, len(reqItems))
	for i, item := range reqItems {
		ids[i] = item.ProductID
	}

	fetched, err := h.products.GetByIDs(r.Context(), ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	items := make([]pricing.CartItem, len(reqItems))
	for i, item := range reqItems {
		p, ok := byID[item.ProductID]
		if !ok {
			return nil, product.ErrNotFound
		}
		items[i] = pricing.CartItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  item.Quantity,
		}
	}
	return items, nil
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	o, err := h.orders.Get(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	orders, err := h.orders.ListForUser(r.Context(), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *Handler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	orders, revenue, err := h.orders.ListAll(r.Context(), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	out := make([]orderResponse, len(orders))
	for i := range orders {
		out[i] = toOrderResponse(&orders[i])
	}
	writeJSON(w, http.StatusOK, ordersListResponse{
		Orders:      out,
		TotalAmount: revenue.InexactFloat64(),
	})
}

func (h *Handler) advanceOrder(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}

	var req advanceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	o, err := h.orders.AdvanceStatus(r.Context(), r.PathValue("id"), order.Status(req.Status), actor)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice.InexactFloat64(),
			Quantity:  item.Quantity,
		}
	}
	return orderResponse{
		ID:       o.ID,
		UserID:   o.UserID,
		Items:    items,
		Shipping: o.Shipping,
		Payment:  o.Payment,
		Price: priceResponse{
			ItemsPrice:    o.Price.ItemsPrice.InexactFloat64(),
			ShippingPrice: o.Price.ShippingPrice.InexactFloat64(),
			TaxPrice:      o.Price.TaxPrice.InexactFloat64(),
			TotalPrice:    o.Price.TotalPrice.InexactFloat64(),
		},
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
		PaidAt:      o.PaidAt,
		DeliveredAt: o.DeliveredAt,
	}
}
