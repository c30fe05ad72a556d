package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/merchkit/storefront/internal/auth"
	"github.com/merchkit/storefront/internal/domain/order"
	"github.com/merchkit/storefront/internal/domain/product"
	"github.com/merchkit/storefront/internal/domain/review"
)

// --- In-memory fakes ---

type fakeProductRepo struct {
	byID map[string]product.Product
}

func (f *fakeProductRepo) List(_ context.Context) ([]product.Product, error) {
	out := make([]product.Product, 0, len(f.byID))
	for _, p := range f.byID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (f *fakeProductRepo) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		if p, ok := f.byID[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeOrderRepo struct {
	mu         sync.Mutex
	byID       map[string]*order.Order
	stock      map[string]int
	createErrs []error
}

func (f *fakeOrderRepo) Create(_ context.Context, o *order.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return err
		}
	}
	for _, item := range o.Items {
		if avail, ok := f.stock[item.ProductID]; ok && avail < item.Quantity {
			return &order.InsufficientStockError{ProductID: item.ProductID}
		}
	}
	for _, item := range o.Items {
		if _, ok := f.stock[item.ProductID]; ok {
			f.stock[item.ProductID] -= item.Quantity
		}
	}
	cp := *o
	f.byID[o.ID] = &cp
	return nil
}

func (f *fakeOrderRepo) GetByID(_ context.Context, id string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (f *fakeOrderRepo) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []order.Order
	for _, o := range f.byID {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeOrderRepo) List(_ context.Context) ([]order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []order.Order
	for _, o := range f.byID {
		out = append(out, *o)
	}
	return out, nil
}

func (f *fakeOrderRepo) UpdateStatus(_ context.Context, id string, from, to order.Status, deliveredAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return order.ErrNotFound
	}
	if o.Status != from {
		return order.ErrStatusConflict
	}
	o.Status = to
	o.DeliveredAt = deliveredAt
	return nil
}

type fakeReviewRepo struct {
	mu      sync.Mutex
	reviews map[string]*review.Review
}

func (f *fakeReviewRepo) GetByID(_ context.Context, id string) (*review.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reviews[id]
	if !ok {
		return nil, review.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeReviewRepo) FindByUserProduct(_ context.Context, userID, productID string) (*review.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reviews {
		if r.UserID == userID && r.ProductID == productID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, review.ErrNotFound
}

func (f *fakeReviewRepo) ListByProduct(_ context.Context, productID string) ([]review.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []review.Review
	for _, r := range f.reviews {
		if r.ProductID == productID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeReviewRepo) SaveWithSummary(_ context.Context, r *review.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.reviews[r.ID] = &cp
	return nil
}

func (f *fakeReviewRepo) DeleteWithSummary(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reviews[id]; !ok {
		return review.ErrNotFound
	}
	delete(f.reviews, id)
	return nil
}

// --- Harness ---

type fixture struct {
	server   *httptest.Server
	orders   *fakeOrderRepo
	reviews  *fakeReviewRepo
	products *fakeProductRepo
}

// testAuth authenticates requests from test headers, mirroring what the real
// JWT middleware provides.
func testAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Test-User")
		if id == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		actor := auth.Actor{ID: id, Admin: r.Header.Get("X-Test-Admin") == "1"}
		next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
	})
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	products := &fakeProductRepo{byID: map[string]product.Product{
		"p1": {ID: "p1", Name: "Walnut Desk", Price: decimal.RequireFromString("300.00"), Stock: 10},
		"p2": {ID: "p2", Name: "Desk Lamp", Price: decimal.RequireFromString("100.00"), Stock: 2},
	}}
	orders := &fakeOrderRepo{
		byID:  make(map[string]*order.Order),
		stock: map[string]int{"p1": 10, "p2": 2},
	}
	reviews := &fakeReviewRepo{reviews: make(map[string]*review.Review)}

	h := New(products, order.NewService(orders), review.NewService(reviews))
	srv := httptest.NewServer(h.Routes(testAuth))
	t.Cleanup(srv.Close)

	return &fixture{server: srv, orders: orders, reviews: reviews, products: products}
}

func (f *fixture) do(t *testing.T, method, path, user string, admin bool, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	if admin {
		req.Header.Set("X-Test-Admin", "1")
	}

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, out.Bytes()
}

func validOrderBody(items ...orderItemRequest) createOrderRequest {
	return createOrderRequest{
		Items: items,
		Shipping: order.ShippingInfo{
			Address: "12 Harbor Lane",
			City:    "Pune",
			State:   "MH",
			Country: "IN",
			PinCode: "411001",
			PhoneNo: "9876543210",
		},
		Payment: order.PaymentInfo{Status: order.PaymentSucceeded, TransactionID: "txn_1"},
	}
}

// --- Tests ---

func TestCreateOrder_PricesFromCatalog(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/order/new", "u1", false,
		validOrderBody(orderItemRequest{ProductID: "p1", Quantity: 2}))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var got orderResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "Processing", got.Status)
	assert.InDelta(t, 600.0, got.Price.ItemsPrice, 1e-9)
	assert.InDelta(t, 0.0, got.Price.ShippingPrice, 1e-9)
	assert.InDelta(t, 108.0, got.Price.TaxPrice, 1e-9)
	assert.InDelta(t, 708.0, got.Price.TotalPrice, 1e-9)
	require.Len(t, got.Items, 1)
	assert.Equal(t, "Walnut Desk", got.Items[0].Name)
}

func TestCreateOrder_UnknownProduct(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/order/new", "u1", false,
		validOrderBody(orderItemRequest{ProductID: "ghost", Quantity: 1}))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateOrder_EmptyCart(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/order/new", "u1", false, validOrderBody())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
}

func TestCreateOrder_ZeroQuantity(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/order/new", "u1", false,
		validOrderBody(orderItemRequest{ProductID: "p1", Quantity: 0}))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "p1", errResp.Field)
}

func TestCreateOrder_PaymentNotConfirmed(t *testing.T) {
	f := newFixture(t)

	req := validOrderBody(orderItemRequest{ProductID: "p1", Quantity: 1})
	req.Payment.Status = "pending"

	resp, _ := f.do(t, http.MethodPost, "/api/v1/order/new", "u1", false, req)
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
}

func TestCreateOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/api/v1/order/new", "u1", false,
		validOrderBody(orderItemRequest{ProductID: "p2", Quantity: 3}))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "p2", errResp.Field)
}

func TestCreateOrder_PersistentStockConflict(t *testing.T) {
	f := newFixture(t)
	// Both the initial attempt and the single retry conflict.
	f.orders.createErrs = []error{order.ErrStockConflict, order.ErrStockConflict}

	resp, body := f.do(t, http.MethodPost, "/api/v1/order/new", "u1", false,
		validOrderBody(orderItemRequest{ProductID: "p1", Quantity: 1}))
	assert.Equal(t, http.StatusConflict, resp.StatusCode, string(body))

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, http.StatusConflict, errResp.Code)
}

func TestCreateOrder_BadPhone(t *testing.T) {
	f := newFixture(t)

	req := validOrderBody(orderItemRequest{ProductID: "p1", Quantity: 1})
	req.Shipping.PhoneNo = "123"

	resp, body := f.do(t, http.MethodPost, "/api/v1/order/new", "u1", false, req)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "phoneNo", errResp.Field)
}

func TestCreateOrder_RequiresAuth(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.do(t, http.MethodPost, "/api/v1/order/new", "", false,
		validOrderBody(orderItemRequest{ProductID: "p1", Quantity: 1}))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func createTestOrder(t *testing.T, f *fixture, user string) string {
	t.Helper()
	resp, body := f.do(t, http.MethodPost, "/api/v1/order/new", user, false,
		validOrderBody(orderItemRequest{ProductID: "p1", Quantity: 1}))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var got orderResponse
	require.NoError(t, json.Unmarshal(body, &got))
	return got.ID
}

func TestGetOrder_Ownership(t *testing.T) {
	f := newFixture(t)
	id := createTestOrder(t, f, "u1")

	resp, _ := f.do(t, http.MethodGet, "/api/v1/order/"+id, "u1", false, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/order/"+id, "intruder", false, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/order/"+id, "ops", true, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/order/missing", "u1", false, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdvanceOrder_AdminFlow(t *testing.T) {
	f := newFixture(t)
	id := createTestOrder(t, f, "u1")

	// Customers may not advance orders.
	resp, _ := f.do(t, http.MethodPut, "/api/v1/admin/order/"+id, "u1", false,
		advanceOrderRequest{Status: "Shipped"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := f.do(t, http.MethodPut, "/api/v1/admin/order/"+id, "ops", true,
		advanceOrderRequest{Status: "Shipped"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var got orderResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "Shipped", got.Status)

	// Skipping back is a conflict.
	resp, _ = f.do(t, http.MethodPut, "/api/v1/admin/order/"+id, "ops", true,
		advanceOrderRequest{Status: "Processing"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = f.do(t, http.MethodPut, "/api/v1/admin/order/"+id, "ops", true,
		advanceOrderRequest{Status: "Delivered"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.NoError(t, json.Unmarshal(body, &got))
	require.NotNil(t, got.DeliveredAt)
}

func TestListAllOrders_Revenue(t *testing.T) {
	f := newFixture(t)
	createTestOrder(t, f, "u1")
	createTestOrder(t, f, "u2")

	resp, _ := f.do(t, http.MethodGet, "/api/v1/admin/orders", "u1", false, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/api/v1/admin/orders", "ops", true, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got ordersListResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Len(t, got.Orders, 2)
	// Two orders of one 300.00 item each: (300 + 50 + 54) * 2.
	assert.InDelta(t, 808.0, got.TotalAmount, 1e-9)
}

func TestSubmitReview_Validation(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPut, "/api/v1/review", "u1", false,
		submitReviewRequest{ProductID: "p1", Rating: 6})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Equal(t, "rating", errResp.Field)

	resp, _ = f.do(t, http.MethodPut, "/api/v1/review", "u1", false,
		submitReviewRequest{Rating: 4})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReviewLifecycle(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPut, "/api/v1/review", "u1", false,
		submitReviewRequest{ProductID: "p1", Rating: 4, Comment: "sturdy"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var rev reviewResponse
	require.NoError(t, json.Unmarshal(body, &rev))
	assert.Equal(t, 4, rev.Rating)

	// Listing is public.
	resp, body = f.do(t, http.MethodGet, "/api/v1/reviews?productId=p1", "", false, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Reviews []reviewResponse `json:"reviews"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Reviews, 1)

	// Deleting someone else's review is forbidden.
	resp, _ = f.do(t, http.MethodDelete, "/api/v1/reviews?id="+rev.ID, "intruder", false, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/reviews?id="+rev.ID, "u1", false, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = f.do(t, http.MethodDelete, "/api/v1/reviews?id="+rev.ID, "u1", false, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListProducts_Public(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/api/v1/products", "", false, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Products []productResponse `json:"products"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Products, 2)
	assert.Equal(t, "p1", got.Products[0].ID)

	resp, _ = f.do(t, http.MethodGet, "/api/v1/products/ghost", "", false, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouting_UnknownUserHeaderNeverLeaks(t *testing.T) {
	f := newFixture(t)

	// The orders listing under /orders/me requires identity.
	resp, _ := f.do(t, http.MethodGet, "/api/v1/orders/me", "", false, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := f.do(t, http.MethodGet, "/api/v1/orders/me", "u1", false, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var got struct {
		Orders []orderResponse `json:"orders"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Empty(t, got.Orders)
}
