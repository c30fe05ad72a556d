package order

import (
	"context"
	"regexp"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/merchkit/storefront/internal/auth"
	"github.com/merchkit/storefront/internal/domain/pricing"
)

var phonePattern = regexp.MustCompile(`^\d{10}$`)

// CreateRequest holds the input for creating an order. The price breakdown is
// always recomputed server-side; any client-supplied total is ignored.
type CreateRequest struct {
	Items    []pricing.CartItem
	Shipping ShippingInfo
	Payment  PaymentInfo
}

// Service encapsulates the order lifecycle: creation from a priced cart and
// forward-only status transitions.
type Service struct {
	orders Repository
	now    func() time.Time
	newID  func() string
}

// NewService creates an order Service backed by the given repository.
func NewService(orders Repository) *Service {
	return &Service{
		orders: orders,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// Create validates shipping and payment, recomputes the price breakdown from
// the cart, snapshots the items, and persists the order with stock decrement
// in one atomic step. A stock conflict from a racing order is retried once.
func (s *Service) Create(ctx context.Context, req CreateRequest, actor auth.Actor) (*Order, error) {
	if err := validateShipping(req.Shipping); err != nil {
		return nil, err
	}
	if req.Payment.Status != PaymentSucceeded {
		return nil, ErrPaymentNotConfirmed
	}

	breakdown, err := pricing.Compute(req.Items)
	if err != nil {
		return nil, err
	}

	items := make([]Item, len(req.Items))
	for i, ci := range req.Items {
		items[i] = Item{
			ProductID: ci.ProductID,
			Name:      ci.Name,
			UnitPrice: ci.UnitPrice,
			Quantity:  ci.Quantity,
		}
	}

	now := s.now()
	o := &Order{
		ID:        s.newID(),
		UserID:    actor.ID,
		Items:     items,
		Shipping:  req.Shipping,
		Payment:   req.Payment,
		Price:     breakdown,
		Status:    StatusProcessing,
		CreatedAt: now,
		PaidAt:    now,
	}

	err = s.orders.Create(ctx, o)
	if errors.Is(err, ErrStockConflict) {
		err = s.orders.Create(ctx, o)
	}
	if err != nil {
		var isErr *InsufficientStockError
		if errors.As(err, &isErr) {
			return nil, isErr
		}
		return nil, errors.Wrap(err, "create order")
	}

	return o, nil
}

// AdvanceStatus moves an order one step forward in its lifecycle. Only
// administrators may advance orders; reaching Delivered stamps DeliveredAt
// exactly once.
func (s *Service) AdvanceStatus(ctx context.Context, orderID string, target Status, actor auth.Actor) (*Order, error) {
	if !actor.Admin {
		return nil, ErrForbidden
	}

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !o.Status.CanTransitionTo(target) {
		return nil, &InvalidTransitionError{From: o.Status, To: target}
	}

	deliveredAt := o.DeliveredAt
	if target == StatusDelivered && deliveredAt == nil {
		at := s.now()
		deliveredAt = &at
	}

	err = s.orders.UpdateStatus(ctx, o.ID, o.Status, target, deliveredAt)
	if errors.Is(err, ErrStatusConflict) {
		// Someone advanced the order between our read and write.
		return nil, &InvalidTransitionError{From: o.Status, To: target}
	}
	if err != nil {
		return nil, errors.Wrap(err, "update order status")
	}

	o.Status = target
	o.DeliveredAt = deliveredAt
	return o, nil
}

// Get returns the order when the caller owns it or is an administrator.
func (s *Service) Get(ctx context.Context, orderID string, actor auth.Actor) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != actor.ID && !actor.Admin {
		return nil, ErrForbidden
	}
	return o, nil
}

// ListForUser returns the caller's own orders.
func (s *Service) ListForUser(ctx context.Context, actor auth.Actor) ([]Order, error) {
	return s.orders.ListByUser(ctx, actor.ID)
}

// ListAll returns every order plus the aggregate revenue. Revenue is summed
// on every call rather than cached so it can never go stale.
func (s *Service) ListAll(ctx context.Context, actor auth.Actor) ([]Order, decimal.Decimal, error) {
	if !actor.Admin {
		return nil, decimal.Zero, ErrForbidden
	}

	orders, err := s.orders.List(ctx)
	if err != nil {
		return nil, decimal.Zero, errors.Wrap(err, "list orders")
	}

	revenue := decimal.Zero
	for _, o := range orders {
		revenue = revenue.Add(o.Price.TotalPrice)
	}
	return orders, revenue, nil
}

func validateShipping(info ShippingInfo) error {
	switch {
	case info.Address == "":
		return &InvalidShippingError{Field: "address"}
	case info.City == "":
		return &InvalidShippingError{Field: "city"}
	case info.State == "":
		return &InvalidShippingError{Field: "state"}
	case info.Country == "":
		return &InvalidShippingError{Field: "country"}
	case info.PinCode == "":
		return &InvalidShippingError{Field: "pinCode"}
	case !phonePattern.MatchString(info.PhoneNo):
		return &InvalidShippingError{Field: "phoneNo"}
	}
	return nil
}
