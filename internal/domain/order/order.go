package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/merchkit/storefront/internal/domain/pricing"
)

// Status is the lifecycle state of an order. Transitions move strictly
// forward: Processing -> Shipped -> Delivered, with Delivered terminal.
type Status string

const (
	StatusProcessing Status = "Processing"
	StatusShipped    Status = "Shipped"
	StatusDelivered  Status = "Delivered"
)

// nextStatus maps each state to its single permitted successor. Delivered has
// none.
var nextStatus = map[Status]Status{
	StatusProcessing: StatusShipped,
	StatusShipped:    StatusDelivered,
}

// Valid reports whether s is a known order status.
func (s Status) Valid() bool {
	switch s {
	case StatusProcessing, StatusShipped, StatusDelivered:
		return true
	}
	return false
}

// CanTransitionTo reports whether the order may move from s to target.
func (s Status) CanTransitionTo(target Status) bool {
	return target != "" && nextStatus[s] == target
}

// PaymentSucceeded is the payment confirmation status required to create an
// order. The confirmation record itself is opaque to the core.
const PaymentSucceeded = "succeeded"

// ShippingInfo is the destination attached to an order. Immutable once the
// order is created.
type ShippingInfo struct {
	Address string `json:"address"`
	City    string `json:"city"`
	State   string `json:"state"`
	Country string `json:"country"`
	PinCode string `json:"pinCode"`
	PhoneNo string `json:"phoneNo"`
}

// PaymentInfo is the confirmation record supplied by the external payment
// collaborator.
type PaymentInfo struct {
	Status        string `json:"status"`
	TransactionID string `json:"transactionId"`
}

// Item is a single order line, snapshotted from the cart at creation time.
type Item struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// Order is a priced, stateful purchase. Orders are append-only history: after
// creation only Status and DeliveredAt ever change.
type Order struct {
	ID          string
	UserID      string
	Items       []Item
	Shipping    ShippingInfo
	Payment     PaymentInfo
	Price       pricing.Breakdown
	Status      Status
	CreatedAt   time.Time
	PaidAt      time.Time
	DeliveredAt *time.Time
}

// Sentinel errors shared across order operations.
var (
	ErrNotFound            = errors.New("order not found")
	ErrForbidden           = errors.New("forbidden")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")

	// ErrStockConflict signals that a concurrent order raced the same stock
	// rows. The service retries the creation exactly once.
	ErrStockConflict = errors.New("stock update conflict")

	// ErrStatusConflict signals that the order status changed between read
	// and update.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// InsufficientStockError indicates available stock cannot cover an item's
// requested quantity.
type InsufficientStockError struct {
	ProductID string
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s", e.ProductID)
}

// InvalidTransitionError indicates a status change outside the permitted
// Processing -> Shipped -> Delivered sequence.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition %s -> %s", e.From, e.To)
}

// InvalidShippingError indicates a missing or malformed shipping field.
type InvalidShippingError struct {
	Field string
}

func (e *InvalidShippingError) Error() string {
	return fmt.Sprintf("invalid shipping info: %s", e.Field)
}

// Repository defines persistence operations for orders.
//
// Create must decrement stock for every ordered item and insert the order as
// one atomic unit: when any item's stock is insufficient it returns
// *InsufficientStockError and leaves no partial decrement behind.
// UpdateStatus must apply the change only while the order is still in `from`,
// returning ErrStatusConflict otherwise.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, deliveredAt *time.Time) error
}
