package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/merchkit/storefront/internal/domain/order"
)

const (
	decrementStockSQL = `UPDATE products SET stock = stock - $2
		WHERE id = $1 AND stock >= $2`

	insertOrderSQL = `INSERT INTO orders (
			id, user_id, items, shipping, payment_status, payment_txn_id,
			items_price, shipping_price, tax_price, total_price,
			status, created_at, paid_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	selectOrderSQL = `SELECT id, user_id, items, shipping, payment_status, payment_txn_id,
			items_price, shipping_price, tax_price, total_price,
			status, created_at, paid_at, delivered_at
		FROM orders`

	getOrderByIDSQL     = selectOrderSQL + ` WHERE id = $1`
	listOrdersSQL       = selectOrderSQL + ` ORDER BY created_at DESC, id`
	listOrdersByUserSQL = selectOrderSQL + ` WHERE user_id = $1 ORDER BY created_at DESC, id`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, delivered_at = $4
		WHERE id = $1 AND status = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create decrements stock for every ordered item and inserts the order in a
// single transaction. The conditional UPDATE guards against overselling: a
// row only changes while enough stock remains, so concurrent orders for the
// same product cannot both succeed past the available quantity.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	shippingJSON, err := json.Marshal(o.Shipping)
	if err != nil {
		return fmt.Errorf("marshaling shipping info: %w", err)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("beginning order transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	for _, item := range o.Items {
		ct, err := tx.Exec(ctx, decrementStockSQL, item.ProductID, item.Quantity)
		if err != nil {
			if isSerializationFailure(err) {
				return order.ErrStockConflict
			}
			return fmt.Errorf("decrementing stock for %q: %w", item.ProductID, err)
		}
		if ct.RowsAffected() == 0 {
			return &order.InsufficientStockError{ProductID: item.ProductID}
		}
	}

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, itemsJSON, shippingJSON,
		o.Payment.Status, o.Payment.TransactionID,
		o.Price.ItemsPrice, o.Price.ShippingPrice, o.Price.TaxPrice, o.Price.TotalPrice,
		string(o.Status), o.CreatedAt, o.PaidAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return order.ErrStockConflict
		}
		return fmt.Errorf("committing order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns a single order by its identifier.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderByIDSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// List returns all orders, newest first.
func (r *OrderRepository) List(ctx context.Context) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// UpdateStatus applies a status change conditioned on the order still being
// in the `from` state. Zero rows affected means either the id is unknown
// (order.ErrNotFound) or another request advanced the order first
// (order.ErrStatusConflict).
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, deliveredAt *time.Time) error {
	ct, err := r.pool.Exec(ctx, updateOrderStatusSQL, id, string(from), string(to), deliveredAt)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if ct.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrStatusConflict
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o            order.Order
		itemsJSON    []byte
		shippingJSON []byte
		status       string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &itemsJSON, &shippingJSON,
		&o.Payment.Status, &o.Payment.TransactionID,
		&o.Price.ItemsPrice, &o.Price.ShippingPrice, &o.Price.TaxPrice, &o.Price.TotalPrice,
		&status, &o.CreatedAt, &o.PaidAt, &o.DeliveredAt,
	)
	if err != nil {
		return order.Order{}, err
	}

	o.Status = order.Status(status)
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling order items: %w", err)
	}
	if err := json.Unmarshal(shippingJSON, &o.Shipping); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling shipping info: %w", err)
	}
	return o, nil
}
