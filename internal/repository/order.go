package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront/internal/model"
)

// OrderRepository reads orders and applies the two mutations an order allows
// after placement. Orders are inserted only by an OrderPlacementBackend.
type OrderRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*model.Order, error)
	// GetByIdempotencyKey returns the order placed under key within scope.
	GetByIdempotencyKey(ctx context.Context, scope, key string) (*model.Order, error)
	ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus) error
	UpdateTracking(ctx context.Context, id uuid.UUID, trackingNumber string) error
}

type pgOrderRepo struct{ pool *pgxpool.Pool }

func NewOrderRepository(pool *pgxpool.Pool) OrderRepository {
	return &pgOrderRepo{pool: pool}
}

const orderColumns = `id, order_number, user_id, subtotal, tax, shipping, total, status,
	shipping_address, billing_address, payment_method, tracking_number, idempotency_key, created_at, updated_at`

func scanPgOrder(row pgx.Row, o *model.Order) error {
	return row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Subtotal, &o.Tax, &o.Shipping, &o.Total, &o.Status,
		&o.ShippingAddress, &o.BillingAddress, &o.PaymentMethod, &o.TrackingNumber, &o.IdempotencyKey,
		&o.CreatedAt, &o.UpdatedAt)
}

func (r *pgOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *pgOrderRepo) GetByNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_number = $1`, orderNumber)
}

func (r *pgOrderRepo) GetByIdempotencyKey(ctx context.Context, scope, key string) (*model.Order, error) {
	return r.getOne(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE idempotency_scope = $1 AND idempotency_key = $2`, scope, key)
}

func (r *pgOrderRepo) getOne(ctx context.Context, query string, args ...any) (*model.Order, error) {
	order := &model.Order{}
	if err := scanPgOrder(r.pool.QueryRow(ctx, query, args...), order); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT product_id, name, price, image, size, quantity FROM order_items WHERE order_id = $1 ORDER BY line_no`,
		order.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Name, &item.Price, &item.Image, &item.Size, &item.Quantity); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	return order, rows.Err()
}

func (r *pgOrderRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := scanPgOrder(rows, &o); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *pgOrderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, status,
	)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return model.ErrOrderNotFound
	}
	return nil
}

func (r *pgOrderRepo) UpdateTracking(ctx context.Context, id uuid.UUID, trackingNumber string) error {
	ct, err := r.pool.Exec(ctx,
		`UPDATE orders SET tracking_number = $2, updated_at = NOW() WHERE id = $1`, id, trackingNumber,
	)
	if err != nil {
		return fmt.Errorf("update tracking number: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return model.ErrOrderNotFound
	}
	return nil
}
