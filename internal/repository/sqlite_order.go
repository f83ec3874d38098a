package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/flicky/storefront/internal/model"
)

type sqliteOrderRepo struct{ db *sqlx.DB }

func NewSQLiteOrderRepository(db *sqlx.DB) OrderRepository {
	return &sqliteOrderRepo{db: db}
}

func (r *sqliteOrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	return sqliteGetOrder(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

func (r *sqliteOrderRepo) GetByNumber(ctx context.Context, orderNumber string) (*model.Order, error) {
	return sqliteGetOrder(ctx, r.db, `SELECT `+orderColumns+` FROM orders WHERE order_number = ?`, orderNumber)
}

func (r *sqliteOrderRepo) GetByIdempotencyKey(ctx context.Context, scope, key string) (*model.Order, error) {
	return sqliteOrderByKey(ctx, r.db, scope, key)
}

func sqliteOrderByKey(ctx context.Context, q sqlx.QueryerContext, scope, key string) (*model.Order, error) {
	return sqliteGetOrder(ctx, q,
		`SELECT `+orderColumns+` FROM orders WHERE idempotency_scope = ? AND idempotency_key = ?`, scope, key)
}

func scanSQLiteOrder(row interface{ Scan(...any) error }, o *model.Order) error {
	return row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Subtotal, &o.Tax, &o.Shipping, &o.Total, &o.Status,
		&o.ShippingAddress, &o.BillingAddress, &o.PaymentMethod, &o.TrackingNumber, &o.IdempotencyKey,
		&o.CreatedAt, &o.UpdatedAt)
}

func sqliteGetOrder(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) (*model.Order, error) {
	order := &model.Order{}
	if err := scanSQLiteOrder(q.QueryRowxContext(ctx, query, args...), order); err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := q.QueryxContext(ctx,
		`SELECT product_id, name, price, image, size, quantity FROM order_items WHERE order_id = ? ORDER BY line_no`,
		order.ID)
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

func (r *sqliteOrderRepo) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	rows, err := r.db.QueryxContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		var o model.Order
		if err := scanSQLiteOrder(rows, &o); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *sqliteOrderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OrderStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`, status, sqliteNow(), id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrOrderNotFound
	}
	return nil
}

func (r *sqliteOrderRepo) UpdateTracking(ctx context.Context, id uuid.UUID, trackingNumber string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET tracking_number = ?, updated_at = ? WHERE id = ?`, trackingNumber, sqliteNow(), id)
	if err != nil {
		return fmt.Errorf("update tracking number: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrOrderNotFound
	}
	return nil
}
