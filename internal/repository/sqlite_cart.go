package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/flicky/storefront/internal/model"
)

type sqliteCartRepo struct{ db *sqlx.DB }

func NewSQLiteCartRepository(db *sqlx.DB) CartRepository {
	return &sqliteCartRepo{db: db}
}

func (r *sqliteCartRepo) Create(ctx context.Context, cart *model.Cart) error {
	cart.ID = uuid.New()
	cart.CreatedAt = sqliteNow()
	cart.UpdatedAt = cart.CreatedAt
	_, err := r.db.NamedExecContext(ctx,
		`INSERT INTO carts (id, user_id, created_at, updated_at) VALUES (:id, :user_id, :created_at, :updated_at)`,
		cart)
	if err != nil {
		return fmt.Errorf("create cart: %w", err)
	}
	return nil
}

func (r *sqliteCartRepo) GetWithItems(ctx context.Context, cartID uuid.UUID) (*model.Cart, error) {
	cart := &model.Cart{}
	err := r.db.GetContext(ctx, cart, `SELECT id, user_id, created_at, updated_at FROM carts WHERE id = ?`, cartID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	err = r.db.SelectContext(ctx, &cart.Items,
		`SELECT id, cart_id, product_id, size, quantity, added_at FROM cart_items WHERE cart_id = ? ORDER BY added_at, rowid`,
		cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	return cart, nil
}

func (r *sqliteCartRepo) GetLatestByUser(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	var cartID uuid.UUID
	err := r.db.GetContext(ctx, &cartID,
		`SELECT id FROM carts WHERE user_id = ? ORDER BY updated_at DESC LIMIT 1`, userID)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user cart: %w", err)
	}
	return r.GetWithItems(ctx, cartID)
}

func (r *sqliteCartRepo) AddItem(ctx context.Context, item *model.CartItem) error {
	now := sqliteNow()
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		row := tx.QueryRowxContext(ctx,
			`INSERT INTO cart_items (id, cart_id, product_id, size, quantity, added_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (cart_id, product_id, size) DO UPDATE SET quantity = cart_items.quantity + excluded.quantity
			 RETURNING id, quantity`,
			uuid.New(), item.CartID, item.ProductID, item.Size, item.Quantity, now)
		if err := row.Scan(&item.ID, &item.Quantity); err != nil {
			return fmt.Errorf("add cart item: %w", err)
		}
		if err := tx.GetContext(ctx, &item.AddedAt, `SELECT added_at FROM cart_items WHERE id = ?`, item.ID); err != nil {
			return fmt.Errorf("read cart item: %w", err)
		}
		return sqliteTouchCart(ctx, tx, item.CartID)
	})
}

func (r *sqliteCartRepo) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var cartID uuid.UUID
		err := tx.GetContext(ctx, &cartID,
			`UPDATE cart_items SET quantity = ? WHERE id = ? RETURNING cart_id`, quantity, itemID)
		if err != nil {
			if isNoRows(err) {
				return ErrCartItemNotFound
			}
			return fmt.Errorf("update cart item: %w", err)
		}
		return sqliteTouchCart(ctx, tx, cartID)
	})
}

func (r *sqliteCartRepo) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

func (r *sqliteCartRepo) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func sqliteTouchCart(ctx context.Context, tx *sqlx.Tx, cartID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `UPDATE carts SET updated_at = ? WHERE id = ?`, sqliteNow(), cartID); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}
