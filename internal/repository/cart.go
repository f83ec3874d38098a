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

var ErrCartItemNotFound = errors.New("cart item not found")

type CartRepository interface {
	Create(ctx context.Context, cart *model.Cart) error
	// GetWithItems returns the cart and its items in insertion order, or nil
	// when the cart does not exist.
	GetWithItems(ctx context.Context, cartID uuid.UUID) (*model.Cart, error)
	GetLatestByUser(ctx context.Context, userID uuid.UUID) (*model.Cart, error)
	// AddItem merges into the line with the same product and size.
	AddItem(ctx context.Context, item *model.CartItem) error
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	DeleteItem(ctx context.Context, itemID uuid.UUID) error
	ClearCart(ctx context.Context, cartID uuid.UUID) error
}

type pgCartRepo struct{ pool *pgxpool.Pool }

func NewCartRepository(pool *pgxpool.Pool) CartRepository {
	return &pgCartRepo{pool: pool}
}

func (r *pgCartRepo) Create(ctx context.Context, cart *model.Cart) error {
	cart.ID = uuid.New()
	err := r.pool.QueryRow(ctx,
		`INSERT INTO carts (id, user_id, created_at, updated_at) VALUES ($1, $2, NOW(), NOW()) RETURNING created_at, updated_at`,
		cart.ID, cart.UserID,
	).Scan(&cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create cart: %w", err)
	}
	return nil
}

func (r *pgCartRepo) GetWithItems(ctx context.Context, cartID uuid.UUID) (*model.Cart, error) {
	cart := &model.Cart{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, created_at, updated_at FROM carts WHERE id = $1`, cartID,
	).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, cart_id, product_id, size, quantity, added_at FROM cart_items WHERE cart_id = $1 ORDER BY added_at, id`, cartID,
	)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item model.CartItem
		if err := rows.Scan(&item.ID, &item.CartID, &item.ProductID, &item.Size, &item.Quantity, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		cart.Items = append(cart.Items, item)
	}
	return cart, rows.Err()
}

func (r *pgCartRepo) GetLatestByUser(ctx context.Context, userID uuid.UUID) (*model.Cart, error) {
	var cartID uuid.UUID
	err := r.pool.QueryRow(ctx,
		`SELECT id FROM carts WHERE user_id = $1 ORDER BY updated_at DESC LIMIT 1`, userID,
	).Scan(&cartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user cart: %w", err)
	}
	return r.GetWithItems(ctx, cartID)
}

func (r *pgCartRepo) AddItem(ctx context.Context, item *model.CartItem) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO cart_items (id, cart_id, product_id, size, quantity, added_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())
			 ON CONFLICT (cart_id, product_id, size) DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
			 RETURNING id, quantity, added_at`,
			uuid.New(), item.CartID, item.ProductID, item.Size, item.Quantity,
		).Scan(&item.ID, &item.Quantity, &item.AddedAt)
		if err != nil {
			return fmt.Errorf("add cart item: %w", err)
		}
		return pgTouchCart(ctx, tx, item.CartID)
	})
}

func (r *pgCartRepo) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var cartID uuid.UUID
		err := tx.QueryRow(ctx,
			`UPDATE cart_items SET quantity = $2 WHERE id = $1 RETURNING cart_id`, itemID, quantity,
		).Scan(&cartID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrCartItemNotFound
			}
			return fmt.Errorf("update cart item: %w", err)
		}
		return pgTouchCart(ctx, tx, cartID)
	})
}

func (r *pgCartRepo) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM cart_items WHERE id = $1`, itemID)
	if err != nil {
		return fmt.Errorf("delete cart item: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrCartItemNotFound
	}
	return nil
}

func (r *pgCartRepo) ClearCart(ctx context.Context, cartID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func pgTouchCart(ctx context.Context, tx pgx.Tx, cartID uuid.UUID) error {
	if _, err := tx.Exec(ctx, `UPDATE carts SET updated_at = NOW() WHERE id = $1`, cartID); err != nil {
		return fmt.Errorf("touch cart: %w", err)
	}
	return nil
}
