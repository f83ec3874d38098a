package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/flicky/storefront/internal/model"
)

// sqlitePlacement runs the checkout unit of work in one local transaction.
// The store admits a single writer, so the transaction is the only
// synchronisation needed; a failed check returns and the deferred rollback
// undoes any decrement already applied.
type sqlitePlacement struct{ db *sqlx.DB }

func NewSQLitePlacementBackend(db *sqlx.DB) OrderPlacementBackend {
	return &sqlitePlacement{db: db}
}

func (p *sqlitePlacement) PlaceOrder(ctx context.Context, draft model.OrderDraft) (*model.Order, bool, error) {
	var (
		placed   *model.Order
		replayed bool
	)
	scope := draftScope(draft)
	err := inTx(ctx, p.db, func(tx *sqlx.Tx) error {
		if draft.IdempotencyKey != "" {
			existing, err := sqliteOrderByKey(ctx, tx, scope, draft.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				placed, replayed, err = replayOf(existing, draft)
				return err
			}
		}

		order, err := p.place(ctx, tx, draft, scope)
		if err != nil {
			return err
		}
		placed = order
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return placed, replayed, nil
}

func (p *sqlitePlacement) place(ctx context.Context, tx *sqlx.Tx, draft model.OrderDraft, scope string) (*model.Order, error) {
	now := sqliteNow()
	order := &model.Order{
		ID:              uuid.New(),
		OrderNumber:     draft.OrderNumber,
		UserID:          draft.UserID,
		Subtotal:        draft.Subtotal,
		Tax:             draft.Tax,
		Shipping:        draft.Shipping,
		Total:           draft.Total,
		Status:          model.OrderStatusPending,
		ShippingAddress: draft.ShippingAddress,
		BillingAddress:  draft.BillingAddress,
		PaymentMethod:   draft.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	var keyScope *string
	if draft.IdempotencyKey != "" {
		key := draft.IdempotencyKey
		order.IdempotencyKey = &key
		keyScope = &scope
	}

	products := make(map[uuid.UUID]*model.Product)
	for _, req := range model.AggregateLines(draft.Items) {
		product, err := sqliteGetProduct(ctx, tx, req.ProductID)
		if err != nil {
			return nil, err
		}
		if product == nil {
			return nil, &model.ProductNotFoundError{ProductID: req.ProductID}
		}
		if product.StockQuantity < req.Quantity {
			return nil, &model.InsufficientStockError{
				ProductID: req.ProductID,
				Available: product.StockQuantity,
				Requested: req.Quantity,
			}
		}

		newQty := product.StockQuantity - req.Quantity
		_, err = tx.ExecContext(ctx,
			`UPDATE products SET stock_quantity = ?, in_stock = ?, updated_at = ? WHERE id = ?`,
			newQty, newQty > 0, now, req.ProductID)
		if err != nil {
			return nil, fmt.Errorf("decrement stock: %w", err)
		}

		event := model.InventoryEvent{
			ID:               uuid.New(),
			ProductID:        req.ProductID,
			Delta:            -req.Quantity,
			PreviousQuantity: product.StockQuantity,
			NewQuantity:      newQty,
			Reason:           model.ReasonOrderCreated,
			ReferenceType:    model.ReferenceOrder,
			ReferenceID:      order.ID.String(),
			Context:          model.Attributes{"order_number": order.OrderNumber},
		}
		if err := sqliteInsertEvent(ctx, tx, event, now); err != nil {
			return nil, err
		}
		products[req.ProductID] = product
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO orders (`+orderColumns+`, idempotency_scope)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID, order.OrderNumber, order.UserID, order.Subtotal, order.Tax, order.Shipping, order.Total,
		order.Status, order.ShippingAddress, order.BillingAddress, order.PaymentMethod,
		order.TrackingNumber, order.IdempotencyKey, order.CreatedAt, order.UpdatedAt, keyScope)
	if err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	for i, line := range draft.Items {
		product := products[line.ProductID]
		item := model.OrderItem{
			ProductID: line.ProductID,
			Name:      product.Name,
			Price:     product.Price,
			Size:      line.Size,
			Quantity:  line.Quantity,
		}
		if len(product.Images) > 0 {
			item.Image = product.Images[0]
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, line_no, product_id, name, price, image, size, quantity)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			order.ID, i+1, item.ProductID, item.Name, item.Price, item.Image, item.Size, item.Quantity)
		if err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	return order, nil
}
