package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/flicky/storefront/internal/model"
)

type sqliteInventoryRepo struct{ db *sqlx.DB }

func NewSQLiteInventoryRepository(db *sqlx.DB) InventoryRepository {
	return &sqliteInventoryRepo{db: db}
}

func (r *sqliteInventoryRepo) ListByProduct(ctx context.Context, productID uuid.UUID) ([]model.InventoryEvent, error) {
	var events []model.InventoryEvent
	err := r.db.SelectContext(ctx, &events,
		`SELECT `+inventoryColumns+` FROM inventory_events WHERE product_id = ? ORDER BY created_at, seq`,
		productID)
	if err != nil {
		return nil, fmt.Errorf("list inventory events: %w", err)
	}
	return events, nil
}

func (r *sqliteInventoryRepo) ListByReference(ctx context.Context, referenceType, referenceID string) ([]model.InventoryEvent, error) {
	var events []model.InventoryEvent
	err := r.db.SelectContext(ctx, &events,
		`SELECT `+inventoryColumns+` FROM inventory_events WHERE reference_type = ? AND reference_id = ? ORDER BY created_at, seq`,
		referenceType, referenceID)
	if err != nil {
		return nil, fmt.Errorf("list inventory events: %w", err)
	}
	return events, nil
}

func sqliteInsertEvent(ctx context.Context, tx *sqlx.Tx, e model.InventoryEvent, at time.Time) error {
	e.CreatedAt = at
	_, err := tx.NamedExecContext(ctx,
		`INSERT INTO inventory_events (`+inventoryColumns+`)
		 VALUES (:id, :product_id, :delta, :previous_quantity, :new_quantity, :reason, :reference_type, :reference_id, :context, :created_at)`,
		e)
	if err != nil {
		return fmt.Errorf("insert inventory event: %w", err)
	}
	return nil
}
