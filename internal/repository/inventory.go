package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flicky/storefront/internal/model"
)

// InventoryRepository is the read side of the append-only stock ledger.
// Rows are only written inside the transactions that change stock.
type InventoryRepository interface {
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]model.InventoryEvent, error)
	ListByReference(ctx context.Context, referenceType, referenceID string) ([]model.InventoryEvent, error)
}

type pgInventoryRepo struct{ pool *pgxpool.Pool }

func NewInventoryRepository(pool *pgxpool.Pool) InventoryRepository {
	return &pgInventoryRepo{pool: pool}
}

const inventoryColumns = `id, product_id, delta, previous_quantity, new_quantity, reason, reference_type, reference_id, context, created_at`

func (r *pgInventoryRepo) ListByProduct(ctx context.Context, productID uuid.UUID) ([]model.InventoryEvent, error) {
	return r.query(ctx,
		`SELECT `+inventoryColumns+` FROM inventory_events WHERE product_id = $1 ORDER BY created_at, seq`,
		productID)
}

func (r *pgInventoryRepo) ListByReference(ctx context.Context, referenceType, referenceID string) ([]model.InventoryEvent, error) {
	return r.query(ctx,
		`SELECT `+inventoryColumns+` FROM inventory_events WHERE reference_type = $1 AND reference_id = $2 ORDER BY created_at, seq`,
		referenceType, referenceID)
}

func (r *pgInventoryRepo) query(ctx context.Context, sql string, args ...any) ([]model.InventoryEvent, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list inventory events: %w", err)
	}
	defer rows.Close()

	var events []model.InventoryEvent
	for rows.Next() {
		var e model.InventoryEvent
		if err := rows.Scan(&e.ID, &e.ProductID, &e.Delta, &e.PreviousQuantity, &e.NewQuantity,
			&e.Reason, &e.ReferenceType, &e.ReferenceID, &e.Context, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func pgInsertEvent(ctx context.Context, tx pgx.Tx, e model.InventoryEvent) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO inventory_events (`+inventoryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`,
		e.ID, e.ProductID, e.Delta, e.PreviousQuantity, e.NewQuantity,
		e.Reason, e.ReferenceType, e.ReferenceID, e.Context,
	)
	if err != nil {
		return fmt.Errorf("insert inventory event: %w", err)
	}
	return nil
}
