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

type ProductFilter struct {
	Limit    int
	Offset   int
	Search   string
	Category string
	Sort     string
	Order    string
}

// StockChange sets stock to To, provided it still holds From.
type StockChange struct {
	From int
	To   int
}

type ProductRepository interface {
	Create(ctx context.Context, product *model.Product) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error)
	List(ctx context.Context, filter ProductFilter) ([]model.Product, int, error)
	// Update saves catalog fields. The stored stock is kept unless stock is
	// non-nil, and product.StockQuantity is refreshed from the locked row
	// either way. A stock change fails with model.ErrStockChanged when the
	// row no longer holds stock.From, and is otherwise logged to the
	// inventory ledger as an admin adjustment in the same transaction.
	Update(ctx context.Context, product *model.Product, stock *StockChange) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type pgProductRepo struct{ pool *pgxpool.Pool }

func NewProductRepository(pool *pgxpool.Pool) ProductRepository {
	return &pgProductRepo{pool: pool}
}

const pgProductColumns = `id, name, description, price, stock_quantity, in_stock, images, sizes, category, created_at, updated_at`

func scanPgProduct(row pgx.Row, p *model.Product) error {
	return row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.StockQuantity, &p.InStock,
		&p.Images, &p.Sizes, &p.Category, &p.CreatedAt, &p.UpdatedAt)
}

func (r *pgProductRepo) Create(ctx context.Context, product *model.Product) error {
	product.ID = uuid.New()
	product.InStock = product.StockQuantity > 0

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO products (id, name, description, price, stock_quantity, in_stock, images, sizes, category, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW()) RETURNING created_at, updated_at`,
			product.ID, product.Name, product.Description, product.Price, product.StockQuantity,
			product.InStock, product.Images, product.Sizes, product.Category,
		).Scan(&product.CreatedAt, &product.UpdatedAt)
		if err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		if product.StockQuantity == 0 {
			return nil
		}
		return pgInsertEvent(ctx, tx, adjustmentEvent(product.ID, 0, product.StockQuantity))
	})
}

func (r *pgProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	p := &model.Product{}
	err := scanPgProduct(r.pool.QueryRow(ctx,
		`SELECT `+pgProductColumns+` FROM products WHERE id = $1`, id), p)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *pgProductRepo) List(ctx context.Context, f ProductFilter) ([]model.Product, int, error) {
	sort, order := normalizeSort(f.Sort, f.Order)

	where := `WHERE ($1 = '' OR name ILIKE '%' || $1 || '%' OR description ILIKE '%' || $1 || '%')
		AND ($2 = '' OR category = $2)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products `+where, f.Search, f.Category).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM products %s ORDER BY %s %s LIMIT $3 OFFSET $4`,
		pgProductColumns, where, sort, order)
	rows, err := r.pool.Query(ctx, query, f.Search, f.Category, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []model.Product
	for rows.Next() {
		var p model.Product
		if err := scanPgProduct(rows, &p); err != nil {
			return nil, 0, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, total, rows.Err()
}

func (r *pgProductRepo) Update(ctx context.Context, product *model.Product, stock *StockChange) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var previous int
		err := tx.QueryRow(ctx,
			`SELECT stock_quantity FROM products WHERE id = $1 FOR UPDATE`, product.ID,
		).Scan(&previous)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return &model.ProductNotFoundError{ProductID: product.ID}
			}
			return fmt.Errorf("lock product: %w", err)
		}

		next, err := stock.apply(previous)
		if err != nil {
			return err
		}
		product.StockQuantity = next
		product.InStock = next > 0
		err = tx.QueryRow(ctx,
			`UPDATE products SET name=$2, description=$3, price=$4, stock_quantity=$5, in_stock=$6,
			        images=$7, sizes=$8, category=$9, updated_at=NOW()
			 WHERE id=$1 RETURNING created_at, updated_at`,
			product.ID, product.Name, product.Description, product.Price, product.StockQuantity,
			product.InStock, product.Images, product.Sizes, product.Category,
		).Scan(&product.CreatedAt, &product.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}

		if previous == next {
			return nil
		}
		return pgInsertEvent(ctx, tx, adjustmentEvent(product.ID, previous, next))
	})
}

// apply returns the stock to store given the locked current value.
func (c *StockChange) apply(current int) (int, error) {
	if c == nil {
		return current, nil
	}
	if c.From != current {
		return 0, fmt.Errorf("%w: read %d, now %d", model.ErrStockChanged, c.From, current)
	}
	return c.To, nil
}

func (r *pgProductRepo) Delete(ctx context.Context, id uuid.UUID) error {
	ct, err := r.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return &model.ProductNotFoundError{ProductID: id}
	}
	return nil
}

func normalizeSort(sort, order string) (string, string) {
	allowedSorts := map[string]bool{"name": true, "price": true, "created_at": true, "stock_quantity": true}
	if !allowedSorts[sort] {
		sort = "created_at"
	}
	if order != "asc" && order != "desc" {
		order = "desc"
	}
	return sort, order
}

func adjustmentEvent(productID uuid.UUID, previous, next int) model.InventoryEvent {
	return model.InventoryEvent{
		ID:               uuid.New(),
		ProductID:        productID,
		Delta:            next - previous,
		PreviousQuantity: previous,
		NewQuantity:      next,
		Reason:           model.ReasonAdminAdjustment,
		ReferenceType:    model.ReferenceProduct,
		ReferenceID:      productID.String(),
		Context:          model.Attributes{},
	}
}
