package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/flicky/storefront/internal/model"
)

type sqliteProductRepo struct{ db *sqlx.DB }

func NewSQLiteProductRepository(db *sqlx.DB) ProductRepository {
	return &sqliteProductRepo{db: db}
}

const sqliteProductColumns = `id, name, description, price, stock_quantity, in_stock, images, sizes, category, created_at, updated_at`

func (r *sqliteProductRepo) Create(ctx context.Context, product *model.Product) error {
	product.ID = uuid.New()
	product.InStock = product.StockQuantity > 0
	product.CreatedAt = sqliteNow()
	product.UpdatedAt = product.CreatedAt

	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		_, err := tx.NamedExecContext(ctx,
			`INSERT INTO products (`+sqliteProductColumns+`)
			 VALUES (:id, :name, :description, :price, :stock_quantity, :in_stock, :images, :sizes, :category, :created_at, :updated_at)`,
			product)
		if err != nil {
			return fmt.Errorf("create product: %w", err)
		}
		if product.StockQuantity == 0 {
			return nil
		}
		return sqliteInsertEvent(ctx, tx, adjustmentEvent(product.ID, 0, product.StockQuantity), product.CreatedAt)
	})
}

func (r *sqliteProductRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Product, error) {
	return sqliteGetProduct(ctx, r.db, id)
}

func sqliteGetProduct(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*model.Product, error) {
	p := &model.Product{}
	err := sqlx.GetContext(ctx, q, p, `SELECT `+sqliteProductColumns+` FROM products WHERE id = ?`, id)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}

func (r *sqliteProductRepo) List(ctx context.Context, f ProductFilter) ([]model.Product, int, error) {
	sort, order := normalizeSort(f.Sort, f.Order)
	if sort == "price" {
		sort = "CAST(price AS REAL)"
	}

	where := `WHERE (?1 = '' OR name LIKE '%' || ?1 || '%' OR description LIKE '%' || ?1 || '%')
		AND (?2 = '' OR category = ?2)`

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM products `+where, f.Search, f.Category); err != nil {
		return nil, 0, fmt.Errorf("count products: %w", err)
	}

	var products []model.Product
	query := fmt.Sprintf(`SELECT %s FROM products %s ORDER BY %s %s LIMIT ?3 OFFSET ?4`,
		sqliteProductColumns, where, sort, order)
	if err := r.db.SelectContext(ctx, &products, query, f.Search, f.Category, f.Limit, f.Offset); err != nil {
		return nil, 0, fmt.Errorf("list products: %w", err)
	}
	return products, total, nil
}

func (r *sqliteProductRepo) Update(ctx context.Context, product *model.Product, stock *StockChange) error {
	return inTx(ctx, r.db, func(tx *sqlx.Tx) error {
		current, err := sqliteGetProduct(ctx, tx, product.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return &model.ProductNotFoundError{ProductID: product.ID}
		}

		next, err := stock.apply(current.StockQuantity)
		if err != nil {
			return err
		}
		product.StockQuantity = next
		product.InStock = next > 0
		product.CreatedAt = current.CreatedAt
		product.UpdatedAt = sqliteNow()
		_, err = tx.NamedExecContext(ctx,
			`UPDATE products SET name=:name, description=:description, price=:price,
			        stock_quantity=:stock_quantity, in_stock=:in_stock, images=:images,
			        sizes=:sizes, category=:category, updated_at=:updated_at
			 WHERE id=:id`,
			product)
		if err != nil {
			return fmt.Errorf("update product: %w", err)
		}

		if current.StockQuantity == next {
			return nil
		}
		return sqliteInsertEvent(ctx, tx,
			adjustmentEvent(product.ID, current.StockQuantity, next), product.UpdatedAt)
	})
}

func (r *sqliteProductRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &model.ProductNotFoundError{ProductID: id}
	}
	return nil
}
