package repository

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/flicky/storefront/internal/config"
)

//go:embed migrations
var migrations embed.FS

// Store bundles the repositories of one backend. Callers never branch on
// which backend is active; only the constructors differ.
type Store struct {
	Backend   string
	Products  ProductRepository
	Carts     CartRepository
	Orders    OrderRepository
	Users     UserRepository
	Inventory InventoryRepository
	Placement OrderPlacementBackend

	ping  func(ctx context.Context) error
	close func()
}

func NewPostgresStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Backend:   config.BackendPostgres,
		Products:  NewProductRepository(pool),
		Carts:     NewCartRepository(pool),
		Orders:    NewOrderRepository(pool),
		Users:     NewUserRepository(pool),
		Inventory: NewInventoryRepository(pool),
		Placement: NewPlacementBackend(pool),
		ping:      pool.Ping,
		close:     pool.Close,
	}
}

func NewSQLiteStore(db *sqlx.DB) *Store {
	return &Store{
		Backend:   config.BackendSQLite,
		Products:  NewSQLiteProductRepository(db),
		Carts:     NewSQLiteCartRepository(db),
		Orders:    NewSQLiteOrderRepository(db),
		Users:     NewSQLiteUserRepository(db),
		Inventory: NewSQLiteInventoryRepository(db),
		Placement: NewSQLitePlacementBackend(db),
		ping:      db.PingContext,
		close:     func() { _ = db.Close() },
	}
}

// Open connects the backend selected by cfg.Store.Backend.
func Open(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Store, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
		if err != nil {
			return nil, fmt.Errorf("parse db config: %w", err)
		}
		poolCfg.MaxConns = cfg.DB.MaxConns

		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if cfg.Store.AutoMigrate {
			if err := MigratePostgres(ctx, pool); err != nil {
				pool.Close()
				return nil, err
			}
		}
		log.Info("connected to PostgreSQL")
		return NewPostgresStore(pool), nil

	case config.BackendSQLite:
		db, err := OpenSQLite(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		if cfg.Store.AutoMigrate {
			if err := MigrateSQLite(ctx, db); err != nil {
				_ = db.Close()
				return nil, err
			}
		}
		log.Info("opened SQLite store", "path", cfg.Store.SQLitePath)
		return NewSQLiteStore(db), nil
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

func (s *Store) Ping(ctx context.Context) error { return s.ping(ctx) }

func (s *Store) Close() { s.close() }

func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	return applyMigrations("migrations/postgres", func(sql string) error {
		_, err := pool.Exec(ctx, sql)
		return err
	})
}

func MigrateSQLite(ctx context.Context, db *sqlx.DB) error {
	return applyMigrations("migrations/sqlite", func(sql string) error {
		_, err := db.ExecContext(ctx, sql)
		return err
	})
}

func applyMigrations(dir string, exec func(sql string) error) error {
	entries, err := fs.ReadDir(migrations, dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := fs.ReadFile(migrations, dir+"/"+name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := exec(string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}
