package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/shopspring/decimal"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	DB       DBConfig
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	JWT      JWTConfig
	Pricing  PricingConfig
}

type ServerConfig struct {
	Port            int           `env:"SERVER_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// StoreConfig selects the persistence backend once at startup.
type StoreConfig struct {
	Backend     string `env:"STORE_BACKEND" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"storefront.db"`
	AutoMigrate bool   `env:"DB_AUTO_MIGRATE" envDefault:"true"`
}

type DBConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"postgres"`
	Password string `env:"DB_PASSWORD" envDefault:"postgres"`
	Name     string `env:"DB_NAME" envDefault:"storefront"`
	SSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns int32  `env:"DB_MAX_CONNS" envDefault:"10"`
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode,
	)
}

// RedisConfig and RabbitMQConfig are optional; an empty address disables
// the product cache and order events respectively.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:""`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type RabbitMQConfig struct {
	URL           string        `env:"RABBITMQ_URL" envDefault:""`
	Exchange      string        `env:"RABBITMQ_EXCHANGE" envDefault:"orders"`
	WorkerEnabled bool          `env:"ORDER_WORKER_ENABLED" envDefault:"true"`
	ProcessedTTL  time.Duration `env:"ORDER_WORKER_PROCESSED_TTL" envDefault:"24h"`
}

type JWTConfig struct {
	Secret     string        `env:"JWT_SECRET" envDefault:"super-secret-key"`
	Expiration time.Duration `env:"JWT_EXPIRATION" envDefault:"24h"`
}

// PricingConfig drives cart totals. A zero FreeShippingThreshold means
// shipping is always free.
type PricingConfig struct {
	TaxRate               decimal.Decimal `env:"PRICING_TAX_RATE" envDefault:"0.09"`
	FreeShippingThreshold decimal.Decimal `env:"PRICING_FREE_SHIPPING_THRESHOLD" envDefault:"0"`
	FlatShipping          decimal.Decimal `env:"PRICING_FLAT_SHIPPING" envDefault:"0"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	switch cfg.Store.Backend {
	case BackendSQLite, BackendPostgres:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.Store.Backend)
	}
	return cfg, nil
}
