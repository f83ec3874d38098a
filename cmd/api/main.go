package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/flicky/storefront/internal/config"
	"github.com/flicky/storefront/internal/handler"
	"github.com/flicky/storefront/internal/repository"
	"github.com/flicky/storefront/internal/service"
	"github.com/flicky/storefront/internal/worker"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	store, err := repository.Open(ctx, cfg, log)
	if err != nil {
		log.Error("open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Redis
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("connect to Redis", "error", err)
			os.Exit(1)
		}
		log.Info("connected to Redis")
	}

	// RabbitMQ
	var (
		amqpConn  *amqp.Connection
		publisher service.OrderPublisher
		consumeCh *amqp.Channel
	)
	if cfg.RabbitMQ.URL != "" {
		amqpConn, err = amqp.Dial(cfg.RabbitMQ.URL)
		if err != nil {
			log.Error("connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer amqpConn.Close()

		publishCh, err := amqpConn.Channel()
		if err != nil {
			log.Error("open RabbitMQ channel", "error", err)
			os.Exit(1)
		}
		defer publishCh.Close()

		if err := worker.SetupRabbitMQ(publishCh, cfg.RabbitMQ.Exchange); err != nil {
			log.Error("setup RabbitMQ", "error", err)
			os.Exit(1)
		}
		publisher = worker.NewPublisher(publishCh, cfg.RabbitMQ.Exchange)

		if cfg.RabbitMQ.WorkerEnabled {
			consumeCh, err = amqpConn.Channel()
			if err != nil {
				log.Error("open RabbitMQ channel", "error", err)
				os.Exit(1)
			}
			defer consumeCh.Close()
		}
		log.Info("connected to RabbitMQ")
	}

	// Services
	pricing := service.NewPricingPolicy(cfg.Pricing)
	cache := service.NewProductCache(redisClient, log)

	authSvc := service.NewAuthService(store.Users, cfg.JWT.Secret, cfg.JWT.Expiration)
	productSvc := service.NewProductService(store.Products, store.Inventory, cache)
	cartSvc := service.NewCartService(store.Carts, store.Products, pricing)
	orderSvc := service.NewOrderService(store, cartSvc, pricing, cache, publisher, log)

	// Worker
	var orderWorker *worker.OrderWorker
	if consumeCh != nil {
		var processed worker.ProcessedSet
		if redisClient != nil {
			processed = worker.NewRedisProcessedSet(redisClient, cfg.RabbitMQ.ProcessedTTL)
		}
		orderWorker = worker.NewOrderWorker(consumeCh, orderSvc, processed, log)
		if err := orderWorker.Start(ctx); err != nil {
			log.Error("start order worker", "error", err)
			os.Exit(1)
		}
	}

	router := handler.NewRouter(gin.Default(), handler.Handlers{
		Auth:    handler.NewAuthHandler(authSvc),
		Product: handler.NewProductHandler(productSvc),
		Cart:    handler.NewCartHandler(cartSvc),
		Order:   handler.NewOrderHandler(orderSvc),
		Health:  handler.NewHealthHandler(store, redisClient, amqpConn),
	}, cfg.JWT.Secret)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("starting HTTP server", "port", cfg.Server.Port, "backend", store.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	if orderWorker != nil {
		orderWorker.Stop()
		time.Sleep(500 * time.Millisecond)
	}
	cancel()
	log.Info("server stopped")
}
