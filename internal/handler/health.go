package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/storefront/internal/repository"
)

// HealthHandler reports readiness of the store and of whichever optional
// dependencies were configured. A nil redis client or amqp connection is
// reported as "disabled".
type HealthHandler struct {
	store       *repository.Store
	redisClient *redis.Client
	amqpConn    *amqp.Connection
}

func NewHealthHandler(store *repository.Store, redisClient *redis.Client, amqpConn *amqp.Connection) *HealthHandler {
	return &HealthHandler{store: store, redisClient: redisClient, amqpConn: amqpConn}
}

func (h *HealthHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *HealthHandler) Readyz(c *gin.Context) {
	ctx := c.Request.Context()

	if err := h.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", h.store.Backend: "unavailable"})
		return
	}

	redisState := "disabled"
	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "redis": "unavailable"})
			return
		}
		redisState = "connected"
	}

	amqpState := "disabled"
	if h.amqpConn != nil {
		if h.amqpConn.IsClosed() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "rabbitmq": "unavailable"})
			return
		}
		amqpState = "connected"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		h.store.Backend: "connected",
		"redis":         redisState,
		"rabbitmq":      amqpState,
	})
}
