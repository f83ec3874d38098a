package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront/internal/middleware"
)

type Handlers struct {
	Auth    *AuthHandler
	Product *ProductHandler
	Cart    *CartHandler
	Order   *OrderHandler
	Health  *HealthHandler
}

// NewRouter mounts every route on router. jwtSecret verifies bearer tokens.
func NewRouter(router *gin.Engine, h Handlers, jwtSecret string) *gin.Engine {
	router.GET("/healthz", h.Health.Healthz)
	router.GET("/readyz", h.Health.Readyz)

	authed := middleware.AuthMiddleware(jwtSecret)
	optional := middleware.OptionalAuth(jwtSecret)
	admin := middleware.AdminOnly()

	v1 := router.Group("/api/v1")
	{
		auth := v1.Group("/auth")
		auth.POST("/register", h.Auth.Register)
		auth.POST("/login", h.Auth.Login)

		products := v1.Group("/products")
		products.GET("", h.Product.List)
		products.GET("/:id", h.Product.GetByID)

		adminProducts := products.Group("", authed, admin)
		adminProducts.POST("", h.Product.Create)
		adminProducts.PUT("/:id", h.Product.Update)
		adminProducts.DELETE("/:id", h.Product.Delete)
		adminProducts.GET("/:id/inventory", h.Product.Inventory)

		carts := v1.Group("/carts", optional)
		carts.POST("", h.Cart.Create)
		carts.GET("/:id", h.Cart.Get)
		carts.POST("/:id/items", h.Cart.AddItem)
		carts.PUT("/:id/items/:itemId", h.Cart.UpdateItem)
		carts.DELETE("/:id/items/:itemId", h.Cart.DeleteItem)
		carts.DELETE("/:id/items", h.Cart.Clear)
		carts.POST("/:id/checkout", h.Order.Checkout)

		orders := v1.Group("/orders")
		orders.POST("", optional, h.Order.CreateOrder)
		orders.GET("", authed, h.Order.ListOrders)
		orders.GET("/:id", authed, h.Order.GetOrder)

		adminOrders := orders.Group("", authed, admin)
		adminOrders.PATCH("/:id/status", h.Order.UpdateStatus)
		adminOrders.PATCH("/:id/tracking", h.Order.UpdateTracking)
	}

	return router
}
