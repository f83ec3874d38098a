package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront/internal/model"
)

// --- Auth ---

type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name" binding:"required"`
	LastName  string `json:"last_name" binding:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
}

// --- Product ---

type CreateProductRequest struct {
	Name          string          `json:"name" binding:"required"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price" binding:"required"`
	StockQuantity int             `json:"stock_quantity" binding:"min=0"`
	Images        []string        `json:"images"`
	Sizes         []string        `json:"sizes"`
	Category      string          `json:"category"`
}

type UpdateProductRequest struct {
	Name          *string          `json:"name"`
	Description   *string          `json:"description"`
	Price         *decimal.Decimal `json:"price"`
	StockQuantity *int             `json:"stock_quantity" binding:"omitempty,min=0"`
	Images        []string         `json:"images"`
	Sizes         []string         `json:"sizes"`
	Category      *string          `json:"category"`
}

type ListProductsRequest struct {
	Page     int    `form:"page,default=1" binding:"min=1"`
	Limit    int    `form:"limit,default=20" binding:"min=1,max=100"`
	Search   string `form:"search"`
	Category string `form:"category"`
	Sort     string `form:"sort,default=created_at" binding:"oneof=name price created_at stock_quantity"`
	Order    string `form:"order,default=desc" binding:"oneof=asc desc"`
}

type ProductResponse struct {
	ID            uuid.UUID       `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	InStock       bool            `json:"in_stock"`
	Images        []string        `json:"images"`
	Sizes         []string        `json:"sizes"`
	Category      string          `json:"category"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type ProductListResponse struct {
	Products []ProductResponse `json:"products"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	Limit    int               `json:"limit"`
}

type InventoryEventResponse struct {
	ID               uuid.UUID         `json:"id"`
	Delta            int               `json:"delta"`
	PreviousQuantity int               `json:"previous_quantity"`
	NewQuantity      int               `json:"new_quantity"`
	Reason           string            `json:"reason"`
	ReferenceType    string            `json:"reference_type"`
	ReferenceID      string            `json:"reference_id"`
	Context          map[string]string `json:"context,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

type InventoryLedgerResponse struct {
	ProductID     uuid.UUID                `json:"product_id"`
	StockQuantity int                      `json:"stock_quantity"`
	Replayed      int                      `json:"replayed_quantity"`
	Events        []InventoryEventResponse `json:"events"`
}

// --- Cart ---

type AddCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" binding:"required"`
	Size      string    `json:"size"`
	Quantity  int       `json:"quantity"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type CartResponse struct {
	ID        uuid.UUID          `json:"id"`
	UserID    *uuid.UUID         `json:"user_id,omitempty"`
	Items     []CartItemResponse `json:"items"`
	ItemCount int                `json:"item_count"`
	Subtotal  decimal.Decimal    `json:"subtotal"`
	Tax       decimal.Decimal    `json:"tax"`
	Shipping  decimal.Decimal    `json:"shipping"`
	Total     decimal.Decimal    `json:"total"`
	UpdatedAt time.Time          `json:"updated_at"`
}

type CartItemResponse struct {
	ID        uuid.UUID       `json:"id"`
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Image     string          `json:"image,omitempty"`
	Size      string          `json:"size,omitempty"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
	InStock   bool            `json:"in_stock"`
}

// --- Order ---

// CheckoutRequest finalizes a cart. BillingAddress defaults to the shipping
// address when omitted.
type CheckoutRequest struct {
	ShippingAddress model.Address       `json:"shipping_address"`
	BillingAddress  *model.Address      `json:"billing_address"`
	PaymentMethod   model.PaymentMethod `json:"payment_method"`
}

type OrderLineRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Size      string    `json:"size"`
	Quantity  int       `json:"quantity"`
}

type CreateOrderRequest struct {
	Items           []OrderLineRequest  `json:"items"`
	ShippingAddress model.Address       `json:"shipping_address"`
	BillingAddress  *model.Address      `json:"billing_address"`
	PaymentMethod   model.PaymentMethod `json:"payment_method"`
}

type UpdateOrderStatusRequest struct {
	Status model.OrderStatus `json:"status" binding:"required"`
}

type UpdateTrackingRequest struct {
	TrackingNumber string `json:"tracking_number" binding:"required"`
}

type OrderResponse struct {
	ID              uuid.UUID           `json:"id"`
	OrderNumber     string              `json:"order_number"`
	UserID          *uuid.UUID          `json:"user_id,omitempty"`
	Status          model.OrderStatus   `json:"status"`
	Items           []model.OrderItem   `json:"items"`
	Subtotal        decimal.Decimal     `json:"subtotal"`
	Tax             decimal.Decimal     `json:"tax"`
	Shipping        decimal.Decimal     `json:"shipping"`
	Total           decimal.Decimal     `json:"total"`
	ShippingAddress model.Address       `json:"shipping_address"`
	BillingAddress  model.Address       `json:"billing_address"`
	PaymentMethod   model.PaymentMethod `json:"payment_method"`
	TrackingNumber  *string             `json:"tracking_number,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
	Total  int             `json:"total"`
}
