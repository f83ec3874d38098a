package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/flicky/storefront/internal/dto"
	"github.com/flicky/storefront/internal/middleware"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/service"
)

type CartHandler struct {
	svc *service.CartService
}

func NewCartHandler(svc *service.CartService) *CartHandler {
	return &CartHandler{svc: svc}
}

func (h *CartHandler) Create(c *gin.Context) {
	cart, err := h.svc.Create(c.Request.Context(), middleware.GetOptionalUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCartResponse(cart))
}

func (h *CartHandler) Get(c *gin.Context) {
	cartID, ok := h.authorizedCart(c)
	if !ok {
		return
	}
	cart, err := h.svc.Get(c.Request.Context(), cartID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) AddItem(c *gin.Context) {
	cartID, ok := h.authorizedCart(c)
	if !ok {
		return
	}
	var req dto.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cart, err := h.svc.AddItem(c.Request.Context(), cartID, req.ProductID, req.Size, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toCartResponse(cart))
}

func (h *CartHandler) UpdateItem(c *gin.Context) {
	cartID, ok := h.authorizedCart(c)
	if !ok {
		return
	}
	itemID, ok := parseID(c, "itemId", "invalid item ID")
	if !ok {
		return
	}
	var req dto.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cart, err := h.svc.UpdateQuantity(c.Request.Context(), cartID, itemID, req.Quantity)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) DeleteItem(c *gin.Context) {
	cartID, ok := h.authorizedCart(c)
	if !ok {
		return
	}
	itemID, ok := parseID(c, "itemId", "invalid item ID")
	if !ok {
		return
	}
	cart, err := h.svc.RemoveItem(c.Request.Context(), cartID, itemID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toCartResponse(cart))
}

func (h *CartHandler) Clear(c *gin.Context) {
	cartID, ok := h.authorizedCart(c)
	if !ok {
		return
	}
	if err := h.svc.Clear(c.Request.Context(), cartID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// authorizedCart parses :id and checks the caller may touch that cart.
func (h *CartHandler) authorizedCart(c *gin.Context) (uuid.UUID, bool) {
	cartID, ok := parseID(c, "id", "invalid cart ID")
	if !ok {
		return uuid.Nil, false
	}
	cart, err := h.svc.Get(c.Request.Context(), cartID)
	if err != nil {
		respondError(c, err)
		return uuid.Nil, false
	}
	if err := h.svc.Authorize(cart, middleware.GetOptionalUserID(c)); err != nil && !middleware.IsAdmin(c) {
		respondError(c, err)
		return uuid.Nil, false
	}
	return cartID, true
}

func toCartResponse(cart *model.PricedCart) dto.CartResponse {
	resp := dto.CartResponse{
		ID:        cart.Cart.ID,
		Items:     make([]dto.CartItemResponse, 0, len(cart.Lines)),
		Subtotal:  cart.Subtotal,
		Tax:       cart.Tax,
		Shipping:  cart.Shipping,
		Total:     cart.Total,
		UpdatedAt: cart.Cart.UpdatedAt,
	}
	if cart.Cart.UserID.Valid {
		uid := cart.Cart.UserID.UUID
		resp.UserID = &uid
	}
	for _, line := range cart.Lines {
		item := dto.CartItemResponse{
			ID:        line.Item.ID,
			ProductID: line.Item.ProductID,
			Name:      line.Product.Name,
			Size:      line.Item.Size,
			Price:     line.Product.Price,
			Quantity:  line.Item.Quantity,
			LineTotal: line.LineTotal,
			InStock:   line.Product.StockQuantity >= line.Item.Quantity,
		}
		if len(line.Product.Images) > 0 {
			item.Image = line.Product.Images[0]
		}
		resp.Items = append(resp.Items, item)
		resp.ItemCount += line.Item.Quantity
	}
	return resp
}
