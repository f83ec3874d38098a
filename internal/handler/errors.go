package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/service"
)

var statusBySentinel = []struct {
	err    error
	status int
}{
	{service.ErrCartNotFound, http.StatusNotFound},
	{service.ErrCartItemNotFound, http.StatusNotFound},
	{service.ErrEmptyCart, http.StatusBadRequest},
	{service.ErrInvalidQuantity, http.StatusBadRequest},
	{service.ErrInvalidSize, http.StatusBadRequest},
	{service.ErrInvalidDraft, http.StatusBadRequest},
	{service.ErrInvalidStatus, http.StatusBadRequest},
	{service.ErrInvalidStatusTransition, http.StatusConflict},
	{service.ErrStockChanged, http.StatusConflict},
	{service.ErrCartAccessDenied, http.StatusForbidden},
	{service.ErrOrderAccessDenied, http.StatusForbidden},
	{service.ErrUserAlreadyExists, http.StatusConflict},
	{service.ErrInvalidCredentials, http.StatusUnauthorized},
}

// respondError renders service and domain errors. Anything unrecognised is
// attached to the gin context and answered with a bare 500.
func respondError(c *gin.Context, err error) {
	var short *model.InsufficientStockError
	if errors.As(err, &short) {
		c.JSON(http.StatusConflict, gin.H{
			"error":      fmt.Sprintf("only %d left in stock", short.Available),
			"code":       model.KindInsufficientStock,
			"product_id": short.ProductID,
			"available":  short.Available,
			"requested":  short.Requested,
		})
		return
	}

	var missing *model.ProductNotFoundError
	if errors.As(err, &missing) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":      "product not found",
			"code":       model.KindProductNotFound,
			"product_id": missing.ProductID,
		})
		return
	}

	switch {
	case errors.Is(err, model.ErrProductNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "product not found", "code": model.KindProductNotFound})
		return
	case errors.Is(err, model.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found", "code": model.KindOrderNotFound})
		return
	case errors.Is(err, model.ErrIdempotencyKeyReused):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "code": model.KindIdempotencyReuse})
		return
	}

	for _, s := range statusBySentinel {
		if errors.Is(err, s.err) {
			c.JSON(s.status, gin.H{"error": err.Error()})
			return
		}
	}

	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}
