package model

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorKind identifies a failure the checkout layer renders specifically.
type ErrorKind string

const (
	KindProductNotFound   ErrorKind = "PRODUCT_NOT_FOUND"
	KindInsufficientStock ErrorKind = "INSUFFICIENT_STOCK"
	KindOrderNotFound     ErrorKind = "ORDER_NOT_FOUND"
	KindIdempotencyReuse  ErrorKind = "IDEMPOTENCY_KEY_REUSED"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOrderNotFound     = errors.New("order not found")

	// ErrIdempotencyKeyReused is returned when a key already names an order
	// whose contents differ from the new request.
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different order")

	// ErrStockChanged is returned when a stock write finds a quantity other
	// than the one the caller read.
	ErrStockChanged = errors.New("stock changed since it was read")
)

type ProductNotFoundError struct {
	ProductID uuid.UUID
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Kind() ErrorKind { return KindProductNotFound }

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrProductNotFound }

type InsufficientStockError struct {
	ProductID uuid.UUID
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Kind() ErrorKind { return KindInsufficientStock }

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// KindOf returns the kind carried by err, or "" for untyped errors.
func KindOf(err error) ErrorKind {
	var k interface{ Kind() ErrorKind }
	if errors.As(err, &k) {
		return k.Kind()
	}
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return KindOrderNotFound
	case errors.Is(err, ErrIdempotencyKeyReused):
		return KindIdempotencyReuse
	}
	return ""
}
