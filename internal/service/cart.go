package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

var (
	ErrCartNotFound     = errors.New("cart not found")
	ErrCartItemNotFound = errors.New("cart item not found")
	ErrInvalidQuantity  = errors.New("quantity must be positive")
	ErrInvalidSize      = errors.New("size not offered for product")
	ErrCartAccessDenied = errors.New("cart belongs to another user")
)

// CartService owns the cart aggregate. Totals are never stored; every read
// reprices the cart from live product prices.
type CartService struct {
	cartRepo    repository.CartRepository
	productRepo repository.ProductRepository
	pricing     PricingPolicy
}

func NewCartService(cartRepo repository.CartRepository, productRepo repository.ProductRepository, pricing PricingPolicy) *CartService {
	return &CartService{cartRepo: cartRepo, productRepo: productRepo, pricing: pricing}
}

// Create starts a cart. A signed-in user gets their most recent cart back
// instead of a new one.
func (s *CartService) Create(ctx context.Context, userID uuid.NullUUID) (*model.PricedCart, error) {
	if userID.Valid {
		existing, err := s.cartRepo.GetLatestByUser(ctx, userID.UUID)
		if err != nil {
			return nil, fmt.Errorf("get user cart: %w", err)
		}
		if existing != nil {
			return s.price(ctx, existing)
		}
	}

	cart := &model.Cart{UserID: userID}
	if err := s.cartRepo.Create(ctx, cart); err != nil {
		return nil, fmt.Errorf("create cart: %w", err)
	}
	return s.price(ctx, cart)
}

func (s *CartService) Get(ctx context.Context, cartID uuid.UUID) (*model.PricedCart, error) {
	cart, err := s.load(ctx, cartID)
	if err != nil {
		return nil, err
	}
	return s.price(ctx, cart)
}

func (s *CartService) AddItem(ctx context.Context, cartID, productID uuid.UUID, size string, quantity int) (*model.PricedCart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if _, err := s.load(ctx, cartID); err != nil {
		return nil, err
	}

	product, err := s.productRepo.GetByID(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil {
		return nil, &model.ProductNotFoundError{ProductID: productID}
	}
	if size != "" && len(product.Sizes) > 0 && !slices.Contains(product.Sizes, size) {
		return nil, ErrInvalidSize
	}

	item := &model.CartItem{CartID: cartID, ProductID: productID, Size: size, Quantity: quantity}
	if err := s.cartRepo.AddItem(ctx, item); err != nil {
		return nil, fmt.Errorf("add cart item: %w", err)
	}
	return s.Get(ctx, cartID)
}

func (s *CartService) UpdateQuantity(ctx context.Context, cartID, itemID uuid.UUID, quantity int) (*model.PricedCart, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if err := s.ownItem(ctx, cartID, itemID); err != nil {
		return nil, err
	}
	if err := s.cartRepo.UpdateItemQuantity(ctx, itemID, quantity); err != nil {
		return nil, s.itemError("update cart item", err)
	}
	return s.Get(ctx, cartID)
}

func (s *CartService) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) (*model.PricedCart, error) {
	if err := s.ownItem(ctx, cartID, itemID); err != nil {
		return nil, err
	}
	if err := s.cartRepo.DeleteItem(ctx, itemID); err != nil {
		return nil, s.itemError("delete cart item", err)
	}
	return s.Get(ctx, cartID)
}

func (s *CartService) Clear(ctx context.Context, cartID uuid.UUID) error {
	if _, err := s.load(ctx, cartID); err != nil {
		return err
	}
	if err := s.cartRepo.ClearCart(ctx, cartID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// Authorize rejects access to a cart bound to a different user. Guest carts
// are open to whoever holds the id.
func (s *CartService) Authorize(cart *model.PricedCart, userID uuid.NullUUID) error {
	if cart.Cart.UserID.Valid && (!userID.Valid || cart.Cart.UserID.UUID != userID.UUID) {
		return ErrCartAccessDenied
	}
	return nil
}

func (s *CartService) load(ctx context.Context, cartID uuid.UUID) (*model.Cart, error) {
	cart, err := s.cartRepo.GetWithItems(ctx, cartID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if cart == nil {
		return nil, ErrCartNotFound
	}
	return cart, nil
}

func (s *CartService) ownItem(ctx context.Context, cartID, itemID uuid.UUID) error {
	cart, err := s.load(ctx, cartID)
	if err != nil {
		return err
	}
	for _, item := range cart.Items {
		if item.ID == itemID {
			return nil
		}
	}
	return ErrCartItemNotFound
}

func (s *CartService) itemError(op string, err error) error {
	if errors.Is(err, repository.ErrCartItemNotFound) {
		return ErrCartItemNotFound
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *CartService) price(ctx context.Context, cart *model.Cart) (*model.PricedCart, error) {
	priced := &model.PricedCart{Cart: cart, Subtotal: decimal.Zero}
	for _, item := range cart.Items {
		product, err := s.productRepo.GetByID(ctx, item.ProductID)
		if err != nil {
			return nil, fmt.Errorf("get product: %w", err)
		}
		if product == nil {
			continue
		}
		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		priced.Lines = append(priced.Lines, model.CartLine{Item: item, Product: product, LineTotal: lineTotal})
		priced.Subtotal = priced.Subtotal.Add(lineTotal)
	}
	priced.Tax, priced.Shipping, priced.Total = s.pricing.Apply(priced.Subtotal)
	return priced, nil
}
