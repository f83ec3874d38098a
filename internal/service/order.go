package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flicky/storefront/internal/dto"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

var (
	ErrEmptyCart               = errors.New("cart is empty")
	ErrInvalidDraft            = errors.New("invalid order")
	ErrOrderNotFound           = model.ErrOrderNotFound
	ErrOrderAccessDenied       = errors.New("access denied")
	ErrInvalidStatus           = errors.New("unknown order status")
	ErrInvalidStatusTransition = errors.New("order status transition not allowed")
	ErrIdempotencyKeyReused    = model.ErrIdempotencyKeyReused
)

// OrderPublisher announces placed orders to asynchronous consumers.
type OrderPublisher interface {
	PublishOrderPlaced(ctx context.Context, order *model.Order) error
}

type OrderService struct {
	backend     repository.OrderPlacementBackend
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	carts       *CartService
	pricing     PricingPolicy
	cache       *ProductCache
	publisher   OrderPublisher
	log         *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewOrderService(
	store *repository.Store,
	carts *CartService,
	pricing PricingPolicy,
	cache *ProductCache,
	publisher OrderPublisher,
	log *slog.Logger,
) *OrderService {
	return &OrderService{
		backend:     store.Placement,
		orderRepo:   store.Orders,
		productRepo: store.Products,
		carts:       carts,
		pricing:     pricing,
		cache:       cache,
		publisher:   publisher,
		log:         log,
		tracer:      otel.Tracer("storefront/order"),
		now:         time.Now,
	}
}

// PlaceOrder validates the draft and hands it to the active backend, which
// reserves stock and persists the order as one unit. Side effects after
// placement never fail the call.
func (s *OrderService) PlaceOrder(ctx context.Context, draft model.OrderDraft) (*model.Order, error) {
	order, _, err := s.place(ctx, draft)
	return order, err
}

// place reports whether the order came from an earlier request with the same
// idempotency key. A replayed order already had its side effects run.
func (s *OrderService) place(ctx context.Context, draft model.OrderDraft) (*model.Order, bool, error) {
	if err := validateLines(draft.Items); err != nil {
		return nil, false, err
	}
	if draft.OrderNumber == "" {
		draft.OrderNumber = NewOrderNumber(s.now())
	}
	if draft.IdempotencyKey != "" && draft.IdempotencyScope == "" {
		draft.IdempotencyScope = model.IdempotencyScope(draft.UserID, uuid.NullUUID{})
	}

	ctx, span := s.tracer.Start(ctx, "OrderService.PlaceOrder", trace.WithAttributes(
		attribute.String("order.number", draft.OrderNumber),
		attribute.Int("order.lines", len(draft.Items)),
	))
	defer span.End()

	order, replayed, err := s.backend.PlaceOrder(ctx, draft)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(model.KindOf(err)))
		return nil, false, err
	}
	span.SetAttributes(
		attribute.String("order.id", order.ID.String()),
		attribute.Bool("order.replayed", replayed),
	)
	if replayed {
		s.log.Debug("order replayed", "order_id", order.ID, "order_number", order.OrderNumber)
		return order, true, nil
	}

	ids := make([]uuid.UUID, 0, len(draft.Items))
	for _, req := range model.AggregateLines(draft.Items) {
		ids = append(ids, req.ProductID)
	}
	s.cache.Invalidate(ctx, ids...)

	if s.publisher != nil {
		if err := s.publisher.PublishOrderPlaced(ctx, order); err != nil {
			s.log.Error("publish order placed", "order_id", order.ID, "error", err)
		}
	}

	s.log.Info("order placed", "order_id", order.ID, "order_number", order.OrderNumber, "total", order.Total.String())
	return order, false, nil
}

// Checkout places the cart's current contents at current prices and empties
// the cart on success. Idempotency keys are scoped to the buyer, or to the
// cart for guests; a replayed checkout leaves the cart alone.
func (s *OrderService) Checkout(ctx context.Context, cartID uuid.UUID, userID uuid.NullUUID, req dto.CheckoutRequest, idempotencyKey string) (*model.Order, error) {
	cart, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if err := s.carts.Authorize(cart, userID); err != nil {
		return nil, err
	}
	if !userID.Valid {
		userID = cart.Cart.UserID
	}
	scope := model.IdempotencyScope(userID, uuid.NullUUID{UUID: cartID, Valid: true})

	if len(cart.Lines) == 0 {
		// A retry of a checkout that already succeeded finds the cart
		// emptied; answer it with the order it placed.
		if idempotencyKey != "" {
			order, err := s.orderRepo.GetByIdempotencyKey(ctx, scope, idempotencyKey)
			if err != nil {
				return nil, fmt.Errorf("get order by idempotency key: %w", err)
			}
			if order != nil {
				return order, nil
			}
		}
		return nil, ErrEmptyCart
	}

	lines := make([]model.OrderLine, 0, len(cart.Lines))
	for _, l := range cart.Lines {
		lines = append(lines, model.OrderLine{ProductID: l.Item.ProductID, Size: l.Item.Size, Quantity: l.Item.Quantity})
	}

	order, replayed, err := s.place(ctx, model.OrderDraft{
		UserID:           userID,
		Items:            lines,
		Subtotal:         cart.Subtotal,
		Tax:              cart.Tax,
		Shipping:         cart.Shipping,
		Total:            cart.Total,
		ShippingAddress:  req.ShippingAddress,
		BillingAddress:   billingOrShipping(req.BillingAddress, req.ShippingAddress),
		PaymentMethod:    req.PaymentMethod,
		IdempotencyKey:   idempotencyKey,
		IdempotencyScope: scope,
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		return order, nil
	}

	if err := s.carts.Clear(ctx, cartID); err != nil {
		s.log.Warn("clear cart after checkout", "cart_id", cartID, "order_id", order.ID, "error", err)
	}
	return order, nil
}

// CreateOrder places explicit lines priced from the catalog.
func (s *OrderService) CreateOrder(ctx context.Context, userID uuid.NullUUID, req dto.CreateOrderRequest, idempotencyKey string) (*model.Order, error) {
	lines := make([]model.OrderLine, 0, len(req.Items))
	for _, l := range req.Items {
		lines = append(lines, model.OrderLine{ProductID: l.ProductID, Size: l.Size, Quantity: l.Quantity})
	}
	if err := validateLines(lines); err != nil {
		return nil, err
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		product, err := s.productRepo.GetByID(ctx, l.ProductID)
		if err != nil {
			return nil, fmt.Errorf("get product: %w", err)
		}
		if product == nil {
			return nil, &model.ProductNotFoundError{ProductID: l.ProductID}
		}
		subtotal = subtotal.Add(product.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	tax, shipping, total := s.pricing.Apply(subtotal)

	return s.PlaceOrder(ctx, model.OrderDraft{
		UserID:          userID,
		Items:           lines,
		Subtotal:        subtotal,
		Tax:             tax,
		Shipping:        shipping,
		Total:           total,
		ShippingAddress: req.ShippingAddress,
		BillingAddress:  billingOrShipping(req.BillingAddress, req.ShippingAddress),
		PaymentMethod:   req.PaymentMethod,
		IdempotencyKey:  idempotencyKey,
	})
}

func (s *OrderService) GetByID(ctx context.Context, orderID, userID uuid.UUID, isAdmin bool) (*model.Order, error) {
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if !isAdmin && (!order.UserID.Valid || order.UserID.UUID != userID) {
		return nil, ErrOrderAccessDenied
	}
	return order, nil
}

func (s *OrderService) ListByUserID(ctx context.Context, userID uuid.UUID) ([]model.Order, error) {
	orders, err := s.orderRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// UpdateStatus moves an order along its lifecycle. Setting the current
// status again is a no-op so redelivered events stay harmless.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID uuid.UUID, status model.OrderStatus) (*model.Order, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status == status {
		return order, nil
	}
	if !order.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, order.Status, status)
	}

	if err := s.orderRepo.UpdateStatus(ctx, orderID, status); err != nil {
		return nil, err
	}
	s.log.Info("order status changed", "order_id", orderID, "from", order.Status, "to", status)
	order.Status = status
	return order, nil
}

func (s *OrderService) UpdateTracking(ctx context.Context, orderID uuid.UUID, trackingNumber string) (*model.Order, error) {
	if err := s.orderRepo.UpdateTracking(ctx, orderID, trackingNumber); err != nil {
		return nil, err
	}
	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func validateLines(lines []model.OrderLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: no line items", ErrInvalidDraft)
	}
	for i, l := range lines {
		if l.ProductID == uuid.Nil {
			return fmt.Errorf("%w: line %d has no product", ErrInvalidDraft, i+1)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line %d quantity must be positive", ErrInvalidDraft, i+1)
		}
	}
	return nil
}

func billingOrShipping(billing *model.Address, shipping model.Address) model.Address {
	if billing != nil {
		return *billing
	}
	return shipping
}
