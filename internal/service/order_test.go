package service

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront/internal/dto"
	"github.com/flicky/storefront/internal/model"
	"github.com/flicky/storefront/internal/repository"
)

type mockOrderRepo struct {
	orders map[uuid.UUID]*model.Order
	keys   map[string]uuid.UUID
}

func newMockOrderRepo() *mockOrderRepo {
	return &mockOrderRepo{orders: make(map[uuid.UUID]*model.Order), keys: make(map[string]uuid.UUID)}
}

func (m *mockOrderRepo) GetByIdempotencyKey(ctx context.Context, scope, key string) (*model.Order, error) {
	id, ok := m.keys[scope+"|"+key]
	if !ok {
		return nil, nil
	}
	return m.GetByID(ctx, id)
}

func (m *mockOrderRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrderRepo) GetByNumber(_ context.Context, number string) (*model.Order, error) {
	for _, o := range m.orders {
		if o.OrderNumber == number {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockOrderRepo) ListByUserID(_ context.Context, userID uuid.UUID) ([]model.Order, error) {
	var orders []model.Order
	for _, o := range m.orders {
		if o.UserID.Valid && o.UserID.UUID == userID {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

func (m *mockOrderRepo) UpdateStatus(_ context.Context, id uuid.UUID, status model.OrderStatus) error {
	o, ok := m.orders[id]
	if !ok {
		return model.ErrOrderNotFound
	}
	o.Status = status
	return nil
}

func (m *mockOrderRepo) UpdateTracking(_ context.Context, id uuid.UUID, tracking string) error {
	o, ok := m.orders[id]
	if !ok {
		return model.ErrOrderNotFound
	}
	o.TrackingNumber = &tracking
	return nil
}

// mockPlacement checks every aggregated line before changing anything, the
// way both real backends behave inside their transaction.
type mockPlacement struct {
	products *mockProductRepo
	orders   *mockOrderRepo
	drafts   []model.OrderDraft
}

func (m *mockPlacement) PlaceOrder(ctx context.Context, draft model.OrderDraft) (*model.Order, bool, error) {
	m.drafts = append(m.drafts, draft)
	if draft.IdempotencyKey != "" {
		existing, _ := m.orders.GetByIdempotencyKey(ctx, draft.IdempotencyScope, draft.IdempotencyKey)
		if existing != nil {
			if !existing.MatchesDraft(draft) {
				return nil, false, model.ErrIdempotencyKeyReused
			}
			return existing, true, nil
		}
	}

	reqs := model.AggregateLines(draft.Items)
	for _, req := range reqs {
		p, ok := m.products.products[req.ProductID]
		if !ok {
			return nil, false, &model.ProductNotFoundError{ProductID: req.ProductID}
		}
		if p.StockQuantity < req.Quantity {
			return nil, false, &model.InsufficientStockError{ProductID: req.ProductID, Available: p.StockQuantity, Requested: req.Quantity}
		}
	}

	order := &model.Order{
		ID: uuid.New(), OrderNumber: draft.OrderNumber, UserID: draft.UserID,
		Subtotal: draft.Subtotal, Tax: draft.Tax, Shipping: draft.Shipping, Total: draft.Total,
		Status: model.OrderStatusPending, ShippingAddress: draft.ShippingAddress,
		BillingAddress: draft.BillingAddress, PaymentMethod: draft.PaymentMethod, CreatedAt: time.Now(),
	}
	if draft.IdempotencyKey != "" {
		key := draft.IdempotencyKey
		order.IdempotencyKey = &key
		m.orders.keys[draft.IdempotencyScope+"|"+key] = order.ID
	}
	for _, req := range reqs {
		p := m.products.products[req.ProductID]
		m.products.adjust(p.ID, p.StockQuantity, p.StockQuantity-req.Quantity, model.ReasonOrderCreated)
		p.StockQuantity -= req.Quantity
		p.InStock = p.StockQuantity > 0
	}
	for _, l := range draft.Items {
		p := m.products.products[l.ProductID]
		order.Items = append(order.Items, model.OrderItem{ProductID: l.ProductID, Name: p.Name, Price: p.Price, Size: l.Size, Quantity: l.Quantity})
	}
	m.orders.orders[order.ID] = order
	return order, false, nil
}

type mockPublisher struct {
	published []uuid.UUID
}

func (m *mockPublisher) PublishOrderPlaced(_ context.Context, order *model.Order) error {
	m.published = append(m.published, order.ID)
	return nil
}

type orderFixture struct {
	svc       *OrderService
	carts     *CartService
	cartRepo  *mockCartRepo
	products  *mockProductRepo
	orders    *mockOrderRepo
	placement *mockPlacement
	publisher *mockPublisher
}

func newOrderFixture() *orderFixture {
	f := &orderFixture{
		cartRepo:  newMockCartRepo(),
		products:  newMockProductRepo(),
		orders:    newMockOrderRepo(),
		publisher: &mockPublisher{},
	}
	f.placement = &mockPlacement{products: f.products, orders: f.orders}
	f.carts = NewCartService(f.cartRepo, f.products, defaultPricing())
	store := &repository.Store{
		Products:  f.products,
		Carts:     f.cartRepo,
		Orders:    f.orders,
		Inventory: f.products,
		Placement: f.placement,
	}
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	f.svc = NewOrderService(store, f.carts, defaultPricing(), nil, f.publisher, log)
	return f
}

var testAddress = model.Address{FullName: "Ada Lovelace", Line1: "12 St James's Sq", City: "London", PostalCode: "SW1Y 4JH", Country: "GB"}

func checkoutRequest() dto.CheckoutRequest {
	return dto.CheckoutRequest{ShippingAddress: testAddress, PaymentMethod: model.PaymentMethod{Type: "card", Last4: "4242"}}
}

func TestOrderService_Checkout(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	tee := f.products.add("Tee", "25.00", 5)

	cart, err := f.carts.Create(ctx, uuid.NullUUID{})
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, cart.Cart.ID, tee.ID, "M", 2)
	require.NoError(t, err)

	order, err := f.svc.Checkout(ctx, cart.Cart.ID, uuid.NullUUID{}, checkoutRequest(), "")
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^ORD-\d{8}-[0-9A-F]{8}$`), order.OrderNumber)
	assert.True(t, decimal.RequireFromString("50.00").Equal(order.Subtotal))
	assert.True(t, decimal.RequireFromString("4.50").Equal(order.Tax))
	assert.True(t, order.Shipping.IsZero())
	assert.True(t, decimal.RequireFromString("54.50").Equal(order.Total))
	assert.Equal(t, testAddress, order.BillingAddress)
	assert.Equal(t, model.OrderStatusPending, order.Status)

	assert.Equal(t, 3, f.products.products[tee.ID].StockQuantity)
	assert.Equal(t, []uuid.UUID{order.ID}, f.publisher.published)

	after, err := f.carts.Get(ctx, cart.Cart.ID)
	require.NoError(t, err)
	assert.Empty(t, after.Lines)
}

func TestOrderService_Checkout_EmptyCart(t *testing.T) {
	f := newOrderFixture()
	cart, err := f.carts.Create(context.Background(), uuid.NullUUID{})
	require.NoError(t, err)

	_, err = f.svc.Checkout(context.Background(), cart.Cart.ID, uuid.NullUUID{}, checkoutRequest(), "")
	assert.ErrorIs(t, err, ErrEmptyCart)
	assert.Empty(t, f.placement.drafts)
}

func TestOrderService_Checkout_InsufficientStockKeepsCart(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	tee := f.products.add("Tee", "25.00", 1)

	cart, _ := f.carts.Create(ctx, uuid.NullUUID{})
	_, err := f.carts.AddItem(ctx, cart.Cart.ID, tee.ID, "", 2)
	require.NoError(t, err)

	_, err = f.svc.Checkout(ctx, cart.Cart.ID, uuid.NullUUID{}, checkoutRequest(), "")
	var short *model.InsufficientStockError
	require.ErrorAs(t, err, &short)
	assert.Equal(t, 1, short.Available)
	assert.Equal(t, 2, short.Requested)
	assert.Equal(t, model.KindInsufficientStock, model.KindOf(err))

	assert.Equal(t, 1, f.products.products[tee.ID].StockQuantity)
	assert.Empty(t, f.publisher.published)
	still, err := f.carts.Get(ctx, cart.Cart.ID)
	require.NoError(t, err)
	assert.Len(t, still.Lines, 1)
}

func TestOrderService_Checkout_OtherUsersCart(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	owner := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	cart, _ := f.carts.Create(ctx, owner)

	stranger := uuid.NullUUID{UUID: uuid.New(), Valid: true}
	_, err := f.svc.Checkout(ctx, cart.Cart.ID, stranger, checkoutRequest(), "")
	assert.ErrorIs(t, err, ErrCartAccessDenied)

	_, err = f.svc.Checkout(ctx, uuid.New(), owner, checkoutRequest(), "")
	assert.ErrorIs(t, err, ErrCartNotFound)
}

func TestOrderService_Checkout_IdempotencyKey(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	tee := f.products.add("Tee", "25.00", 5)

	cart, _ := f.carts.Create(ctx, uuid.NullUUID{})
	_, err := f.carts.AddItem(ctx, cart.Cart.ID, tee.ID, "", 1)
	require.NoError(t, err)
	first, err := f.svc.Checkout(ctx, cart.Cart.ID, uuid.NullUUID{}, checkoutRequest(), "key-1")
	require.NoError(t, err)

	// The retry finds the cart already emptied by the first attempt.
	again, err := f.svc.Checkout(ctx, cart.Cart.ID, uuid.NullUUID{}, checkoutRequest(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, 4, f.products.products[tee.ID].StockQuantity)
	assert.Len(t, f.placement.drafts, 1)

	_, err = f.svc.Checkout(ctx, cart.Cart.ID, uuid.NullUUID{}, checkoutRequest(), "key-2")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestOrderService_Checkout_ReplaySkipsSideEffects(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	tee := f.products.add("Tee", "25.00", 5)
	user := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	cart, err := f.carts.Create(ctx, user)
	require.NoError(t, err)
	_, err = f.carts.AddItem(ctx, cart.Cart.ID, tee.ID, "M", 1)
	require.NoError(t, err)
	first, err := f.svc.Checkout(ctx, cart.Cart.ID, user, checkoutRequest(), "pay-1")
	require.NoError(t, err)

	_, err = f.carts.AddItem(ctx, cart.Cart.ID, tee.ID, "M", 1)
	require.NoError(t, err)
	again, err := f.svc.Checkout(ctx, cart.Cart.ID, user, checkoutRequest(), "pay-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, []uuid.UUID{first.ID}, f.publisher.published)
	assert.Equal(t, 4, f.products.products[tee.ID].StockQuantity)
	assert.Len(t, f.orders.orders, 1)

	kept, err := f.carts.Get(ctx, cart.Cart.ID)
	require.NoError(t, err)
	assert.Len(t, kept.Lines, 1)
}

func TestOrderService_Checkout_GuestCartsDoNotShareKeys(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	tee := f.products.add("Tee", "25.00", 10)

	cartA, _ := f.carts.Create(ctx, uuid.NullUUID{})
	_, err := f.carts.AddItem(ctx, cartA.Cart.ID, tee.ID, "", 2)
	require.NoError(t, err)
	cartB, _ := f.carts.Create(ctx, uuid.NullUUID{})
	_, err = f.carts.AddItem(ctx, cartB.Cart.ID, tee.ID, "", 5)
	require.NoError(t, err)

	orderA, err := f.svc.Checkout(ctx, cartA.Cart.ID, uuid.NullUUID{}, checkoutRequest(), "shared-key")
	require.NoError(t, err)
	orderB, err := f.svc.Checkout(ctx, cartB.Cart.ID, uuid.NullUUID{}, checkoutRequest(), "shared-key")
	require.NoError(t, err)

	assert.NotEqual(t, orderA.ID, orderB.ID)
	require.Len(t, orderB.Items, 1)
	assert.Equal(t, 5, orderB.Items[0].Quantity)
	assert.Equal(t, 3, f.products.products[tee.ID].StockQuantity)
	assert.Equal(t, []uuid.UUID{orderA.ID, orderB.ID}, f.publisher.published)
}

func TestOrderService_PlaceOrder_ReusedKeyRejected(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	tee := f.products.add("Tee", "25.00", 10)
	user := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	_, err := f.svc.PlaceOrder(ctx, model.OrderDraft{
		UserID:         user,
		Items:          []model.OrderLine{{ProductID: tee.ID, Quantity: 1}},
		IdempotencyKey: "key-9",
	})
	require.NoError(t, err)

	_, err = f.svc.PlaceOrder(ctx, model.OrderDraft{
		UserID:         user,
		Items:          []model.OrderLine{{ProductID: tee.ID, Quantity: 3}},
		IdempotencyKey: "key-9",
	})
	assert.ErrorIs(t, err, ErrIdempotencyKeyReused)
	assert.Equal(t, 9, f.products.products[tee.ID].StockQuantity)
	assert.Len(t, f.publisher.published, 1)
	assert.Equal(t, "user:"+user.UUID.String(), f.placement.drafts[1].IdempotencyScope)
}

func TestOrderService_PlaceOrder_InvalidDraft(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	tee := f.products.add("Tee", "25.00", 5)

	cases := map[string][]model.OrderLine{
		"no lines":      nil,
		"zero quantity": {{ProductID: tee.ID, Quantity: 0}},
		"negative":      {{ProductID: tee.ID, Quantity: 2}, {ProductID: tee.ID, Quantity: -1}},
		"no product":    {{Quantity: 1}},
	}
	for name, lines := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(ctx, model.OrderDraft{Items: lines})
			assert.ErrorIs(t, err, ErrInvalidDraft)
		})
	}
	assert.Empty(t, f.placement.drafts)
	assert.Equal(t, 5, f.products.products[tee.ID].StockQuantity)
}

func TestOrderService_PlaceOrder_UnknownProductChangesNothing(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	p := f.products.add("P", "10.00", 5)
	missing := uuid.New()

	_, err := f.svc.PlaceOrder(ctx, model.OrderDraft{Items: []model.OrderLine{
		{ProductID: p.ID, Quantity: 3},
		{ProductID: missing, Quantity: 1},
	}})
	var notFound *model.ProductNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, missing, notFound.ProductID)
	assert.Equal(t, 5, f.products.products[p.ID].StockQuantity)
	assert.Empty(t, f.orders.orders)
}

func TestOrderService_CreateOrder_PricesFromCatalog(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	tee := f.products.add("Tee", "10.00", 5)
	hoodie := f.products.add("Hoodie", "30.00", 5)
	user := uuid.NullUUID{UUID: uuid.New(), Valid: true}

	order, err := f.svc.CreateOrder(ctx, user, dto.CreateOrderRequest{
		Items: []dto.OrderLineRequest{
			{ProductID: tee.ID, Size: "S", Quantity: 2},
			{ProductID: hoodie.ID, Quantity: 1},
		},
		ShippingAddress: testAddress,
	}, "")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("50.00").Equal(order.Subtotal))
	assert.True(t, decimal.RequireFromString("54.50").Equal(order.Total))
	assert.Equal(t, user, order.UserID)

	listed, err := f.svc.ListByUserID(ctx, user.UUID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func TestOrderService_GetByID(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	owner := uuid.New()
	id := uuid.New()
	f.orders.orders[id] = &model.Order{ID: id, UserID: uuid.NullUUID{UUID: owner, Valid: true}, Status: model.OrderStatusPending}

	order, err := f.svc.GetByID(ctx, id, owner, false)
	require.NoError(t, err)
	assert.Equal(t, id, order.ID)

	_, err = f.svc.GetByID(ctx, id, uuid.New(), false)
	assert.ErrorIs(t, err, ErrOrderAccessDenied)

	_, err = f.svc.GetByID(ctx, id, uuid.New(), true)
	assert.NoError(t, err)

	_, err = f.svc.GetByID(ctx, uuid.New(), owner, false)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderService_UpdateStatus(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	id := uuid.New()
	f.orders.orders[id] = &model.Order{ID: id, Status: model.OrderStatusPending}

	_, err := f.svc.UpdateStatus(ctx, id, model.OrderStatusShipped)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	order, err := f.svc.UpdateStatus(ctx, id, model.OrderStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusProcessing, order.Status)

	order, err = f.svc.UpdateStatus(ctx, id, model.OrderStatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusProcessing, order.Status)

	_, err = f.svc.UpdateStatus(ctx, id, model.OrderStatus("lost"))
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = f.svc.UpdateStatus(ctx, uuid.New(), model.OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderService_UpdateTracking(t *testing.T) {
	f := newOrderFixture()
	ctx := context.Background()
	id := uuid.New()
	f.orders.orders[id] = &model.Order{ID: id, Status: model.OrderStatusShipped}

	order, err := f.svc.UpdateTracking(ctx, id, "1Z999")
	require.NoError(t, err)
	require.NotNil(t, order.TrackingNumber)
	assert.Equal(t, "1Z999", *order.TrackingNumber)

	_, err = f.svc.UpdateTracking(ctx, uuid.New(), "X")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}
