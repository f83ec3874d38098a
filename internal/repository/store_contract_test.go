package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flicky/storefront/internal/model"
)

// runStoreContract exercises the behaviour both backends must share. Every
// subtest seeds its own products, so a store may be reused across subtests.
func runStoreContract(t *testing.T, newStore func(t *testing.T) *Store) {
	t.Run("product crud logs admin adjustments", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		p := seedProduct(t, store, "crud-tee", 25, 4)
		assert.NotEqual(t, uuid.Nil, p.ID)
		assert.True(t, p.InStock)

		got, err := store.Products.GetByID(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "crud-tee", got.Name)
		assert.True(t, decimal.NewFromInt(25).Equal(got.Price))
		assert.Equal(t, model.StringList{"S", "M", "L"}, got.Sizes)

		got.Name = "crud-tee v2"
		require.NoError(t, store.Products.Update(ctx, got, &StockChange{From: 4, To: 0}))
		assert.Equal(t, 0, got.StockQuantity)

		updated, err := store.Products.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "crud-tee v2", updated.Name)
		assert.Equal(t, 0, updated.StockQuantity)
		assert.False(t, updated.InStock)

		events, err := store.Inventory.ListByProduct(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, 4, events[0].Delta)
		assert.Equal(t, -4, events[1].Delta)
		for _, e := range events {
			assert.Equal(t, model.ReasonAdminAdjustment, e.Reason)
			assert.Equal(t, model.ReferenceProduct, e.ReferenceType)
		}

		require.NoError(t, store.Products.Delete(ctx, p.ID))
		gone, err := store.Products.GetByID(ctx, p.ID)
		require.NoError(t, err)
		assert.Nil(t, gone)

		err = store.Products.Delete(ctx, p.ID)
		assert.ErrorIs(t, err, model.ErrProductNotFound)
	})

	t.Run("cart items merge by product and size", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		p := seedProduct(t, store, "cart-tee", 10, 9)

		cart := &model.Cart{}
		require.NoError(t, store.Carts.Create(ctx, cart))

		first := &model.CartItem{CartID: cart.ID, ProductID: p.ID, Size: "M", Quantity: 1}
		require.NoError(t, store.Carts.AddItem(ctx, first))
		again := &model.CartItem{CartID: cart.ID, ProductID: p.ID, Size: "M", Quantity: 2}
		require.NoError(t, store.Carts.AddItem(ctx, again))
		other := &model.CartItem{CartID: cart.ID, ProductID: p.ID, Size: "L", Quantity: 1}
		require.NoError(t, store.Carts.AddItem(ctx, other))

		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, 3, again.Quantity)

		got, err := store.Carts.GetWithItems(ctx, cart.ID)
		require.NoError(t, err)
		require.Len(t, got.Items, 2)

		require.NoError(t, store.Carts.UpdateItemQuantity(ctx, other.ID, 4))
		require.NoError(t, store.Carts.DeleteItem(ctx, first.ID))
		assert.ErrorIs(t, store.Carts.DeleteItem(ctx, first.ID), ErrCartItemNotFound)

		got, err = store.Carts.GetWithItems(ctx, cart.ID)
		require.NoError(t, err)
		require.Len(t, got.Items, 1)
		assert.Equal(t, 4, got.Items[0].Quantity)

		require.NoError(t, store.Carts.ClearCart(ctx, cart.ID))
		got, err = store.Carts.GetWithItems(ctx, cart.ID)
		require.NoError(t, err)
		assert.Empty(t, got.Items)

		missing, err := store.Carts.GetWithItems(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})

	t.Run("place order reserves stock and snapshots lines", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		a := seedProduct(t, store, "place-a", 20, 5)
		b := seedProduct(t, store, "place-b", 10, 1)

		draft := draftFor(line(a.ID, "M", 2), line(b.ID, "", 1))
		order, _, err := store.Placement.PlaceOrder(ctx, draft)
		require.NoError(t, err)
		require.NotNil(t, order)

		assert.Equal(t, model.OrderStatusPending, order.Status)
		assert.Equal(t, draft.OrderNumber, order.OrderNumber)
		assert.True(t, decimal.RequireFromString("54.50").Equal(order.Total))
		require.Len(t, order.Items, 2)
		assert.Equal(t, "place-a", order.Items[0].Name)
		assert.True(t, decimal.NewFromInt(20).Equal(order.Items[0].Price))
		assert.Equal(t, "M", order.Items[0].Size)
		assert.Equal(t, "https://cdn.example.com/place-a.jpg", order.Items[0].Image)

		assert.Equal(t, 3, stockOf(t, store, a.ID))
		assert.Equal(t, 0, stockOf(t, store, b.ID))
		soldOut, err := store.Products.GetByID(ctx, b.ID)
		require.NoError(t, err)
		assert.False(t, soldOut.InStock)

		events, err := store.Inventory.ListByReference(ctx, model.ReferenceOrder, order.ID.String())
		require.NoError(t, err)
		require.Len(t, events, 2)
		for _, e := range events {
			assert.Equal(t, model.ReasonOrderCreated, e.Reason)
			assert.Equal(t, draft.OrderNumber, e.Context["order_number"])
			assert.Equal(t, e.PreviousQuantity+e.Delta, e.NewQuantity)
		}

		stored, err := store.Orders.GetByNumber(ctx, draft.OrderNumber)
		require.NoError(t, err)
		require.NotNil(t, stored)
		assert.Equal(t, order.ID, stored.ID)
		assert.Equal(t, "Grace Hopper", stored.ShippingAddress.FullName)
		assert.Equal(t, "4242", stored.PaymentMethod.Last4)
		require.Len(t, stored.Items, 2)

		// Later catalog edits never reach placed orders.
		a.Price = decimal.NewFromInt(99)
		require.NoError(t, store.Products.Update(ctx, a, nil))
		assert.Equal(t, 3, a.StockQuantity)
		stored, err = store.Orders.GetByID(ctx, order.ID)
		require.NoError(t, err)
		assert.True(t, decimal.NewFromInt(20).Equal(stored.Items[0].Price))
	})

	t.Run("unknown product rolls back every line", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		p := seedProduct(t, store, "rollback-p", 10, 5)
		missing := uuid.New()

		draft := draftFor(line(p.ID, "", 3), line(missing, "", 1))
		order, _, err := store.Placement.PlaceOrder(ctx, draft)
		require.Error(t, err)
		assert.Nil(t, order)

		var notFound *model.ProductNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, missing, notFound.ProductID)
		assert.Equal(t, model.KindProductNotFound, model.KindOf(err))

		assert.Equal(t, 5, stockOf(t, store, p.ID))
		stored, err := store.Orders.GetByNumber(ctx, draft.OrderNumber)
		require.NoError(t, err)
		assert.Nil(t, stored)

		events, err := store.Inventory.ListByProduct(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, model.ReasonAdminAdjustment, events[0].Reason)
	})

	t.Run("insufficient stock reports exact quantities", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		plenty := seedProduct(t, store, "plenty", 10, 50)
		scarce := seedProduct(t, store, "scarce", 10, 2)

		draft := draftFor(line(plenty.ID, "", 10), line(scarce.ID, "S", 2), line(scarce.ID, "M", 1))
		_, _, err := store.Placement.PlaceOrder(ctx, draft)

		var short *model.InsufficientStockError
		require.ErrorAs(t, err, &short)
		assert.Equal(t, scarce.ID, short.ProductID)
		assert.Equal(t, 2, short.Available)
		assert.Equal(t, 3, short.Requested)
		assert.True(t, errors.Is(err, model.ErrInsufficientStock))

		assert.Equal(t, 50, stockOf(t, store, plenty.ID))
		assert.Equal(t, 2, stockOf(t, store, scarce.ID))
	})

	t.Run("concurrent checkouts never oversell", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		p := seedProduct(t, store, "race", 15, 2)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, _, errs[i] = store.Placement.PlaceOrder(ctx, draftFor(line(p.ID, "", 2)))
			}(i)
		}
		wg.Wait()

		var succeeded, short int
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, model.ErrInsufficientStock):
				short++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, short)
		assert.Equal(t, 0, stockOf(t, store, p.ID))
	})

	t.Run("many buyers drain stock exactly", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		p := seedProduct(t, store, "drain", 5, 5)

		var wg sync.WaitGroup
		var mu sync.Mutex
		placed := 0
		for i := 0; i < 12; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, _, err := store.Placement.PlaceOrder(ctx, draftFor(line(p.ID, "", 1))); err == nil {
					mu.Lock()
					placed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 5, placed)
		assert.Equal(t, 0, stockOf(t, store, p.ID))

		events, err := store.Inventory.ListByProduct(ctx, p.ID)
		require.NoError(t, err)
		assert.Len(t, events, 6)
	})

	t.Run("ledger replays to current stock", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		p := seedProduct(t, store, "ledger", 8, 10)

		_, _, err := store.Placement.PlaceOrder(ctx, draftFor(line(p.ID, "", 3)))
		require.NoError(t, err)
		_, _, err = store.Placement.PlaceOrder(ctx, draftFor(line(p.ID, "", 4)))
		require.NoError(t, err)

		current, err := store.Products.GetByID(ctx, p.ID)
		require.NoError(t, err)
		require.NoError(t, store.Products.Update(ctx, current, &StockChange{From: current.StockQuantity, To: 12}))

		_, _, err = store.Placement.PlaceOrder(ctx, draftFor(line(p.ID, "", 12)))
		require.NoError(t, err)
		_, _, err = store.Placement.PlaceOrder(ctx, draftFor(line(p.ID, "", 1)))
		require.ErrorIs(t, err, model.ErrInsufficientStock)

		events, err := store.Inventory.ListByProduct(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, events, 5)
		assert.Equal(t, stockOf(t, store, p.ID), model.ReplayStock(0, events))
		for i := 1; i < len(events); i++ {
			assert.Equal(t, events[i-1].NewQuantity, events[i].PreviousQuantity)
		}
	})

	t.Run("idempotency key replays the first order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		p := seedProduct(t, store, "idem", 12, 6)

		first := draftFor(line(p.ID, "", 2))
		first.IdempotencyKey = "idem-" + uuid.NewString()
		placed, replayed, err := store.Placement.PlaceOrder(ctx, first)
		require.NoError(t, err)
		assert.False(t, replayed)

		retry := draftFor(line(p.ID, "", 2))
		retry.IdempotencyKey = first.IdempotencyKey
		again, replayed, err := store.Placement.PlaceOrder(ctx, retry)
		require.NoError(t, err)
		assert.True(t, replayed)

		assert.Equal(t, placed.ID, again.ID)
		assert.Equal(t, first.OrderNumber, again.OrderNumber)
		assert.Equal(t, 4, stockOf(t, store, p.ID))
	})

	t.Run("idempotency keys are scoped per buyer", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		p := seedProduct(t, store, "idem-scope", 12, 10)
		key := "shared-" + uuid.NewString()

		cartA := draftFor(line(p.ID, "", 2))
		cartA.IdempotencyKey = key
		cartA.IdempotencyScope = model.IdempotencyScope(uuid.NullUUID{}, uuid.NullUUID{UUID: uuid.New(), Valid: true})
		first, replayed, err := store.Placement.PlaceOrder(ctx, cartA)
		require.NoError(t, err)
		assert.False(t, replayed)

		cartB := draftFor(line(p.ID, "", 5))
		cartB.IdempotencyKey = key
		cartB.IdempotencyScope = model.IdempotencyScope(uuid.NullUUID{}, uuid.NullUUID{UUID: uuid.New(), Valid: true})
		second, replayed, err := store.Placement.PlaceOrder(ctx, cartB)
		require.NoError(t, err)
		assert.False(t, replayed)

		assert.NotEqual(t, first.ID, second.ID)
		require.Len(t, second.Items, 1)
		assert.Equal(t, 5, second.Items[0].Quantity)
		assert.Equal(t, 3, stockOf(t, store, p.ID))
	})

	t.Run("reused key with different contents is rejected", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		p := seedProduct(t, store, "idem-reuse", 12, 10)
		scope := model.IdempotencyScope(uuid.NullUUID{}, uuid.NullUUID{UUID: uuid.New(), Valid: true})

		first := draftFor(line(p.ID, "", 2))
		first.IdempotencyKey = "reuse-" + uuid.NewString()
		first.IdempotencyScope = scope
		_, _, err := store.Placement.PlaceOrder(ctx, first)
		require.NoError(t, err)

		bigger := draftFor(line(p.ID, "", 5))
		bigger.IdempotencyKey = first.IdempotencyKey
		bigger.IdempotencyScope = scope
		order, replayed, err := store.Placement.PlaceOrder(ctx, bigger)
		require.ErrorIs(t, err, model.ErrIdempotencyKeyReused)
		assert.Nil(t, order)
		assert.False(t, replayed)
		assert.Equal(t, model.KindIdempotencyReuse, model.KindOf(err))

		moved := draftFor(line(p.ID, "", 2))
		moved.IdempotencyKey = first.IdempotencyKey
		moved.IdempotencyScope = scope
		moved.ShippingAddress.Line1 = "2 Other Street"
		_, _, err = store.Placement.PlaceOrder(ctx, moved)
		require.ErrorIs(t, err, model.ErrIdempotencyKeyReused)

		assert.Equal(t, 8, stockOf(t, store, p.ID))
	})

	t.Run("concurrent retries with one key place one order", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		p := seedProduct(t, store, "idem-race", 12, 10)
		key := "race-" + uuid.NewString()

		const attempts = 4
		var wg sync.WaitGroup
		orders := make([]*model.Order, attempts)
		replays := make([]bool, attempts)
		errs := make([]error, attempts)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				draft := draftFor(line(p.ID, "", 2))
				draft.IdempotencyKey = key
				orders[i], replays[i], errs[i] = store.Placement.PlaceOrder(ctx, draft)
			}(i)
		}
		wg.Wait()

		fresh := 0
		for i := 0; i < attempts; i++ {
			require.NoError(t, errs[i])
			assert.Equal(t, orders[0].ID, orders[i].ID)
			if !replays[i] {
				fresh++
			}
		}
		assert.Equal(t, 1, fresh)
		assert.Equal(t, 8, stockOf(t, store, p.ID))

		events, err := store.Inventory.ListByReference(ctx, model.ReferenceOrder, orders[0].ID.String())
		require.NoError(t, err)
		assert.Len(t, events, 1)
	})

	t.Run("catalog edit keeps stock sold after the read", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		p := seedProduct(t, store, "edit-race", 30, 2)

		edit, err := store.Products.GetByID(ctx, p.ID)
		require.NoError(t, err)
		_, _, err = store.Placement.PlaceOrder(ctx, draftFor(line(p.ID, "", 2)))
		require.NoError(t, err)

		edit.Price = decimal.NewFromInt(35)
		require.NoError(t, store.Products.Update(ctx, edit, nil))
		assert.Equal(t, 0, edit.StockQuantity)
		assert.False(t, edit.InStock)
		assert.Equal(t, 0, stockOf(t, store, p.ID))

		err = store.Products.Update(ctx, edit, &StockChange{From: 2, To: 6})
		require.ErrorIs(t, err, model.ErrStockChanged)
		assert.Equal(t, 0, stockOf(t, store, p.ID))

		events, err := store.Inventory.ListByProduct(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, model.ReasonAdminAdjustment, events[0].Reason)
		assert.Equal(t, model.ReasonOrderCreated, events[1].Reason)

		require.NoError(t, store.Products.Update(ctx, edit, &StockChange{From: 0, To: 6}))
		assert.Equal(t, 6, stockOf(t, store, p.ID))
	})

	t.Run("order status and tracking", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		p := seedProduct(t, store, "status", 12, 3)

		user := &model.User{Email: uuid.NewString() + "@example.com", Password: "hash", FirstName: "Ada", LastName: "L", Role: model.RoleCustomer}
		require.NoError(t, store.Users.Create(ctx, user))

		draft := draftFor(line(p.ID, "", 1))
		draft.UserID = uuid.NullUUID{UUID: user.ID, Valid: true}
		order, _, err := store.Placement.PlaceOrder(ctx, draft)
		require.NoError(t, err)

		require.NoError(t, store.Orders.UpdateStatus(ctx, order.ID, model.OrderStatusProcessing))
		require.NoError(t, store.Orders.UpdateTracking(ctx, order.ID, "1Z999"))

		got, err := store.Orders.GetByID(ctx, order.ID)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusProcessing, got.Status)
		require.NotNil(t, got.TrackingNumber)
		assert.Equal(t, "1Z999", *got.TrackingNumber)

		orders, err := store.Orders.ListByUserID(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, order.ID, orders[0].ID)

		assert.ErrorIs(t, store.Orders.UpdateStatus(ctx, uuid.New(), model.OrderStatusShipped), model.ErrOrderNotFound)
		assert.ErrorIs(t, store.Orders.UpdateTracking(ctx, uuid.New(), "X"), model.ErrOrderNotFound)
	})

	t.Run("users reject duplicate emails", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		email := uuid.NewString() + "@example.com"

		user := &model.User{Email: email, Password: "hash", FirstName: "Grace", LastName: "H"}
		require.NoError(t, store.Users.Create(ctx, user))
		assert.Equal(t, model.RoleCustomer, user.Role)

		got, err := store.Users.GetByEmail(ctx, email)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, user.ID, got.ID)

		err = store.Users.Create(ctx, &model.User{Email: email, Password: "other", FirstName: "G", LastName: "H"})
		assert.ErrorIs(t, err, ErrEmailTaken)

		missing, err := store.Users.GetByID(ctx, uuid.New())
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}
