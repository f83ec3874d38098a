package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/flicky/storefront/internal/model"
)

// OrderPlacementBackend places an order and reserves its stock as a single
// all-or-nothing unit. Implementations return *model.ProductNotFoundError and
// *model.InsufficientStockError for the two business failures and leave no
// trace of the attempt when any error is returned.
//
// A draft whose idempotency key already names an order in the same scope is
// answered with that order and replayed set, without touching stock. If the
// stored order does not match the draft, model.ErrIdempotencyKeyReused is
// returned instead.
type OrderPlacementBackend interface {
	PlaceOrder(ctx context.Context, draft model.OrderDraft) (order *model.Order, replayed bool, err error)
}

const (
	sqlStateProductNotFound   = "SF001"
	sqlStateInsufficientStock = "SF002"
	sqlStateUniqueViolation   = "23505"

	idempotencyConstraint = "orders_idempotency_key"
)

// pgPlacement pushes the whole read-check-write-log-insert sequence into the
// place_order function so concurrent instances are serialised by row locks
// on the server, never by a client-side read followed by a write.
type pgPlacement struct {
	pool   *pgxpool.Pool
	orders OrderRepository
}

func NewPlacementBackend(pool *pgxpool.Pool) OrderPlacementBackend {
	return &pgPlacement{pool: pool, orders: NewOrderRepository(pool)}
}

type placeOrderPayload struct {
	ID               uuid.UUID           `json:"id"`
	OrderNumber      string              `json:"order_number"`
	UserID           string              `json:"user_id"`
	Items            []model.OrderLine   `json:"items"`
	Subtotal         decimal.Decimal     `json:"subtotal"`
	Tax              decimal.Decimal     `json:"tax"`
	Shipping         decimal.Decimal     `json:"shipping"`
	Total            decimal.Decimal     `json:"total"`
	ShippingAddress  model.Address       `json:"shipping_address"`
	BillingAddress   model.Address       `json:"billing_address"`
	PaymentMethod    model.PaymentMethod `json:"payment_method"`
	IdempotencyKey   string              `json:"idempotency_key"`
	IdempotencyScope string              `json:"idempotency_scope"`
}

func (p *pgPlacement) PlaceOrder(ctx context.Context, draft model.OrderDraft) (*model.Order, bool, error) {
	payload := placeOrderPayload{
		ID:               uuid.New(),
		OrderNumber:      draft.OrderNumber,
		Items:            draft.Items,
		Subtotal:         draft.Subtotal,
		Tax:              draft.Tax,
		Shipping:         draft.Shipping,
		Total:            draft.Total,
		ShippingAddress:  draft.ShippingAddress,
		BillingAddress:   draft.BillingAddress,
		PaymentMethod:    draft.PaymentMethod,
		IdempotencyKey:   draft.IdempotencyKey,
		IdempotencyScope: draftScope(draft),
	}
	if draft.UserID.Valid {
		payload.UserID = draft.UserID.UUID.String()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, false, fmt.Errorf("encode order: %w", err)
	}

	var orderID uuid.UUID
	var replayed bool
	err = p.pool.QueryRow(ctx, `SELECT placed_id, was_replayed FROM place_order($1::jsonb)`, body).
		Scan(&orderID, &replayed)
	if err != nil {
		if translated := translatePlacementError(err); translated != nil {
			return nil, false, translated
		}
		if draft.IdempotencyKey == "" || !isIdempotencyConflict(err) {
			return nil, false, fmt.Errorf("place order: %w", err)
		}
		// Another request with the same key won the unique index and this
		// one was rolled back entirely.
		order, err := p.orders.GetByIdempotencyKey(ctx, payload.IdempotencyScope, draft.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		if order == nil {
			return nil, false, fmt.Errorf("order for idempotency key %q not readable", draft.IdempotencyKey)
		}
		return replayOf(order, draft)
	}

	order, err := p.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, false, err
	}
	if order == nil {
		return nil, false, fmt.Errorf("placed order %s not readable", orderID)
	}
	if replayed {
		return replayOf(order, draft)
	}
	return order, false, nil
}

// replayOf answers draft with the order already stored under its key.
func replayOf(order *model.Order, draft model.OrderDraft) (*model.Order, bool, error) {
	if !order.MatchesDraft(draft) {
		return nil, false, model.ErrIdempotencyKeyReused
	}
	return order, true, nil
}

// draftScope returns the scope the draft's idempotency key is stored under,
// or "" when the draft carries no key.
func draftScope(draft model.OrderDraft) string {
	if draft.IdempotencyKey == "" {
		return ""
	}
	if draft.IdempotencyScope != "" {
		return draft.IdempotencyScope
	}
	return model.IdempotencyScope(draft.UserID, uuid.NullUUID{})
}

type placementErrorDetail struct {
	ProductID uuid.UUID `json:"product_id"`
	Available int       `json:"available"`
	Requested int       `json:"requested"`
}

// translatePlacementError maps the SQLSTATEs raised by place_order onto the
// same error types the embedded backend returns. It returns nil for anything
// else so the caller propagates the original error.
func translatePlacementError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	if pgErr.Code != sqlStateProductNotFound && pgErr.Code != sqlStateInsufficientStock {
		return nil
	}

	var detail placementErrorDetail
	if jsonErr := json.Unmarshal([]byte(pgErr.Detail), &detail); jsonErr != nil {
		return fmt.Errorf("decode %s detail %q: %w", pgErr.Message, pgErr.Detail, jsonErr)
	}
	if pgErr.Code == sqlStateProductNotFound {
		return &model.ProductNotFoundError{ProductID: detail.ProductID}
	}
	return &model.InsufficientStockError{
		ProductID: detail.ProductID,
		Available: detail.Available,
		Requested: detail.Requested,
	}
}

func isIdempotencyConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == sqlStateUniqueViolation &&
		pgErr.ConstraintName == idempotencyConstraint
}
