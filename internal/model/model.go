package model

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type User struct {
	ID        uuid.UUID
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

type Product struct {
	ID            uuid.UUID       `db:"id"`
	Name          string          `db:"name"`
	Description   string          `db:"description"`
	Price         decimal.Decimal `db:"price"`
	StockQuantity int             `db:"stock_quantity"`
	InStock       bool            `db:"in_stock"`
	Images        StringList      `db:"images"`
	Sizes         StringList      `db:"sizes"`
	Category      string          `db:"category"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

type Cart struct {
	ID        uuid.UUID     `db:"id"`
	UserID    uuid.NullUUID `db:"user_id"`
	Items     []CartItem    `db:"-"`
	CreatedAt time.Time     `db:"created_at"`
	UpdatedAt time.Time     `db:"updated_at"`
}

type CartItem struct {
	ID        uuid.UUID `db:"id"`
	CartID    uuid.UUID `db:"cart_id"`
	ProductID uuid.UUID `db:"product_id"`
	Size      string    `db:"size"`
	Quantity  int       `db:"quantity"`
	AddedAt   time.Time `db:"added_at"`
}

// CartLine is a cart item joined with the live product it references.
type CartLine struct {
	Item      CartItem
	Product   *Product
	LineTotal decimal.Decimal
}

// PricedCart is a cart with totals derived from current product prices.
type PricedCart struct {
	Cart     *Cart
	Lines    []CartLine
	Subtotal decimal.Decimal
	Tax      decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusProcessing, OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo reports whether an order in status s may move to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Order struct {
	ID              uuid.UUID
	OrderNumber     string
	UserID          uuid.NullUUID
	Items           []OrderItem
	Subtotal        decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	Total           decimal.Decimal
	Status          OrderStatus
	ShippingAddress Address
	BillingAddress  Address
	PaymentMethod   PaymentMethod
	TrackingNumber  *string
	IdempotencyKey  *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is a line of an order. Name, Price and Image are copied from the
// product at purchase time and never follow later catalog edits.
type OrderItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Image     string          `json:"image,omitempty"`
	Size      string          `json:"size,omitempty"`
	Quantity  int             `json:"quantity"`
}

type Address struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a Address) Value() (driver.Value, error) { return jsonValue(a) }
func (a *Address) Scan(src any) error         { return jsonScan(src, a) }

// PaymentMethod describes an already-captured payment; no gateway data is kept.
type PaymentMethod struct {
	Type      string `json:"type"`
	Brand     string `json:"brand,omitempty"`
	Last4     string `json:"last4,omitempty"`
	Reference string `json:"reference,omitempty"`
}

func (p PaymentMethod) Value() (driver.Value, error) { return jsonValue(p) }
func (p *PaymentMethod) Scan(src any) error         { return jsonScan(src, p) }

// OrderLine is one requested (product, size, quantity) tuple of a draft.
type OrderLine struct {
	ProductID uuid.UUID `json:"product_id"`
	Size      string    `json:"size,omitempty"`
	Quantity  int       `json:"quantity"`
}

// OrderDraft is the finalized checkout input handed to a placement backend.
type OrderDraft struct {
	OrderNumber      string
	UserID           uuid.NullUUID
	Items            []OrderLine
	Subtotal         decimal.Decimal
	Tax              decimal.Decimal
	Shipping         decimal.Decimal
	Total            decimal.Decimal
	ShippingAddress  Address
	BillingAddress   Address
	PaymentMethod    PaymentMethod
	IdempotencyKey   string
	// IdempotencyScope namespaces IdempotencyKey: the same key sent by two
	// different buyers names two different orders.
	IdempotencyScope string
}

// IdempotencyScope returns the namespace a buyer's idempotency keys live in:
// the account when there is one, else the guest cart being checked out.
// Guest orders placed without a cart share the "guest" scope.
func IdempotencyScope(userID, cartID uuid.NullUUID) string {
	switch {
	case userID.Valid:
		return "user:" + userID.UUID.String()
	case cartID.Valid:
		return "cart:" + cartID.UUID.String()
	default:
		return "guest"
	}
}

// MatchesDraft reports whether o is what placing d would have produced, so a
// repeated idempotency key may answer d with o. Prices are not compared since
// the catalog may have moved between the two requests.
func (o *Order) MatchesDraft(d OrderDraft) bool {
	if o.UserID != d.UserID || len(o.Items) != len(d.Items) {
		return false
	}
	for i, item := range o.Items {
		line := d.Items[i]
		if item.ProductID != line.ProductID || item.Size != line.Size || item.Quantity != line.Quantity {
			return false
		}
	}
	return o.ShippingAddress == d.ShippingAddress &&
		o.BillingAddress == d.BillingAddress &&
		o.PaymentMethod == d.PaymentMethod
}

// StockRequest is the quantity requested for one product across all draft lines.
type StockRequest struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

// AggregateLines merges draft lines by product and returns them ordered by
// product id, so every backend locks and decrements products in the same order.
func AggregateLines(lines []OrderLine) []StockRequest {
	totals := make(map[uuid.UUID]int, len(lines))
	for _, l := range lines {
		totals[l.ProductID] += l.Quantity
	}
	reqs := make([]StockRequest, 0, len(totals))
	for id, qty := range totals {
		reqs = append(reqs, StockRequest{ProductID: id, Quantity: qty})
	}
	slices.SortFunc(reqs, func(a, b StockRequest) int {
		return bytes.Compare(a.ProductID[:], b.ProductID[:])
	})
	return reqs
}

const (
	ReasonOrderCreated    = "order_created"
	ReasonAdminAdjustment = "admin_adjustment"

	ReferenceOrder   = "order"
	ReferenceProduct = "product"
)

type InventoryEvent struct {
	ID               uuid.UUID  `db:"id"`
	ProductID        uuid.UUID  `db:"product_id"`
	Delta            int        `db:"delta"`
	PreviousQuantity int        `db:"previous_quantity"`
	NewQuantity      int        `db:"new_quantity"`
	Reason           string     `db:"reason"`
	ReferenceType    string     `db:"reference_type"`
	ReferenceID      string     `db:"reference_id"`
	Context          Attributes `db:"context"`
	CreatedAt        time.Time  `db:"created_at"`
}

// ReplayStock folds ledger deltas in order on top of initial.
func ReplayStock(initial int, events []InventoryEvent) int {
	qty := initial
	for _, e := range events {
		qty += e.Delta
	}
	return qty
}

type OrderMessage struct {
	OrderID     uuid.UUID     `json:"order_id"`
	OrderNumber string        `json:"order_number"`
	UserID      uuid.NullUUID `json:"user_id"`
}

// Attributes is free-form event context stored as a JSON object.
type Attributes map[string]string

func (a Attributes) Value() (driver.Value, error) {
	if a == nil {
		return "{}", nil
	}
	return jsonValue(a)
}

func (a *Attributes) Scan(src any) error { return jsonScan(src, a) }

// StringList is stored as a JSON array in both stores.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return jsonValue(l)
}

func (l *StringList) Scan(src any) error { return jsonScan(src, l) }

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func jsonScan(src any, dst any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, dst)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}
}
