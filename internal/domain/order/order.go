package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/lascentlo/internal/domain/notify"
)

// Size is the immutable snapshot of the purchased variant, including the
// price charged at checkout.
type Size struct {
	Value int
	Unit  string
	Price decimal.Decimal
}

// LineItem is one ordered size variant.
type LineItem struct {
	ProductID string
	Name      string
	Size      Size
	Quantity  int
}

// Amount returns price * quantity.
func (li LineItem) Amount() decimal.Decimal {
	return li.Size.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Address is a shipping destination.
type Address struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
}

// Payment is the order's payment sub-record. IntentID is the processor intent
// issued at checkout; TransactionID is set once that intent settles.
type Payment struct {
	Method        PaymentMethod
	IntentID      string
	TransactionID string
	Status        PaymentStatus
}

// Order is a customer purchase with its embedded line items and payment.
type Order struct {
	ID                string
	UserID            string
	CustomerEmail     string
	Items             []LineItem
	ShippingAddress   Address
	Payment           Payment
	Status            Status
	Subtotal          decimal.Decimal
	ShippingCost      decimal.Decimal
	Tax               decimal.Decimal
	Total             decimal.Decimal
	TrackingNumber    string
	EstimatedDelivery *time.Time
	Version           int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Seal recomputes Total from its components. Repositories call it before
// every write.
func (o *Order) Seal() {
	o.Total = o.Subtotal.Add(o.ShippingCost).Add(o.Tax)
}

// OwnedBy reports whether userID placed the order.
func (o *Order) OwnedBy(userID string) bool {
	return o.UserID == userID
}

// TransitionTo moves the order to next if the transition table allows it.
// Shipping assigns a tracking number and a delivery estimate.
func (o *Order) TransitionTo(next Status, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return &InvalidTransitionError{From: o.Status, To: next}
	}
	o.Status = next
	if next == StatusShipped {
		eta := now.Add(deliveryWindow)
		o.TrackingNumber = fmt.Sprintf("LSCT%d", now.UnixMilli())
		o.EstimatedDelivery = &eta
	}
	return nil
}

const deliveryWindow = 7 * 24 * time.Hour

// Sentinel errors for order operations.
var (
	ErrNotFound          = errors.New("order not found")
	ErrEmptyItems        = errors.New("items required")
	ErrForbidden         = errors.New("order belongs to another user")
	ErrConcurrentUpdate  = errors.New("order was modified concurrently")
	ErrAlreadyPaid       = errors.New("order already paid with a different payment intent")
	ErrIntentMismatch    = errors.New("payment intent does not belong to order")
	ErrPaymentNotSettled = errors.New("payment not settled")
	ErrInvalidMethod     = errors.New("invalid payment method")
)

// ProductNotFoundError indicates a requested product does not exist.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InvalidSizeError indicates the product has no variant with the requested
// (value, unit).
type InvalidSizeError struct {
	ProductID string
	Name      string
	Value     int
	Unit      string
}

func (e *InvalidSizeError) Error() string {
	return fmt.Sprintf("invalid size %d%s for product %s", e.Value, e.Unit, e.Name)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	ProductID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for product %s", e.ProductID)
}

// InsufficientStockError is returned at checkout when the requested quantity
// exceeds the variant's current stock.
type InsufficientStockError struct {
	ProductID string
	Name      string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.Name, e.Requested, e.Available)
}

// StockExhaustedError is returned at payment confirmation when the
// conditional decrement fails because stock ran out after checkout.
type StockExhaustedError struct {
	ProductID string
	Value     int
	Unit      string
}

func (e *StockExhaustedError) Error() string {
	return fmt.Sprintf("stock exhausted for product %s size %d%s", e.ProductID, e.Value, e.Unit)
}

// Repository defines persistence operations for orders. Every write bumps
// Version and fails with ErrConcurrentUpdate if the stored version differs.
type Repository interface {
	// Create stores a new order together with evt in one transaction.
	Create(ctx context.Context, o *Order, evt notify.Event) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// List returns every order, optionally restricted to one status.
	List(ctx context.Context, status Status) ([]Order, error)
	// Update persists o and any events atomically.
	Update(ctx context.Context, o *Order, events ...notify.Event) error
	// Finalize decrements stock for every line item only where enough stock
	// remains, then persists o and evt, all in one transaction. It returns a
	// *StockExhaustedError without applying anything if any decrement fails.
	Finalize(ctx context.Context, o *Order, evt notify.Event) error
}
