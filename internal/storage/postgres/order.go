package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/lascentlo/internal/domain/notify"
	"github.com/xenking/lascentlo/internal/domain/order"
)

const (
	orderColumns = `id, user_id, customer_email, items, shipping_address, payment_method,
		payment_intent_id, payment_transaction_id, payment_status, status,
		subtotal, shipping_cost, tax, total, tracking_number, estimated_delivery,
		version, created_at, updated_at`

	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	listOrdersByUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC`

	updateOrderSQL = `UPDATE orders SET
		payment_transaction_id = $3, payment_status = $4, status = $5,
		subtotal = $6, shipping_cost = $7, tax = $8, total = $9,
		tracking_number = $10, estimated_delivery = $11, updated_at = $12,
		version = version + 1
		WHERE id = $1 AND version = $2`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	reserveStockSQL = `UPDATE product_sizes SET stock = stock - $4
		WHERE product_id = $1 AND value = $2 AND unit = $3 AND stock >= $4`
)

// lineItemJSON is the stored shape of an order line item.
type lineItemJSON struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Value     int             `json:"value"`
	Unit      string          `json:"unit"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type addressJSON struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order and its confirmation event. Line items and the
// shipping address are serialized to JSON for the JSONB columns.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, evt notify.Event) error {
	o.Seal()
	items, addr, err := marshalOrder(o)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, insertOrderSQL,
			o.ID, o.UserID, o.CustomerEmail, items, addr, string(o.Payment.Method),
			o.Payment.IntentID, o.Payment.TransactionID, string(o.Payment.Status), string(o.Status),
			o.Subtotal, o.ShippingCost, o.Tax, o.Total, o.TrackingNumber, o.EstimatedDelivery,
			o.Version, o.CreatedAt, o.UpdatedAt,
		); err != nil {
			return err
		}
		return insertEvent(ctx, tx, evt)
	})
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// GetByID returns a single order.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		if isMalformedID(err) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isMalformedID(err) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersByUserSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", userID, err)
	}
	return orders, nil
}

// List returns all orders, newest first. An empty status matches every order.
func (r *OrderRepository) List(ctx context.Context, status order.Status) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return orders, nil
}

// Update persists the mutable fields of o if its version is current and
// appends events in the same transaction.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order, events ...notify.Event) error {
	o.Seal()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := updateOrder(ctx, tx, o); err != nil {
			return err
		}
		for _, evt := range events {
			if err := insertEvent(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, order.ErrNotFound) || errors.Is(err, order.ErrConcurrentUpdate) {
			return err
		}
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	o.Version++
	return nil
}

// Finalize reserves stock for every line item with conditional decrements,
// then updates the order and appends evt. Nothing is applied if any variant
// lacks stock.
func (r *OrderRepository) Finalize(ctx context.Context, o *order.Order, evt notify.Event) error {
	o.Seal()
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, d := range stockDemand(o.Items) {
			tag, err := tx.Exec(ctx, reserveStockSQL, d.productID, d.value, d.unit, d.quantity)
			if err != nil {
				return fmt.Errorf("reserving stock for %q: %w", d.productID, err)
			}
			if tag.RowsAffected() == 0 {
				return &order.StockExhaustedError{ProductID: d.productID, Value: d.value, Unit: d.unit}
			}
		}
		if err := updateOrder(ctx, tx, o); err != nil {
			return err
		}
		return insertEvent(ctx, tx, evt)
	})
	if err != nil {
		var exhausted *order.StockExhaustedError
		if errors.As(err, &exhausted) || errors.Is(err, order.ErrNotFound) || errors.Is(err, order.ErrConcurrentUpdate) {
			return err
		}
		return fmt.Errorf("finalizing order %q: %w", o.ID, err)
	}
	o.Version++
	return nil
}

type demand struct {
	productID string
	value     int
	unit      string
	quantity  int
}

// stockDemand sums quantities per variant and orders them by key so
// concurrent finalizations acquire row locks in the same order.
func stockDemand(items []order.LineItem) []demand {
	byKey := make(map[[2]string]*demand, len(items))
	out := make([]*demand, 0, len(items))
	for _, li := range items {
		key := [2]string{li.ProductID, fmt.Sprintf("%d%s", li.Size.Value, li.Size.Unit)}
		if d, ok := byKey[key]; ok {
			d.quantity += li.Quantity
			continue
		}
		d := &demand{productID: li.ProductID, value: li.Size.Value, unit: li.Size.Unit, quantity: li.Quantity}
		byKey[key] = d
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].productID != out[j].productID {
			return out[i].productID < out[j].productID
		}
		if out[i].value != out[j].value {
			return out[i].value < out[j].value
		}
		return out[i].unit < out[j].unit
	})
	res := make([]demand, len(out))
	for i, d := range out {
		res[i] = *d
	}
	return res
}

func updateOrder(ctx context.Context, tx pgx.Tx, o *order.Order) error {
	tag, err := tx.Exec(ctx, updateOrderSQL,
		o.ID, o.Version,
		o.Payment.TransactionID, string(o.Payment.Status), string(o.Status),
		o.Subtotal, o.ShippingCost, o.Tax, o.Total,
		o.TrackingNumber, o.EstimatedDelivery, o.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := tx.QueryRow(ctx, orderExistsSQL, o.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return order.ErrNotFound
	}
	return order.ErrConcurrentUpdate
}

func marshalOrder(o *order.Order) (items, addr []byte, err error) {
	rows := make([]lineItemJSON, len(o.Items))
	for i, li := range o.Items {
		rows[i] = lineItemJSON{
			ProductID: li.ProductID,
			Name:      li.Name,
			Value:     li.Size.Value,
			Unit:      li.Size.Unit,
			Price:     li.Size.Price,
			Quantity:  li.Quantity,
		}
	}
	if items, err = json.Marshal(rows); err != nil {
		return nil, nil, fmt.Errorf("marshaling order items: %w", err)
	}
	a := o.ShippingAddress
	if addr, err = json.Marshal(addressJSON(a)); err != nil {
		return nil, nil, fmt.Errorf("marshaling shipping address: %w", err)
	}
	return items, addr, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                             order.Order
		items, addr                   []byte
		method, paymentStatus, status string
		estimatedDelivery             *time.Time
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.CustomerEmail, &items, &addr, &method,
		&o.Payment.IntentID, &o.Payment.TransactionID, &paymentStatus, &status,
		&o.Subtotal, &o.ShippingCost, &o.Tax, &o.Total, &o.TrackingNumber, &estimatedDelivery,
		&o.Version, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return order.Order{}, err
	}
	o.Payment.Method = order.PaymentMethod(method)
	o.Payment.Status = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)
	o.EstimatedDelivery = estimatedDelivery

	var rows []lineItemJSON
	if err := json.Unmarshal(items, &rows); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling items of %q: %w", o.ID, err)
	}
	o.Items = make([]order.LineItem, len(rows))
	for i, r := range rows {
		o.Items[i] = order.LineItem{
			ProductID: r.ProductID,
			Name:      r.Name,
			Size:      order.Size{Value: r.Value, Unit: r.Unit, Price: r.Price},
			Quantity:  r.Quantity,
		}
	}
	var a addressJSON
	if err := json.Unmarshal(addr, &a); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling address of %q: %w", o.ID, err)
	}
	o.ShippingAddress = order.Address(a)
	return o, nil
}
