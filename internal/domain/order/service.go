package order

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/lascentlo/internal/domain/notify"
	"github.com/xenking/lascentlo/internal/domain/payment"
	"github.com/xenking/lascentlo/internal/domain/product"
)

const (
	defaultPaymentTimeout = 10 * time.Second
	defaultCurrency       = "usd"
	maxParallelFetches    = 8
)

// Catalog is the read side of the product store used during checkout.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*product.Product, error)
}

// Contacts resolves the current email address of a customer.
type Contacts interface {
	ContactEmail(ctx context.Context, userID string) (string, error)
}

// Requester identifies who is acting on an order.
type Requester struct {
	UserID string
	Email  string
	Admin  bool
}

// CartItem is one requested line of a checkout.
type CartItem struct {
	ProductID string
	Value     int
	Unit      string
	Quantity  int
}

// CheckoutRequest holds the input for placing an order.
type CheckoutRequest struct {
	Items           []CartItem
	ShippingAddress Address
	PaymentMethod   PaymentMethod
}

// CheckoutResult is a persisted pending order plus the client secret the
// customer needs to complete payment.
type CheckoutResult struct {
	Order        *Order
	ClientSecret string
}

// Option configures a Service.
type Option func(*Service)

// WithPricing overrides the tax and shipping policy.
func WithPricing(p Pricing) Option {
	return func(s *Service) { s.pricing = p }
}

// WithPaymentTimeout bounds every payment processor call.
func WithPaymentTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.paymentTimeout = d
		}
	}
}

// WithCurrency sets the ISO currency code intents are created in.
func WithCurrency(c string) Option {
	return func(s *Service) {
		if c != "" {
			s.currency = c
		}
	}
}

// WithContacts makes checkout record the customer's stored email instead of
// the one carried by the caller's token.
func WithContacts(c Contacts) Option {
	return func(s *Service) { s.contacts = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider sets the tracer provider used for service spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("lascentlo/order") }
}

// WithMeterProvider sets the meter provider used for order counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meter = mp.Meter("lascentlo/order") }
}

// Service encapsulates checkout, payment confirmation and fulfilment.
type Service struct {
	catalog   Catalog
	orders    Repository
	processor payment.Processor
	contacts  Contacts

	pricing        Pricing
	paymentTimeout time.Duration
	currency       string
	now            func() time.Time

	tracer      trace.Tracer
	meter       metric.Meter
	placed      metric.Int64Counter
	confirmed   metric.Int64Counter
	exhausted   metric.Int64Counter
	transitions metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	catalog Catalog,
	orders Repository,
	processor payment.Processor,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		catalog:        catalog,
		orders:         orders,
		processor:      processor,
		pricing:        DefaultPricing(),
		paymentTimeout: defaultPaymentTimeout,
		currency:       defaultCurrency,
		now:            time.Now,
		tracer:         tracenoop.NewTracerProvider().Tracer("lascentlo/order"),
		meter:          metricnoop.NewMeterProvider().Meter("lascentlo/order"),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	if s.placed, err = s.meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders created at checkout")); err != nil {
		return nil, errors.Wrap(err, "orders.placed counter")
	}
	if s.confirmed, err = s.meter.Int64Counter("orders.payment_confirmed",
		metric.WithDescription("Orders whose payment was confirmed")); err != nil {
		return nil, errors.Wrap(err, "orders.payment_confirmed counter")
	}
	if s.exhausted, err = s.meter.Int64Counter("orders.stock_exhausted",
		metric.WithDescription("Confirmations rejected because stock ran out")); err != nil {
		return nil, errors.Wrap(err, "orders.stock_exhausted counter")
	}
	if s.transitions, err = s.meter.Int64Counter("orders.status_transitions",
		metric.WithDescription("Administrative status changes")); err != nil {
		return nil, errors.Wrap(err, "orders.status_transitions counter")
	}
	return s, nil
}

// Checkout validates the cart against current catalog state, prices it,
// creates a payment intent and persists a pending order. Nothing is stored
// if any step fails.
func (s *Service) Checkout(ctx context.Context, who Requester, req CheckoutRequest) (_ *CheckoutResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.Checkout")
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
		}
		span.End()
	}()

	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if !req.PaymentMethod.Valid() {
		return nil, ErrInvalidMethod
	}
	for i := range req.Items {
		if req.Items[i].Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: req.Items[i].ProductID}
		}
		if req.Items[i].Unit == "" {
			req.Items[i].Unit = product.DefaultUnit
		}
	}

	products, err := s.fetchProducts(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	type variantKey struct {
		productID string
		value     int
		unit      string
	}
	demand := make(map[variantKey]int, len(req.Items))
	items := make([]LineItem, 0, len(req.Items))
	subtotal := decimal.Zero
	for _, ci := range req.Items {
		p := products[ci.ProductID]
		v, ok := p.Size(ci.Value, ci.Unit)
		if !ok {
			return nil, &InvalidSizeError{ProductID: p.ID, Name: p.Name, Value: ci.Value, Unit: ci.Unit}
		}
		key := variantKey{productID: p.ID, value: v.Value, unit: v.Unit}
		demand[key] += ci.Quantity
		if v.Stock < demand[key] {
			return nil, &InsufficientStockError{
				ProductID: p.ID,
				Name:      p.Name,
				Requested: demand[key],
				Available: v.Stock,
			}
		}
		li := LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Size:      Size{Value: v.Value, Unit: v.Unit, Price: v.Price},
			Quantity:  ci.Quantity,
		}
		subtotal = subtotal.Add(li.Amount())
		items = append(items, li)
	}

	email, err := s.customerEmail(ctx, who)
	if err != nil {
		return nil, err
	}

	totals := s.pricing.Compute(subtotal)
	now := s.now().UTC()
	o := &Order{
		ID:              uuid.New().String(),
		UserID:          who.UserID,
		CustomerEmail:   email,
		Items:           items,
		ShippingAddress: req.ShippingAddress,
		Payment:         Payment{Method: req.PaymentMethod, Status: PaymentPending},
		Status:          StatusPending,
		Subtotal:        totals.Subtotal,
		ShippingCost:    totals.ShippingCost,
		Tax:             totals.Tax,
		Total:           totals.Total,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var intent *payment.Intent
	if err := s.callProcessor(ctx, func(ctx context.Context) (err error) {
		intent, err = s.processor.CreateIntent(ctx, payment.CreateIntentParams{
			Amount:   payment.ToMinorUnits(o.Total),
			Currency: s.currency,
			Metadata: map[string]string{
				"integration_check": payment.IntegrationMarker,
				"order_id":          o.ID,
			},
		})
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "create payment intent")
	}
	o.Payment.IntentID = intent.ID

	evt := notify.NewEvent(notify.OrderConfirmation, o.CustomerEmail, o.ID, map[string]any{
		"orderId": o.ID,
		"total":   o.Total.StringFixed(2),
		"items":   len(o.Items),
	})
	if err := s.orders.Create(ctx, o, evt); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	s.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("payment.method", string(o.Payment.Method))))
	return &CheckoutResult{Order: o, ClientSecret: intent.ClientSecret}, nil
}

// fetchProducts loads every distinct product in the cart concurrently.
// Missing and deactivated products are reported as ProductNotFoundError.
func (s *Service) fetchProducts(ctx context.Context, items []CartItem) (map[string]*product.Product, error) {
	seen := make(map[string]struct{}, len(items))
	ids := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}

	var (
		mu  sync.Mutex
		out = make(map[string]*product.Product, len(ids))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for _, id := range ids {
		g.Go(func() error {
			p, err := s.catalog.GetByID(gctx, id)
			switch {
			case errors.Is(err, product.ErrNotFound):
				return &ProductNotFoundError{ProductID: id}
			case err != nil:
				return errors.Wrapf(err, "get product %s", id)
			case !p.Active:
				return &ProductNotFoundError{ProductID: id}
			}
			mu.Lock()
			out[id] = p
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// callProcessor runs fn under the payment timeout and classifies failures as
// payment.ErrUnavailable (retryable) or payment.ErrProcessor.
func (s *Service) callProcessor(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.paymentTimeout)
	defer cancel()

	err := fn(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payment.ErrUnavailable), errors.Is(err, payment.ErrProcessor):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", payment.ErrUnavailable, err)
	default:
		return fmt.Errorf("%w: %w", payment.ErrProcessor, err)
	}
}

// customerEmail returns the address notifications for who's orders go to.
// Tokens outlive profile edits, so the stored account wins when known.
func (s *Service) customerEmail(ctx context.Context, who Requester) (string, error) {
	if s.contacts == nil {
		return who.Email, nil
	}
	email, err := s.contacts.ContactEmail(ctx, who.UserID)
	if err != nil {
		return "", errors.Wrap(err, "resolve customer email")
	}
	if email == "" {
		return who.Email, nil
	}
	return email, nil
}

// ConfirmPayment verifies the intent with the processor and, when it has
// settled, atomically decrements stock and moves the order to processing.
// Repeating a successful confirmation returns the order unchanged.
func (s *Service) ConfirmPayment(ctx context.Context, who Requester, orderID, intentID string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.ConfirmPayment", trace.WithAttributes(
		attribute.String("order.id", orderID),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
		}
		span.End()
	}()

	o, err := s.getAuthorized(ctx, who, orderID)
	if err != nil {
		return nil, err
	}

	if o.Payment.Status == PaymentCompleted {
		if o.Payment.TransactionID == intentID {
			return o, nil
		}
		return nil, ErrAlreadyPaid
	}
	if o.Status != StatusPending {
		return nil, &InvalidTransitionError{From: o.Status, To: StatusProcessing}
	}
	if o.Payment.IntentID != "" && o.Payment.IntentID != intentID {
		return nil, ErrIntentMismatch
	}

	var intent *payment.Intent
	if err := s.callProcessor(ctx, func(ctx context.Context) (err error) {
		intent, err = s.processor.GetIntent(ctx, intentID)
		return err
	}); err != nil {
		return nil, errors.Wrap(err, "get payment intent")
	}

	now := s.now().UTC()
	if !intent.Settled() {
		o.Payment.Status = PaymentFailed
		o.UpdatedAt = now
		if err := s.orders.Update(ctx, o); err != nil {
			return nil, errors.Wrap(err, "record failed payment")
		}
		return nil, ErrPaymentNotSettled
	}

	paid := *o
	paid.Payment.Status = PaymentCompleted
	paid.Payment.TransactionID = intentID
	paid.Status = StatusProcessing
	paid.UpdatedAt = now
	evt := notify.NewEvent(notify.PaymentConfirmation, o.CustomerEmail, o.ID, map[string]any{
		"orderId":       o.ID,
		"transactionId": intentID,
		"total":         o.Total.StringFixed(2),
	})

	err = s.orders.Finalize(ctx, &paid, evt)
	var exhausted *StockExhaustedError
	switch {
	case err == nil:
		s.confirmed.Add(ctx, 1)
		return &paid, nil
	case errors.Is(err, ErrConcurrentUpdate):
		// A racing confirmation of the same intent may have won.
		current, gerr := s.orders.GetByID(ctx, orderID)
		if gerr != nil {
			return nil, errors.Wrap(gerr, "reload order")
		}
		if current.Payment.Status == PaymentCompleted && current.Payment.TransactionID == intentID {
			return current, nil
		}
		return nil, err
	case errors.As(err, &exhausted):
		s.exhausted.Add(ctx, 1)
		if cerr := s.cancelForRefund(ctx, o, intentID, exhausted, now); cerr != nil {
			return nil, errors.Wrap(cerr, "cancel exhausted order")
		}
		return nil, err
	default:
		return nil, errors.Wrap(err, "finalize order")
	}
}

// cancelForRefund cancels o after its payment settled but stock could not be
// reserved, and queues a refund request for the settled intent.
func (s *Service) cancelForRefund(ctx context.Context, o *Order, intentID string, cause *StockExhaustedError, now time.Time) error {
	o.Status = StatusCancelled
	o.Payment.Status = PaymentFailed
	o.Payment.TransactionID = intentID
	o.UpdatedAt = now
	evt := notify.NewEvent(notify.RefundRequired, o.CustomerEmail, o.ID, map[string]any{
		"orderId":         o.ID,
		"paymentIntentId": intentID,
		"amount":          o.Total.StringFixed(2),
		"reason":          cause.Error(),
	})
	return s.orders.Update(ctx, o, evt)
}

// UpdateStatus applies an administrative status change.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, next Status) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.UpdateStatus", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status", string(next)),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
		}
		span.End()
	}()

	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := o.Status
	now := s.now().UTC()
	if err := o.TransitionTo(next, now); err != nil {
		return nil, err
	}
	o.UpdatedAt = now

	var events []notify.Event
	if next == StatusShipped {
		events = append(events, notify.NewEvent(notify.ShippingUpdate, o.CustomerEmail, o.ID, map[string]any{
			"orderId":           o.ID,
			"trackingNumber":    o.TrackingNumber,
			"estimatedDelivery": o.EstimatedDelivery.Format(time.RFC3339),
		}))
	}
	if err := s.orders.Update(ctx, o, events...); err != nil {
		return nil, errors.Wrapf(err, "update order %s", o.ID)
	}

	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(next)),
	))
	return o, nil
}

// Get returns an order visible to who.
func (s *Service) Get(ctx context.Context, who Requester, orderID string) (*Order, error) {
	return s.getAuthorized(ctx, who, orderID)
}

// ListMine returns the requester's orders, newest first.
func (s *Service) ListMine(ctx context.Context, who Requester) ([]Order, error) {
	orders, err := s.orders.ListByUser(ctx, who.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	sortNewestFirst(orders)
	return orders, nil
}

// ListAll returns every order, optionally filtered by status. An empty
// status lists all.
func (s *Service) ListAll(ctx context.Context, status Status) ([]Order, error) {
	orders, err := s.orders.List(ctx, status)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	sortNewestFirst(orders)
	return orders, nil
}

func (s *Service) getAuthorized(ctx context.Context, who Requester, orderID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !who.Admin && !o.OwnedBy(who.UserID) {
		return nil, ErrForbidden
	}
	return o, nil
}

func sortNewestFirst(orders []Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
}
