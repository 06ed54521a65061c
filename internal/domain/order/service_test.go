package order

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/lascentlo/internal/domain/notify"
	"github.com/xenking/lascentlo/internal/domain/payment"
	"github.com/xenking/lascentlo/internal/domain/product"
)

// --- Mock implementations ---

// memStore backs both the catalog and the order repository so Finalize can
// decrement the same stock checkout reads.
type memStore struct {
	mu       sync.Mutex
	products map[string]*product.Product
	orders   map[string]*Order
	events   []notify.Event

	createErr   error
	finalizeErr error
	finalized   int
	// onFinalize runs against the stored order before Finalize applies.
	onFinalize func(stored *Order)
}

func newMemStore(products ...product.Product) *memStore {
	s := &memStore{
		products: make(map[string]*product.Product, len(products)),
		orders:   make(map[string]*Order),
	}
	for i := range products {
		p := products[i]
		s.products[p.ID] = &p
	}
	return s
}

func (m *memStore) GetByID(_ context.Context, id string) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	cp := *p
	cp.Sizes = append([]product.SizeVariant(nil), p.Sizes...)
	return &cp, nil
}

func (m *memStore) stock(productID string, value int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.products[productID].Sizes {
		if v.Value == value {
			return v.Stock
		}
	}
	return -1
}

type memOrders struct{ *memStore }

func (m memOrders) Create(_ context.Context, o *Order, evt notify.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	o.Seal()
	cp := *o
	m.orders[o.ID] = &cp
	m.events = append(m.events, evt)
	return nil
}

func (m memOrders) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m memOrders) ListByUser(_ context.Context, userID string) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m memOrders) List(_ context.Context, status Status) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if status == "" || o.Status == status {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (m memOrders) update(o *Order) error {
	stored, ok := m.orders[o.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != o.Version {
		return ErrConcurrentUpdate
	}
	o.Seal()
	o.Version++
	cp := *o
	m.orders[o.ID] = &cp
	return nil
}

func (m memOrders) Update(_ context.Context, o *Order, events ...notify.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.update(o); err != nil {
		return err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m memOrders) Finalize(_ context.Context, o *Order, evt notify.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	if m.onFinalize != nil {
		m.onFinalize(m.orders[o.ID])
	}

	// Check every decrement before applying any of them.
	type ref struct {
		p   *product.Product
		idx int
	}
	refs := make([]ref, 0, len(o.Items))
	for _, li := range o.Items {
		p := m.products[li.ProductID]
		idx := -1
		for i, v := range p.Sizes {
			if v.Matches(li.Size.Value, li.Size.Unit) && v.Stock >= li.Quantity {
				idx = i
			}
		}
		if idx < 0 {
			return &StockExhaustedError{ProductID: li.ProductID, Value: li.Size.Value, Unit: li.Size.Unit}
		}
		refs = append(refs, ref{p: p, idx: idx})
	}
	if err := m.update(o); err != nil {
		return err
	}
	for i, r := range refs {
		r.p.Sizes[r.idx].Stock -= o.Items[i].Quantity
	}
	m.events = append(m.events, evt)
	m.finalized++
	return nil
}

func (m *memStore) eventTypes() []notify.Type {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]notify.Type, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

type mockProcessor struct {
	mu      sync.Mutex
	status  payment.IntentStatus
	err     error
	block   bool
	created []payment.CreateIntentParams
}

func (m *mockProcessor) CreateIntent(ctx context.Context, p payment.CreateIntentParams) (*payment.Intent, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	m.created = append(m.created, p)
	m.mu.Unlock()
	return &payment.Intent{ID: "pi_123", ClientSecret: "pi_123_secret", Amount: p.Amount}, nil
}

func (m *mockProcessor) GetIntent(ctx context.Context, id string) (*payment.Intent, error) {
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return &payment.Intent{ID: id, Status: m.status}, nil
}

// --- Helpers ---

var (
	customer = Requester{UserID: "u1", Email: "jane@example.com"}
	admin    = Requester{UserID: "admin", Admin: true}
	address  = Address{Street: "1 Rue", City: "Paris", PostalCode: "75001", Country: "FR"}
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newPerfume(id, price string, stock int) product.Product {
	return product.Product{
		ID:       id,
		Name:     "Perfume " + id,
		Price:    dec(price),
		Category: product.CategoryWoody,
		Active:   true,
		Sizes: []product.SizeVariant{
			{Value: 50, Unit: "ml", Price: dec(price), Stock: stock},
		},
	}
}

func newTestService(t *testing.T, store *memStore, proc *mockProcessor, opts ...Option) *Service {
	t.Helper()
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	opts = append([]Option{WithClock(func() time.Time { return fixed })}, opts...)
	svc, err := NewService(store, memOrders{store}, proc, opts...)
	require.NoError(t, err)
	return svc
}

func checkout(t *testing.T, svc *Service, items ...CartItem) *CheckoutResult {
	t.Helper()
	res, err := svc.Checkout(context.Background(), customer, CheckoutRequest{
		Items:           items,
		ShippingAddress: address,
		PaymentMethod:   MethodStripe,
	})
	require.NoError(t, err)
	return res
}

// --- Tests ---

func TestCheckout_TotalsAndIntent(t *testing.T) {
	store := newMemStore(newPerfume("p1", "79.99", 10))
	proc := &mockProcessor{}
	svc := newTestService(t, store, proc)

	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Unit: "ml", Quantity: 2})

	o := res.Order
	assert.True(t, dec("159.98").Equal(o.Subtotal), o.Subtotal)
	assert.True(t, dec("16.00").Equal(o.Tax), o.Tax)
	assert.True(t, decimal.Zero.Equal(o.ShippingCost), o.ShippingCost)
	assert.True(t, dec("175.98").Equal(o.Total), o.Total)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, PaymentPending, o.Payment.Status)
	assert.Equal(t, "pi_123", o.Payment.IntentID)
	assert.Equal(t, "pi_123_secret", res.ClientSecret)

	require.Len(t, proc.created, 1)
	assert.Equal(t, int64(17598), proc.created[0].Amount)
	assert.Equal(t, "usd", proc.created[0].Currency)
	assert.Equal(t, payment.IntegrationMarker, proc.created[0].Metadata["integration_check"])
	assert.Equal(t, o.ID, proc.created[0].Metadata["order_id"])

	assert.Equal(t, []notify.Type{notify.OrderConfirmation}, store.eventTypes())
	assert.Equal(t, 10, store.stock("p1", 50), "checkout must not touch stock")
}

func TestCheckout_ShippingThreshold(t *testing.T) {
	tests := []struct {
		price    string
		shipping string
	}{
		{price: "100.00", shipping: "10"},
		{price: "100.01", shipping: "0"},
		{price: "20.00", shipping: "10"},
	}
	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			svc := newTestService(t, newMemStore(newPerfume("p1", tt.price, 5)), &mockProcessor{})
			res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})
			assert.True(t, dec(tt.shipping).Equal(res.Order.ShippingCost), res.Order.ShippingCost)
			assert.True(t, res.Order.Total.Equal(res.Order.Subtotal.Add(res.Order.Tax).Add(res.Order.ShippingCost)))
		})
	}
}

func TestCheckout_DefaultsUnit(t *testing.T) {
	svc := newTestService(t, newMemStore(newPerfume("p1", "10.00", 5)), &mockProcessor{})
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})
	assert.Equal(t, "ml", res.Order.Items[0].Size.Unit)
}

func TestCheckout_Validation(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 3))

	tests := []struct {
		name  string
		req   CheckoutRequest
		check func(t *testing.T, err error)
	}{
		{
			name: "empty items",
			req:  CheckoutRequest{PaymentMethod: MethodStripe},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrEmptyItems)
			},
		},
		{
			name: "invalid method",
			req: CheckoutRequest{
				Items:         []CartItem{{ProductID: "p1", Value: 50, Quantity: 1}},
				PaymentMethod: "cash",
			},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, ErrInvalidMethod)
			},
		},
		{
			name: "zero quantity",
			req: CheckoutRequest{
				Items:         []CartItem{{ProductID: "p1", Value: 50, Quantity: 0}},
				PaymentMethod: MethodStripe,
			},
			check: func(t *testing.T, err error) {
				var qErr *InvalidQuantityError
				require.ErrorAs(t, err, &qErr)
			},
		},
		{
			name: "missing product",
			req: CheckoutRequest{
				Items:         []CartItem{{ProductID: "nope", Value: 50, Quantity: 1}},
				PaymentMethod: MethodStripe,
			},
			check: func(t *testing.T, err error) {
				var pnf *ProductNotFoundError
				require.ErrorAs(t, err, &pnf)
				assert.Equal(t, "nope", pnf.ProductID)
			},
		},
		{
			name: "unknown size",
			req: CheckoutRequest{
				Items:         []CartItem{{ProductID: "p1", Value: 100, Unit: "ml", Quantity: 1}},
				PaymentMethod: MethodStripe,
			},
			check: func(t *testing.T, err error) {
				var sizeErr *InvalidSizeError
				require.ErrorAs(t, err, &sizeErr)
				assert.Equal(t, 100, sizeErr.Value)
			},
		},
		{
			name: "insufficient stock",
			req: CheckoutRequest{
				Items:         []CartItem{{ProductID: "p1", Value: 50, Quantity: 5}},
				PaymentMethod: MethodStripe,
			},
			check: func(t *testing.T, err error) {
				var stockErr *InsufficientStockError
				require.ErrorAs(t, err, &stockErr)
				assert.Equal(t, 5, stockErr.Requested)
				assert.Equal(t, 3, stockErr.Available)
			},
		},
		{
			name: "same variant twice exceeds stock",
			req: CheckoutRequest{
				Items: []CartItem{
					{ProductID: "p1", Value: 50, Quantity: 2},
					{ProductID: "p1", Value: 50, Quantity: 2},
				},
				PaymentMethod: MethodStripe,
			},
			check: func(t *testing.T, err error) {
				var stockErr *InsufficientStockError
				require.ErrorAs(t, err, &stockErr)
				assert.Equal(t, 4, stockErr.Requested)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proc := &mockProcessor{}
			svc := newTestService(t, store, proc)
			_, err := svc.Checkout(context.Background(), customer, tt.req)
			tt.check(t, err)
			assert.Empty(t, proc.created)
		})
	}
	assert.Empty(t, store.orders)
}

func TestCheckout_InactiveProduct(t *testing.T) {
	p := newPerfume("p1", "10.00", 3)
	p.Active = false
	svc := newTestService(t, newMemStore(p), &mockProcessor{})

	_, err := svc.Checkout(context.Background(), customer, CheckoutRequest{
		Items:         []CartItem{{ProductID: "p1", Value: 50, Quantity: 1}},
		PaymentMethod: MethodStripe,
	})
	var pnf *ProductNotFoundError
	require.ErrorAs(t, err, &pnf)
}

func TestCheckout_ProcessorTimeout(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 3))
	svc := newTestService(t, store, &mockProcessor{block: true}, WithPaymentTimeout(10*time.Millisecond))

	_, err := svc.Checkout(context.Background(), customer, CheckoutRequest{
		Items:         []CartItem{{ProductID: "p1", Value: 50, Quantity: 1}},
		PaymentMethod: MethodStripe,
	})
	require.ErrorIs(t, err, payment.ErrUnavailable)
	assert.Empty(t, store.orders)
}

func TestCheckout_ProcessorError(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 3))
	svc := newTestService(t, store, &mockProcessor{err: errors.New("card declined")})

	_, err := svc.Checkout(context.Background(), customer, CheckoutRequest{
		Items:         []CartItem{{ProductID: "p1", Value: 50, Quantity: 1}},
		PaymentMethod: MethodStripe,
	})
	require.ErrorIs(t, err, payment.ErrProcessor)
	assert.Empty(t, store.orders)
}

type fakeContacts struct {
	emails map[string]string
	err    error
}

func (f fakeContacts) ContactEmail(_ context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.emails[userID], nil
}

func TestCheckout_UsesStoredEmail(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 3))
	contacts := fakeContacts{emails: map[string]string{"u1": "jane.new@example.com"}}
	svc := newTestService(t, store, &mockProcessor{}, WithContacts(contacts))

	// customer still carries the address from before the profile change.
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})
	assert.Equal(t, "jane.new@example.com", res.Order.CustomerEmail)
	require.Len(t, store.events, 1)
	assert.Equal(t, "jane.new@example.com", store.events[0].Recipient)
}

func TestCheckout_StoredEmailFallbacks(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 3))
	svc := newTestService(t, store, &mockProcessor{}, WithContacts(fakeContacts{}))
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})
	assert.Equal(t, customer.Email, res.Order.CustomerEmail)

	svc = newTestService(t, store, &mockProcessor{}, WithContacts(fakeContacts{err: errors.New("db down")}))
	_, err := svc.Checkout(context.Background(), customer, CheckoutRequest{
		Items:         []CartItem{{ProductID: "p1", Value: 50, Quantity: 1}},
		PaymentMethod: MethodStripe,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "resolve customer email")
}

func TestCheckout_CreateError(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 3))
	store.createErr = errors.New("db write failed")
	svc := newTestService(t, store, &mockProcessor{})

	_, err := svc.Checkout(context.Background(), customer, CheckoutRequest{
		Items:         []CartItem{{ProductID: "p1", Value: 50, Quantity: 1}},
		PaymentMethod: MethodStripe,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create order")
}

func TestCheckout_PriceSnapshot(t *testing.T) {
	store := newMemStore(newPerfume("p1", "50.00", 3))
	svc := newTestService(t, store, &mockProcessor{})
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	store.products["p1"].Sizes[0].Price = dec("99.00")

	got, err := svc.Get(context.Background(), customer, res.Order.ID)
	require.NoError(t, err)
	assert.True(t, dec("50.00").Equal(got.Items[0].Size.Price))
	assert.True(t, dec("50.00").Equal(got.Subtotal))
}

func TestConfirmPayment_DecrementsStockOnce(t *testing.T) {
	store := newMemStore(newPerfume("p1", "79.99", 10))
	svc := newTestService(t, store, &mockProcessor{status: payment.IntentSucceeded})
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 2})

	o, err := svc.ConfirmPayment(context.Background(), customer, res.Order.ID, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Equal(t, PaymentCompleted, o.Payment.Status)
	assert.Equal(t, "pi_123", o.Payment.TransactionID)
	assert.Equal(t, 8, store.stock("p1", 50))

	again, err := svc.ConfirmPayment(context.Background(), customer, res.Order.ID, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, again.Status)
	assert.Equal(t, 8, store.stock("p1", 50))
	assert.Equal(t, 1, store.finalized)
	assert.Equal(t, []notify.Type{notify.OrderConfirmation, notify.PaymentConfirmation}, store.eventTypes())
}

func TestConfirmPayment_DifferentIntentAfterPaid(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 10))
	svc := newTestService(t, store, &mockProcessor{status: payment.IntentSucceeded})
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	_, err := svc.ConfirmPayment(context.Background(), customer, res.Order.ID, "pi_123")
	require.NoError(t, err)

	_, err = svc.ConfirmPayment(context.Background(), customer, res.Order.ID, "pi_other")
	require.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestConfirmPayment_IntentMismatch(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 10))
	svc := newTestService(t, store, &mockProcessor{status: payment.IntentSucceeded})
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	_, err := svc.ConfirmPayment(context.Background(), customer, res.Order.ID, "pi_other")
	require.ErrorIs(t, err, ErrIntentMismatch)
	assert.Equal(t, 10, store.stock("p1", 50))
}

func TestConfirmPayment_NotSettled(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 10))
	proc := &mockProcessor{status: payment.IntentRequiresAction}
	svc := newTestService(t, store, proc)
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	_, err := svc.ConfirmPayment(context.Background(), customer, res.Order.ID, "pi_123")
	require.ErrorIs(t, err, ErrPaymentNotSettled)

	o, err := svc.Get(context.Background(), customer, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, PaymentFailed, o.Payment.Status)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, 10, store.stock("p1", 50))

	// The customer retries after completing the payment.
	proc.status = payment.IntentSucceeded
	o, err = svc.ConfirmPayment(context.Background(), customer, res.Order.ID, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, PaymentCompleted, o.Payment.Status)
	assert.Equal(t, 9, store.stock("p1", 50))
}

func TestConfirmPayment_StockExhausted(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 2))
	svc := newTestService(t, store, &mockProcessor{status: payment.IntentSucceeded})
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 2})

	// Another buyer drains the variant between checkout and confirmation.
	store.products["p1"].Sizes[0].Stock = 1

	_, err := svc.ConfirmPayment(context.Background(), customer, res.Order.ID, "pi_123")
	var exhausted *StockExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "p1", exhausted.ProductID)
	assert.Equal(t, 1, store.stock("p1", 50), "stock never goes negative")

	o, err := svc.Get(context.Background(), admin, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, o.Status)
	assert.Equal(t, PaymentFailed, o.Payment.Status)
	assert.Equal(t, []notify.Type{notify.OrderConfirmation, notify.RefundRequired}, store.eventTypes())
}

func TestConfirmPayment_LastUnitRace(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 1))
	svc := newTestService(t, store, &mockProcessor{status: payment.IntentSucceeded})
	a := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})
	b := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{a.Order.ID, b.Order.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.ConfirmPayment(context.Background(), customer, id, "pi_123")
		}()
	}
	wg.Wait()

	var ok, exhausted int
	for _, err := range errs {
		var se *StockExhaustedError
		switch {
		case err == nil:
			ok++
		case errors.As(err, &se):
			exhausted++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, exhausted)
	assert.Equal(t, 0, store.stock("p1", 50))
}

func TestConfirmPayment_LostRaceToSameIntent(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 10))
	svc := newTestService(t, store, &mockProcessor{status: payment.IntentSucceeded})
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	// Another request confirms the same intent between our read and write.
	store.onFinalize = func(stored *Order) {
		stored.Payment.Status = PaymentCompleted
		stored.Payment.TransactionID = "pi_123"
		stored.Status = StatusProcessing
		stored.Version++
	}

	o, err := svc.ConfirmPayment(context.Background(), customer, res.Order.ID, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Equal(t, PaymentCompleted, o.Payment.Status)
	assert.Equal(t, "pi_123", o.Payment.TransactionID)
	assert.Equal(t, 0, store.finalized)
}

func TestConfirmPayment_LostRaceToOtherChange(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 10))
	svc := newTestService(t, store, &mockProcessor{status: payment.IntentSucceeded})
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	store.onFinalize = func(stored *Order) {
		stored.Status = StatusCancelled
		stored.Version++
	}

	_, err := svc.ConfirmPayment(context.Background(), customer, res.Order.ID, "pi_123")
	require.ErrorIs(t, err, ErrConcurrentUpdate)
	assert.Equal(t, 10, store.stock("p1", 50))
}

func TestConfirmPayment_Forbidden(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 10))
	svc := newTestService(t, store, &mockProcessor{status: payment.IntentSucceeded})
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	_, err := svc.ConfirmPayment(context.Background(), Requester{UserID: "intruder"}, res.Order.ID, "pi_123")
	require.ErrorIs(t, err, ErrForbidden)

	_, err = svc.ConfirmPayment(context.Background(), admin, res.Order.ID, "pi_123")
	require.NoError(t, err)
}

func TestConfirmPayment_NotPending(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 10))
	svc := newTestService(t, store, &mockProcessor{status: payment.IntentSucceeded})
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	_, err := svc.UpdateStatus(context.Background(), res.Order.ID, StatusCancelled)
	require.NoError(t, err)

	_, err = svc.ConfirmPayment(context.Background(), customer, res.Order.ID, "pi_123")
	var trErr *InvalidTransitionError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, StatusCancelled, trErr.From)
}

func TestConfirmPayment_ProcessorTimeout(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 10))
	proc := &mockProcessor{}
	svc := newTestService(t, store, proc, WithPaymentTimeout(10*time.Millisecond))
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	proc.block = true
	_, err := svc.ConfirmPayment(context.Background(), customer, res.Order.ID, "pi_123")
	require.ErrorIs(t, err, payment.ErrUnavailable)
	assert.Equal(t, 10, store.stock("p1", 50))
}

func TestConfirmPayment_NotFound(t *testing.T) {
	svc := newTestService(t, newMemStore(), &mockProcessor{})
	_, err := svc.ConfirmPayment(context.Background(), customer, "missing", "pi_123")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []Status
		valid bool
	}{
		{name: "pending to processing", path: []Status{StatusProcessing}, valid: true},
		{name: "pending to cancelled", path: []Status{StatusCancelled}, valid: true},
		{name: "pending to shipped", path: []Status{StatusShipped}},
		{name: "full lifecycle", path: []Status{StatusProcessing, StatusShipped, StatusDelivered}, valid: true},
		{name: "processing to cancelled", path: []Status{StatusProcessing, StatusCancelled}, valid: true},
		{name: "shipped to cancelled", path: []Status{StatusProcessing, StatusShipped, StatusCancelled}},
		{name: "delivered is terminal", path: []Status{StatusProcessing, StatusShipped, StatusDelivered, StatusPending}},
		{name: "cancelled is terminal", path: []Status{StatusCancelled, StatusProcessing}},
		{name: "back to pending", path: []Status{StatusProcessing, StatusPending}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(newPerfume("p1", "10.00", 10))
			svc := newTestService(t, store, &mockProcessor{})
			res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

			var err error
			for _, st := range tt.path {
				if _, err = svc.UpdateStatus(context.Background(), res.Order.ID, st); err != nil {
					break
				}
			}
			if tt.valid {
				require.NoError(t, err)
				return
			}
			var trErr *InvalidTransitionError
			require.ErrorAs(t, err, &trErr)
		})
	}
}

func TestUpdateStatus_ShippedAssignsTracking(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 10))
	svc := newTestService(t, store, &mockProcessor{})
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	_, err := svc.UpdateStatus(context.Background(), res.Order.ID, StatusProcessing)
	require.NoError(t, err)
	o, err := svc.UpdateStatus(context.Background(), res.Order.ID, StatusShipped)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "LSCT1714564800000", o.TrackingNumber)
	require.NotNil(t, o.EstimatedDelivery)
	assert.Equal(t, now.Add(7*24*time.Hour), *o.EstimatedDelivery)
	assert.Equal(t, 3, o.Version)
	assert.Contains(t, store.eventTypes(), notify.ShippingUpdate)
}

func TestUpdateStatus_ConcurrentUpdate(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 10))
	svc := newTestService(t, store, &mockProcessor{})
	res := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	repo := memOrders{store}
	stale, err := repo.GetByID(context.Background(), res.Order.ID)
	require.NoError(t, err)

	_, err = svc.UpdateStatus(context.Background(), res.Order.ID, StatusProcessing)
	require.NoError(t, err)

	stale.Status = StatusCancelled
	require.ErrorIs(t, repo.Update(context.Background(), stale), ErrConcurrentUpdate)
}

func TestListMine_NewestFirst(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 10))
	clock := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	svc := newTestService(t, store, &mockProcessor{}, WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}))
	first := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})
	second := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	orders, err := svc.ListMine(context.Background(), customer)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, second.Order.ID, orders[0].ID)
	assert.Equal(t, first.Order.ID, orders[1].ID)

	none, err := svc.ListMine(context.Background(), Requester{UserID: "other"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListAll_FilterByStatus(t *testing.T) {
	store := newMemStore(newPerfume("p1", "10.00", 10))
	svc := newTestService(t, store, &mockProcessor{})
	a := checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})
	checkout(t, svc, CartItem{ProductID: "p1", Value: 50, Quantity: 1})

	_, err := svc.UpdateStatus(context.Background(), a.Order.ID, StatusCancelled)
	require.NoError(t, err)

	all, err := svc.ListAll(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cancelled, err := svc.ListAll(context.Background(), StatusCancelled)
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, a.Order.ID, cancelled[0].ID)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus("shipped")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, st)
	assert.True(t, StatusDelivered.IsTerminal())
	assert.False(t, StatusShipped.IsTerminal())

	_, err = ParseStatus("lost")
	require.Error(t, err)
}
