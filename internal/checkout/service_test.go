package checkout

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bytefrontng/bytefront-backend/internal/cartsession"
	"github.com/bytefrontng/bytefront-backend/internal/cartsync"
	"github.com/bytefrontng/bytefront-backend/internal/catalog"
	"github.com/bytefrontng/bytefront-backend/internal/orders"
	"github.com/bytefrontng/bytefront-backend/pkg/config"
	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	"github.com/bytefrontng/bytefront-backend/pkg/outbox"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
	"github.com/bytefrontng/bytefront-backend/pkg/types"
)

type memoryCartStore struct {
	mu   sync.Mutex
	docs map[string]cartsync.Snapshot
	revs map[string]int64
}

func newMemoryCartStore() *memoryCartStore {
	return &memoryCartStore{docs: map[string]cartsync.Snapshot{}, revs: map[string]int64{}}
}

func (s *memoryCartStore) Read(ctx context.Context, identityID string) (cartsync.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[identityID]
	if !ok {
		return cartsync.Snapshot{}, cartsync.ErrNotFound
	}
	return doc, nil
}

func (s *memoryCartStore) Write(ctx context.Context, identityID string, items []cartsync.LineItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revs[identityID]++
	s.docs[identityID] = cartsync.Snapshot{Rev: s.revs[identityID], Items: items}
	return s.revs[identityID], nil
}

func (s *memoryCartStore) Subscribe(ctx context.Context, identityID string, fn func(cartsync.Snapshot)) (func(), error) {
	return func() {}, nil
}

func (s *memoryCartStore) snapshot(identityID string) cartsync.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[identityID]
}

type stubCheckoutOrdersRepo struct {
	created   []*models.Order
	lineItems []models.OrderLineItem
}

func newStubCheckoutOrdersRepo() *stubCheckoutOrdersRepo {
	return &stubCheckoutOrdersRepo{}
}

func (r *stubCheckoutOrdersRepo) WithTx(tx *gorm.DB) orders.Repository { return r }

func (r *stubCheckoutOrdersRepo) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	r.created = append(r.created, order)
	return order, nil
}

func (r *stubCheckoutOrdersRepo) CreateOrderLineItems(ctx context.Context, items []models.OrderLineItem) error {
	r.lineItems = append(r.lineItems, items...)
	return nil
}

func (r *stubCheckoutOrdersRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *stubCheckoutOrdersRepo) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*orders.OrderList, error) {
	return &orders.OrderList{}, nil
}

func (r *stubCheckoutOrdersRepo) ListAll(ctx context.Context, params pagination.Params, filters orders.OrderFilters) (*orders.OrderList, error) {
	return &orders.OrderList{}, nil
}

func (r *stubCheckoutOrdersRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus, adminNote *string) error {
	return nil
}

type stubCheckoutCatalogRepo struct {
	mu            sync.Mutex
	active        map[uuid.UUID]struct{}
	stock         map[uuid.UUID]int
	decrements    map[uuid.UUID]int
	decrementFail bool
}

func newStubCheckoutCatalogRepo() *stubCheckoutCatalogRepo {
	return &stubCheckoutCatalogRepo{
		active:     map[uuid.UUID]struct{}{},
		stock:      map[uuid.UUID]int{},
		decrements: map[uuid.UUID]int{},
	}
}

func (r *stubCheckoutCatalogRepo) activate(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active[id] = struct{}{}
	if _, ok := r.stock[id]; !ok {
		r.stock[id] = 100
	}
}

func (r *stubCheckoutCatalogRepo) deactivate(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, id)
}

func (r *stubCheckoutCatalogRepo) setStock(id uuid.UUID, qty int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[id] = qty
}

func (r *stubCheckoutCatalogRepo) stockOf(id uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[id]
}

func (r *stubCheckoutCatalogRepo) WithTx(tx *gorm.DB) catalog.Repository { return r }

func (r *stubCheckoutCatalogRepo) Create(ctx context.Context, product *models.Product) (*models.Product, error) {
	return product, nil
}

func (r *stubCheckoutCatalogRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *stubCheckoutCatalogRepo) FindBySlug(ctx context.Context, slug string) (*models.Product, error) {
	return nil, gorm.ErrRecordNotFound
}

func (r *stubCheckoutCatalogRepo) FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Product
	for _, id := range ids {
		if _, ok := r.active[id]; ok {
			out = append(out, models.Product{ID: id, IsActive: true, StockQty: r.stock[id]})
		}
	}
	return out, nil
}

func (r *stubCheckoutCatalogRepo) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.decrementFail || r.stock[id] < qty {
		return false, nil
	}
	r.stock[id] -= qty
	r.decrements[id] += qty
	return true, nil
}

func (r *stubCheckoutCatalogRepo) List(ctx context.Context, params pagination.Params, filters catalog.ProductFilters) (*catalog.ProductList, error) {
	return &catalog.ProductList{}, nil
}

func (r *stubCheckoutCatalogRepo) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return nil
}

func (r *stubCheckoutCatalogRepo) Delete(ctx context.Context, id uuid.UUID) error {
	return nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}

type checkoutFixture struct {
	svc     Service
	store   *memoryCartStore
	carts   *cartsession.Manager
	orders  *stubCheckoutOrdersRepo
	catalog *stubCheckoutCatalogRepo
	events  *stubOutbox
	userID  uuid.UUID
}

func newFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard})
	store := newMemoryCartStore()
	carts, err := cartsession.NewManager(store, logg, config.CartConfig{
		DebounceWindow:  10 * time.Millisecond,
		WriteRetryDelay: 5 * time.Millisecond,
		SessionIdleTTL:  30 * time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = carts.Close() })

	ordersRepo := newStubCheckoutOrdersRepo()
	catalogRepo := newStubCheckoutCatalogRepo()
	events := &stubOutbox{}

	svc, err := NewService(ordersRepo, catalogRepo, carts, stubTxRunner{}, events, logg, 150000)
	require.NoError(t, err)

	return &checkoutFixture{
		svc:     svc,
		store:   store,
		carts:   carts,
		orders:  ordersRepo,
		catalog: catalogRepo,
		events:  events,
		userID:  uuid.New(),
	}
}

func (f *checkoutFixture) proof() string {
	return PaymentProofPrefix(f.userID.String()) + "abc.png"
}

func validAddress() types.Address {
	return types.Address{
		Line1:   "12 Adeola Odeku St",
		City:    "Lagos",
		State:   "la",
		Country: "Nigeria",
		Phone:   "+2348012345678",
	}
}

// fillCart seeds the user's cart through a live synchronizer session and
// registers each product as active in the catalog stub.
func (f *checkoutFixture) fillCart(t *testing.T, lines ...cartsync.ProductRef) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sync, err := f.carts.Acquire(ctx, f.userID.String())
	require.NoError(t, err)
	require.NoError(t, sync.WaitReady(ctx))
	for _, line := range lines {
		f.catalog.activate(uuid.MustParse(line.ID))
		require.NoError(t, sync.AddToCart(line))
	}
	require.NoError(t, sync.Flush(ctx))
}

func TestCheckoutPlacesOrderAndClearsCart(t *testing.T) {
	f := newFixture(t)
	laptop := uuid.New()
	hub := uuid.New()
	discount := 40000000
	f.fillCart(t,
		cartsync.ProductRef{ID: laptop.String(), Name: "ThinkPad X1", PriceKobo: 45000000, DiscountPriceKobo: &discount},
		cartsync.ProductRef{ID: hub.String(), Name: "USB-C Hub", PriceKobo: 1500000},
	)

	order, err := f.svc.Checkout(context.Background(), CheckoutInput{
		UserID:             f.userID,
		ShippingAddress:    validAddress(),
		PaymentProofObject: f.proof(),
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, 41500000, order.SubtotalKobo)
	assert.Equal(t, 150000, order.ShippingFeeKobo)
	assert.Equal(t, 41650000, order.TotalKobo)
	assert.Equal(t, "LA", order.ShippingAddress.State)
	require.Len(t, order.Items, 2)
	assert.Equal(t, 40000000, order.Items[0].LineTotalKobo)

	// The stored cart document is emptied immediately.
	snap := f.store.snapshot(f.userID.String())
	assert.Empty(t, snap.Items)

	require.Len(t, f.events.events, 1)
	event := f.events.events[0]
	assert.Equal(t, enums.EventOrderCreated, event.EventType)
	payload, ok := event.Data.(OrderCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, order.TotalKobo, payload.TotalKobo)
	assert.Equal(t, 2, payload.ItemCount)
}

func TestCheckoutRejectsEmptyCart(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{
		UserID:             f.userID,
		ShippingAddress:    validAddress(),
		PaymentProofObject: f.proof(),
	})
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Empty(t, f.orders.created)
}

func TestCheckoutRejectsDeactivatedProduct(t *testing.T) {
	f := newFixture(t)
	productID := uuid.New()
	f.fillCart(t, cartsync.ProductRef{ID: productID.String(), Name: "ThinkPad X1", PriceKobo: 45000000})
	f.catalog.deactivate(productID)

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{
		UserID:             f.userID,
		ShippingAddress:    validAddress(),
		PaymentProofObject: f.proof(),
	})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	assert.Empty(t, f.orders.created)
	assert.Empty(t, f.events.events)

	// The cart is left intact for the user to fix.
	snap := f.store.snapshot(f.userID.String())
	require.Len(t, snap.Items, 1)
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name  string
		input CheckoutInput
	}{
		{"missing user", CheckoutInput{ShippingAddress: validAddress(), PaymentProofObject: "x"}},
		{"missing proof", CheckoutInput{UserID: f.userID, ShippingAddress: validAddress()}},
		{"foreign proof", CheckoutInput{UserID: f.userID, ShippingAddress: validAddress(), PaymentProofObject: PaymentProofPrefix(uuid.NewString()) + "abc.png"}},
		{"incomplete address", CheckoutInput{UserID: f.userID, ShippingAddress: types.Address{Line1: "x"}, PaymentProofObject: f.proof()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Checkout(context.Background(), tc.input)
			assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		})
	}
}

func TestCheckoutDecrementsStock(t *testing.T) {
	f := newFixture(t)
	productID := uuid.New()
	ref := cartsync.ProductRef{ID: productID.String(), Name: "ThinkPad X1", PriceKobo: 45000000}
	// Adding the same product twice raises its quantity to two.
	f.fillCart(t, ref, ref)
	f.catalog.setStock(productID, 5)

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{
		UserID:             f.userID,
		ShippingAddress:    validAddress(),
		PaymentProofObject: f.proof(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, f.catalog.stockOf(productID))
}

func TestCheckoutRejectsInsufficientStock(t *testing.T) {
	f := newFixture(t)
	productID := uuid.New()
	ref := cartsync.ProductRef{ID: productID.String(), Name: "ThinkPad X1", PriceKobo: 45000000}
	f.fillCart(t, ref, ref)
	f.catalog.setStock(productID, 1)

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{
		UserID:             f.userID,
		ShippingAddress:    validAddress(),
		PaymentProofObject: f.proof(),
	})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	assert.Equal(t, 1, f.catalog.stockOf(productID))
	assert.Empty(t, f.orders.created)
	assert.Empty(t, f.events.events)

	// The cart is left intact for the user to adjust.
	snap := f.store.snapshot(f.userID.String())
	require.Len(t, snap.Items, 1)
}

func TestCheckoutStockConflictDuringTransaction(t *testing.T) {
	f := newFixture(t)
	productID := uuid.New()
	f.fillCart(t, cartsync.ProductRef{ID: productID.String(), Name: "ThinkPad X1", PriceKobo: 45000000})
	// The catalog read sees stock, but a concurrent checkout wins the
	// conditional decrement.
	f.catalog.decrementFail = true

	_, err := f.svc.Checkout(context.Background(), CheckoutInput{
		UserID:             f.userID,
		ShippingAddress:    validAddress(),
		PaymentProofObject: f.proof(),
	})
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.CodeOf(err))
	assert.Empty(t, f.events.events)
}
