package cartsync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
)

type writeRecord struct {
	identity string
	items    []LineItem
}

type stubStore struct {
	mu            sync.Mutex
	docs          map[string]Snapshot
	revs          map[string]int64
	writes        []writeRecord
	writeAttempts int
	failNextN     int
	readErr       error
	echo          bool
	subs          map[string][]func(Snapshot)
}

func newStubStore() *stubStore {
	return &stubStore{
		docs: map[string]Snapshot{},
		revs: map[string]int64{},
		subs: map[string][]func(Snapshot){},
	}
}

func (s *stubStore) Read(ctx context.Context, identityID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return Snapshot{}, s.readErr
	}
	doc, ok := s.docs[identityID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return doc, nil
}

func (s *stubStore) Write(ctx context.Context, identityID string, items []LineItem) (int64, error) {
	s.mu.Lock()
	s.writeAttempts++
	if s.failNextN > 0 {
		s.failNextN--
		s.mu.Unlock()
		return 0, errors.New("store unavailable")
	}
	s.revs[identityID]++
	snap := Snapshot{Rev: s.revs[identityID], Items: cloneItems(items)}
	s.docs[identityID] = snap
	s.writes = append(s.writes, writeRecord{identity: identityID, items: cloneItems(items)})
	var listeners []func(Snapshot)
	if s.echo {
		listeners = append(listeners, s.subs[identityID]...)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snap)
	}
	return snap.Rev, nil
}

func (s *stubStore) Subscribe(ctx context.Context, identityID string, fn func(Snapshot)) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[identityID] = append(s.subs[identityID], fn)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, identityID)
	}, nil
}

func (s *stubStore) push(identityID string, snap Snapshot) {
	s.mu.Lock()
	listeners := append([]func(Snapshot){}, s.subs[identityID]...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
}

func (s *stubStore) recordedWrites() []writeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]writeRecord, len(s.writes))
	copy(out, s.writes)
	return out
}

func (s *stubStore) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeAttempts
}

type fakeIdentity struct {
	mu       sync.Mutex
	id       string
	ok       bool
	watchers []func(string, bool)
}

func (f *fakeIdentity) Current() (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id, f.ok
}

func (f *fakeIdentity) OnChange(fn func(string, bool)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watchers = append(f.watchers, fn)
	return func() {}
}

func (f *fakeIdentity) set(id string, ok bool) {
	f.mu.Lock()
	f.id = id
	f.ok = ok
	watchers := append([]func(string, bool){}, f.watchers...)
	f.mu.Unlock()
	for _, fn := range watchers {
		fn(id, ok)
	}
}

func testOptions() Options {
	return Options{
		DebounceWindow:  25 * time.Millisecond,
		WriteRetryDelay: 5 * time.Millisecond,
		WriteTimeout:    time.Second,
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func newReadySync(t *testing.T, store *stubStore, identity *fakeIdentity, opts Options) *Synchronizer {
	t.Helper()
	s, err := NewSynchronizer(store, identity, nil, opts)
	if err != nil {
		t.Fatalf("new synchronizer: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if _, ok := identity.Current(); ok {
		waitFor(t, func() bool { return s.State() == StateReady }, "ready state")
	}
	return s
}

func intRef(v int) *int { return &v }

func TestAddToCartDedupesByProduct(t *testing.T) {
	store := newStubStore()
	identity := &fakeIdentity{id: "user-a", ok: true}
	s := newReadySync(t, store, identity, testOptions())

	if err := s.AddToCart(ProductRef{ID: "p1", Name: "ThinkPad X1", PriceKobo: 1000}); err != nil {
		t.Fatalf("add p1: %v", err)
	}
	if err := s.AddToCart(ProductRef{ID: "p2", Name: "USB-C Hub", PriceKobo: 500}); err != nil {
		t.Fatalf("add p2: %v", err)
	}
	if err := s.AddToCart(ProductRef{ID: "p1"}); err != nil {
		t.Fatalf("add p1 again: %v", err)
	}

	items := s.Items()
	if len(items) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(items))
	}
	if items[0].ProductID != "p1" || items[0].Quantity != 2 {
		t.Fatalf("expected p1 qty 2, got %+v", items[0])
	}
	if items[1].ProductID != "p2" || items[1].Quantity != 1 {
		t.Fatalf("expected p2 qty 1, got %+v", items[1])
	}
}

func TestUpdateQuantityBelowOneIsNoOp(t *testing.T) {
	store := newStubStore()
	identity := &fakeIdentity{id: "user-a", ok: true}
	s := newReadySync(t, store, identity, testOptions())

	if err := s.AddToCart(ProductRef{ID: "p1", PriceKobo: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}

	for _, qty := range []int{0, -1} {
		if err := s.UpdateQuantity("p1", qty); err != nil {
			t.Fatalf("update qty %d: %v", qty, err)
		}
	}

	items := s.Items()
	if len(items) != 1 || items[0].Quantity != 1 {
		t.Fatalf("expected unchanged line qty 1, got %+v", items)
	}
}

func TestRemoveMissingProductIsNoOp(t *testing.T) {
	store := newStubStore()
	identity := &fakeIdentity{id: "user-a", ok: true}
	opts := testOptions()
	s := newReadySync(t, store, identity, opts)

	if err := s.RemoveFromCart("ghost"); err != nil {
		t.Fatalf("remove missing: %v", err)
	}
	if len(s.Items()) != 0 {
		t.Fatalf("expected empty cart")
	}

	// No mutation happened, so nothing should be written.
	time.Sleep(3 * opts.DebounceWindow)
	if got := len(store.recordedWrites()); got != 0 {
		t.Fatalf("expected no writes, got %d", got)
	}
}

func TestClearCartWritesImmediately(t *testing.T) {
	store := newStubStore()
	identity := &fakeIdentity{id: "user-a", ok: true}
	opts := testOptions()
	opts.DebounceWindow = time.Hour // a debounced write must never be the one observed
	s := newReadySync(t, store, identity, opts)

	if err := s.AddToCart(ProductRef{ID: "p1", PriceKobo: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.ClearCart(context.Background()); err != nil {
		t.Fatalf("clear: %v", err)
	}

	if len(s.Items()) != 0 {
		t.Fatalf("expected empty local cart")
	}
	writes := store.recordedWrites()
	if len(writes) != 1 {
		t.Fatalf("expected exactly one immediate write, got %d", len(writes))
	}
	if len(writes[0].items) != 0 {
		t.Fatalf("expected empty list written, got %+v", writes[0].items)
	}
}

func TestDebounceCoalescesWrites(t *testing.T) {
	store := newStubStore()
	identity := &fakeIdentity{id: "user-a", ok: true}
	opts := testOptions()
	s := newReadySync(t, store, identity, opts)

	if err := s.AddToCart(ProductRef{ID: "p1", PriceKobo: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, qty := range []int{2, 3, 5} {
		if err := s.UpdateQuantity("p1", qty); err != nil {
			t.Fatalf("update qty %d: %v", qty, err)
		}
	}

	waitFor(t, func() bool { return len(store.recordedWrites()) > 0 }, "debounced write")
	time.Sleep(3 * opts.DebounceWindow)

	writes := store.recordedWrites()
	if len(writes) != 1 {
		t.Fatalf("expected one coalesced write, got %d", len(writes))
	}
	if len(writes[0].items) != 1 || writes[0].items[0].Quantity != 5 {
		t.Fatalf("expected final quantity 5, got %+v", writes[0].items)
	}
}

func TestEchoSuppression(t *testing.T) {
	store := newStubStore()
	store.echo = true
	identity := &fakeIdentity{id: "user-a", ok: true}
	s := newReadySync(t, store, identity, testOptions())

	if err := s.AddToCart(ProductRef{ID: "p1", PriceKobo: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}
	waitFor(t, func() bool { return len(store.recordedWrites()) == 1 }, "debounced write")

	// The store delivered our own write back; it must not replace local state.
	if got := s.remoteApplyCount(); got != 0 {
		t.Fatalf("expected no remote applies after echo, got %d", got)
	}

	// A stale snapshot (rev not newer than our write) is also ignored.
	store.push("user-a", Snapshot{Rev: 1, Items: []LineItem{{ProductID: "stale", Quantity: 9}}})
	if got := s.remoteApplyCount(); got != 0 {
		t.Fatalf("expected stale snapshot ignored, got %d applies", got)
	}

	// A genuinely newer state from another device is applied.
	store.push("user-a", Snapshot{Rev: 2, Items: []LineItem{{ProductID: "p1", Quantity: 4, PriceKobo: 1000}}})
	waitFor(t, func() bool { return s.remoteApplyCount() == 1 }, "newer snapshot applied")
	items := s.Items()
	if len(items) != 1 || items[0].Quantity != 4 {
		t.Fatalf("expected remote quantity 4 applied, got %+v", items)
	}
}

func TestIdentitySwitchDoesNotLeakCart(t *testing.T) {
	store := newStubStore()
	store.docs["user-b"] = Snapshot{Rev: 7, Items: []LineItem{{ProductID: "pb", Quantity: 2, PriceKobo: 3000}}}
	store.revs["user-b"] = 7
	identity := &fakeIdentity{id: "user-a", ok: true}
	opts := testOptions()
	s := newReadySync(t, store, identity, opts)

	if err := s.AddToCart(ProductRef{ID: "pa", PriceKobo: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}

	// Switch before the debounce fires; A's pending state must be dropped.
	identity.set("user-b", true)
	waitFor(t, func() bool {
		return s.State() == StateReady && len(s.Items()) == 1 && s.Items()[0].ProductID == "pb"
	}, "user-b cart loaded")

	time.Sleep(3 * opts.DebounceWindow)
	for _, w := range store.recordedWrites() {
		if w.identity == "user-b" {
			t.Fatalf("unexpected write into user-b document: %+v", w.items)
		}
		for _, item := range w.items {
			if item.ProductID == "pa" && w.identity != "user-a" {
				t.Fatalf("user-a line leaked into %s", w.identity)
			}
		}
	}
}

func TestLogoutDiscardsCart(t *testing.T) {
	store := newStubStore()
	identity := &fakeIdentity{id: "user-a", ok: true}
	s := newReadySync(t, store, identity, testOptions())

	if err := s.AddToCart(ProductRef{ID: "p1", PriceKobo: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}

	identity.set("", false)
	if s.State() != StateIdle {
		t.Fatalf("expected idle after logout, got %s", s.State())
	}
	if len(s.Items()) != 0 {
		t.Fatalf("expected cart discarded on logout")
	}

	err := s.AddToCart(ProductRef{ID: "p2", PriceKobo: 500})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestMutationsRequireIdentity(t *testing.T) {
	store := newStubStore()
	identity := &fakeIdentity{}
	s := newReadySync(t, store, identity, testOptions())

	err := s.AddToCart(ProductRef{ID: "p1", PriceKobo: 1000})
	if pkgerrors.CodeOf(err) != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := s.RemoveFromCart("p1"); pkgerrors.CodeOf(err) != pkgerrors.CodeUnauthorized {
		t.Fatalf("expected unauthorized remove, got %v", err)
	}
}

func TestSubtotalScenario(t *testing.T) {
	store := newStubStore()
	identity := &fakeIdentity{id: "user-a", ok: true}
	s := newReadySync(t, store, identity, testOptions())

	if err := s.AddToCart(ProductRef{ID: "p1", PriceKobo: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := s.Subtotal(); got != 1000 {
		t.Fatalf("expected subtotal 1000, got %d", got)
	}

	if err := s.AddToCart(ProductRef{ID: "p1"}); err != nil {
		t.Fatalf("add again: %v", err)
	}
	if got := s.Subtotal(); got != 2000 {
		t.Fatalf("expected subtotal 2000, got %d", got)
	}

	if err := s.UpdateQuantity("p1", 5); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := s.Subtotal(); got != 5000 {
		t.Fatalf("expected subtotal 5000, got %d", got)
	}

	if err := s.RemoveFromCart("p1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := s.Subtotal(); got != 0 {
		t.Fatalf("expected subtotal 0, got %d", got)
	}
	if len(s.Items()) != 0 {
		t.Fatalf("expected empty list")
	}
}

func TestSubtotalUsesDiscountedPrice(t *testing.T) {
	store := newStubStore()
	identity := &fakeIdentity{id: "user-a", ok: true}
	s := newReadySync(t, store, identity, testOptions())

	if err := s.AddToCart(ProductRef{ID: "p2", PriceKobo: 5000, DiscountPriceKobo: intRef(4000)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := s.Subtotal(); got != 4000 {
		t.Fatalf("expected discounted subtotal 4000, got %d", got)
	}
}

func TestTotalAddsShippingFee(t *testing.T) {
	store := newStubStore()
	identity := &fakeIdentity{id: "user-a", ok: true}
	opts := testOptions()
	opts.ShippingFeeKobo = 150000
	s := newReadySync(t, store, identity, opts)

	if err := s.AddToCart(ProductRef{ID: "p1", PriceKobo: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if got := s.Total(); got != 151000 {
		t.Fatalf("expected total 151000, got %d", got)
	}
}

func TestFlushWritesPendingState(t *testing.T) {
	store := newStubStore()
	identity := &fakeIdentity{id: "user-a", ok: true}
	opts := testOptions()
	opts.DebounceWindow = time.Hour
	s := newReadySync(t, store, identity, opts)

	if err := s.AddToCart(ProductRef{ID: "p1", PriceKobo: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	writes := store.recordedWrites()
	if len(writes) != 1 {
		t.Fatalf("expected one flushed write, got %d", len(writes))
	}
	if writes[0].identity != "user-a" || len(writes[0].items) != 1 {
		t.Fatalf("unexpected write %+v", writes[0])
	}
}

func TestWriteFailureRetriesOnce(t *testing.T) {
	store := newStubStore()
	store.failNextN = 1
	identity := &fakeIdentity{id: "user-a", ok: true}
	s := newReadySync(t, store, identity, testOptions())

	if err := s.AddToCart(ProductRef{ID: "p1", PriceKobo: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}

	waitFor(t, func() bool { return len(store.recordedWrites()) == 1 }, "retried write")
	if got := store.attempts(); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
	// Local state is untouched by the transient failure.
	if len(s.Items()) != 1 {
		t.Fatalf("expected local item retained")
	}
}

func TestReadFailureStartsEmpty(t *testing.T) {
	store := newStubStore()
	store.readErr = errors.New("store down")
	identity := &fakeIdentity{id: "user-a", ok: true}
	s := newReadySync(t, store, identity, testOptions())

	if s.State() != StateReady {
		t.Fatalf("expected ready state, got %s", s.State())
	}
	if len(s.Items()) != 0 {
		t.Fatalf("expected empty cart after failed load")
	}
}

func TestCloseFlushesPendingWrite(t *testing.T) {
	store := newStubStore()
	identity := &fakeIdentity{id: "user-a", ok: true}
	opts := testOptions()
	opts.DebounceWindow = time.Hour
	s := newReadySync(t, store, identity, opts)

	if err := s.AddToCart(ProductRef{ID: "p1", PriceKobo: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	writes := store.recordedWrites()
	if len(writes) != 1 {
		t.Fatalf("expected pending write flushed on close, got %d", len(writes))
	}
}
