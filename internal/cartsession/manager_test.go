package cartsession

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/bytefrontng/bytefront-backend/internal/cartsync"
	"github.com/bytefrontng/bytefront-backend/pkg/config"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
)

type memoryStore struct {
	mu     sync.Mutex
	docs   map[string]cartsync.Snapshot
	revs   map[string]int64
	writes map[string]int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		docs:   map[string]cartsync.Snapshot{},
		revs:   map[string]int64{},
		writes: map[string]int{},
	}
}

func (s *memoryStore) Read(ctx context.Context, identityID string) (cartsync.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[identityID]
	if !ok {
		return cartsync.Snapshot{}, cartsync.ErrNotFound
	}
	return doc, nil
}

func (s *memoryStore) Write(ctx context.Context, identityID string, items []cartsync.LineItem) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revs[identityID]++
	s.docs[identityID] = cartsync.Snapshot{Rev: s.revs[identityID], Items: items}
	s.writes[identityID]++
	return s.revs[identityID], nil
}

func (s *memoryStore) Subscribe(ctx context.Context, identityID string, fn func(cartsync.Snapshot)) (func(), error) {
	return func() {}, nil
}

func (s *memoryStore) writeCount(identityID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes[identityID]
}

func testConfig() config.CartConfig {
	return config.CartConfig{
		DebounceWindow:  10 * time.Millisecond,
		WriteRetryDelay: 5 * time.Millisecond,
		SessionIdleTTL:  30 * time.Minute,
	}
}

func testManager(t *testing.T, store cartsync.Store, cfg config.CartConfig) *Manager {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "cartsession-test", Output: io.Discard})
	m, err := NewManager(store, logg, cfg)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestAcquireReturnsSameSessionPerUser(t *testing.T) {
	store := newMemoryStore()
	m := testManager(t, store, testConfig())
	ctx := context.Background()

	first, err := m.Acquire(ctx, "user-a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	second, err := m.Acquire(ctx, "user-a")
	if err != nil {
		t.Fatalf("acquire again: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same synchronizer instance")
	}

	other, err := m.Acquire(ctx, "user-b")
	if err != nil {
		t.Fatalf("acquire other: %v", err)
	}
	if other == first {
		t.Fatalf("expected per-user instances")
	}
	if got := m.ActiveSessions(); got != 2 {
		t.Fatalf("expected 2 active sessions, got %d", got)
	}
}

func TestAcquiredSessionLoadsAndMutates(t *testing.T) {
	store := newMemoryStore()
	store.docs["user-a"] = cartsync.Snapshot{Rev: 3, Items: []cartsync.LineItem{{ProductID: "p1", Quantity: 2, PriceKobo: 1000}}}
	store.revs["user-a"] = 3
	m := testManager(t, store, testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sync, err := m.Acquire(ctx, "user-a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := sync.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	if got := sync.Subtotal(); got != 2000 {
		t.Fatalf("expected loaded subtotal 2000, got %d", got)
	}
	if err := sync.AddToCart(cartsync.ProductRef{ID: "p2", PriceKobo: 500}); err != nil {
		t.Fatalf("add: %v", err)
	}
}

func TestEvictFlushesPendingWrite(t *testing.T) {
	store := newMemoryStore()
	cfg := testConfig()
	cfg.DebounceWindow = time.Hour
	m := testManager(t, store, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sync, err := m.Acquire(ctx, "user-a")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := sync.WaitReady(ctx); err != nil {
		t.Fatalf("wait ready: %v", err)
	}
	if err := sync.AddToCart(cartsync.ProductRef{ID: "p1", PriceKobo: 1000}); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := m.Evict(ctx, "user-a"); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if got := store.writeCount("user-a"); got != 1 {
		t.Fatalf("expected eviction to flush one write, got %d", got)
	}
	if got := m.ActiveSessions(); got != 0 {
		t.Fatalf("expected no sessions after evict, got %d", got)
	}
}

func TestEvictUnknownUserIsNoOp(t *testing.T) {
	m := testManager(t, newMemoryStore(), testConfig())
	if err := m.Evict(context.Background(), "ghost"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestSweepReapsIdleSessions(t *testing.T) {
	store := newMemoryStore()
	m := testManager(t, store, testConfig())
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "user-a"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := m.Acquire(ctx, "user-b"); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// Age user-a past the TTL and sweep directly; the last touch on user-b
	// keeps it alive.
	m.mu.Lock()
	m.sessions["user-a"].lastSeen = time.Now().Add(-time.Hour)
	m.mu.Unlock()
	m.sweepIdle(time.Now())

	if got := m.ActiveSessions(); got != 1 {
		t.Fatalf("expected 1 session after sweep, got %d", got)
	}
	if _, ok := func() (*session, bool) {
		m.mu.Lock()
		defer m.mu.Unlock()
		s, ok := m.sessions["user-b"]
		return s, ok
	}(); !ok {
		t.Fatalf("expected user-b to survive the sweep")
	}
}

func TestCloseRejectsFurtherAcquires(t *testing.T) {
	m := testManager(t, newMemoryStore(), testConfig())
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := m.Acquire(context.Background(), "user-a"); err == nil {
		t.Fatalf("expected error after close")
	}
}
