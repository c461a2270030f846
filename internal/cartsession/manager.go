// Package cartsession owns the server-side cart synchronizer instances, one
// per signed-in account, and reaps the ones that go idle.
package cartsession

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/bytefrontng/bytefront-backend/internal/cartsync"
	"github.com/bytefrontng/bytefront-backend/pkg/config"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
)

const minSweepInterval = time.Minute

// fixedIdentity pins a synchronizer to one account for its whole lifetime.
// Account switches are expressed by evicting the session, never by mutating
// the identity underneath a live synchronizer.
type fixedIdentity struct {
	id string
}

func (f fixedIdentity) Current() (string, bool) { return f.id, true }

func (f fixedIdentity) OnChange(func(string, bool)) func() { return func() {} }

type session struct {
	sync     *cartsync.Synchronizer
	lastSeen time.Time
}

// Manager hands out one cart synchronizer per account and evicts sessions
// that stay idle past the configured TTL, flushing pending writes first.
type Manager struct {
	store   cartsync.Store
	logg    *logger.Logger
	opts    cartsync.Options
	idleTTL time.Duration

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

func NewManager(store cartsync.Store, logg *logger.Logger, cfg config.CartConfig) (*Manager, error) {
	if store == nil {
		return nil, errors.New("cart store is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.SessionIdleTTL <= 0 {
		return nil, errors.New("session idle ttl must be positive")
	}

	m := &Manager{
		store: store,
		logg:  logg,
		opts: cartsync.Options{
			DebounceWindow:  cfg.DebounceWindow,
			WriteRetryDelay: cfg.WriteRetryDelay,
			ShippingFeeKobo: cfg.ShippingFeeKobo,
		},
		idleTTL:   cfg.SessionIdleTTL,
		sessions:  map[string]*session{},
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go m.sweepLoop()
	return m, nil
}

// Acquire returns the account's synchronizer, creating it on first touch.
// Every call refreshes the idle clock.
func (m *Manager) Acquire(ctx context.Context, userID string) (*cartsync.Synchronizer, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("cart session manager is closed")
	}
	if existing, ok := m.sessions[userID]; ok {
		existing.lastSeen = time.Now()
		return existing.sync, nil
	}

	sync, err := cartsync.NewSynchronizer(m.store, fixedIdentity{id: userID}, m.logg, m.opts)
	if err != nil {
		return nil, err
	}
	m.sessions[userID] = &session{sync: sync, lastSeen: time.Now()}
	m.logg.Info(m.logg.WithUserID(ctx, userID), "cart session opened")
	return sync, nil
}

// Evict closes the account's session immediately, flushing pending writes.
func (m *Manager) Evict(ctx context.Context, userID string) error {
	m.mu.Lock()
	entry, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	m.logg.Info(m.logg.WithUserID(ctx, userID), "cart session evicted")
	return entry.sync.Close()
}

// ActiveSessions reports the number of live synchronizers.
func (m *Manager) ActiveSessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears down the sweeper and every live session.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	entries := make([]*session, 0, len(m.sessions))
	for _, entry := range m.sessions {
		entries = append(entries, entry)
	}
	m.sessions = map[string]*session{}
	m.mu.Unlock()

	close(m.stopSweep)
	<-m.sweepDone

	var errs error
	for _, entry := range entries {
		errs = multierr.Append(errs, entry.sync.Close())
	}
	return errs
}

func (m *Manager) sweepLoop() {
	defer close(m.sweepDone)
	interval := m.idleTTL / 2
	if interval < minSweepInterval {
		interval = minSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case now := <-ticker.C:
			m.sweepIdle(now)
		}
	}
}

func (m *Manager) sweepIdle(now time.Time) {
	m.mu.Lock()
	var expired []*session
	for id, entry := range m.sessions {
		if now.Sub(entry.lastSeen) >= m.idleTTL {
			expired = append(expired, entry)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, entry := range expired {
		if err := entry.sync.Close(); err != nil {
			m.logg.Error(context.Background(), "closing idle cart session", err)
		}
	}
	if len(expired) > 0 {
		ctx := m.logg.WithField(context.Background(), "count", len(expired))
		m.logg.Info(ctx, "idle cart sessions reaped")
	}
}
