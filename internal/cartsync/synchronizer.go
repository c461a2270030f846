package cartsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
)

const (
	defaultDebounceWindow  = 400 * time.Millisecond
	defaultWriteRetryDelay = 250 * time.Millisecond
	defaultWriteTimeout    = 5 * time.Second
)

// Options tunes the synchronizer. Zero values fall back to defaults.
type Options struct {
	DebounceWindow  time.Duration
	WriteRetryDelay time.Duration
	WriteTimeout    time.Duration
	ShippingFeeKobo int
}

func (o Options) withDefaults() Options {
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaultDebounceWindow
	}
	if o.WriteRetryDelay <= 0 {
		o.WriteRetryDelay = defaultWriteRetryDelay
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	return o
}

// Synchronizer owns the in-memory cart for the current identity and mediates
// all reads and writes against the remote store. Mutations apply to local
// state synchronously; persistence happens in the background through a
// trailing debounce window. Incoming snapshots whose revision is not newer
// than the last acknowledged local write are echoes and are dropped.
type Synchronizer struct {
	store    Store
	identity IdentityProvider
	logg     *logger.Logger
	opts     Options

	mu             sync.Mutex
	state          State
	currentID      string
	epoch          int
	items          []LineItem
	lastWrittenRev int64
	debounce       *time.Timer
	pendingWrite   bool
	cancelSub      func()
	cancelIdentity func()
	closed         bool
	remoteApplies  int
}

// NewSynchronizer wires the synchronizer to its collaborators and, when an
// identity is already established, begins loading that identity's cart.
func NewSynchronizer(store Store, identity IdentityProvider, logg *logger.Logger, opts Options) (*Synchronizer, error) {
	if store == nil {
		return nil, fmt.Errorf("cart store required")
	}
	if identity == nil {
		return nil, fmt.Errorf("identity provider required")
	}

	s := &Synchronizer{
		store:    store,
		identity: identity,
		logg:     logg,
		opts:     opts.withDefaults(),
		state:    StateIdle,
	}

	s.mu.Lock()
	s.cancelIdentity = identity.OnChange(s.handleIdentityChange)
	if id, ok := identity.Current(); ok {
		s.beginLoadLocked(id)
	}
	s.mu.Unlock()

	return s, nil
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Items returns a copy of the current line items in order.
func (s *Synchronizer) Items() []LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneItems(s.items)
}

// Subtotal sums effective line prices times quantities, in kobo.
func (s *Synchronizer) Subtotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return subtotalOf(s.items)
}

// Total is the subtotal plus the configured shipping fee.
func (s *Synchronizer) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return subtotalOf(s.items) + s.opts.ShippingFeeKobo
}

// AddToCart adds one unit of the product: an existing line's quantity is
// incremented, otherwise a new line is appended with quantity 1.
func (s *Synchronizer) AddToCart(p ProductRef) error {
	if strings.TrimSpace(p.ID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReadyLocked(); err != nil {
		return err
	}

	for i := range s.items {
		if s.items[i].ProductID == p.ID {
			s.items[i].Quantity++
			s.scheduleWriteLocked()
			return nil
		}
	}

	s.items = append(s.items, LineItem{
		ProductID:         p.ID,
		Name:              p.Name,
		Quantity:          1,
		PriceKobo:         p.PriceKobo,
		DiscountPriceKobo: copyIntPtr(p.DiscountPriceKobo),
		Image:             p.Image,
	})
	s.scheduleWriteLocked()
	return nil
}

// RemoveFromCart deletes the matching line. Missing ids are a no-op.
func (s *Synchronizer) RemoveFromCart(productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReadyLocked(); err != nil {
		return err
	}

	for i := range s.items {
		if s.items[i].ProductID == productID {
			s.items = append(s.items[:i], s.items[i+1:]...)
			s.scheduleWriteLocked()
			return nil
		}
	}
	return nil
}

// UpdateQuantity sets the line's quantity. Quantities below 1 are a silent
// no-op; the line is neither removed nor modified.
func (s *Synchronizer) UpdateQuantity(productID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureReadyLocked(); err != nil {
		return err
	}

	if quantity < 1 {
		return nil
	}
	for i := range s.items {
		if s.items[i].ProductID == productID {
			if s.items[i].Quantity == quantity {
				return nil
			}
			s.items[i].Quantity = quantity
			s.scheduleWriteLocked()
			return nil
		}
	}
	return nil
}

// ClearCart empties the local list and writes the empty list immediately,
// bypassing the debounce. Often called right before an identity transition,
// so it must not leave a pending timer behind.
func (s *Synchronizer) ClearCart(ctx context.Context) error {
	s.mu.Lock()
	if err := s.ensureReadyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}

	s.stopDebounceLocked()
	s.items = nil
	id := s.currentID
	epoch := s.epoch
	s.mu.Unlock()

	s.performWrite(ctx, id, nil, epoch)
	return nil
}

// Flush writes any pending debounced state immediately.
func (s *Synchronizer) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || !s.pendingWrite {
		s.mu.Unlock()
		return nil
	}
	s.stopDebounceLocked()
	id := s.currentID
	epoch := s.epoch
	items := cloneItems(s.items)
	s.mu.Unlock()

	s.performWrite(ctx, id, items, epoch)
	return nil
}

// WaitReady blocks until the initial load for the current identity finishes.
func (s *Synchronizer) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		closed, state := s.closed, s.state
		s.mu.Unlock()
		if closed {
			return pkgerrors.New(pkgerrors.CodeInternal, "cart synchronizer is closed")
		}
		switch state {
		case StateReady:
			return nil
		case StateIdle:
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to use the cart")
		}
		select {
		case <-ctx.Done():
			return pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "cart load did not finish in time")
		case <-ticker.C:
		}
	}
}

// Close tears down the subscription and identity watch, flushing any pending
// write first. The synchronizer cannot be reused afterwards.
func (s *Synchronizer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	pending := s.pendingWrite
	id := s.currentID
	epoch := s.epoch
	items := cloneItems(s.items)
	cancelIdentity := s.cancelIdentity
	s.cancelIdentity = nil
	s.teardownSessionLocked()
	s.closed = true
	s.state = StateIdle
	s.mu.Unlock()

	if cancelIdentity != nil {
		cancelIdentity()
	}
	if pending && id != "" {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		defer cancel()
		s.performWrite(ctx, id, items, epoch)
	}
	return nil
}

func (s *Synchronizer) ensureReadyLocked() error {
	if s.closed {
		return pkgerrors.New(pkgerrors.CodeInternal, "cart synchronizer is closed")
	}
	if s.currentID == "" {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "sign in to use the cart")
	}
	if s.state != StateReady {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cart is still loading")
	}
	return nil
}

// beginLoadLocked starts a fresh identity session. The epoch counter fences
// out async work scheduled for a previous identity.
func (s *Synchronizer) beginLoadLocked(id string) {
	s.epoch++
	s.currentID = id
	s.state = StateLoading
	s.items = nil
	s.lastWrittenRev = 0
	epoch := s.epoch
	go s.load(epoch, id)
}

func (s *Synchronizer) load(epoch int, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	snap, err := s.store.Read(ctx, id)
	cancel()
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.logWarn(id, "cart load failed, starting empty", err)
		snap = Snapshot{}
	}

	cancelSub, subErr := s.store.Subscribe(context.Background(), id, func(in Snapshot) {
		s.handleSnapshot(epoch, in)
	})
	if subErr != nil {
		s.logWarn(id, "cart subscription failed", subErr)
	}

	s.mu.Lock()
	if s.closed || epoch != s.epoch {
		s.mu.Unlock()
		if cancelSub != nil {
			cancelSub()
		}
		return
	}
	s.items = cloneItems(snap.Items)
	s.lastWrittenRev = snap.Rev
	s.cancelSub = cancelSub
	s.state = StateReady
	s.mu.Unlock()
}

// handleSnapshot applies a remote change notification. Snapshots whose
// revision is not newer than the last acknowledged write are echoes of our
// own writes and are dropped; equal item lists are dropped regardless of
// revision to avoid redundant replacements downstream.
func (s *Synchronizer) handleSnapshot(epoch int, in Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || epoch != s.epoch || s.state != StateReady {
		return
	}
	if in.Rev != 0 && in.Rev <= s.lastWrittenRev {
		return
	}
	if in.Rev > s.lastWrittenRev {
		s.lastWrittenRev = in.Rev
	}
	if sameItems(s.items, in.Items) {
		return
	}
	s.items = cloneItems(in.Items)
	s.remoteApplies++
}

func (s *Synchronizer) handleIdentityChange(id string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if ok && id == s.currentID {
		return
	}

	// Pending state for the old identity is discarded, never carried over.
	s.teardownSessionLocked()
	s.items = nil

	if !ok {
		s.epoch++
		s.currentID = ""
		s.state = StateIdle
		s.lastWrittenRev = 0
		return
	}
	s.beginLoadLocked(id)
}

func (s *Synchronizer) scheduleWriteLocked() {
	s.pendingWrite = true
	epoch := s.epoch
	id := s.currentID
	if s.debounce != nil {
		s.debounce.Stop()
	}
	s.debounce = time.AfterFunc(s.opts.DebounceWindow, func() {
		s.flushDebounced(epoch, id)
	})
}

func (s *Synchronizer) flushDebounced(epoch int, id string) {
	s.mu.Lock()
	if s.closed || epoch != s.epoch || !s.pendingWrite {
		s.mu.Unlock()
		return
	}
	// Identity is re-checked at fire time, not schedule time.
	if s.currentID != id {
		s.mu.Unlock()
		return
	}
	s.pendingWrite = false
	s.debounce = nil
	items := cloneItems(s.items)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	s.performWrite(ctx, id, items, epoch)
}

// performWrite persists the list, retrying once. Failures are logged and
// swallowed; local state stays the session's source of truth.
func (s *Synchronizer) performWrite(ctx context.Context, id string, items []LineItem, epoch int) {
	rev, err := s.store.Write(ctx, id, items)
	if err != nil {
		s.logWarn(id, "cart write failed, retrying once", err)
		time.Sleep(s.opts.WriteRetryDelay)
		rev, err = s.store.Write(ctx, id, items)
		if err != nil {
			s.logWarn(id, "cart write retry failed, keeping local state", err)
			return
		}
	}

	s.mu.Lock()
	if !s.closed && epoch == s.epoch && rev > s.lastWrittenRev {
		s.lastWrittenRev = rev
	}
	s.mu.Unlock()
}

func (s *Synchronizer) stopDebounceLocked() {
	if s.debounce != nil {
		s.debounce.Stop()
		s.debounce = nil
	}
	s.pendingWrite = false
}

func (s *Synchronizer) teardownSessionLocked() {
	if s.cancelSub != nil {
		s.cancelSub()
		s.cancelSub = nil
	}
	s.stopDebounceLocked()
}

func (s *Synchronizer) logWarn(identityID, msg string, err error) {
	if s.logg == nil {
		return
	}
	ctx := s.logg.WithFields(context.Background(), map[string]any{
		"identity_id": identityID,
		"error":       err.Error(),
	})
	s.logg.Warn(ctx, msg)
}

func (s *Synchronizer) remoteApplyCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteApplies
}

func subtotalOf(items []LineItem) int {
	sum := 0
	for _, item := range items {
		sum += item.EffectivePriceKobo() * item.Quantity
	}
	return sum
}

// sameItems compares (productID, quantity) pairs in order.
func sameItems(a, b []LineItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ProductID != b[i].ProductID || a[i].Quantity != b[i].Quantity {
			return false
		}
	}
	return true
}

func cloneItems(items []LineItem) []LineItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]LineItem, len(items))
	copy(out, items)
	for i := range out {
		out[i].DiscountPriceKobo = copyIntPtr(items[i].DiscountPriceKobo)
	}
	return out
}

func copyIntPtr(src *int) *int {
	if src == nil {
		return nil
	}
	val := *src
	return &val
}
