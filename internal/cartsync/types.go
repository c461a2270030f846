package cartsync

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store.Read when no cart document exists yet.
var ErrNotFound = errors.New("cart not found")

// LineItem is one product-and-quantity entry within a cart. Prices are
// snapshots captured at add-time; catalog price changes do not retroactively
// change cart totals.
type LineItem struct {
	ProductID         string `json:"product_id"`
	Name              string `json:"name"`
	Quantity          int    `json:"quantity"`
	PriceKobo         int    `json:"price_kobo"`
	DiscountPriceKobo *int   `json:"discount_price_kobo,omitempty"`
	Image             string `json:"image,omitempty"`
}

// EffectivePriceKobo returns the discounted price when present.
func (l LineItem) EffectivePriceKobo() int {
	if l.DiscountPriceKobo != nil {
		return *l.DiscountPriceKobo
	}
	return l.PriceKobo
}

// ProductRef is the minimal product shape passed into AddToCart. The
// synchronizer does not validate or re-fetch it.
type ProductRef struct {
	ID                string
	Name              string
	PriceKobo         int
	DiscountPriceKobo *int
	Image             string
}

// Snapshot is the remote cart document state delivered by reads and
// subscription callbacks. Rev is assigned by the store and increases
// monotonically with every write to the same document.
type Snapshot struct {
	Rev   int64      `json:"rev"`
	Items []LineItem `json:"items"`
}

// Store is the remote cart document contract. Write returns the revision the
// store assigned to the new document state; Subscribe delivers every write to
// the document, including the caller's own (the echo the synchronizer
// suppresses). The returned cancel stops future deliveries and must not block
// waiting for one in flight; the synchronizer fences late deliveries by epoch.
type Store interface {
	Read(ctx context.Context, identityID string) (Snapshot, error)
	Write(ctx context.Context, identityID string, items []LineItem) (int64, error)
	Subscribe(ctx context.Context, identityID string, fn func(Snapshot)) (cancel func(), err error)
}

// IdentityProvider supplies the current authenticated identity and notifies
// on change.
type IdentityProvider interface {
	Current() (id string, ok bool)
	OnChange(fn func(id string, ok bool)) (cancel func())
}

// State is the synchronizer lifecycle state for the active identity session.
type State string

const (
	// StateIdle means no identity is established; mutations are rejected.
	StateIdle State = "idle"
	// StateLoading means the initial remote read for the identity is in flight.
	StateLoading State = "loading"
	// StateReady means the in-memory list is seeded and mutations are accepted.
	StateReady State = "ready"
)
