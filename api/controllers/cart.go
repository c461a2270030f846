package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bytefrontng/bytefront-backend/api/middleware"
	"github.com/bytefrontng/bytefront-backend/api/responses"
	"github.com/bytefrontng/bytefront-backend/api/validators"
	"github.com/bytefrontng/bytefront-backend/internal/cartsync"
	"github.com/bytefrontng/bytefront-backend/internal/catalog"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
)

// cartSessions is the slice of cartsession.Manager the HTTP layer needs.
type cartSessions interface {
	Acquire(ctx context.Context, userID string) (*cartsync.Synchronizer, error)
}

// cartEvictor flushes and drops a user's server-side cart session.
type cartEvictor interface {
	Evict(ctx context.Context, userID string) error
}

type cartResponse struct {
	Items        []cartsync.LineItem `json:"items"`
	SubtotalKobo int                 `json:"subtotal_kobo"`
	TotalKobo    int                 `json:"total_kobo"`
}

type cartAddItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"omitempty,min=1"`
}

type cartUpdateItemRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

// CartFetch returns the authenticated user's cart.
func CartFetch(carts cartSessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sync, err := acquireReadyCart(r, carts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshotCart(sync))
	}
}

// CartClear empties the cart with an immediate write.
func CartClear(carts cartSessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sync, err := acquireReadyCart(r, carts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := sync.ClearCart(r.Context()); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, snapshotCart(sync))
	}
}

// CartAddItem adds a product to the cart, looking up the price snapshot from
// the catalog at add time.
func CartAddItem(carts cartSessions, products catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if products == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		var body cartAddItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		productID, err := uuid.Parse(strings.TrimSpace(body.ProductID))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		product, err := products.GetByID(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !product.IsActive {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeStateConflict, "product is no longer available"))
			return
		}

		sync, err := acquireReadyCart(r, carts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		image := ""
		if len(product.Images) > 0 {
			image = product.Images[0]
		}
		if err := sync.AddToCart(cartsync.ProductRef{
			ID:                product.ID.String(),
			Name:              product.Name,
			PriceKobo:         product.PriceKobo,
			DiscountPriceKobo: product.DiscountPriceKobo,
			Image:             image,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if body.Quantity > 1 {
			if err := sync.UpdateQuantity(product.ID.String(), body.Quantity); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		responses.WriteSuccess(w, snapshotCart(sync))
	}
}

// CartUpdateItem sets the quantity of an existing line.
func CartUpdateItem(carts cartSessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := chi.URLParam(r, "productId")
		if strings.TrimSpace(productID) == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product id required"))
			return
		}

		var body cartUpdateItemRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sync, err := acquireReadyCart(r, carts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := sync.UpdateQuantity(productID, body.Quantity); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, snapshotCart(sync))
	}
}

// CartRemoveItem deletes a line from the cart.
func CartRemoveItem(carts cartSessions, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID := chi.URLParam(r, "productId")
		if strings.TrimSpace(productID) == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product id required"))
			return
		}

		sync, err := acquireReadyCart(r, carts)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := sync.RemoveFromCart(productID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, snapshotCart(sync))
	}
}

func acquireReadyCart(r *http.Request, carts cartSessions) (*cartsync.Synchronizer, error) {
	if carts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cart sessions unavailable")
	}
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	sync, err := carts.Acquire(r.Context(), userID)
	if err != nil {
		return nil, err
	}
	if err := sync.WaitReady(r.Context()); err != nil {
		return nil, err
	}
	return sync, nil
}

func snapshotCart(sync *cartsync.Synchronizer) cartResponse {
	items := sync.Items()
	if items == nil {
		items = []cartsync.LineItem{}
	}
	return cartResponse{
		Items:        items,
		SubtotalKobo: sync.Subtotal(),
		TotalKobo:    sync.Total(),
	}
}
