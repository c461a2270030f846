package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/bytefrontng/bytefront-backend/api/middleware"
	"github.com/bytefrontng/bytefront-backend/api/responses"
	"github.com/bytefrontng/bytefront-backend/api/validators"
	checkoutsvc "github.com/bytefrontng/bytefront-backend/internal/checkout"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	"github.com/bytefrontng/bytefront-backend/pkg/types"
)

type checkoutRequest struct {
	ShippingAddress    types.Address `json:"shipping_address" validate:"required"`
	PaymentProofObject string        `json:"payment_proof_object" validate:"required"`
}

// Checkout places an order from the authenticated user's cart.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		userID := middleware.UserIDFromContext(r.Context())
		if userID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}
		uid, err := uuid.Parse(userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		var body checkoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Checkout(r.Context(), checkoutsvc.CheckoutInput{
			UserID:             uid,
			ShippingAddress:    body.ShippingAddress,
			PaymentProofObject: body.PaymentProofObject,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, order)
	}
}
