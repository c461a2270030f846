package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bytefrontng/bytefront-backend/api/responses"
	"github.com/bytefrontng/bytefront-backend/api/validators"
	"github.com/bytefrontng/bytefront-backend/internal/orders"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
)

type adminOrderStatusRequest struct {
	Status    string  `json:"status" validate:"required"`
	AdminNote *string `json:"admin_note,omitempty"`
}

// AdminListOrders serves the back-office order queue with filters.
func AdminListOrders(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, maxOrderPageSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filters, err := orderFiltersFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.AdminList(r.Context(), pagination.Params{
			Limit:  limit,
			Cursor: r.URL.Query().Get("cursor"),
		}, filters)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, list)
	}
}

// AdminGetOrder serves any order by id.
func AdminGetOrder(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		order, err := svc.AdminGet(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, order)
	}
}

// AdminChangeOrderStatus moves an order to a terminal status.
func AdminChangeOrderStatus(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id"))
			return
		}

		actorID, err := authedUserID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body adminOrderStatusRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status, err := enums.ParseOrderStatus(strings.TrimSpace(body.Status))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status"))
			return
		}

		order, err := svc.ChangeStatus(r.Context(), orders.ChangeStatusInput{
			OrderID:   orderID,
			NewStatus: status,
			AdminNote: body.AdminNote,
			ActorID:   actorID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, order)
	}
}

func orderFiltersFromQuery(r *http.Request) (orders.OrderFilters, error) {
	filters := orders.OrderFilters{
		Query: strings.TrimSpace(r.URL.Query().Get("q")),
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status, err := enums.ParseOrderStatus(raw)
		if err != nil {
			return orders.OrderFilters{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
		}
		filters.Status = &status
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("date_from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return orders.OrderFilters{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid date_from")
		}
		filters.DateFrom = &from
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("date_to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return orders.OrderFilters{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid date_to")
		}
		filters.DateTo = &to
	}

	return filters, nil
}
