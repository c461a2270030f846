package controllers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bytefrontng/bytefront-backend/api/responses"
	"github.com/bytefrontng/bytefront-backend/api/validators"
	"github.com/bytefrontng/bytefront-backend/internal/catalog"
	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
)

const maxProductPageSize = 100

// ListProducts serves the public product list with filtering and cursor
// pagination.
func ListProducts(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, maxProductPageSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		filters, err := productFiltersFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		list, err := svc.List(r.Context(), pagination.Params{
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

// GetProduct serves the public product detail and records the view for
// analytics. The path segment accepts a UUID or a slug.
func GetProduct(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		raw := strings.TrimSpace(chi.URLParam(r, "productId"))
		if raw == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "product id required"))
			return
		}

		var (
			product *models.Product
			err     error
		)
		if id, parseErr := uuid.Parse(raw); parseErr == nil {
			product, err = svc.GetByID(r.Context(), id)
		} else {
			product, err = svc.GetBySlug(r.Context(), raw)
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		// View tracking is best-effort; the detail response never fails on it.
		if err := svc.RecordView(r.Context(), product.ID); err != nil && logg != nil {
			logg.Warn(logg.WithField(r.Context(), "product_id", product.ID.String()), "failed to record product view")
		}

		responses.WriteSuccess(w, product)
	}
}

func productFiltersFromQuery(r *http.Request) (catalog.ProductFilters, error) {
	filters := catalog.ProductFilters{
		Brand: strings.TrimSpace(r.URL.Query().Get("brand")),
		Query: strings.TrimSpace(r.URL.Query().Get("q")),
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("category")); raw != "" {
		category, err := enums.ParseProductCategory(raw)
		if err != nil {
			return catalog.ProductFilters{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid category")
		}
		filters.Category = &category
	}

	if min, err := validators.ParseQueryInt(r, "price_min_kobo", -1, 0, 1<<40); err != nil {
		return catalog.ProductFilters{}, err
	} else if min >= 0 {
		filters.PriceMinKobo = &min
	}
	if max, err := validators.ParseQueryInt(r, "price_max_kobo", -1, 0, 1<<40); err != nil {
		return catalog.ProductFilters{}, err
	} else if max >= 0 {
		filters.PriceMaxKobo = &max
	}

	return filters, nil
}

type adminProductRequest struct {
	Name            string          `json:"name" validate:"required"`
	Brand           string          `json:"brand" validate:"required"`
	Category        string          `json:"category" validate:"required"`
	Description     string          `json:"description,omitempty"`
	PriceKobo       int             `json:"price_kobo" validate:"required,min=1"`
	DiscountPercent *float64        `json:"discount_percent,omitempty" validate:"omitempty,gt=0,lt=100"`
	Images          []string        `json:"images,omitempty"`
	Specs           json.RawMessage `json:"specs,omitempty"`
	StockQty        int             `json:"stock_qty" validate:"omitempty,min=0"`
}

type adminProductUpdateRequest struct {
	Name            *string         `json:"name,omitempty"`
	Brand           *string         `json:"brand,omitempty"`
	Description     *string         `json:"description,omitempty"`
	PriceKobo       *int            `json:"price_kobo,omitempty" validate:"omitempty,min=1"`
	DiscountPercent *float64        `json:"discount_percent,omitempty" validate:"omitempty,gt=0,lt=100"`
	ClearDiscount   bool            `json:"clear_discount,omitempty"`
	Images          []string        `json:"images,omitempty"`
	Specs           json.RawMessage `json:"specs,omitempty"`
	StockQty        *int            `json:"stock_qty,omitempty" validate:"omitempty,min=0"`
	IsActive        *bool           `json:"is_active,omitempty"`
}

// AdminListProducts serves the back-office product list including inactive rows.
func AdminListProducts(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, maxProductPageSize)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters, err := productFiltersFromQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filters.IncludeInactive = true

		list, err := svc.List(r.Context(), pagination.Params{
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

// AdminCreateProduct creates a catalog entry.
func AdminCreateProduct(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		var body adminProductRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		category, err := enums.ParseProductCategory(strings.TrimSpace(body.Category))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid category"))
			return
		}

		product, err := svc.Create(r.Context(), catalog.CreateProductInput{
			Name:            body.Name,
			Brand:           body.Brand,
			Category:        category,
			Description:     body.Description,
			PriceKobo:       body.PriceKobo,
			DiscountPercent: decimalPtr(body.DiscountPercent),
			Images:          body.Images,
			Specs:           body.Specs,
			StockQty:        body.StockQty,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, product)
	}
}

// AdminUpdateProduct applies a partial product update.
func AdminUpdateProduct(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		var body adminProductUpdateRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		product, err := svc.Update(r.Context(), id, catalog.UpdateProductInput{
			Name:            body.Name,
			Brand:           body.Brand,
			Description:     body.Description,
			PriceKobo:       body.PriceKobo,
			DiscountPercent: decimalPtr(body.DiscountPercent),
			ClearDiscount:   body.ClearDiscount,
			Images:          body.Images,
			Specs:           body.Specs,
			StockQty:        body.StockQty,
			IsActive:        body.IsActive,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, product)
	}
}

// AdminDeleteProduct removes a catalog entry.
func AdminDeleteProduct(svc catalog.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "catalog service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		if err := svc.Delete(r.Context(), id); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "deleted"})
	}
}

func decimalPtr(value *float64) *decimal.Decimal {
	if value == nil {
		return nil
	}
	d := decimal.NewFromFloat(*value)
	return &d
}
