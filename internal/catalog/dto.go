package catalog

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
)

// ProductFilters describe the inputs supported by the public product list.
type ProductFilters struct {
	Category     *enums.ProductCategory
	Brand        string
	PriceMinKobo *int
	PriceMaxKobo *int
	Query        string
	// IncludeInactive widens the list for back-office views.
	IncludeInactive bool
}

// ProductList wraps one page of products plus the next page cursor.
type ProductList struct {
	Products   []models.Product `json:"products"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// CreateProductInput carries the fields admins provide for a new product.
// DiscountPercent, when set, derives the stored discount price from the list
// price; the storefront always charges the stored kobo amount.
type CreateProductInput struct {
	Name            string
	Brand           string
	Category        enums.ProductCategory
	Description     string
	PriceKobo       int
	DiscountPercent *decimal.Decimal
	Images          []string
	Specs           json.RawMessage
	StockQty        int
}

// UpdateProductInput carries the optional fields of a product update. Nil
// fields are left untouched.
type UpdateProductInput struct {
	Name            *string
	Brand           *string
	Description     *string
	PriceKobo       *int
	DiscountPercent *decimal.Decimal
	ClearDiscount   bool
	Images          []string
	Specs           json.RawMessage
	StockQty        *int
	IsActive        *bool
}
