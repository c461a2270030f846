package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/bytefrontng/bytefront-backend/pkg/enums"
)

// Product is a catalog entry (laptop or accessory). Prices are integer kobo;
// DiscountPriceKobo, when set, is what the storefront charges.
type Product struct {
	ID                uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name              string                `gorm:"column:name;not null"`
	Slug              string                `gorm:"column:slug;not null;uniqueIndex"`
	Brand             string                `gorm:"column:brand;not null"`
	Category          enums.ProductCategory `gorm:"column:category;type:product_category;not null"`
	Description       string                `gorm:"column:description;type:text;not null;default:''"`
	PriceKobo         int                   `gorm:"column:price_kobo;not null"`
	DiscountPriceKobo *int                  `gorm:"column:discount_price_kobo"`
	Images            pq.StringArray        `gorm:"column:images;type:text[]"`
	Specs             json.RawMessage       `gorm:"column:specs;type:jsonb"`
	StockQty          int                   `gorm:"column:stock_qty;not null;default:0"`
	IsActive          bool                  `gorm:"column:is_active;not null;default:true"`
	CreatedAt         time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// EffectivePriceKobo returns the discounted price when present.
func (p Product) EffectivePriceKobo() int {
	if p.DiscountPriceKobo != nil {
		return *p.DiscountPriceKobo
	}
	return p.PriceKobo
}
