package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderLineItem captures the snapshot of each cart line at checkout time.
// Prices are copied from the cart, not re-read from the catalog.
type OrderLineItem struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID         uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Name              string    `gorm:"column:name;not null"`
	Qty               int       `gorm:"column:qty;not null"`
	UnitPriceKobo     int       `gorm:"column:unit_price_kobo;not null"`
	DiscountPriceKobo *int      `gorm:"column:discount_price_kobo"`
	LineTotalKobo     int       `gorm:"column:line_total_kobo;not null"`
	Image             *string   `gorm:"column:image"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}
