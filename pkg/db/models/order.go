package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	"github.com/bytefrontng/bytefront-backend/pkg/types"
)

// Order is an immutable snapshot of a checked-out cart plus shipping details
// and the uploaded payment-proof object. Status is mutated only by admins.
type Order struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Reference          string            `gorm:"column:reference;not null;uniqueIndex"`
	UserID             uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Status             enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	ShippingAddress    types.Address     `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	PaymentProofObject string            `gorm:"column:payment_proof_object;not null"`
	SubtotalKobo       int               `gorm:"column:subtotal_kobo;not null"`
	ShippingFeeKobo    int               `gorm:"column:shipping_fee_kobo;not null;default:0"`
	TotalKobo          int               `gorm:"column:total_kobo;not null"`
	AdminNote          *string           `gorm:"column:admin_note"`
	Items              []OrderLineItem   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
