package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error)
	CreateOrderLineItems(ctx context.Context, items []models.OrderLineItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error)
	ListAll(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus, adminNote *string) error
}
