package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
)

// Repository defines persistence operations for the product catalog.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, product *models.Product) (*models.Product, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindBySlug(ctx context.Context, slug string) (*models.Product, error)
	FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error)
	DecrementStock(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	List(ctx context.Context, params pagination.Params, filters ProductFilters) (*ProductList, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	Delete(ctx context.Context, id uuid.UUID) error
}
