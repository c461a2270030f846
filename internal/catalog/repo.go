package catalog

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, product *models.Product) (*models.Product, error) {
	if err := r.db.WithContext(ctx).Create(product).Error; err != nil {
		return nil, err
	}
	return product, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) FindBySlug(ctx context.Context, slug string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&product).Error
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repository) FindActiveByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var products []models.Product
	err := r.db.WithContext(ctx).
		Where("id IN ?", ids).
		Where("is_active = ?", true).
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

// DecrementStock atomically takes qty units off a product's stock. It reports
// false when the remaining stock is short, leaving the row untouched.
func (r *repository) DecrementStock(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	if qty <= 0 {
		return false, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ? AND stock_qty >= ?", id, qty).
		Update("stock_qty", gorm.Expr("stock_qty - ?", qty))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) List(ctx context.Context, params pagination.Params, filters ProductFilters) (*ProductList, error) {
	limit := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.Product{})
	if !filters.IncludeInactive {
		query = query.Where("is_active = ?", true)
	}
	if filters.Category != nil {
		query = query.Where("category = ?", *filters.Category)
	}
	if brand := strings.TrimSpace(filters.Brand); brand != "" {
		query = query.Where("LOWER(brand) = ?", strings.ToLower(brand))
	}
	if filters.PriceMinKobo != nil {
		query = query.Where("price_kobo >= ?", *filters.PriceMinKobo)
	}
	if filters.PriceMaxKobo != nil {
		query = query.Where("price_kobo <= ?", *filters.PriceMaxKobo)
	}
	if q := strings.TrimSpace(filters.Query); q != "" {
		pattern := "%" + strings.ToLower(q) + "%"
		query = query.Where("LOWER(name) LIKE ? OR LOWER(brand) LIKE ?", pattern, pattern)
	}

	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, err
		}
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var products []models.Product
	err := query.
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&products).Error
	if err != nil {
		return nil, err
	}

	list := &ProductList{Products: products}
	if len(products) > limit {
		list.Products = products[:limit]
		last := list.Products[limit-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return list, nil
}

func (r *repository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) Delete(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.Product{}).Error
}
