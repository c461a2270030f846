package orders

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := r.db.WithContext(ctx).Omit("Items").Create(order).Error; err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repository) CreateOrderLineItems(ctx context.Context, items []models.OrderLineItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("user_id = ?", userID)
	return r.paginate(query, params)
}

func (r *repository) ListAll(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	query := r.db.WithContext(ctx).Model(&models.Order{})
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	if filters.DateFrom != nil {
		query = query.Where("created_at >= ?", *filters.DateFrom)
	}
	if filters.DateTo != nil {
		query = query.Where("created_at <= ?", *filters.DateTo)
	}
	if q := strings.TrimSpace(filters.Query); q != "" {
		query = query.Where("LOWER(reference) LIKE ?", "%"+strings.ToLower(q)+"%")
	}
	return r.paginate(query, params)
}

func (r *repository) paginate(query *gorm.DB, params pagination.Params) (*OrderList, error) {
	limit := pagination.NormalizeLimit(params.Limit)

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

	var orders []models.Order
	err := query.
		Preload("Items").
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(limit)).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	list := &OrderList{Orders: orders}
	if len(orders) > limit {
		list.Orders = orders[:limit]
		last := list.Orders[limit-1]
		list.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return list, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus, adminNote *string) error {
	updates := map[string]any{"status": status}
	if adminNote != nil {
		updates["admin_note"] = *adminNote
	}
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}
