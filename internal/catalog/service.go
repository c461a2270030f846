package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/bytefrontng/bytefront-backend/pkg/db"
	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/outbox"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines catalog operations for the storefront and back office.
type Service interface {
	List(ctx context.Context, params pagination.Params, filters ProductFilters) (*ProductList, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetBySlug(ctx context.Context, slug string) (*models.Product, error)
	RecordView(ctx context.Context, productID uuid.UUID) error
	Create(ctx context.Context, input CreateProductInput) (*models.Product, error)
	Update(ctx context.Context, id uuid.UUID, input UpdateProductInput) (*models.Product, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// ProductViewedEvent is the analytics payload emitted on public detail views.
type ProductViewedEvent struct {
	ProductID uuid.UUID             `json:"product_id"`
	Category  enums.ProductCategory `json:"category"`
	Brand     string                `json:"brand"`
	ViewedAt  time.Time             `json:"viewed_at"`
}

// NewService builds a catalog service with the required dependencies.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: outboxSvc}, nil
}

func (s *service) List(ctx context.Context, params pagination.Params, filters ProductFilters) (*ProductList, error) {
	list, err := s.repo.List(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing products")
	}
	return list, nil
}

func (s *service) GetByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	product, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
	}
	return product, nil
}

func (s *service) GetBySlug(ctx context.Context, slug string) (*models.Product, error) {
	product, err := s.repo.FindBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
	}
	return product, nil
}

// RecordView queues a product.viewed analytics event. Callers treat failures
// as non-fatal; a lost view never breaks the product page.
func (s *service) RecordView(ctx context.Context, productID uuid.UUID) error {
	product, err := s.GetByID(ctx, productID)
	if err != nil {
		return err
	}
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProductViewed,
			AggregateType: enums.AggregateProduct,
			AggregateID:   product.ID,
			Data: ProductViewedEvent{
				ProductID: product.ID,
				Category:  product.Category,
				Brand:     product.Brand,
				ViewedAt:  time.Now().UTC(),
			},
			Version: 1,
		})
	})
}

func (s *service) Create(ctx context.Context, input CreateProductInput) (*models.Product, error) {
	if err := validateCreateInput(input); err != nil {
		return nil, err
	}

	product := &models.Product{
		Name:        strings.TrimSpace(input.Name),
		Slug:        Slugify(input.Name),
		Brand:       strings.TrimSpace(input.Brand),
		Category:    input.Category,
		Description: input.Description,
		PriceKobo:   input.PriceKobo,
		Images:      pq.StringArray(input.Images),
		Specs:       input.Specs,
		StockQty:    input.StockQty,
		IsActive:    true,
	}
	if input.DiscountPercent != nil {
		discounted, err := discountPriceKobo(input.PriceKobo, *input.DiscountPercent)
		if err != nil {
			return nil, err
		}
		product.DiscountPriceKobo = &discounted
	}

	created, err := s.repo.Create(ctx, product)
	if dbpkg.IsUniqueViolation(err, "") {
		// Slug collision; retry once with a short disambiguating suffix.
		product.Slug = fmt.Sprintf("%s-%s", product.Slug, uuid.NewString()[:8])
		created, err = s.repo.Create(ctx, product)
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating product")
	}
	return created, nil
}

func (s *service) Update(ctx context.Context, id uuid.UUID, input UpdateProductInput) (*models.Product, error) {
	existing, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "product name cannot be empty")
		}
		updates["name"] = strings.TrimSpace(*input.Name)
	}
	if input.Brand != nil {
		updates["brand"] = strings.TrimSpace(*input.Brand)
	}
	if input.Description != nil {
		updates["description"] = *input.Description
	}
	if input.PriceKobo != nil {
		if *input.PriceKobo <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must be positive")
		}
		updates["price_kobo"] = *input.PriceKobo
	}
	if input.ClearDiscount {
		updates["discount_price_kobo"] = nil
	} else if input.DiscountPercent != nil {
		basePrice := existing.PriceKobo
		if input.PriceKobo != nil {
			basePrice = *input.PriceKobo
		}
		discounted, err := discountPriceKobo(basePrice, *input.DiscountPercent)
		if err != nil {
			return nil, err
		}
		updates["discount_price_kobo"] = discounted
	}
	if input.Images != nil {
		updates["images"] = pq.StringArray(input.Images)
	}
	if input.Specs != nil {
		updates["specs"] = input.Specs
	}
	if input.StockQty != nil {
		if *input.StockQty < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock quantity cannot be negative")
		}
		updates["stock_qty"] = *input.StockQty
	}
	if input.IsActive != nil {
		updates["is_active"] = *input.IsActive
	}

	if err := s.repo.Update(ctx, id, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating product")
	}
	return s.GetByID(ctx, id)
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetByID(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting product")
	}
	return nil
}

func validateCreateInput(input CreateProductInput) error {
	if strings.TrimSpace(input.Name) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product name is required")
	}
	if strings.TrimSpace(input.Brand) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "product brand is required")
	}
	if !input.Category.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown product category")
	}
	if input.PriceKobo <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must be positive")
	}
	if input.StockQty < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stock quantity cannot be negative")
	}
	return nil
}

// discountPriceKobo derives the charged price from a percent-off figure.
// Decimal math avoids float drift on kobo amounts; the result rounds to the
// nearest whole kobo.
func discountPriceKobo(priceKobo int, percent decimal.Decimal) (int, error) {
	if percent.LessThanOrEqual(decimal.Zero) || percent.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "discount percent must be between 0 and 100 exclusive")
	}
	price := decimal.NewFromInt(int64(priceKobo))
	factor := decimal.NewFromInt(100).Sub(percent).Div(decimal.NewFromInt(100))
	return int(price.Mul(factor).Round(0).IntPart()), nil
}

// Slugify lowercases the name and collapses non-alphanumerics to hyphens.
func Slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteRune('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
