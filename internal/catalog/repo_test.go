package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
)

func setupCatalogTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	products := `
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  slug TEXT NOT NULL UNIQUE,
  brand TEXT NOT NULL,
  category TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  price_kobo INTEGER NOT NULL,
  discount_price_kobo INTEGER,
  images TEXT,
  specs TEXT,
  stock_qty INTEGER NOT NULL DEFAULT 0,
  is_active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(products).Error)
	return db
}

func seedProduct(t *testing.T, repo Repository, name string, category enums.ProductCategory, opts func(*models.Product)) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:        uuid.New(),
		Name:      name,
		Slug:      Slugify(name),
		Brand:     "Lenovo",
		Category:  category,
		PriceKobo: 45000000,
		IsActive:  true,
	}
	if opts != nil {
		opts(product)
	}
	created, err := repo.Create(context.Background(), product)
	require.NoError(t, err)
	return created
}

func TestRepositoryFindBySlug(t *testing.T) {
	repo := NewRepository(setupCatalogTestDB(t))
	seeded := seedProduct(t, repo, "ThinkPad X1 Carbon", enums.ProductCategoryLaptop, nil)

	found, err := repo.FindBySlug(context.Background(), "thinkpad-x1-carbon")
	require.NoError(t, err)
	assert.Equal(t, seeded.ID, found.ID)

	_, err = repo.FindBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryFindActiveByIDsSkipsInactive(t *testing.T) {
	repo := NewRepository(setupCatalogTestDB(t))
	active := seedProduct(t, repo, "ThinkPad X1", enums.ProductCategoryLaptop, nil)
	inactive := seedProduct(t, repo, "Old Stock", enums.ProductCategoryLaptop, func(p *models.Product) {
		p.IsActive = false
	})

	found, err := repo.FindActiveByIDs(context.Background(), []uuid.UUID{active.ID, inactive.ID})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, active.ID, found[0].ID)
}

func TestRepositoryDecrementStock(t *testing.T) {
	repo := NewRepository(setupCatalogTestDB(t))
	product := seedProduct(t, repo, "ThinkPad X1", enums.ProductCategoryLaptop, func(p *models.Product) {
		p.StockQty = 3
	})
	ctx := context.Background()

	ok, err := repo.DecrementStock(ctx, product.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := repo.FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, found.StockQty)

	// A shortfall leaves the row untouched.
	ok, err = repo.DecrementStock(ctx, product.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	found, err = repo.FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, found.StockQty)

	ok, err = repo.DecrementStock(ctx, product.ID, 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepositoryListFilters(t *testing.T) {
	repo := NewRepository(setupCatalogTestDB(t))
	seedProduct(t, repo, "ThinkPad X1", enums.ProductCategoryLaptop, func(p *models.Product) {
		p.PriceKobo = 45000000
	})
	seedProduct(t, repo, "MacBook Air", enums.ProductCategoryLaptop, func(p *models.Product) {
		p.Brand = "Apple"
		p.PriceKobo = 80000000
	})
	seedProduct(t, repo, "USB-C Hub", enums.ProductCategoryAccessory, func(p *models.Product) {
		p.Brand = "Anker"
		p.PriceKobo = 1500000
	})
	seedProduct(t, repo, "Hidden Laptop", enums.ProductCategoryLaptop, func(p *models.Product) {
		p.IsActive = false
	})

	ctx := context.Background()

	t.Run("category", func(t *testing.T) {
		category := enums.ProductCategoryAccessory
		list, err := repo.List(ctx, pagination.Params{}, ProductFilters{Category: &category})
		require.NoError(t, err)
		require.Len(t, list.Products, 1)
		assert.Equal(t, "USB-C Hub", list.Products[0].Name)
	})

	t.Run("brand is case-insensitive", func(t *testing.T) {
		list, err := repo.List(ctx, pagination.Params{}, ProductFilters{Brand: "apple"})
		require.NoError(t, err)
		require.Len(t, list.Products, 1)
		assert.Equal(t, "MacBook Air", list.Products[0].Name)
	})

	t.Run("price range", func(t *testing.T) {
		minPrice, maxPrice := 40000000, 50000000
		list, err := repo.List(ctx, pagination.Params{}, ProductFilters{PriceMinKobo: &minPrice, PriceMaxKobo: &maxPrice})
		require.NoError(t, err)
		require.Len(t, list.Products, 1)
		assert.Equal(t, "ThinkPad X1", list.Products[0].Name)
	})

	t.Run("search matches name and brand", func(t *testing.T) {
		list, err := repo.List(ctx, pagination.Params{}, ProductFilters{Query: "anker"})
		require.NoError(t, err)
		require.Len(t, list.Products, 1)

		list, err = repo.List(ctx, pagination.Params{}, ProductFilters{Query: "macbook"})
		require.NoError(t, err)
		require.Len(t, list.Products, 1)
	})

	t.Run("inactive products are hidden by default", func(t *testing.T) {
		list, err := repo.List(ctx, pagination.Params{}, ProductFilters{})
		require.NoError(t, err)
		assert.Len(t, list.Products, 3)

		list, err = repo.List(ctx, pagination.Params{}, ProductFilters{IncludeInactive: true})
		require.NoError(t, err)
		assert.Len(t, list.Products, 4)
	})
}

func TestRepositoryListCursorPagination(t *testing.T) {
	repo := NewRepository(setupCatalogTestDB(t))
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	for i := 0; i < 5; i++ {
		offset := time.Duration(i) * time.Minute
		seedProduct(t, repo, "Laptop "+string(rune('A'+i)), enums.ProductCategoryLaptop, func(p *models.Product) {
			p.CreatedAt = base.Add(offset)
			p.UpdatedAt = base.Add(offset)
		})
	}

	ctx := context.Background()
	first, err := repo.List(ctx, pagination.Params{Limit: 2}, ProductFilters{})
	require.NoError(t, err)
	require.Len(t, first.Products, 2)
	require.NotEmpty(t, first.NextCursor)
	assert.Equal(t, "Laptop E", first.Products[0].Name)

	second, err := repo.List(ctx, pagination.Params{Limit: 2, Cursor: first.NextCursor}, ProductFilters{})
	require.NoError(t, err)
	require.Len(t, second.Products, 2)
	require.NotEmpty(t, second.NextCursor)
	assert.Equal(t, "Laptop C", second.Products[0].Name)

	last, err := repo.List(ctx, pagination.Params{Limit: 2, Cursor: second.NextCursor}, ProductFilters{})
	require.NoError(t, err)
	require.Len(t, last.Products, 1)
	assert.Empty(t, last.NextCursor)
	assert.Equal(t, "Laptop A", last.Products[0].Name)
}

func TestRepositoryUpdateAndDelete(t *testing.T) {
	repo := NewRepository(setupCatalogTestDB(t))
	product := seedProduct(t, repo, "ThinkPad X1", enums.ProductCategoryLaptop, nil)
	ctx := context.Background()

	require.NoError(t, repo.Update(ctx, product.ID, map[string]any{"price_kobo": 42000000, "is_active": false}))
	updated, err := repo.FindByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 42000000, updated.PriceKobo)
	assert.False(t, updated.IsActive)

	require.NoError(t, repo.Delete(ctx, product.ID))
	_, err = repo.FindByID(ctx, product.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
