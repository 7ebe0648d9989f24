package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront/internal/cache"
	"storefront/internal/domain"
	"storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ProductInput carries the writable attributes of a product.
type ProductInput struct {
	Name        string
	Description string
	Price       decimal.Decimal
	Discount    decimal.Decimal
	CategoryID  uuid.UUID
	ImageURL    string
	Stock       int
}

// ProductPage is one page of a product listing.
type ProductPage struct {
	Products []*domain.Product `json:"products"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

// CatalogService defines the interface for category and product business logic
type CatalogService interface {
	CreateCategory(ctx context.Context, name, description string) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]*domain.Category, error)
	GetCategory(ctx context.Context, id uuid.UUID) (*domain.Category, error)
	UpdateCategory(ctx context.Context, id uuid.UUID, name, description string) (*domain.Category, error)
	DeleteCategory(ctx context.Context, id uuid.UUID) error

	CreateProduct(ctx context.Context, input ProductInput) (*domain.Product, error)
	UpdateProduct(ctx context.Context, id uuid.UUID, input ProductInput) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id uuid.UUID) error
	GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error)
	ListProducts(ctx context.Context, filter repository.ProductFilter) (*ProductPage, error)
	SearchProducts(ctx context.Context, query string, page, pageSize int) (*ProductPage, error)
}

type catalogService struct {
	categories repository.CategoryRepository
	products   repository.ProductRepository
	cache      *cache.ReadThrough[*domain.Product]
	carts      *cache.ReadThrough[*domain.Cart]
	clock      Clock
	logger     *zap.Logger
}

// NewCatalogService creates a new instance of CatalogService
func NewCatalogService(
	categories repository.CategoryRepository,
	products repository.ProductRepository,
	productCache *cache.ReadThrough[*domain.Product],
	cartCache *cache.ReadThrough[*domain.Cart],
	clock Clock,
	logger *zap.Logger,
) CatalogService {
	return &catalogService{
		categories: categories,
		products:   products,
		cache:      productCache,
		carts:      cartCache,
		clock:      clock,
		logger:     logger.Named("catalog"),
	}
}

func (s *catalogService) CreateCategory(ctx context.Context, name, description string) (*domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrEmptyCategory
	}

	now := s.clock.Now()
	category := &domain.Category{
		ID:          uuid.New(),
		Name:        name,
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.categories.Create(ctx, category); err != nil {
		return nil, s.storeError(err, "category", category.ID, "create")
	}

	return category, nil
}

func (s *catalogService) ListCategories(ctx context.Context) ([]*domain.Category, error) {
	categories, err := s.categories.List(ctx)
	if err != nil {
		return nil, s.storeError(err, "category", uuid.Nil, "list")
	}
	return categories, nil
}

func (s *catalogService) GetCategory(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	category, err := s.categories.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeError(err, "category", id, "get")
	}
	return category, nil
}

// UpdateCategory renames a category; the new name must not be taken.
func (s *catalogService) UpdateCategory(ctx context.Context, id uuid.UUID, name, description string) (*domain.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrEmptyCategory
	}

	category, err := s.categories.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeError(err, "category", id, "update")
	}

	category.Name = name
	category.Description = description
	category.UpdatedAt = s.clock.Now()
	if err := s.categories.Update(ctx, category); err != nil {
		return nil, s.storeError(err, "category", id, "update")
	}

	s.logger.Info("Category updated", zap.String("category_id", id.String()))
	return category, nil
}

// DeleteCategory removes an unused category. Categories that still have
// products are refused with a conflict.
func (s *catalogService) DeleteCategory(ctx context.Context, id uuid.UUID) error {
	if err := s.categories.Delete(ctx, id); err != nil {
		return s.storeError(err, "category", id, "delete")
	}

	s.logger.Info("Category deleted", zap.String("category_id", id.String()))
	return nil
}

// CreateProduct validates and stores a new product
func (s *catalogService) CreateProduct(ctx context.Context, input ProductInput) (*domain.Product, error) {
	now := s.clock.Now()
	product := &domain.Product{ID: uuid.New(), CreatedAt: now}
	input.apply(product, now)

	if err := product.Validate(); err != nil {
		return nil, err
	}

	if err := s.products.Create(ctx, product); err != nil {
		return nil, s.storeError(err, "product", product.ID, "create")
	}

	return product, nil
}

// UpdateProduct replaces the writable attributes of a product and drops its cache entry
func (s *catalogService) UpdateProduct(ctx context.Context, id uuid.UUID, input ProductInput) (*domain.Product, error) {
	product, err := s.products.FindByID(ctx, id)
	if err != nil {
		return nil, s.storeError(err, "product", id, "update")
	}

	input.apply(product, s.clock.Now())
	if err := product.Validate(); err != nil {
		return nil, err
	}

	if err := s.products.Update(ctx, product); err != nil {
		return nil, s.storeError(err, "product", id, "update")
	}

	s.cache.Invalidate(ctx, cache.ProductKey(id))
	return product, nil
}

// DeleteProduct removes a product and drops its cache entry along with the
// cached carts of everyone who had it in their cart.
func (s *catalogService) DeleteProduct(ctx context.Context, id uuid.UUID) error {
	owners, err := s.products.Delete(ctx, id)
	if err != nil {
		return s.storeError(err, "product", id, "delete")
	}

	s.cache.Invalidate(ctx, cache.ProductKey(id))
	if len(owners) > 0 {
		keys := make([]string, len(owners))
		for i, userID := range owners {
			keys[i] = cache.CartKey(userID)
		}
		s.carts.Invalidate(ctx, keys...)
		s.logger.Info("Removed deleted product from carts",
			zap.String("product_id", id.String()),
			zap.Int("carts", len(owners)),
		)
	}
	return nil
}

// GetProduct reads a product through the product cache
func (s *catalogService) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	product, err := s.cache.Get(ctx, cache.ProductKey(id), func(ctx context.Context) (*domain.Product, error) {
		return s.products.FindByID(ctx, id)
	})
	if err != nil {
		return nil, s.storeError(err, "product", id, "get")
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter repository.ProductFilter) (*ProductPage, error) {
	filter.Page, filter.PageSize = repository.NormalizePage(filter.Page, filter.PageSize)

	products, total, err := s.products.List(ctx, filter)
	if err != nil {
		return nil, s.storeError(err, "product", uuid.Nil, "list")
	}
	return &ProductPage{Products: products, Total: total, Page: filter.Page, PageSize: filter.PageSize}, nil
}

func (s *catalogService) SearchProducts(ctx context.Context, query string, page, pageSize int) (*ProductPage, error) {
	page, pageSize = repository.NormalizePage(page, pageSize)

	products, total, err := s.products.Search(ctx, query, page, pageSize)
	if err != nil {
		return nil, s.storeError(err, "product", uuid.Nil, "search")
	}
	return &ProductPage{Products: products, Total: total, Page: page, PageSize: pageSize}, nil
}

// storeError passes classified errors through and logs and wraps the rest.
func (s *catalogService) storeError(err error, entity string, id uuid.UUID, operation string) error {
	if domain.KindOf(err) != domain.KindInternal {
		return err
	}

	s.logger.Error("Catalog store operation failed",
		zap.String("entity", entity),
		zap.String("id", id.String()),
		zap.String("operation", operation),
		zap.Error(err),
	)
	return fmt.Errorf("failed to %s %s: %w", operation, entity, err)
}

func (in ProductInput) apply(p *domain.Product, now time.Time) {
	p.Name = strings.TrimSpace(in.Name)
	p.Description = in.Description
	p.Price = in.Price
	p.Discount = in.Discount
	p.CategoryID = in.CategoryID
	p.ImageURL = in.ImageURL
	p.Stock = in.Stock
	p.UpdatedAt = now
}
