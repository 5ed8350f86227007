// Package catalog validates product input and drives the product store.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"storefront-service/internal/domain"
	"storefront-service/internal/store"
)

const (
	DefaultPageSize   = 20
	MaxPageSize       = 100
	DefaultRecentSize = 8
	MaxRecentSize     = 50
)

// CreateProductInput is the payload for a new product.
type CreateProductInput struct {
	Name        string           `json:"name" validate:"notblank,max=255"`
	Description string           `json:"description" validate:"max=5000"`
	Price       *decimal.Decimal `json:"price" validate:"required,price"`
	Stock       *int             `json:"stock" validate:"required,gte=0,lte=2147483647"`
	ImageURL    string           `json:"image_url" validate:"notblank,max=2048"`
	Category    string           `json:"category" validate:"required,category"`
}

// UpdateProductInput is a partial update. Absent fields are left unchanged.
type UpdateProductInput struct {
	Name        *string          `json:"name" validate:"omitnil,notblank,max=255"`
	Description *string          `json:"description" validate:"omitnil,max=5000"`
	Price       *decimal.Decimal `json:"price" validate:"omitnil,price"`
	Stock       *int             `json:"stock" validate:"omitnil,gte=0,lte=2147483647"`
	ImageURL    *string          `json:"image_url" validate:"omitnil,notblank,max=2048"`
	Category    *string          `json:"category" validate:"omitnil,category"`
}

// ListQuery selects a page of products.
type ListQuery struct {
	Limit       int              `json:"limit" validate:"gte=0"`
	Offset      int              `json:"offset" validate:"gte=0"`
	Search      string           `json:"search"`
	Category    string           `json:"category"`
	MinPrice    *decimal.Decimal `json:"min_price" validate:"omitnil,nonneg"`
	MaxPrice    *decimal.Decimal `json:"max_price" validate:"omitnil,nonneg"`
	InStockOnly bool             `json:"in_stock"`
	SortBy      string           `json:"sort_by" validate:"sortkey"`
	SortOrder   string           `json:"sort_order" validate:"omitempty,oneof=asc desc"`
}

// Page is one slice of a product listing.
type Page struct {
	Items  []domain.Product
	Total  int
	Limit  int
	Offset int
}

// Service is the product catalog. Every mutation is validated before the
// store is touched.
type Service struct {
	products store.ProductStorer
	validate *validator.Validate
	log      logrus.FieldLogger
}

// NewService creates a catalog Service over products.
func NewService(products store.ProductStorer, log logrus.FieldLogger) *Service {
	return &Service{
		products: products,
		validate: NewValidator(),
		log:      log.WithField("component", "catalog"),
	}
}

func (s *Service) Create(ctx context.Context, in CreateProductInput) (*domain.Product, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}
	category, _ := domain.ParseCategory(in.Category)

	created, err := s.products.CreateProduct(ctx, &domain.Product{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Price:       *in.Price,
		Stock:       *in.Stock,
		ImageURL:    in.ImageURL,
		Category:    category,
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"product_id": created.ID,
		"category":   created.Category,
	}).Info("product created")
	return created, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Product, error) {
	return s.products.GetProductByID(ctx, id)
}

// Update merges in into the product. An empty update returns the product unchanged.
func (s *Service) Update(ctx context.Context, id string, in UpdateProductInput) (*domain.Product, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}

	patch := domain.ProductPatch{
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		ImageURL:    in.ImageURL,
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		patch.Name = &name
	}
	if in.Category != nil {
		category, _ := domain.ParseCategory(*in.Category)
		patch.Category = &category
	}
	if patch.Empty() {
		return s.products.GetProductByID(ctx, id)
	}

	updated, err := s.products.UpdateProduct(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	s.log.WithField("product_id", id).Info("product updated")
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.products.DeleteProduct(ctx, id); err != nil {
		return err
	}
	s.log.WithField("product_id", id).Info("product deleted")
	return nil
}

// List returns one page of products. A zero limit selects DefaultPageSize.
func (s *Service) List(ctx context.Context, q ListQuery) (Page, error) {
	q.SortBy = strings.ToLower(q.SortBy)
	q.SortOrder = strings.ToLower(q.SortOrder)
	if err := s.validate.Struct(q); err != nil {
		return Page{}, toValidationError(err)
	}
	if q.MinPrice != nil && q.MaxPrice != nil && q.MinPrice.GreaterThan(*q.MaxPrice) {
		return Page{}, domain.NewValidationError("min_price", "must not exceed max_price")
	}

	limit := q.Limit
	if limit == 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	items, total, err := s.products.ListProducts(ctx, store.ListProductsParams{
		Limit:       limit,
		Offset:      q.Offset,
		Search:      strings.TrimSpace(q.Search),
		Category:    strings.TrimSpace(q.Category),
		MinPrice:    q.MinPrice,
		MaxPrice:    q.MaxPrice,
		InStockOnly: q.InStockOnly,
		SortBy:      q.SortBy,
		SortOrder:   q.SortOrder,
	})
	if err != nil {
		return Page{}, err
	}
	if items == nil {
		items = []domain.Product{}
	}
	return Page{Items: items, Total: total, Limit: limit, Offset: q.Offset}, nil
}

// Search returns every product whose name or category contains term,
// ignoring case. An empty term matches everything; no match is not an error.
func (s *Service) Search(ctx context.Context, term string) ([]domain.Product, error) {
	items, _, err := s.products.ListProducts(ctx, store.ListProductsParams{Search: strings.TrimSpace(term)})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []domain.Product{}
	}
	return items, nil
}

// Restock applies delta to the product's stock level.
func (s *Service) Restock(ctx context.Context, id string, delta int) (*domain.Product, error) {
	switch {
	case delta == 0:
		return nil, domain.NewValidationError("delta", "must not be 0")
	case delta > domain.MaxStock || delta < -domain.MaxStock:
		return nil, domain.NewValidationError("delta", fmt.Sprintf("must be between %d and %d", -domain.MaxStock, domain.MaxStock))
	}
	updated, err := s.products.AdjustStock(ctx, id, delta)
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{
		"product_id": id,
		"delta":      delta,
		"stock":      updated.Stock,
	}).Info("stock adjusted")
	return updated, nil
}

// Recent returns the newest products first.
func (s *Service) Recent(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		limit = DefaultRecentSize
	}
	if limit > MaxRecentSize {
		limit = MaxRecentSize
	}
	return s.products.RecentProducts(ctx, limit)
}

// Categories returns the fixed category labels.
func (s *Service) Categories() []domain.Category {
	return domain.Categories()
}
