package store

import (
	"context"

	"github.com/shopspring/decimal"

	"storefront-service/internal/domain"
)

// ListProductsParams holds parameters for listing products (for pagination, filtering, sorting).
type ListProductsParams struct {
	Limit       int
	Offset      int
	Search      string           // Case-insensitive substring over name OR category
	Category    string           // Case-insensitive substring over category
	MinPrice    *decimal.Decimal
	MaxPrice    *decimal.Decimal
	InStockOnly bool
	SortBy      string // "name", "price", "created_at"; empty means creation order
	SortOrder   string // "asc" or "desc"
}

// ProductStorer defines the durable operations for products.
// Implementations never touch carts: carts keep their own snapshots.
type ProductStorer interface {
	CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context, params ListProductsParams) ([]domain.Product, int, error) // Returns products and total count
	UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error)
	DeleteProduct(ctx context.Context, id string) error
	AdjustStock(ctx context.Context, id string, delta int) (*domain.Product, error)
	RecentProducts(ctx context.Context, limit int) ([]domain.Product, error)
}
