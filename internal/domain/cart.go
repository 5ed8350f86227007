package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductSnapshot is the cached copy of a product held by a cart line.
// It may be stale; the product store stays the source of truth.
type ProductSnapshot struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	ImageURL string          `json:"image_url"`
	Category Category        `json:"category"`
	Stock    int             `json:"stock"`
}

// SnapshotOf captures the display fields and current stock of p.
func SnapshotOf(p Product) ProductSnapshot {
	return ProductSnapshot{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price,
		ImageURL: p.ImageURL,
		Category: p.Category,
		Stock:    p.Stock,
	}
}

// LineItem is a single product-plus-quantity entry in a cart.
type LineItem struct {
	Product  ProductSnapshot `json:"product"`
	Quantity int             `json:"quantity"`
	AddedAt  time.Time       `json:"added_at"`
}

// StockIssue describes a line whose quantity is no longer satisfiable.
type StockIssue struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
	Missing   bool   `json:"missing,omitempty"`
}
