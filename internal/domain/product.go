package domain

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// MaxStock is the largest stock level a product can hold.
	MaxStock = math.MaxInt32
	// PriceScale is the number of decimal places a price may carry.
	PriceScale = 4
)

// MaxPrice is the largest price a product can carry.
var MaxPrice = decimal.RequireFromString("9999999999.9999")

// PriceError describes why d is not a storable price, or returns "" when it is.
func PriceError(d decimal.Decimal) string {
	switch {
	case d.IsNegative():
		return "must not be negative"
	case !d.Equal(d.Truncate(PriceScale)):
		return fmt.Sprintf("must have at most %d decimal places", PriceScale)
	case d.GreaterThan(MaxPrice):
		return "must be at most " + MaxPrice.String()
	}
	return ""
}

// Product represents a product in the catalog.
// The json tags correspond to the fields expected in API responses/requests.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	ImageURL    string          `json:"image_url"`
	Category    Category        `json:"category"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// InStock reports whether at least one unit is available.
func (p Product) InStock() bool {
	return p.Stock > 0
}

// Validate checks the invariants every stored product must hold.
// It reports all offending fields at once.
func (p Product) Validate() error {
	var fields []FieldError
	if strings.TrimSpace(p.Name) == "" {
		fields = append(fields, FieldError{Field: "name", Message: "is required"})
	}
	if msg := PriceError(p.Price); msg != "" {
		fields = append(fields, FieldError{Field: "price", Message: msg})
	}
	switch {
	case p.Stock < 0:
		fields = append(fields, FieldError{Field: "stock", Message: "must not be negative"})
	case p.Stock > MaxStock:
		fields = append(fields, FieldError{Field: "stock", Message: fmt.Sprintf("must be at most %d", MaxStock)})
	}
	if !p.Category.Valid() {
		fields = append(fields, FieldError{Field: "category", Message: "must be one of " + strings.Join(CategoryNames(), ", ")})
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// ProductPatch carries a partial update. Nil fields are left untouched.
type ProductPatch struct {
	Name        *string
	Description *string
	Price       *decimal.Decimal
	Stock       *int
	ImageURL    *string
	Category    *Category
}

// Empty reports whether the patch changes nothing.
func (pp ProductPatch) Empty() bool {
	return pp.Name == nil && pp.Description == nil && pp.Price == nil &&
		pp.Stock == nil && pp.ImageURL == nil && pp.Category == nil
}

// Apply returns a copy of p with the patch merged in. The result is not validated.
func (pp ProductPatch) Apply(p Product) Product {
	if pp.Name != nil {
		p.Name = *pp.Name
	}
	if pp.Description != nil {
		p.Description = *pp.Description
	}
	if pp.Price != nil {
		p.Price = *pp.Price
	}
	if pp.Stock != nil {
		p.Stock = *pp.Stock
	}
	if pp.ImageURL != nil {
		p.ImageURL = *pp.ImageURL
	}
	if pp.Category != nil {
		p.Category = *pp.Category
	}
	return p
}
