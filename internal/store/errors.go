package store

import (
	"fmt"
	"strings"

	"storefront-service/internal/domain"
)

// Predefined errors for store operations. They wrap the domain sentinels so
// callers can match either.
var (
	ErrProductNotFound   = fmt.Errorf("store: product %w", domain.ErrNotFound)
	ErrInsufficientStock = fmt.Errorf("store: %w", domain.ErrInsufficientStock)
)

var sortColumns = map[string]string{
	"name":       "name",
	"price":      "price",
	"created_at": "created_at",
}

// ValidSortBy reports whether sortBy is an accepted sort key ("" selects creation order).
func ValidSortBy(sortBy string) bool {
	if sortBy == "" {
		return true
	}
	_, ok := sortColumns[strings.ToLower(sortBy)]
	return ok
}

// SortKeys returns the accepted sort keys in display order.
func SortKeys() []string {
	return []string{"name", "price", "created_at"}
}

func descending(order string) bool {
	return strings.EqualFold(order, "desc")
}
