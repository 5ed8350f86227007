// Package cart holds session-scoped shopping carts and their reconciliation
// against the product store.
package cart

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"storefront-service/internal/domain"
	"storefront-service/internal/pricing"
)

// ErrLineItemNotFound is returned when updating a product that has no line in the cart.
var ErrLineItemNotFound = fmt.Errorf("cart: line item %w", domain.ErrNotFound)

// Snapshot is a read-only view of a cart.
type Snapshot struct {
	Items    []domain.LineItem `json:"items"`
	Quantity int               `json:"quantity"`
	Subtotal decimal.Decimal   `json:"subtotal"`
}

// Store is one session's cart. Lines are kept in insertion order with at
// most one line per product, and every quantity stays within 1..cached stock.
// A Store is safe for concurrent use.
type Store struct {
	mu    sync.Mutex
	items []domain.LineItem
	now   func() time.Time
}

// NewStore returns an empty cart.
func NewStore() *Store {
	return &Store{now: func() time.Time { return time.Now().UTC() }}
}

// Restore rebuilds a cart from persisted lines. Duplicate products are merged
// and quantities are re-clamped to the cached stock.
func Restore(items []domain.LineItem) *Store {
	s := NewStore()
	for _, item := range items {
		if item.Product.ID == "" {
			continue
		}
		idx := s.indexOf(item.Product.ID)
		if idx >= 0 {
			s.items[idx].Product = item.Product
			s.items[idx].Quantity = addClamped(s.items[idx].Quantity, item.Quantity, item.Product.Stock)
		} else {
			item.Quantity = clamp(item.Quantity, item.Product.Stock)
			s.items = append(s.items, item)
		}
	}
	s.compact()
	return s
}

// clamp bounds quantity to 0..stock.
func clamp(quantity, stock int) int {
	if stock < 0 {
		stock = 0
	}
	switch {
	case quantity < 0:
		return 0
	case quantity > stock:
		return stock
	}
	return quantity
}

// addClamped returns existing+quantity bounded to 0..stock. The sum is never
// formed when it would exceed stock, so huge quantities cannot wrap.
func addClamped(existing, quantity, stock int) int {
	existing = clamp(existing, stock)
	if quantity > stock-existing {
		return clamp(stock, stock)
	}
	return clamp(existing+quantity, stock)
}

// compact drops lines whose quantity fell to zero. Callers hold mu.
func (s *Store) compact() {
	kept := s.items[:0]
	for _, item := range s.items {
		if item.Quantity > 0 {
			kept = append(kept, item)
		}
	}
	s.items = kept
}

func (s *Store) indexOf(productID string) int {
	for i, item := range s.items {
		if item.Product.ID == productID {
			return i
		}
	}
	return -1
}

// AddToCart adds quantity of product, clamping the line to the product's
// stock. It returns the resulting line. A non-positive quantity is a no-op
// and returns the zero LineItem.
func (s *Store) AddToCart(product domain.Product, quantity int) (domain.LineItem, error) {
	if quantity <= 0 {
		return domain.LineItem{}, nil
	}
	if strings.TrimSpace(product.ID) == "" {
		return domain.LineItem{}, domain.NewValidationError("product_id", "is required")
	}
	if product.Stock <= 0 {
		return domain.LineItem{}, fmt.Errorf("cart: %q: %w", product.Name, domain.ErrOutOfStock)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := domain.SnapshotOf(product)
	if idx := s.indexOf(product.ID); idx >= 0 {
		s.items[idx].Product = snapshot
		s.items[idx].Quantity = addClamped(s.items[idx].Quantity, quantity, snapshot.Stock)
		return s.items[idx], nil
	}

	item := domain.LineItem{
		Product:  snapshot,
		Quantity: clamp(quantity, snapshot.Stock),
		AddedAt:  s.now(),
	}
	s.items = append(s.items, item)
	return item, nil
}

// RemoveFromCart drops the product's line. Removing an absent product is a no-op.
func (s *Store) RemoveFromCart(productID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx := s.indexOf(productID); idx >= 0 {
		s.items = append(s.items[:idx], s.items[idx+1:]...)
	}
}

// UpdateQuantity replaces the line's quantity, clamped to the cached stock.
// A non-positive quantity removes the line. It reports whether the line is
// still present afterwards.
func (s *Store) UpdateQuantity(productID string, quantity int) (domain.LineItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(productID)
	if quantity <= 0 {
		if idx >= 0 {
			s.items = append(s.items[:idx], s.items[idx+1:]...)
		}
		return domain.LineItem{}, false, nil
	}
	if idx < 0 {
		return domain.LineItem{}, false, ErrLineItemNotFound
	}

	s.items[idx].Quantity = clamp(quantity, s.items[idx].Product.Stock)
	if s.items[idx].Quantity <= 0 {
		s.items = append(s.items[:idx], s.items[idx+1:]...)
		return domain.LineItem{}, false, nil
	}
	return s.items[idx], true, nil
}

// ClearCart empties the cart.
func (s *Store) ClearCart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
}

// Items returns a copy of the lines in insertion order.
func (s *Store) Items() []domain.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.LineItem, len(s.items))
	copy(out, s.items)
	return out
}

// Len returns the number of lines.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot returns the lines with their derived subtotal.
func (s *Store) Snapshot() Snapshot {
	items := s.Items()
	return Snapshot{
		Items:    items,
		Quantity: pricing.Quantity(items),
		Subtotal: pricing.Subtotal(items),
	}
}

// Sync refreshes the product's line from an authoritative copy and
// re-clamps its quantity, removing the line when the product has no stock
// left. It returns the issue found, if the line had to shrink.
func (s *Store) Sync(product domain.Product) (domain.StockIssue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(product.ID)
	if idx < 0 {
		return domain.StockIssue{}, false
	}

	line := &s.items[idx]
	line.Product = domain.SnapshotOf(product)
	if line.Quantity <= product.Stock {
		return domain.StockIssue{}, false
	}

	issue := domain.StockIssue{
		ProductID: product.ID,
		Name:      product.Name,
		Requested: line.Quantity,
		Available: product.Stock,
	}
	line.Quantity = clamp(line.Quantity, product.Stock)
	s.compact()
	return issue, true
}

// drop removes a line whose product no longer exists.
func (s *Store) drop(productID string) (domain.StockIssue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexOf(productID)
	if idx < 0 {
		return domain.StockIssue{}, false
	}
	line := s.items[idx]
	s.items = append(s.items[:idx], s.items[idx+1:]...)
	return domain.StockIssue{
		ProductID: productID,
		Name:      line.Product.Name,
		Requested: line.Quantity,
		Missing:   true,
	}, true
}
