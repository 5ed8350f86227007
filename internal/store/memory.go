package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-service/internal/domain"
)

type memoryRecord struct {
	product domain.Product
	seq     uint64
}

// MemoryStore implements ProductStorer in process memory.
// Listing order is creation order unless a sort key is given.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*memoryRecord
	seq      uint64

	now   func() time.Time
	newID func() string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]*memoryRecord),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
}

func (s *MemoryStore) CreateProduct(ctx context.Context, product *domain.Product) (*domain.Product, error) {
	if err := product.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := *product
	created.ID = s.newID()
	created.CreatedAt = s.now()
	created.UpdatedAt = created.CreatedAt
	s.seq++
	s.products[created.ID] = &memoryRecord{product: created, seq: s.seq}
	return &created, nil
}

func (s *MemoryStore) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	p := rec.product
	return &p, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context, params ListProductsParams) ([]domain.Product, int, error) {
	s.mu.RLock()
	matched := make([]*memoryRecord, 0, len(s.products))
	for _, rec := range s.products {
		if matches(rec.product, params) {
			matched = append(matched, rec)
		}
	}
	s.mu.RUnlock()

	sortRecords(matched, params.SortBy, params.SortOrder)

	total := len(matched)
	start := params.Offset
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := total
	if params.Limit > 0 && start+params.Limit < end {
		end = start + params.Limit
	}

	products := make([]domain.Product, 0, end-start)
	for _, rec := range matched[start:end] {
		products = append(products, rec.product)
	}
	return products, total, nil
}

func (s *MemoryStore) UpdateProduct(ctx context.Context, id string, patch domain.ProductPatch) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	updated := patch.Apply(rec.product)
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	updated.UpdatedAt = s.now()
	rec.product = updated
	return &updated, nil
}

func (s *MemoryStore) DeleteProduct(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return ErrProductNotFound
	}
	delete(s.products, id)
	return nil
}

func (s *MemoryStore) AdjustStock(ctx context.Context, id string, delta int) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	if rec.product.Stock+delta < 0 {
		return nil, ErrInsufficientStock
	}
	if rec.product.Stock+delta > domain.MaxStock {
		return nil, domain.NewValidationError("stock", fmt.Sprintf("must be at most %d", domain.MaxStock))
	}
	rec.product.Stock += delta
	rec.product.UpdatedAt = s.now()
	p := rec.product
	return &p, nil
}

func (s *MemoryStore) RecentProducts(ctx context.Context, limit int) ([]domain.Product, error) {
	if limit <= 0 {
		return []domain.Product{}, nil
	}
	products, _, err := s.ListProducts(ctx, ListProductsParams{Limit: limit, SortBy: "created_at", SortOrder: "desc"})
	return products, err
}

func matches(p domain.Product, params ListProductsParams) bool {
	if params.Search != "" {
		term := strings.ToLower(params.Search)
		if !strings.Contains(strings.ToLower(p.Name), term) &&
			!strings.Contains(strings.ToLower(string(p.Category)), term) {
			return false
		}
	}
	if params.Category != "" && !strings.Contains(strings.ToLower(string(p.Category)), strings.ToLower(params.Category)) {
		return false
	}
	if params.MinPrice != nil && p.Price.LessThan(*params.MinPrice) {
		return false
	}
	if params.MaxPrice != nil && p.Price.GreaterThan(*params.MaxPrice) {
		return false
	}
	if params.InStockOnly && p.Stock <= 0 {
		return false
	}
	return true
}

// sortRecords orders by the requested key, falling back to creation order.
func sortRecords(recs []*memoryRecord, sortBy, sortOrder string) {
	desc := descending(sortOrder)
	key := sortColumns[strings.ToLower(sortBy)]

	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		var cmp int
		switch key {
		case "name":
			cmp = strings.Compare(a.product.Name, b.product.Name)
		case "price":
			cmp = a.product.Price.Cmp(b.product.Price)
		}
		if cmp == 0 {
			// created_at and the default both follow creation order.
			if desc && (key == "created_at" || key == "") {
				return a.seq > b.seq
			}
			return a.seq < b.seq
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
}
