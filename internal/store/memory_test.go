package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/internal/domain"
)

func newTestMemoryStore() *MemoryStore {
	s := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var tick int
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	return s
}

func fakeProduct(name string, category domain.Category, price string, stock int) *domain.Product {
	return &domain.Product{
		Name:        name,
		Description: gofakeit.Sentence(6),
		Price:       decimal.RequireFromString(price),
		Stock:       stock,
		ImageURL:    gofakeit.URL(),
		Category:    category,
	}
}

func mustCreate(t *testing.T, s *MemoryStore, p *domain.Product) domain.Product {
	t.Helper()
	created, err := s.CreateProduct(context.Background(), p)
	require.NoError(t, err)
	return *created
}

func names(products []domain.Product) []string {
	out := make([]string, len(products))
	for i, p := range products {
		out[i] = p.Name
	}
	return out
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	s := newTestMemoryStore()
	input := fakeProduct("Desk Lamp", domain.CategoryHome, "24.50", 7)

	created := mustCreate(t, s, input)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.CreatedAt.IsZero())
	assert.Equal(t, created.CreatedAt, created.UpdatedAt)

	got, err := s.GetProductByID(context.Background(), created.ID)
	require.NoError(t, err)
	if diff := cmp.Diff(created, *got); diff != "" {
		t.Errorf("GetProductByID mismatch (-want +got):\n%s", diff)
	}

	// The returned value is a copy.
	got.Name = "changed"
	again, _ := s.GetProductByID(context.Background(), created.ID)
	assert.Equal(t, "Desk Lamp", again.Name)
}

func TestMemoryStore_CreateRejectsInvalid(t *testing.T) {
	s := newTestMemoryStore()

	_, err := s.CreateProduct(context.Background(), fakeProduct("", domain.CategoryBooks, "-1", -3))

	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"name", "price", "stock"}, verr.FieldNames())

	all, total, err := s.ListProducts(context.Background(), ListProductsParams{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, all)
}

func TestMemoryStore_ListProducts_SearchAndFilters(t *testing.T) {
	s := newTestMemoryStore()
	mustCreate(t, s, fakeProduct("Laptop Pro", domain.CategoryElectronics, "1200", 3))
	mustCreate(t, s, fakeProduct("Running Shoes", domain.CategorySports, "80", 0))
	mustCreate(t, s, fakeProduct("Headphones", domain.CategoryElectronics, "150", 10))
	mustCreate(t, s, fakeProduct("Novel", domain.CategoryBooks, "12.99", 40))

	tests := []struct {
		name   string
		params ListProductsParams
		want   []string
	}{
		{"no filter keeps creation order", ListProductsParams{}, []string{"Laptop Pro", "Running Shoes", "Headphones", "Novel"}},
		{"search matches name case-insensitively", ListProductsParams{Search: "LAPTOP"}, []string{"Laptop Pro"}},
		{"search matches category", ListProductsParams{Search: "electro"}, []string{"Laptop Pro", "Headphones"}},
		{"category filter", ListProductsParams{Category: "books"}, []string{"Novel"}},
		{"in stock only", ListProductsParams{InStockOnly: true, Category: "Sports"}, []string{}},
		{"price range", ListProductsParams{
			MinPrice: PtrTo(decimal.NewFromInt(50)), MaxPrice: PtrTo(decimal.NewFromInt(200)),
		}, []string{"Running Shoes", "Headphones"}},
		{"sort by price desc", ListProductsParams{SortBy: "price", SortOrder: "desc"}, []string{"Laptop Pro", "Headphones", "Running Shoes", "Novel"}},
		{"sort by name", ListProductsParams{SortBy: "name"}, []string{"Headphones", "Laptop Pro", "Novel", "Running Shoes"}},
		{"newest first", ListProductsParams{SortBy: "created_at", SortOrder: "DESC"}, []string{"Novel", "Headphones", "Running Shoes", "Laptop Pro"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, total, err := s.ListProducts(context.Background(), tt.params)
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), total)
			if diff := cmp.Diff(tt.want, names(got), cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("ListProducts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMemoryStore_ListProducts_PagesAreStable(t *testing.T) {
	s := newTestMemoryStore()
	var want []string
	for i := 0; i < 7; i++ {
		name := fmt.Sprintf("Item %02d", i)
		want = append(want, name)
		// Identical prices force the tie-break.
		mustCreate(t, s, fakeProduct(name, domain.CategoryBeauty, "5.00", 1))
	}

	var got []string
	for offset := 0; offset < 10; offset += 3 {
		page, total, err := s.ListProducts(context.Background(), ListProductsParams{Limit: 3, Offset: offset, SortBy: "price"})
		require.NoError(t, err)
		assert.Equal(t, 7, total)
		got = append(got, names(page)...)
	}
	assert.Equal(t, want, got)
}

func TestMemoryStore_UpdateProduct(t *testing.T) {
	s := newTestMemoryStore()
	created := mustCreate(t, s, fakeProduct("Scarf", domain.CategoryClothing, "19.99", 4))

	updated, err := s.UpdateProduct(context.Background(), created.ID, domain.ProductPatch{
		Price: PtrTo(decimal.RequireFromString("15.00")),
	})
	require.NoError(t, err)
	assert.Equal(t, "Scarf", updated.Name)
	assert.Equal(t, "15", updated.Price.String())
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = s.UpdateProduct(context.Background(), created.ID, domain.ProductPatch{Category: PtrTo(domain.Category("Toys"))})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	// A rejected patch leaves the record untouched.
	got, _ := s.GetProductByID(context.Background(), created.ID)
	assert.Equal(t, domain.CategoryClothing, got.Category)

	_, err = s.UpdateProduct(context.Background(), "missing", domain.ProductPatch{})
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestMemoryStore_DeleteProduct(t *testing.T) {
	s := newTestMemoryStore()
	created := mustCreate(t, s, fakeProduct("Vase", domain.CategoryHome, "30", 2))

	require.NoError(t, s.DeleteProduct(context.Background(), created.ID))
	assert.ErrorIs(t, s.DeleteProduct(context.Background(), created.ID), ErrProductNotFound)

	_, err := s.GetProductByID(context.Background(), created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStore_AdjustStock(t *testing.T) {
	s := newTestMemoryStore()
	created := mustCreate(t, s, fakeProduct("Ball", domain.CategorySports, "9.99", 2))

	p, err := s.AdjustStock(context.Background(), created.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Stock)

	_, err = s.AdjustStock(context.Background(), created.ID, -8)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	p, err = s.AdjustStock(context.Background(), created.ID, -7)
	require.NoError(t, err)
	assert.Zero(t, p.Stock)
	assert.False(t, p.InStock())

	_, err = s.AdjustStock(context.Background(), "missing", 1)
	assert.ErrorIs(t, err, ErrProductNotFound)

	_, err = s.AdjustStock(context.Background(), created.ID, domain.MaxStock+1)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"stock"}, verr.FieldNames())
	got, err := s.GetProductByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Stock)
}

func TestMemoryStore_AdjustStock_Concurrent(t *testing.T) {
	s := newTestMemoryStore()
	created := mustCreate(t, s, fakeProduct("Pen", domain.CategoryBooks, "1.50", 50))

	var wg sync.WaitGroup
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.AdjustStock(context.Background(), created.ID, -1)
		}()
	}
	wg.Wait()

	got, err := s.GetProductByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Stock)
}

func TestMemoryStore_RecentProducts(t *testing.T) {
	s := newTestMemoryStore()
	for _, n := range []string{"first", "second", "third"} {
		mustCreate(t, s, fakeProduct(n, domain.CategoryBooks, "10", 1))
	}

	recent, err := s.RecentProducts(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"third", "second"}, names(recent))

	recent, err = s.RecentProducts(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}
