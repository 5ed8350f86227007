package cart

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"storefront-service/internal/domain"
)

// DefaultConcurrency bounds product lookups when none is configured.
const DefaultConcurrency = 4

// StockSource is the authoritative product lookup used for reconciliation.
// store.ProductStorer satisfies it.
type StockSource interface {
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
}

// lookup is the current state of one line's product. product is nil when it no longer exists.
type lookup struct {
	item    domain.LineItem
	product *domain.Product
}

func fetchAll(ctx context.Context, items []domain.LineItem, source StockSource, concurrency int) ([]lookup, error) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	results := make([]lookup, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, item := range items {
		g.Go(func() error {
			product, err := source.GetProductByID(gctx, item.Product.ID)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("cart: lookup %s: %w", item.Product.ID, err)
			}
			results[i] = lookup{item: item, product: product}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Revalidate checks items against current stock and reports every line whose
// quantity can no longer be satisfied or whose product is gone. Issues follow
// the order of items. It never changes items.
func Revalidate(ctx context.Context, items []domain.LineItem, source StockSource, concurrency int) ([]domain.StockIssue, error) {
	results, err := fetchAll(ctx, items, source, concurrency)
	if err != nil {
		return nil, err
	}

	issues := []domain.StockIssue{}
	for _, r := range results {
		switch {
		case r.product == nil:
			issues = append(issues, domain.StockIssue{
				ProductID: r.item.Product.ID,
				Name:      r.item.Product.Name,
				Requested: r.item.Quantity,
				Missing:   true,
			})
		case r.item.Quantity > r.product.Stock:
			issues = append(issues, domain.StockIssue{
				ProductID: r.item.Product.ID,
				Name:      r.product.Name,
				Requested: r.item.Quantity,
				Available: r.product.Stock,
			})
		}
	}
	return issues, nil
}

// Revalidate checks the cart's current lines against source.
func (s *Store) Revalidate(ctx context.Context, source StockSource, concurrency int) ([]domain.StockIssue, error) {
	return Revalidate(ctx, s.Items(), source, concurrency)
}

// SyncAll refreshes every line from source. Lines whose product is gone or
// out of stock are removed and the rest are clamped. It returns the
// adjustments that were made.
func (s *Store) SyncAll(ctx context.Context, source StockSource, concurrency int) ([]domain.StockIssue, error) {
	results, err := fetchAll(ctx, s.Items(), source, concurrency)
	if err != nil {
		return nil, err
	}

	adjusted := []domain.StockIssue{}
	for _, r := range results {
		var (
			issue domain.StockIssue
			ok    bool
		)
		if r.product == nil {
			issue, ok = s.drop(r.item.Product.ID)
		} else {
			issue, ok = s.Sync(*r.product)
		}
		if ok {
			adjusted = append(adjusted, issue)
		}
	}
	return adjusted, nil
}
