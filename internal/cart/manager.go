package cart

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/currency"

	"storefront-service/internal/domain"
	"storefront-service/internal/pricing"
)

const maxSessionIDLength = 128

// Options configures a Manager.
type Options struct {
	TaxRate     decimal.Decimal
	Currency    currency.Unit
	Concurrency int
}

// View is a cart with its totals.
type View struct {
	SessionID string            `json:"session_id"`
	Items     []domain.LineItem `json:"items"`
	Summary   pricing.Summary   `json:"summary"`
	Currency  string            `json:"currency"`
}

// Quote is the priced result of a successful checkout.
type Quote struct {
	View
	Reference string    `json:"reference"`
	QuotedAt  time.Time `json:"quoted_at"`
}

// StockChangedError is returned by checkout when some lines no longer fit current stock.
type StockChangedError struct {
	Issues []domain.StockIssue
}

func (e *StockChangedError) Error() string {
	return fmt.Sprintf("cart: %s (%d line(s) affected)", domain.ErrStockChanged, len(e.Issues))
}

func (e *StockChangedError) Unwrap() error {
	return domain.ErrStockChanged
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// Manager owns the carts of all sessions. Operations on one session are
// serialized; different sessions proceed independently.
type Manager struct {
	sessions SessionStore
	products StockSource
	opts     Options
	log      logrus.FieldLogger

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// NewManager creates a Manager that persists carts in sessions and reads
// authoritative products from products.
func NewManager(sessions SessionStore, products StockSource, opts Options, log logrus.FieldLogger) *Manager {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Currency == (currency.Unit{}) {
		opts.Currency = currency.USD
	}
	return &Manager{
		sessions: sessions,
		products: products,
		opts:     opts,
		log:      log.WithField("component", "cart"),
		locks:    make(map[string]*sessionLock),
	}
}

func validateSessionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.NewValidationError("session_id", "is required")
	}
	if len(id) > maxSessionIDLength {
		return domain.NewValidationError("session_id", fmt.Sprintf("must be at most %d characters", maxSessionIDLength))
	}
	return nil
}

// acquire locks the session and returns its release func.
func (m *Manager) acquire(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &sessionLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// withCart loads the session's cart, runs fn on it and, when save is set and
// fn succeeds, persists the result.
func (m *Manager) withCart(ctx context.Context, id string, save bool, fn func(c *Store) error) (*Store, error) {
	if err := validateSessionID(id); err != nil {
		return nil, err
	}
	release := m.acquire(id)
	defer release()

	items, err := m.sessions.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	c := Restore(items)
	if err := fn(c); err != nil {
		return nil, err
	}
	if save {
		if err := m.sessions.Save(ctx, id, c.Items()); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (m *Manager) view(id string, c *Store) View {
	items := c.Items()
	return View{
		SessionID: id,
		Items:     items,
		Summary:   pricing.Summarize(items, m.opts.TaxRate),
		Currency:  m.opts.Currency.String(),
	}
}

// Get returns the session's cart.
func (m *Manager) Get(ctx context.Context, id string) (View, error) {
	c, err := m.withCart(ctx, id, false, func(*Store) error { return nil })
	if err != nil {
		return View{}, err
	}
	return m.view(id, c), nil
}

// AddItem adds quantity of the product to the session's cart using the
// product's current stock. It returns the resulting line; its quantity is
// the effective amount after clamping.
func (m *Manager) AddItem(ctx context.Context, id, productID string, quantity int) (domain.LineItem, View, error) {
	var line domain.LineItem
	c, err := m.withCart(ctx, id, true, func(c *Store) error {
		if quantity <= 0 {
			return nil
		}
		product, err := m.products.GetProductByID(ctx, productID)
		if err != nil {
			return err
		}
		line, err = c.AddToCart(*product, quantity)
		return err
	})
	if err != nil {
		return domain.LineItem{}, View{}, err
	}

	if line.Quantity > 0 && line.Quantity < quantity {
		m.log.WithFields(logrus.Fields{
			"session_id": id,
			"product_id": productID,
			"requested":  quantity,
			"quantity":   line.Quantity,
		}).Debug("add clamped to available stock")
	}
	return line, m.view(id, c), nil
}

// UpdateItem sets the line's quantity. A non-positive quantity removes it.
func (m *Manager) UpdateItem(ctx context.Context, id, productID string, quantity int) (View, error) {
	c, err := m.withCart(ctx, id, true, func(c *Store) error {
		_, _, err := c.UpdateQuantity(productID, quantity)
		return err
	})
	if err != nil {
		return View{}, err
	}
	return m.view(id, c), nil
}

// RemoveItem drops the product's line if present.
func (m *Manager) RemoveItem(ctx context.Context, id, productID string) (View, error) {
	c, err := m.withCart(ctx, id, true, func(c *Store) error {
		c.RemoveFromCart(productID)
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return m.view(id, c), nil
}

// Clear empties the session's cart.
func (m *Manager) Clear(ctx context.Context, id string) (View, error) {
	c, err := m.withCart(ctx, id, true, func(c *Store) error {
		c.ClearCart()
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return m.view(id, c), nil
}

// Revalidate reports lines that current stock can no longer satisfy.
func (m *Manager) Revalidate(ctx context.Context, id string) ([]domain.StockIssue, error) {
	var issues []domain.StockIssue
	_, err := m.withCart(ctx, id, false, func(c *Store) error {
		var err error
		issues, err = c.Revalidate(ctx, m.products, m.opts.Concurrency)
		return err
	})
	if err != nil {
		return nil, err
	}
	return issues, nil
}

// Sync refreshes every line from the product store and returns the
// adjustments made.
func (m *Manager) Sync(ctx context.Context, id string) (View, []domain.StockIssue, error) {
	var adjusted []domain.StockIssue
	c, err := m.withCart(ctx, id, true, func(c *Store) error {
		var err error
		adjusted, err = c.SyncAll(ctx, m.products, m.opts.Concurrency)
		return err
	})
	if err != nil {
		return View{}, nil, err
	}
	if len(adjusted) > 0 {
		m.log.WithFields(logrus.Fields{"session_id": id, "adjusted": len(adjusted)}).Info("cart synced with stock")
	}
	return m.view(id, c), adjusted, nil
}

// Checkout refreshes every line from the product store and, when every line
// still fits current stock, prices it at current prices and empties the
// cart. On a stock change the stored cart is left as it was. Payment and
// stock reservation are not performed.
func (m *Manager) Checkout(ctx context.Context, id string) (Quote, error) {
	var quote Quote
	_, err := m.withCart(ctx, id, true, func(c *Store) error {
		if c.Len() == 0 {
			return domain.NewValidationError("items", "cart is empty")
		}
		// Returning an error skips the save, so the refresh is discarded.
		issues, err := c.SyncAll(ctx, m.products, m.opts.Concurrency)
		if err != nil {
			return err
		}
		if len(issues) > 0 {
			return &StockChangedError{Issues: issues}
		}
		quote = Quote{
			View:      m.view(id, c),
			Reference: uuid.NewString(),
			QuotedAt:  time.Now().UTC(),
		}
		c.ClearCart()
		return nil
	})
	if err != nil {
		return Quote{}, err
	}

	m.log.WithFields(logrus.Fields{
		"session_id": id,
		"reference":  quote.Reference,
		"total":      pricing.Format(quote.Summary.Total),
	}).Info("checkout quoted")
	return quote, nil
}
