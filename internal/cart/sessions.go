package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront-service/internal/domain"
)

// SessionStore persists cart lines between requests.
// Load returns no items and no error for an unknown session.
type SessionStore interface {
	Load(ctx context.Context, sessionID string) ([]domain.LineItem, error)
	Save(ctx context.Context, sessionID string, items []domain.LineItem) error
	Delete(ctx context.Context, sessionID string) error
}

// MemorySessions keeps carts in process memory.
type MemorySessions struct {
	mu    sync.RWMutex
	carts map[string][]domain.LineItem
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{carts: make(map[string][]domain.LineItem)}
}

func (m *MemorySessions) Load(_ context.Context, sessionID string) ([]domain.LineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	items := m.carts[sessionID]
	out := make([]domain.LineItem, len(items))
	copy(out, items)
	return out, nil
}

func (m *MemorySessions) Save(_ context.Context, sessionID string, items []domain.LineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(items) == 0 {
		delete(m.carts, sessionID)
		return nil
	}
	stored := make([]domain.LineItem, len(items))
	copy(stored, items)
	m.carts[sessionID] = stored
	return nil
}

func (m *MemorySessions) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, sessionID)
	return nil
}

// Len returns the number of non-empty carts.
func (m *MemorySessions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.carts)
}

// sessionCart is the JSON document stored per guest session.
type sessionCart struct {
	SessionID string            `json:"session_id"`
	Items     []domain.LineItem `json:"items"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// RedisSessions stores each cart as JSON under cart:session:<id>. Every save
// pushes the expiry forward by ttl.
type RedisSessions struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisSessions creates a RedisSessions. A non-positive ttl keeps carts forever.
func NewRedisSessions(client redis.Cmdable, ttl time.Duration) *RedisSessions {
	if ttl < 0 {
		ttl = 0
	}
	return &RedisSessions{client: client, ttl: ttl}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("cart:session:%s", sessionID)
}

func (r *RedisSessions) Load(ctx context.Context, sessionID string) ([]domain.LineItem, error) {
	data, err := r.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return []domain.LineItem{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cart: load session %s: %w", sessionID, err)
	}

	var doc sessionCart
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("cart: decode session %s: %w", sessionID, err)
	}
	return doc.Items, nil
}

func (r *RedisSessions) Save(ctx context.Context, sessionID string, items []domain.LineItem) error {
	if len(items) == 0 {
		return r.Delete(ctx, sessionID)
	}

	data, err := json.Marshal(sessionCart{
		SessionID: sessionID,
		Items:     items,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("cart: encode session %s: %w", sessionID, err)
	}
	if err := r.client.Set(ctx, sessionKey(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("cart: save session %s: %w", sessionID, err)
	}
	return nil
}

func (r *RedisSessions) Delete(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("cart: delete session %s: %w", sessionID, err)
	}
	return nil
}
