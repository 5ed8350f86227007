package cart

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/internal/domain"
)

func sampleItems() []domain.LineItem {
	return []domain.LineItem{
		{
			Product:  domain.SnapshotOf(product("a", "19.99", 4)),
			Quantity: 2,
			AddedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			Product:  domain.SnapshotOf(product("b", "0.50", 10)),
			Quantity: 7,
			AddedAt:  time.Date(2024, 5, 1, 12, 5, 0, 0, time.UTC),
		},
	}
}

func TestMemorySessions(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessions()

	items, err := s.Load(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, items)

	stored := sampleItems()
	require.NoError(t, s.Save(ctx, "s1", stored))
	stored[0].Quantity = 99

	items, err = s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, items[0].Quantity, "saved items are copied")

	require.NoError(t, s.Save(ctx, "s1", nil))
	assert.Zero(t, s.Len())

	require.NoError(t, s.Save(ctx, "s2", sampleItems()))
	require.NoError(t, s.Delete(ctx, "s2"))
	assert.Zero(t, s.Len())
}

func TestSessionKey(t *testing.T) {
	assert.Equal(t, "cart:session:abc", sessionKey("abc"))
}

// TestRedisSessions runs against a live server when REDIS_ADDR is set.
func TestRedisSessions(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	s := NewRedisSessions(client, time.Minute)
	sid := uuid.NewString()
	t.Cleanup(func() { _ = s.Delete(ctx, sid) })

	items, err := s.Load(ctx, sid)
	require.NoError(t, err)
	assert.Empty(t, items)

	want := sampleItems()
	require.NoError(t, s.Save(ctx, sid, want))

	got, err := s.Load(ctx, sid)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Load mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, got[0].Product.Price.Equal(decimal.RequireFromString("19.99")))

	ttl, err := client.TTL(ctx, sessionKey(sid)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, s.Save(ctx, sid, nil))
	exists, err := client.Exists(ctx, sessionKey(sid)).Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}
