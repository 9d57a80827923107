//go:build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Phone  string   `json:"phone"`
	Rating *float64 `json:"rating"`
}

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	addr := os.Getenv("PLACES_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	c, err := New(context.Background(), Config{Addr: addr, DB: 15, Prefix: "places-test:"})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCache_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	t.Cleanup(func() { _ = c.Delete(ctx, "details:p1") })

	rating := 4.5
	require.NoError(t, c.Set(ctx, "details:p1", entry{Phone: "+1 713-555-0100", Rating: &rating}, time.Minute))

	var got entry
	hit, err := c.Get(ctx, "details:p1", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "+1 713-555-0100", got.Phone)
	require.NotNil(t, got.Rating)
	assert.InDelta(t, 4.5, *got.Rating, 0.001)
}

func TestCache_Miss(t *testing.T) {
	c := newTestCache(t)

	var got entry
	hit, err := c.Get(context.Background(), "details:missing", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestCache_Expires(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", entry{Phone: "x"}, 50*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	var got entry
	hit, err := c.Get(ctx, "short", &got)
	require.NoError(t, err)
	assert.False(t, hit)
}
