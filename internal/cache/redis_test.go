package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onixbyte/helix/internal/ids"
)

// Runs against a real server only when HELIX_TEST_REDIS_ADDR is set.
func TestRedisStoreIntegration(t *testing.T) {
	addr := os.Getenv("HELIX_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HELIX_TEST_REDIS_ADDR not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := NewRedisClient(RedisOptions{Addrs: []string{addr}})
	store := NewRedis(client, "helix-test:"+ids.New()+":")
	defer store.Close()
	require.NoError(t, store.Ping(ctx))

	ok, err := store.Get(ctx, "missing", new(string))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "codes", []string{"x", "y"}, time.Minute))
	var codes []string
	ok, err = store.Get(ctx, "codes", &codes)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"x", "y"}, codes)

	require.NoError(t, store.Delete(ctx, "codes"))
	ok, err = store.Get(ctx, "codes", &codes)
	require.NoError(t, err)
	assert.False(t, ok)
}
