package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a live redis; set TEST_REDIS_URL=redis://localhost:6379/15 to run.
func TestRedisBlacklist(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	rdb, err := Connect(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })

	b := NewRedisBlacklist(rdb)
	token := uuid.NewString()

	revoked, err := b.IsRevoked(ctx, token)
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, b.Revoke(ctx, token, time.Minute))
	revoked, err = b.IsRevoked(ctx, token)
	require.NoError(t, err)
	assert.True(t, revoked)

	ttl, err := rdb.TTL(ctx, blacklistPrefix+token).Result()
	require.NoError(t, err)
	assert.InDelta(t, time.Minute.Seconds(), ttl.Seconds(), 5)

	expired := uuid.NewString()
	require.NoError(t, b.Revoke(ctx, expired, -time.Second))
	revoked, err = b.IsRevoked(ctx, expired)
	require.NoError(t, err)
	assert.False(t, revoked, "already expired tokens need no entry")
}
