package presence

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeersKey(t *testing.T) {
	assert.Equal(t, "room:r1:peers", peersKey("r1"))
}

func TestNopStore(t *testing.T) {
	var s Store = Nop{}
	ctx := context.Background()

	require.NoError(t, s.Add(ctx, "r1", "a"))
	require.NoError(t, s.Remove(ctx, "r1", "a"))
	n, err := s.Count(ctx, "r1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, s.Close())
}

func TestRedisStoreWrapsErrors(t *testing.T) {
	// Nothing listens on port 1; every command fails fast.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	s := NewRedisStore(client, time.Minute)
	defer s.Close()

	ctx := context.Background()

	err := s.Add(ctx, "r1", "a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presence add r1/a")

	_, err = s.Count(ctx, "r1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presence count r1")
}
