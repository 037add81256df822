package notification

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a reachable Redis; set REDIS_URL to run.
func TestRedisMirror_PushTrimsAndRestores(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set, skipping redis mirror test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key := "notifications:test:" + time.Now().Format("150405.000000000")
	m, err := NewRedisMirror(ctx, url, key, 3)
	require.NoError(t, err)
	t.Cleanup(func() {
		m.client.Del(context.Background(), key)
		m.Close()
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, m.Push(ctx, numbered(i)))
	}

	got, err := m.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "body 4", got[0].Body)
	assert.Equal(t, "body 2", got[2].Body)

	s := NewStore(10)
	s.Seed(got)
	assert.Equal(t, "body 4", s.List(1)[0].Body)
}

func TestNewRedisMirror_BadURL(t *testing.T) {
	_, err := NewRedisMirror(context.Background(), "not-a-url", "", 0)
	assert.Error(t, err)
}
