package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"canvas-backend/internal/model"
)

func newRedisChannel(t *testing.T) (*RedisChannel, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisChannel(client, "page-1", zap.NewNop()), mr
}

func TestRedisChannelPublishSetsTTL(t *testing.T) {
	ch, mr := newRedisChannel(t)
	defer ch.Close()
	ctx := context.Background()

	require.NoError(t, ch.Publish(ctx, record("u1", time.Now())))

	key := "presence:page:page-1:user:u1"
	require.True(t, mr.Exists(key))
	assert.Equal(t, model.PresenceTTL, mr.TTL(key))
}

func TestRedisChannelSnapshot(t *testing.T) {
	ch, _ := newRedisChannel(t)
	defer ch.Close()
	ctx := context.Background()

	require.NoError(t, ch.Publish(ctx, record("u1", time.Now())))
	require.NoError(t, ch.Publish(ctx, record("u2", time.Now())))

	records, err := ch.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "page-1", records["u1"].PageID)
}

func TestRedisChannelKeyExpiryActsAsDisconnect(t *testing.T) {
	ch, mr := newRedisChannel(t)
	defer ch.Close()
	ctx := context.Background()

	require.NoError(t, ch.Publish(ctx, record("u1", time.Now())))

	// A client that stops refreshing falls out of the snapshot after the
	// presence window, with no explicit clear.
	mr.FastForward(model.PresenceTTL + time.Second)

	records, err := ch.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRedisChannelClear(t *testing.T) {
	ch, mr := newRedisChannel(t)
	defer ch.Close()
	ctx := context.Background()

	require.NoError(t, ch.Publish(ctx, record("u1", time.Now())))
	require.NoError(t, ch.Clear(ctx, "u1"))

	assert.False(t, mr.Exists("presence:page:page-1:user:u1"))
}

func TestRedisChannelSubscribeDeliversUpdates(t *testing.T) {
	ch, _ := newRedisChannel(t)
	defer ch.Close()
	ctx := context.Background()

	events, cancel := ch.Subscribe(ctx)
	defer cancel()

	// The subscriber goroutine needs a moment to attach to the topic.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, ch.Publish(ctx, record("u1", time.Now())))

	select {
	case records := <-events:
		assert.Contains(t, records, "u1")
	case <-time.After(2 * time.Second):
		t.Fatal("no presence event received")
	}
}

func TestRedisChannelPagesAreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	chA := NewRedisChannel(client, "page-a", zap.NewNop())
	chB := NewRedisChannel(client, "page-b", zap.NewNop())
	defer chA.Close()
	defer chB.Close()
	ctx := context.Background()

	require.NoError(t, chA.Publish(ctx, record("u1", time.Now())))

	records, err := chB.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}
