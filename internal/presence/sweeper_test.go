package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"beacon-chat/internal/redis"
	"beacon-chat/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingDisconnects struct {
	mu    sync.Mutex
	users []uuid.UUID
}

func (r *recordingDisconnects) HandleDisconnect(ctx context.Context, userID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
	return nil
}

func (r *recordingDisconnects) snapshot() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.users...)
}

func TestSweepOnceDropsStaleUsers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redis.NewPresenceStore(client, nil)
	ctx := context.Background()

	stale := uuid.New()
	_, err := store.Register(ctx, stale, "old-conn")
	require.NoError(t, err)

	disconnects := &recordingDisconnects{}
	sweeper := NewSweeper(store, disconnects, time.Hour, time.Nanosecond, logger.Nop())

	time.Sleep(1100 * time.Millisecond)
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []uuid.UUID{stale}, disconnects.snapshot())

	online, err := store.IsOnline(ctx, stale)
	require.NoError(t, err)
	assert.False(t, online)

	n, err = sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweepOnceKeepsFreshUsers(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := redis.NewPresenceStore(client, nil)
	ctx := context.Background()

	fresh := uuid.New()
	_, err := store.Register(ctx, fresh, "conn")
	require.NoError(t, err)

	sweeper := NewSweeper(store, nil, 0, 0, nil)
	n, err := sweeper.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	online, err := store.IsOnline(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, online)
}
