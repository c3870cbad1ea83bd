package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newLocker(t *testing.T, ttl time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, ttl), mr
}

func TestLockExcludesSecondHolder(t *testing.T) {
	locker, _ := newLocker(t, time.Minute)
	ctx := context.Background()

	lock, err := locker.Acquire(ctx, "fifo:1:2")
	require.NoError(t, err)
	require.Equal(t, "fifo:1:2", lock.Key())

	_, err = locker.Acquire(ctx, "fifo:1:2")
	require.ErrorIs(t, err, ErrLocked)

	other, err := locker.Acquire(ctx, "fifo:1:3")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, lock.Release(ctx))
	again, err := locker.Acquire(ctx, "fifo:1:2")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLockExpiresAndStaleReleaseIsNoop(t *testing.T) {
	locker, mr := newLocker(t, time.Second)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "fifo:1:2")
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)

	fresh, err := locker.Acquire(ctx, "fifo:1:2")
	require.NoError(t, err)

	require.NoError(t, stale.Release(ctx))
	require.True(t, mr.Exists("fifo:1:2"))

	require.NoError(t, fresh.Release(ctx))
	require.False(t, mr.Exists("fifo:1:2"))
}

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), mr.Addr())
	require.NoError(t, err)
	require.NoError(t, client.Close())

	mr.Close()
	_, err = New(context.Background(), mr.Addr())
	require.Error(t, err)
}
