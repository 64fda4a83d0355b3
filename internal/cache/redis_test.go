package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return mr, NewRedisFromClient(rdb)
}

func TestRedis_SetGetWithTTL(t *testing.T) {
	ctx := context.Background()
	mr, r := newMiniredis(t)

	require.NoError(t, r.Set(ctx, ProfileKey("u1"), []byte(`{"username":"alice"}`), 60*time.Second))

	val, found, err := r.Get(ctx, ProfileKey("u1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.JSONEq(t, `{"username":"alice"}`, string(val))
	assert.Equal(t, 60*time.Second, mr.TTL(ProfileKey("u1")))

	mr.FastForward(61 * time.Second)

	_, found, err = r.Get(ctx, ProfileKey("u1"))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedis_MissIsNotAnError(t *testing.T) {
	_, r := newMiniredis(t)

	_, found, err := r.Get(context.Background(), "followers:nobody")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedis_Delete(t *testing.T) {
	ctx := context.Background()
	mr, r := newMiniredis(t)

	require.NoError(t, r.Set(ctx, FollowersKey("b"), []byte("[]"), time.Minute))
	require.NoError(t, r.Set(ctx, FollowingKey("a"), []byte("[]"), time.Minute))
	require.NoError(t, r.Delete(ctx, FollowersKey("b"), FollowingKey("a")))
	require.NoError(t, r.Delete(ctx))

	assert.False(t, mr.Exists(FollowersKey("b")))
	assert.False(t, mr.Exists(FollowingKey("a")))
}

func TestRedis_UnavailableSurfacesErrors(t *testing.T) {
	ctx := context.Background()
	mr, r := newMiniredis(t)
	mr.Close()

	_, _, err := r.Get(ctx, "profile:x")
	assert.Error(t, err)
	assert.Error(t, r.Ping(ctx))
}
