package config

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)

	prev := rdb
	rdb = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		rdb = prev
	})
	return mr
}

func TestRedisObjectRoundTrip(t *testing.T) {
	withMiniredis(t)

	type cached struct {
		Name string `json:"name"`
	}

	require.NoError(t, SetRedisObject("RefName:https://x/entity/store/s-1", cached{Name: "Main"}, time.Minute))

	var got cached
	found, err := GetRedisObject("RefName:https://x/entity/store/s-1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "Main", got.Name)
}

func TestRedisObjectMiss(t *testing.T) {
	withMiniredis(t)

	var got string
	found, err := GetRedisObject("RefName:missing", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemoveRedisKey(t *testing.T) {
	withMiniredis(t)

	require.NoError(t, SetRedisObject("k1", "v1", 0))
	require.NoError(t, RemoveRedisKey("k1"))

	var got string
	found, err := GetRedisObject("k1", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisHelpersAreNilSafe(t *testing.T) {
	prev := rdb
	rdb = nil
	t.Cleanup(func() { rdb = prev })

	assert.NoError(t, SetRedisObject("k", "v", 0))
	assert.NoError(t, RemoveRedisKey("k"))

	var got string
	found, err := GetRedisObject("k", &got)
	assert.NoError(t, err)
	assert.False(t, found)
}
