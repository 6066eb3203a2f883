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

type item struct {
	Name string `json:"name"`
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, rdb
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "automations:ws1:comment_to_dm:all", AutomationsKey("ws1", "comment_to_dm", ""))
	assert.Equal(t, "automations:ws1:comment_to_dm:p9", AutomationsKey("ws1", "comment_to_dm", "p9"))
	assert.Equal(t, "account:123", AccountKey("123"))
	assert.Equal(t, "contact:a:s", ContactKey("a", "s"))
}

func TestSetGetRoundTripThroughRedis(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()

	c := New(rdb, rdb, TTLs{})
	c.SetJSON(ctx, "k", item{Name: "x"}, time.Minute)
	assert.True(t, mr.Exists("k"))

	// A fresh process sees the redis tier.
	other := New(rdb, rdb, TTLs{})
	var got item
	found, err := other.GetJSON(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "x", got.Name)
}

func TestMissAndExpiry(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	c := New(rdb, nil, TTLs{})

	var got item
	found, _ := c.GetJSON(ctx, "absent", &got)
	assert.False(t, found)

	now := time.Now()
	c.now = func() time.Time { return now }
	c.SetJSON(ctx, "k", item{Name: "x"}, time.Second)
	mr.FastForward(2 * time.Second)
	c.now = func() time.Time { return now.Add(2 * time.Second) }

	found, _ = c.GetJSON(ctx, "k", &got)
	assert.False(t, found)
}

func TestRedisDownDegradesToMiss(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	c := New(rdb, rdb, TTLs{})
	mr.Close()

	var got item
	found, err := c.GetJSON(ctx, "k", &got)
	assert.NoError(t, err)
	assert.False(t, found)

	// Writes still land in the local tier and never panic.
	c.SetJSON(ctx, "k", item{Name: "local"}, time.Minute)
	c.Invalidate(ctx, "other")
	found, err = c.GetJSON(ctx, "k", &got)
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "local", got.Name)
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	var got item
	found, err := c.GetJSON(context.Background(), "k", &got)
	assert.NoError(t, err)
	assert.False(t, found)
	c.SetJSON(context.Background(), "k", got, time.Minute)
	c.Invalidate(context.Background(), "k")
}

func TestInvalidatePrefix(t *testing.T) {
	mr, rdb := newRedis(t)
	ctx := context.Background()
	c := New(rdb, rdb, TTLs{})

	c.SetJSON(ctx, AutomationsKey("ws1", "dm_reply", ""), []int{1}, time.Minute)
	c.SetJSON(ctx, AutomationsKey("ws1", "comment_to_dm", "p1"), []int{2}, time.Minute)
	c.SetJSON(ctx, AutomationsKey("ws2", "dm_reply", ""), []int{3}, time.Minute)

	c.Invalidate(ctx, AutomationsPrefix("ws1")+"*")

	assert.False(t, mr.Exists(AutomationsKey("ws1", "dm_reply", "")))
	assert.False(t, mr.Exists(AutomationsKey("ws1", "comment_to_dm", "p1")))
	assert.True(t, mr.Exists(AutomationsKey("ws2", "dm_reply", "")))

	var got []int
	found, _ := c.GetJSON(ctx, AutomationsKey("ws1", "dm_reply", ""), &got)
	assert.False(t, found)
}

func TestSubscribeDropsLocalEntries(t *testing.T) {
	_, rdb := newRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := New(nil, rdb, TTLs{})
	b := New(nil, rdb, TTLs{})
	b.Subscribe(ctx)
	b.SetJSON(ctx, "k", item{Name: "stale"}, time.Minute)

	// Subscription setup is asynchronous; publish until the peer reacts.
	assert.Eventually(t, func() bool {
		a.Invalidate(ctx, "k")
		var got item
		found, _ := b.GetJSON(ctx, "k", &got)
		return !found
	}, 2*time.Second, 20*time.Millisecond)
}
