// Package cache is a two-tier cache-aside helper: a process-local map in front
// of redis. Any failure reads as a miss.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const InvalidateChannel = "cache:invalidate"

// Default TTLs per entity type.
type TTLs struct {
	Automation time.Duration
	Account    time.Duration
	Contact    time.Duration
}

type localEntry struct {
	value   []byte
	expires time.Time
}

type Cache struct {
	rdb    *redis.Client
	pubsub *redis.Client
	TTL    TTLs

	mu    sync.RWMutex
	local map[string]localEntry
	now   func() time.Time
}

// New builds a cache. Either client may be nil; with both nil the cache only
// keeps process-local entries.
func New(rdb, pubsub *redis.Client, ttl TTLs) *Cache {
	return &Cache{
		rdb:    rdb,
		pubsub: pubsub,
		TTL:    ttl,
		local:  make(map[string]localEntry),
		now:    time.Now,
	}
}

func AutomationsKey(workspaceID, automationType, contentID string) string {
	if contentID == "" {
		contentID = "all"
	}
	return "automations:" + workspaceID + ":" + automationType + ":" + contentID
}

func AutomationsPrefix(workspaceID string) string {
	return "automations:" + workspaceID + ":"
}

func AccountKey(providerID string) string {
	return "account:" + providerID
}

func ContactKey(accountID, senderID string) string {
	return "contact:" + accountID + ":" + senderID
}

const StatsKey = "stats:summary"

// GetJSON decodes the cached value into dst and reports whether it was found.
func (c *Cache) GetJSON(ctx context.Context, key string, dst interface{}) (bool, error) {
	if c == nil {
		return false, nil
	}
	if raw, ok := c.getLocal(key); ok {
		if err := json.Unmarshal(raw, dst); err == nil {
			return true, nil
		}
		c.dropLocal(key)
	}
	if c.rdb == nil {
		return false, nil
	}

	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.WithError(err).WithField("key", key).Debug("cache get failed")
		}
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		log.WithError(err).WithField("key", key).Debug("cache entry undecodable")
		return false, nil
	}

	ttl, err := c.rdb.PTTL(ctx, key).Result()
	if err == nil && ttl > 0 {
		c.setLocal(key, raw, ttl)
	}
	return true, nil
}

func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	if c == nil || ttl <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).WithField("key", key).Debug("cache encode failed")
		return
	}
	c.setLocal(key, raw, ttl)
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.WithError(err).WithField("key", key).Debug("cache set failed")
	}
}

func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	for _, k := range keys {
		c.dropLocal(k)
	}
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.WithError(err).Debug("cache delete failed")
	}
}

// DeletePrefix removes every key under prefix in both tiers.
func (c *Cache) DeletePrefix(ctx context.Context, prefix string) {
	if c == nil {
		return
	}
	c.dropLocalPrefix(prefix)
	if c.rdb == nil {
		return
	}
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		log.WithError(err).Debug("cache scan failed")
		return
	}
	if len(keys) > 0 {
		if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
			log.WithError(err).Debug("cache delete failed")
		}
	}
}

// Invalidate removes keys (entries ending in '*' are treated as prefixes) and
// tells other processes to drop their local copies.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	var exact []string
	for _, k := range keys {
		if strings.HasSuffix(k, "*") {
			c.DeletePrefix(ctx, strings.TrimSuffix(k, "*"))
			continue
		}
		exact = append(exact, k)
	}
	c.Delete(ctx, exact...)

	if c.pubsub == nil {
		return
	}
	raw, _ := json.Marshal(keys)
	if err := c.pubsub.Publish(ctx, InvalidateChannel, raw).Err(); err != nil {
		log.WithError(err).Debug("cache invalidation publish failed")
	}
}

// Subscribe drops local entries named on the invalidation channel until ctx is
// done.
func (c *Cache) Subscribe(ctx context.Context) {
	if c == nil || c.pubsub == nil {
		return
	}
	sub := c.pubsub.Subscribe(ctx, InvalidateChannel)
	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var keys []string
				if err := json.Unmarshal([]byte(msg.Payload), &keys); err != nil {
					continue
				}
				for _, k := range keys {
					if strings.HasSuffix(k, "*") {
						c.dropLocalPrefix(strings.TrimSuffix(k, "*"))
					} else {
						c.dropLocal(k)
					}
				}
			}
		}
	}()
}

func (c *Cache) getLocal(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.local[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if c.now().After(e.expires) {
		c.dropLocal(key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) setLocal(key string, raw []byte, ttl time.Duration) {
	c.mu.Lock()
	c.local[key] = localEntry{value: raw, expires: c.now().Add(ttl)}
	c.mu.Unlock()
}

func (c *Cache) dropLocal(key string) {
	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()
}

func (c *Cache) dropLocalPrefix(prefix string) {
	c.mu.Lock()
	for k := range c.local {
		if strings.HasPrefix(k, prefix) {
			delete(c.local, k)
		}
	}
	c.mu.Unlock()
}
