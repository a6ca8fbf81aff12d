package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ocx/backend/internal/core"
)

// redisClient is the minimal surface DurableStore needs from a Redis driver,
// satisfied by *infra.GoRedisAdapter.
type redisClient interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, keys ...string) error
}

// agentCache is a read-through cache in front of GetAgent: agent rows are
// read far more often (one lookup per dispatch per turn) than written (one
// rating update per competition), so caching them cuts Supabase round trips
// on the hot path without risking stale ratings for more than the cache TTL.
type agentCache struct {
	client redisClient
	ttl    time.Duration
}

func newAgentCache(client redisClient, ttl time.Duration) *agentCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &agentCache{client: client, ttl: ttl}
}

func agentCacheKey(agentID string) string { return "ocx:agent:" + agentID }

func (c *agentCache) get(ctx context.Context, agentID string) (*core.Agent, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, agentCacheKey(agentID))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	var a core.Agent
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, false
	}
	return &a, true
}

func (c *agentCache) set(ctx context.Context, a *core.Agent) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, agentCacheKey(a.ID), data, c.ttl)
}

func (c *agentCache) invalidate(ctx context.Context, agentID string) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, agentCacheKey(agentID))
}
