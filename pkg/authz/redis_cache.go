package authz

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDecisionCache is a Redis-backed DecisionCache for multi-instance
// deployments. TTL=0 decisions are stored with no expiry (Redis native
// "no TTL" semantics map directly onto the spec's never-expire sentinel).
type RedisDecisionCache struct {
	client *redis.Client
}

func NewRedisDecisionCache(client *redis.Client) *RedisDecisionCache {
	return &RedisDecisionCache{client: client}
}

func decisionCacheKey(key DecisionKey) string {
	return fmt.Sprintf("decision:%s:%s:%s:%s:%d", key.Tenant, key.SubjectID, key.Resource, key.Action, key.AttrsHash)
}

func (r *RedisDecisionCache) Get(ctx context.Context, key DecisionKey) (Decision, bool) {
	raw, err := r.client.Get(ctx, decisionCacheKey(key)).Bytes()
	if err != nil {
		return Decision{}, false
	}
	var decision Decision
	if err := json.Unmarshal(raw, &decision); err != nil {
		return Decision{}, false
	}
	return decision, true
}

func (r *RedisDecisionCache) Put(ctx context.Context, key DecisionKey, decision Decision) {
	raw, err := json.Marshal(decision)
	if err != nil {
		return
	}
	var ttl time.Duration
	if decision.CacheTTLMs > 0 {
		ttl = time.Duration(decision.CacheTTLMs) * time.Millisecond
	}
	r.client.Set(ctx, decisionCacheKey(key), raw, ttl)
}
