package counter

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:embed fixed_window.lua
var fixedWindowScript string

var fixedWindow = redis.NewScript(fixedWindowScript)

// RedisStore counts against a Redis backend. Per-key atomicity comes
// from the single Lua script execution; serialization is scoped to the
// key by Redis itself, not by any process-wide lock.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps client. All keys are namespaced under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "gatekeeper:counter"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Increment implements Store.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Hit, error) {
	seconds := int64(window / time.Second)
	if seconds < 1 {
		seconds = 1
	}

	res, err := fixedWindow.Run(ctx, s.client, []string{s.prefix + ":" + key}, seconds).Result()
	if err != nil {
		return Hit{}, fmt.Errorf("redis increment %s: %w", key, err)
	}

	hit, err := parseFixedWindowReply(res)
	if err != nil {
		return Hit{}, fmt.Errorf("redis increment %s: %w", key, err)
	}
	return hit, nil
}

// parseFixedWindowReply decodes the {hits, ttl} array the script
// returns. Anything malformed is an error, never a zeroed Hit: a bogus
// reply must not turn into an allow with a full budget.
func parseFixedWindowReply(res interface{}) (Hit, error) {
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Hit{}, fmt.Errorf("unexpected script reply %v", res)
	}
	hits, ok := values[0].(int64)
	if !ok {
		return Hit{}, fmt.Errorf("non-integer hit count %v", values[0])
	}
	ttl, ok := values[1].(int64)
	if !ok {
		return Hit{}, fmt.Errorf("non-integer ttl %v", values[1])
	}
	return Hit{
		TotalHits:  hits,
		ResetAfter: time.Duration(ttl) * time.Second,
	}, nil
}

// Ping reports backend reachability; used by the readiness endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
