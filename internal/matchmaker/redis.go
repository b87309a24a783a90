package matchmaker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mediline/consult/internal/models"
	"github.com/redis/go-redis/v9"
)

// resultTTL bounds how long a delivered match waits to be picked up by the
// passive partner. Well above the poll interval, well below the waiting TTL.
const resultTTL = 30 * time.Second

// matchOrAddScript performs the whole eviction + match-or-insert step as a
// single Redis script, so concurrent registrations against the same queue
// are serialized and exactly one pair forms per two live waiters.
//
// KEYS[1] = waiting zset for the queue (member: endpointId, score: unix ms)
// ARGV[1] = registering endpointId, ARGV[2] = now (ms), ARGV[3] = ttl (ms)
// Returns the matched partner's endpointId, or false to signal "now waiting".
var matchOrAddScript = redis.NewScript(`
local key = KEYS[1]
local self = ARGV[1]
local now = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - ttl)
local entries = redis.call('ZRANGE', key, 0, 1)
for i = 1, #entries do
  if entries[i] ~= self then
    redis.call('ZREM', key, entries[i])
    redis.call('ZREM', key, self)
    return entries[i]
  end
end
redis.call('ZADD', key, now, self)
return false
`)

// RedisRegistry is the production Registry: the waiting pool lives in a
// sorted set per queue and match results are handed off through short-lived
// keys, so any number of server replicas share one pool.
type RedisRegistry struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisRegistry(rdb *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{rdb: rdb, ttl: ttl}
}

func waitingKey(queue string) string   { return "waiting:" + queue }
func resultKey(endpoint string) string { return "match:" + endpoint }

func (r *RedisRegistry) MatchOrAdd(ctx context.Context, queue, endpointID string) (string, bool, error) {
	now := time.Now().UnixMilli()
	res, err := matchOrAddScript.Run(ctx, r.rdb,
		[]string{waitingKey(queue)},
		endpointID, now, r.ttl.Milliseconds(),
	).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("match script: %w", err)
	}
	partnerID, ok := res.(string)
	if !ok {
		return "", false, fmt.Errorf("match script: unexpected reply %T", res)
	}
	return partnerID, true, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, queue, endpointID string) (bool, error) {
	removed, err := r.rdb.ZRem(ctx, waitingKey(queue), endpointID).Result()
	if err != nil {
		return false, fmt.Errorf("remove waiting entry: %w", err)
	}
	return removed > 0, nil
}

func (r *RedisRegistry) Deliver(ctx context.Context, endpointID string, res models.MatchResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal match result: %w", err)
	}
	if err := r.rdb.Set(ctx, resultKey(endpointID), data, resultTTL).Err(); err != nil {
		return fmt.Errorf("deliver match result: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Take(ctx context.Context, endpointID string) (models.MatchResult, bool, error) {
	data, err := r.rdb.GetDel(ctx, resultKey(endpointID)).Result()
	if errors.Is(err, redis.Nil) {
		return models.MatchResult{}, false, nil
	}
	if err != nil {
		return models.MatchResult{}, false, fmt.Errorf("take match result: %w", err)
	}
	var res models.MatchResult
	if err := json.Unmarshal([]byte(data), &res); err != nil {
		return models.MatchResult{}, false, fmt.Errorf("unmarshal match result: %w", err)
	}
	return res, true, nil
}
