package relay

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceTTL = 24 * time.Hour

// RedisPresence mirrors session membership into a Redis set per session.
type RedisPresence struct {
	rdb *redis.Client
}

func NewRedisPresence(rdb *redis.Client) *RedisPresence {
	return &RedisPresence{rdb: rdb}
}

func presenceKey(sessionID string) string { return "session:" + sessionID + ":endpoints" }

func (p *RedisPresence) Join(ctx context.Context, sessionID, endpointID string) {
	key := presenceKey(sessionID)
	if err := p.rdb.SAdd(ctx, key, endpointID).Err(); err != nil {
		log.Printf("Failed to record presence for %s: %v", endpointID, err)
		return
	}
	p.rdb.Expire(ctx, key, presenceTTL)
}

func (p *RedisPresence) Leave(ctx context.Context, sessionID, endpointID string) {
	if err := p.rdb.SRem(ctx, presenceKey(sessionID), endpointID).Err(); err != nil {
		log.Printf("Failed to clear presence for %s: %v", endpointID, err)
	}
}
