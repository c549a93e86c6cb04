package ticketcache

import (
	"context"
	"errors"
	"time"

	"whitelist-bot/internal/common/logger"

	"github.com/redis/go-redis/v9"
)

// Redis is a Cache shared between bot replicas. Entries expire after ttl so
// a lost invalidation heals by itself.
type Redis struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger logger.Logger
}

func NewRedis(client redis.Cmdable, prefix string, ttl time.Duration, log logger.Logger) *Redis {
	return &Redis{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.Component(log, "ticketcache"),
	}
}

func (r *Redis) key(candidateID string) string {
	return r.prefix + candidateID
}

func (r *Redis) Get(ctx context.Context, candidateID string) (string, bool) {
	id, err := r.client.Get(ctx, r.key(candidateID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		r.logger.Warn("ticket cache read failed", map[string]interface{}{
			"candidateId": candidateID,
			"error":       err.Error(),
		})
		return "", false
	}
	return id, id != ""
}

func (r *Redis) Set(ctx context.Context, candidateID, channelID string) {
	if candidateID == "" || channelID == "" {
		return
	}
	if err := r.client.Set(ctx, r.key(candidateID), channelID, r.ttl).Err(); err != nil {
		r.logger.Warn("ticket cache write failed", map[string]interface{}{
			"candidateId": candidateID,
			"error":       err.Error(),
		})
	}
}

func (r *Redis) Invalidate(ctx context.Context, candidateID string) {
	if err := r.client.Del(ctx, r.key(candidateID)).Err(); err != nil {
		r.logger.Warn("ticket cache invalidate failed", map[string]interface{}{
			"candidateId": candidateID,
			"error":       err.Error(),
		})
	}
}
