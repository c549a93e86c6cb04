package api

import (
	"context"
	"testing"
	"time"

	"whitelist-bot/internal/common/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func newLimiter(t *testing.T, limit int, window time.Duration) (*miniredis.Miniredis, *RedisLimiter) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisLimiter(client, limit, window, "whitelist:rl", logger.NewTestLogger(t))
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	mr, l := newLimiter(t, 2, time.Minute)

	assert.True(t, l.Allow(ctx, "submit:1.2.3.4"))
	assert.True(t, l.Allow(ctx, "submit:1.2.3.4"))
	assert.False(t, l.Allow(ctx, "submit:1.2.3.4"))
	assert.True(t, l.Allow(ctx, "submit:5.6.7.8"), "keys are independent")

	assert.True(t, mr.Exists("whitelist:rl:submit:1.2.3.4"))
	assert.Greater(t, mr.TTL("whitelist:rl:submit:1.2.3.4"), time.Duration(0))

	mr.FastForward(time.Minute + time.Second)
	assert.True(t, l.Allow(ctx, "submit:1.2.3.4"))
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	mr, l := newLimiter(t, 1, time.Minute)
	mr.Close()

	assert.True(t, l.Allow(context.Background(), "submit:1.2.3.4"))
}

func TestRedisLimiter_Disabled(t *testing.T) {
	var nilLimiter *RedisLimiter
	assert.True(t, nilLimiter.Allow(context.Background(), "k"))
	assert.Nil(t, NewRedisLimiter(nil, 1, time.Minute, "", logger.NewNoOpLogger()))

	_, l := newLimiter(t, 0, time.Minute)
	assert.True(t, l.Allow(context.Background(), "k"))
	assert.True(t, l.Allow(context.Background(), "k"))
}
