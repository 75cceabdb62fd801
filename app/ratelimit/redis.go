package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// fixedWindowScript increments the counter, starts the window on the first
// hit and reports the remaining window in milliseconds.
var fixedWindowScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return { current, ttl }
`)

type RedisLimiter struct {
	client    redis.Scripter
	threshold int
	window    time.Duration
	prefix    string
}

func NewRedisLimiter(client redis.Scripter, threshold int, window time.Duration, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client:    client,
		threshold: threshold,
		window:    window,
		prefix:    prefix,
	}
}

// CheckAndIncrement fails open: when Redis is unreachable the attempt is
// allowed and the error is logged.
func (l *RedisLimiter) CheckAndIncrement(ctx context.Context, identifier string) (Decision, error) {
	key := l.prefix + identifier
	vals, err := fixedWindowScript.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		logrus.WithError(err).WithField("key", key).Warn("Rate limiter unavailable, allowing attempt")
		return Decision{Allowed: true, Remaining: l.threshold}, nil
	}
	if len(vals) != 2 {
		logrus.WithField("key", key).Warnf("Unexpected rate limiter reply: %v", vals)
		return Decision{Allowed: true, Remaining: l.threshold}, nil
	}

	return decide(vals[0], l.threshold, time.Duration(vals[1])*time.Millisecond), nil
}
