package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/redis"
	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/notification-dispatcher/internal/model"
)

const (
	lockKeyPrefix    = "notifications:ratelimit:lock:"
	counterKeyPrefix = "notifications:ratelimit:"

	counterTTL   = 2 * time.Second
	lockPollStep = 10 * time.Millisecond
)

// releaseScript deletes the lock key only when it still holds our token, so an
// expired lock taken over by another producer is never released from here.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// RedisLimiter is a Limiter backed by a shared Redis instance, for
// multi-process deployments. Each channel has a lock key guarding its
// fixed-window counter key; the counter key is suffixed with the unix second
// and expires on its own.
type RedisLimiter struct {
	rdb         *redis.Client
	max         int
	lockTimeout time.Duration
	lockTTL     time.Duration
}

// NewRedisLimiter creates a limiter allowing max admissions per second per channel.
func NewRedisLimiter(rdb *redis.Client, max int, lockTimeout time.Duration) *RedisLimiter {
	// The lock must outlive the critical section by a wide margin; a lock that
	// expires mid-section would let another producer breach the window.
	lockTTL := 10 * lockTimeout
	if lockTTL < time.Second {
		lockTTL = time.Second
	}

	return &RedisLimiter{rdb: rdb, max: max, lockTimeout: lockTimeout, lockTTL: lockTTL}
}

// Admit implements Limiter.
func (l *RedisLimiter) Admit(ctx context.Context, counts map[model.Channel]int) error {
	channels := sortedChannels(counts)
	token := uuid.NewString()

	locked := make([]model.Channel, 0, len(channels))
	defer func() {
		for _, ch := range locked {
			key := lockKeyPrefix + string(ch)
			if err := l.rdb.Client.Eval(ctx, releaseScript, []string{key}, token).Err(); err != nil {
				zlog.Logger.Error().Err(err).Str("channel", string(ch)).Msg("failed to release rate limit lock")
			}
		}
	}()

	deadline := time.Now().Add(l.lockTimeout)

	for _, ch := range channels {
		if err := l.acquireLock(ctx, ch, token, deadline); err != nil {
			return &LimitExceededError{Limit: l.max}
		}

		locked = append(locked, ch)
	}

	second := time.Now().Unix()

	// Check every window before touching any of them.
	for _, ch := range channels {
		current, err := l.rdb.Client.Get(ctx, l.counterKey(ch, second)).Int()
		if err != nil && !errors.Is(err, goredis.Nil) {
			// Fail-safe toward rejection, not silent admission.
			zlog.Logger.Error().Err(err).Str("channel", string(ch)).Msg("failed to read rate limit counter")
			return &LimitExceededError{Limit: l.max}
		}

		if current+counts[ch] > l.max {
			return &LimitExceededError{Limit: l.max}
		}
	}

	for _, ch := range channels {
		key := l.counterKey(ch, second)

		if err := l.rdb.IncrBy(ctx, key, int64(counts[ch])).Err(); err != nil {
			zlog.Logger.Error().Err(err).Str("channel", string(ch)).Msg("failed to increment rate limit counter")
			return &LimitExceededError{Limit: l.max}
		}

		if err := l.rdb.Expire(ctx, key, counterTTL).Err(); err != nil {
			zlog.Logger.Error().Err(err).Str("channel", string(ch)).Msg("failed to expire rate limit counter")
		}
	}

	return nil
}

// acquireLock takes the per-channel critical section, polling until the
// deadline. Contention past the deadline is the caller's rejection signal.
func (l *RedisLimiter) acquireLock(ctx context.Context, ch model.Channel, token string, deadline time.Time) error {
	key := lockKeyPrefix + string(ch)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.lockTTL).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire rate limit lock: %w", err)
		}
		if ok {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("rate limit lock acquisition timed out for channel %s", ch)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockPollStep):
		}
	}
}

func (l *RedisLimiter) counterKey(ch model.Channel, second int64) string {
	return fmt.Sprintf("%s%s:%d", counterKeyPrefix, ch, second)
}
