package holds

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-fairpass/internal/clock"
	"ms-fairpass/internal/logger"
)

const timerKeyPrefix = "hold_expiry:"

// RedisTimers mirrors every hold as a Redis key that expires with it. The
// key's expired notification lets the service release tickets close to the
// deadline instead of waiting for the next sweep.
type RedisTimers struct {
	Client *redis.Client
	Clock  clock.Clock
	Logger *logger.Logger
}

func NewRedisTimers(client *redis.Client, clk clock.Clock, log *logger.Logger) *RedisTimers {
	if clk == nil {
		clk = clock.NewSystem()
	}
	if log == nil {
		log = logger.NewLoggerWithWriter(io.Discard)
	}
	return &RedisTimers{Client: client, Clock: clk, Logger: log}
}

func TimerKey(intentID string) string {
	return timerKeyPrefix + intentID
}

// IntentIDFromKey is the inverse of TimerKey.
func IntentIDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, timerKeyPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, timerKeyPrefix)
	return id, id != ""
}

func (r *RedisTimers) Schedule(ctx context.Context, intentID string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.Clock.Now())
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	return r.Client.Set(ctx, TimerKey(intentID), expiresAt.UTC().Format(time.RFC3339Nano), ttl).Err()
}

func (r *RedisTimers) Clear(ctx context.Context, intentID string) error {
	return r.Client.Del(ctx, TimerKey(intentID)).Err()
}

// EnableNotifications turns on expired-key events. Managed Redis often
// forbids CONFIG SET; callers should log the error and rely on the sweeper.
func (r *RedisTimers) EnableNotifications(ctx context.Context) error {
	return r.Client.ConfigSet(ctx, "notify-keyspace-events", "Ex").Err()
}

// Subscribe calls onExpire for every hold timer that expires, until ctx is
// done.
func (r *RedisTimers) Subscribe(ctx context.Context, onExpire func(ctx context.Context, intentID string)) error {
	pattern := fmt.Sprintf("__keyevent@%d__:expired", r.Client.Options().DB)
	pubsub := r.Client.PSubscribe(ctx, pattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to %s: %w", pattern, err)
	}
	r.Logger.Info("REDIS", fmt.Sprintf("Subscribed to Redis keyevent expired notifications (DB %d)", r.Client.Options().DB))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			intentID, ok := IntentIDFromKey(msg.Payload)
			if !ok {
				continue
			}
			r.Logger.Debug("REDIS", fmt.Sprintf("Hold timer expired for intent %s", intentID))
			onExpire(ctx, intentID)
		}
	}
}
