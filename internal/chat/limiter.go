package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindowScript keeps one sorted-set entry per accepted message, scored by arrival time
// in milliseconds. Rejected messages are not recorded, so a sender who keeps retrying is
// let back in as soon as the oldest accepted message leaves the window.
//
// Returns {allowed, count, retry_after_ms}.
var slidingWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
local count = redis.call("ZCARD", KEYS[1])
if count < limit then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  redis.call("PEXPIRE", KEYS[1], window)
  return {1, count + 1, 0}
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local retry = window
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
return {0, count, retry}
`)

// Decision is the limiter's answer for one inbound message.
type Decision struct {
	Allowed bool
	// Count is the number of messages accepted from the sender in the current window,
	// including this one when it was allowed.
	Count      int
	RetryAfter time.Duration
}

// InboundLimiter decides whether a sender on a channel may send another message.
type InboundLimiter interface {
	Allow(ctx context.Context, channel, sender string) (Decision, error)
}

// RedisLimiter is a sliding-window InboundLimiter shared by every process that receives
// chat messages. Each channel keeps its own window, so a phone number that is on both
// WhatsApp and SMS gets the full allowance on each.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter creates a limiter allowing limit messages per window.
func NewRedisLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "sakhi:rate_limit"
	}
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, window: window, now: time.Now}
}

// Key returns the sorted-set key of a sender on a channel.
func (l *RedisLimiter) Key(channel, sender string) string {
	channel = strings.ToLower(strings.TrimSpace(channel))
	if channel == "" {
		channel = "direct"
	}
	return fmt.Sprintf("%s:inbound:%s:%s", l.prefix, channel, strings.TrimSpace(sender))
}

// Allow records the message if the sender is under the limit. A limiter without a client,
// limit or window, or a blank sender, allows everything without contacting Redis.
func (l *RedisLimiter) Allow(ctx context.Context, channel, sender string) (Decision, error) {
	if l == nil || l.client == nil || l.limit <= 0 || l.window <= 0 || strings.TrimSpace(sender) == "" {
		return Decision{Allowed: true}, nil
	}

	windowMs := max(l.window.Milliseconds(), 1000)
	raw, err := slidingWindowScript.Run(ctx, l.client,
		[]string{l.Key(channel, sender)},
		l.now().UnixMilli(), windowMs, l.limit, uuid.NewString(),
	).Result()
	if err != nil {
		return Decision{}, err
	}
	return decodeDecision(raw)
}

func decodeDecision(raw any) (Decision, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("unexpected limiter reply %T", raw)
	}
	fields := make([]int64, len(values))
	for i, v := range values {
		n, ok := v.(int64)
		if !ok {
			return Decision{}, fmt.Errorf("unexpected limiter reply field %d: %T", i, v)
		}
		fields[i] = n
	}
	d := Decision{Allowed: fields[0] == 1, Count: int(fields[1])}
	if !d.Allowed {
		// Whole seconds, rounded up.
		d.RetryAfter = time.Duration(max((fields[2]+999)/1000, 1)) * time.Second
	}
	return d, nil
}
