// Package ratelimit throttles authentication attempts per connector user with
// a Redis-backed token bucket shared by every service replica.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of one throttle check.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// AuthThrottle admits at most capacity attempts in a burst per user, refilled
// at refill tokens per second.
type AuthThrottle struct {
	client   *redis.Client
	capacity int
	refill   float64
	ttl      time.Duration
	now      func() time.Time
}

func NewAuthThrottle(client *redis.Client, capacity int, refillPerSecond float64) *AuthThrottle {
	if capacity <= 0 {
		capacity = 1
	}
	ttl := time.Hour
	if refillPerSecond > 0 {
		// an idle bucket is full again after capacity/refill seconds
		ttl = time.Duration(float64(capacity)/refillPerSecond*float64(time.Second)) + time.Minute
	}
	return &AuthThrottle{
		client:   client,
		capacity: capacity,
		refill:   refillPerSecond,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (t *AuthThrottle) key(user string) string {
	return "throttle:auth:" + user
}

// Allow consumes one attempt for user.
func (t *AuthThrottle) Allow(ctx context.Context, user string) (Decision, error) {
	res, err := bucketScript.Run(ctx, t.client, []string{t.key(user)},
		t.capacity, t.refill, t.now().UnixMilli(), t.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("auth throttle: %w", err)
	}
	if len(res) < 3 {
		return Decision{}, fmt.Errorf("auth throttle: unexpected reply %v", res)
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Reset refills the bucket for user.
func (t *AuthThrottle) Reset(ctx context.Context, user string) error {
	return t.client.Del(ctx, t.key(user)).Err()
}

// Tokens are stored in thousandths so the reply stays integral.
var bucketScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1]) * 1000
local refill = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local data = redis.call('HMGET', key, 'milli', 'last_ms')
local milli = tonumber(data[1]) or capacity
local last = tonumber(data[2]) or now

milli = math.min(capacity, milli + math.max(0, now - last) * refill)

local allowed = 0
local retry = 0
if milli >= 1000 then
  allowed = 1
  milli = milli - 1000
elseif refill > 0 then
  retry = math.ceil((1000 - milli) / refill)
else
  retry = -1
end

redis.call('HSET', key, 'milli', milli, 'last_ms', now)
redis.call('PEXPIRE', key, ttl)
return {allowed, math.floor(milli / 1000), retry}
`)
