package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis counts requests in fixed windows stored under
// "<prefix>:<key>:burst" and "<prefix>:<key>:minute". Each window key
// expires with its window, so no cleanup is needed. A denied call is not
// counted, matching Local.
type Redis struct {
	client *redis.Client
	prefix string
	policy Policy
}

func NewRedis(client *redis.Client, prefix string, policy Policy) *Redis {
	return &Redis{client: client, prefix: prefix, policy: policy}
}

// allowScript checks every window before counting in any of them.
// ARGV holds a limit and a window length in milliseconds per key. It
// returns {1, 0, 0} when allowed, otherwise {0, pttl, index} of the first
// full window.
var allowScript = redis.NewScript(`
for i, key in ipairs(KEYS) do
	local limit = tonumber(ARGV[2 * i - 1])
	local count = tonumber(redis.call("GET", key) or "0")
	if count >= limit then
		return {0, redis.call("PTTL", key), i}
	end
end
for i, key in ipairs(KEYS) do
	if redis.call("INCR", key) == 1 then
		redis.call("PEXPIRE", key, ARGV[2 * i])
	end
end
return {1, 0, 0}
`)

type window struct {
	suffix string
	limit  int
	length time.Duration
}

func (l *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	if l.policy.unlimited() {
		return allow(), nil
	}

	windows := make([]window, 0, 2)
	if l.policy.Burst > 0 {
		windows = append(windows, window{suffix: "burst", limit: l.policy.Burst, length: l.policy.burstWindow()})
	}
	if l.policy.PerMinute > 0 {
		windows = append(windows, window{suffix: "minute", limit: l.policy.PerMinute, length: time.Minute})
	}

	keys := make([]string, 0, len(windows))
	args := make([]any, 0, 2*len(windows))
	for _, w := range windows {
		keys = append(keys, fmt.Sprintf("%s:%s:%s", l.prefix, key, w.suffix))
		args = append(args, w.limit, w.length.Milliseconds())
	}

	res, err := allowScript.Run(ctx, l.client, keys, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply %v", key, res)
	}
	if res[0] == 1 {
		return allow(), nil
	}

	retryAfter := time.Duration(res[1]) * time.Millisecond
	if retryAfter <= 0 {
		if idx := int(res[2]) - 1; idx >= 0 && idx < len(windows) {
			retryAfter = windows[idx].length
		} else {
			retryAfter = time.Minute
		}
	}
	return deny(retryAfter), nil
}
