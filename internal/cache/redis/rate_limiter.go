package redis

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marginpool/internal/domain"
)

//go:embed scripts/sliding_window.lua
var slidingWindowLua string

// minWaitStep keeps Wait from spinning when the window is about to open.
const minWaitStep = 5 * time.Millisecond

// RateLimiter implements domain.RateLimiter as a sliding window over a
// sorted set, evaluated atomically in Lua. Allow serves the API middleware
// with per-call budgets; Wait paces notifications with the default one.
type RateLimiter struct {
	c      *Client
	script *redis.Script
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRateLimiter creates a RateLimiter whose Wait admits limit hits per
// window.
func NewRateLimiter(c *Client, limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &RateLimiter{
		c:      c,
		script: redis.NewScript(slidingWindowLua),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

// hit records one request on key. When it is refused, retry is how long
// until the oldest hit leaves the window.
func (rl *RateLimiter) hit(ctx context.Context, key string, limit int, window time.Duration) (ok bool, retry time.Duration, err error) {
	res, err := rl.script.Run(ctx, rl.c.rdb,
		[]string{rl.c.Key("ratelimit", key)},
		rl.now().UnixMicro(), window.Microseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis: rate limit %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis: rate limit %s: malformed reply %v", key, res)
	}
	if res[0] == 1 {
		return true, 0, nil
	}
	return false, time.Duration(res[1]) * time.Microsecond, nil
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ok, _, err := rl.hit(ctx, key, limit, window)
	return ok, err
}

// Wait sleeps until key is admitted under the default budget.
func (rl *RateLimiter) Wait(ctx context.Context, key string) error {
	for {
		ok, retry, err := rl.hit(ctx, key, rl.limit, rl.window)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		retry = min(max(retry, minWaitStep), rl.window)

		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("redis: rate limit wait %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.RateLimiter = (*RateLimiter)(nil)
