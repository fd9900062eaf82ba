package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// RateLimiter counts webhook deliveries in fixed windows aligned to the clock. Each window has
// its own counter key, so a counter whose expiry was never set only outlives its own window.
type RateLimiter struct {
	client Counter
	now    func() time.Time
}

func NewRateLimiter(client Counter) *RateLimiter {
	return &RateLimiter{client: client, now: time.Now}
}

// Allow counts one delivery for key and reports whether it stays within limit for the
// current window. A non-positive limit allows everything without touching Redis.
func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if window <= 0 {
		window = time.Minute
	}
	bucket := bucketKey(key, r.now(), window)
	count, err := r.client.Incr(ctx, bucket)
	if err != nil {
		return false, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, bucket, 2*window); err != nil {
			return false, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	return count <= int64(limit), nil
}

func bucketKey(key string, now time.Time, window time.Duration) string {
	return key + ":" + strconv.FormatInt(now.UnixNano()/int64(window), 10)
}

// WebhookKey scopes the webhook limit to one organization and gateway.
func WebhookKey(organizationID, gateway string) string {
	return "rate_limit:webhook:" + organizationID + ":" + gateway
}
