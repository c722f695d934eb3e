package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// SubmitLimiter enforces the minimum interval between submits by the same
// user on the same post, shared across instances via SetNX with a TTL.
type SubmitLimiter struct {
	rdb      *goredis.Client
	interval time.Duration
}

func NewSubmitLimiter(rdb *goredis.Client, interval time.Duration) *SubmitLimiter {
	return &SubmitLimiter{rdb: rdb, interval: interval}
}

func (l *SubmitLimiter) Allow(ctx context.Context, postID, userID string) (bool, error) {
	if l.interval <= 0 {
		return true, nil
	}

	set, err := l.rdb.SetNX(ctx, limiterKey(postID, userID), "1", l.interval).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check submit interval: %w", err)
	}
	return set, nil
}

func limiterKey(postID, userID string) string {
	return "reactions:limit:" + postID + ":" + userID
}
