package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/deepgram/persona-relay/pkg/logger"
)

// Counter increments a key that expires after window, returning the new count.
type Counter interface {
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}

// SharedLimiter is a fixed window limiter backed by a shared counter so that
// every replica sees the same budget. When the counter is unreachable it
// falls back to a local Limiter.
type SharedLimiter struct {
	counter  Counter
	prefix   string
	window   time.Duration
	maxHits  int
	fallback *Limiter
	now      func() time.Time
}

func NewSharedLimiter(counter Counter, prefix string, window time.Duration, maxHits int) *SharedLimiter {
	return &SharedLimiter{
		counter:  counter,
		prefix:   prefix,
		window:   window,
		maxHits:  maxHits,
		fallback: NewLimiter(window, maxHits),
		now:      time.Now,
	}
}

func (s *SharedLimiter) Allow(ctx context.Context, key string) bool {
	bucket := s.now().UnixNano() / int64(s.window)
	k := fmt.Sprintf("ratelimit:%s:%s:%d", s.prefix, key, bucket)

	count, err := s.counter.IncrWindow(ctx, k, s.window)
	if err != nil {
		logger.Warn(logger.MIDDLEWARE, "Shared rate limit counter unavailable, using local window: %v", err)
		return s.fallback.Allow(ctx, key)
	}

	return count <= int64(s.maxHits)
}
