package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Allower decides whether one more hit for key fits in the current window.
type Allower interface {
	Allow(ctx context.Context, key string) bool
}

// Limiter is an in-process sliding window limiter.
type Limiter struct {
	mu      sync.RWMutex
	limits  map[string][]time.Time
	window  time.Duration
	maxHits int
	now     func() time.Time
}

func NewLimiter(window time.Duration, maxHits int) *Limiter {
	return &Limiter{
		limits:  make(map[string][]time.Time),
		window:  window,
		maxHits: maxHits,
		now:     time.Now,
	}
}

func (l *Limiter) Allow(_ context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-l.window)

	// Clean old entries
	if hits, exists := l.limits[key]; exists {
		valid := hits[:0]
		for _, hit := range hits {
			if hit.After(windowStart) {
				valid = append(valid, hit)
			}
		}
		if len(valid) == 0 {
			delete(l.limits, key)
		} else {
			l.limits[key] = valid
		}
	}

	if len(l.limits[key]) >= l.maxHits {
		return false
	}

	l.limits[key] = append(l.limits[key], now)
	return true
}
