// Package ratelimit throttles authenticated API calls with one token bucket
// per user.
package ratelimit

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Limiter hands out a token bucket per user. Buckets of users not seen
// recently are evicted once more than the configured number of users is
// tracked, and start full again on their next request. A nil *Limiter
// allows everything.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets *lru.Cache[uuid.UUID, *rate.Limiter]
}

// New returns a limiter allowing requestsPerSecond sustained calls per user
// with bursts of up to burst. A zero burst means requestsPerSecond. A zero
// rate disables limiting and yields nil.
func New(requestsPerSecond, burst, trackedUsers int) (*Limiter, error) {
	if requestsPerSecond <= 0 {
		return nil, nil
	}
	if burst <= 0 {
		burst = requestsPerSecond
	}
	buckets, err := lru.New[uuid.UUID, *rate.Limiter](trackedUsers)
	if err != nil {
		return nil, fmt.Errorf("rate limiter buckets: %w", err)
	}
	return &Limiter{
		limit:   rate.Limit(requestsPerSecond),
		burst:   burst,
		buckets: buckets,
	}, nil
}

// Allow consumes one token from userID's bucket and reports whether one was
// available.
func (l *Limiter) Allow(userID uuid.UUID) bool {
	if l == nil {
		return true
	}
	return l.bucket(userID).Allow()
}

func (l *Limiter) bucket(userID uuid.UUID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if bucket, ok := l.buckets.Get(userID); ok {
		return bucket
	}
	bucket := rate.NewLimiter(l.limit, l.burst)
	l.buckets.Add(userID, bucket)
	return bucket
}
