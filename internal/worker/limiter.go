package worker

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements per-key token bucket rate limiting.
// Keys are client addresses for the HTTP API and a fixed name for batch pacing.
type Limiter struct {
	limiters     map[string]*keyLimiter
	mu           sync.Mutex
	defaultRate  rate.Limit
	defaultBurst int
}

type keyLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter creates a new rate limiter. A non-positive rate disables limiting.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 5
	}

	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}

	return &Limiter{
		limiters:     make(map[string]*keyLimiter),
		defaultRate:  limit,
		defaultBurst: burst,
	}
}

// Enabled reports whether the limiter restricts anything
func (l *Limiter) Enabled() bool {
	return l.defaultRate != rate.Inf
}

// Wait blocks until key may proceed or ctx is done
func (l *Limiter) Wait(ctx context.Context, key string) error {
	return l.getLimiter(key).Wait(ctx)
}

// Allow checks if a request is allowed without waiting
func (l *Limiter) Allow(key string) bool {
	return l.getLimiter(key).Allow()
}

// RetryAfter estimates how long key has to wait for its next token
func (l *Limiter) RetryAfter(key string) time.Duration {
	r := l.getLimiter(key).Reserve()
	defer r.Cancel()
	return r.Delay()
}

func (l *Limiter) getLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, exists := l.limiters[key]; exists {
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	limiter := rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[key] = &keyLimiter{limiter: limiter, lastSeen: time.Now()}

	return limiter
}

// Prune drops keys idle for longer than maxIdle and returns how many went.
func (l *Limiter) Prune(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	pruned := 0
	for key, entry := range l.limiters {
		if time.Since(entry.lastSeen) > maxIdle {
			delete(l.limiters, key)
			pruned++
		}
	}
	return pruned
}

// Keys returns the number of tracked keys
func (l *Limiter) Keys() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
