// Package ratelimit provides per-token request throttling for the REST API,
// built on golang.org/x/time/rate rather than a hand-rolled token bucket.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Registry hands out one rate.Limiter per bearer token, so one noisy
// machine can't starve others of their burst allowance.
type Registry struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*entry
}

type entry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// NewRegistry creates a registry granting rps requests/sec with burst
// capacity to each distinct token.
func NewRegistry(rps float64, burst int) *Registry {
	return &Registry{rps: rate.Limit(rps), burst: burst, limiters: make(map[string]*entry)}
}

// Allow reports whether a request bearing token may proceed, consuming one
// token from its bucket if so.
func (r *Registry) Allow(token string) bool {
	return r.limiterFor(token).Allow()
}

func (r *Registry) limiterFor(token string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.limiters[token]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(r.rps, r.burst)}
		r.limiters[token] = e
	}
	e.lastUsed = time.Now()
	return e.limiter
}

// Sweep discards limiters unused for longer than idle, to keep the
// registry from growing unbounded with one-shot or revoked tokens.
func (r *Registry) Sweep(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-idle)
	removed := 0
	for token, e := range r.limiters {
		if e.lastUsed.Before(cutoff) {
			delete(r.limiters, token)
			removed++
		}
	}
	return removed
}
