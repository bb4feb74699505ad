package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"marketwatch/pkg/errors"
)

// Limiter paces calls to one vendor endpoint
type Limiter struct {
	limiter *rate.Limiter
	name    string
}

// NewLimiter creates a limiter allowing requestsPerMinute, with a burst of 10% of the budget.
// A non-positive budget disables limiting.
func NewLimiter(name string, requestsPerMinute int) *Limiter {
	if requestsPerMinute <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 1), name: name}
	}

	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), burst),
		name:    name,
	}
}

// Wait blocks until a request is allowed or ctx is done
func (l *Limiter) Wait(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return errors.Wrapf(errors.ErrRateLimitExceeded, "limiter %s: %v", l.name, err)
	}
	return nil
}

// Allow reports whether a request may go out now, consuming a token if so
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// Name returns the limiter name
func (l *Limiter) Name() string {
	return l.name
}

// Registry hands out one shared limiter per vendor
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// Register installs a limiter for key, replacing any existing one
func (r *Registry) Register(key string, requestsPerMinute int) *Limiter {
	l := NewLimiter(key, requestsPerMinute)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.limiters[key] = l
	return l
}

// Get returns the limiter for key, or an unlimited one when none was registered
func (r *Registry) Get(key string) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return l
	}
	return NewLimiter(key, 0)
}
