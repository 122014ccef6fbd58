package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Lock serializes requests and spaces them by a minimum wait.
type Lock interface {
	// Lock blocks until the caller may proceed and returns the function
	// that releases the lock.
	Lock(ctx context.Context) func()
}

type lock struct {
	lck     sync.Mutex
	limiter *rate.Limiter
}

// New returns a lock that lets one request through every wait. A zero wait
// only serializes.
func New(wait time.Duration) Lock {
	limit := rate.Inf
	if wait > 0 {
		limit = rate.Every(wait)
	}
	return &lock{
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (l *lock) Lock(ctx context.Context) func() {
	l.lck.Lock()
	// Wait only fails if the context is done, the request itself will
	// report the context error.
	_ = l.limiter.Wait(ctx)
	return l.lck.Unlock
}
