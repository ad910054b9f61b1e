// Package limiter bounds the submission rate, globally and per tenant.
// Jobs are owned by API keys, so buckets are keyed by the authenticated
// owner rather than the caller's address. The cap on concurrently
// executing jobs lives in the engine, which claims a slot before any
// sandbox exists.
package limiter

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/codevat/runbox/internal/auth"
	"github.com/codevat/runbox/internal/metrics"
)

type Limiter struct {
	global      *rate.Limiter
	tenants     sync.Map // owner -> *rate.Limiter
	tenantRate  rate.Limit
	tenantBurst int
}

func New(globalRPS, perKeyRPS float64, perKeyBurst int) *Limiter {
	return &Limiter{
		global:      rate.NewLimiter(rate.Limit(globalRPS), int(globalRPS)*2),
		tenantRate:  rate.Limit(perKeyRPS),
		tenantBurst: perKeyBurst,
	}
}

func (l *Limiter) tenantLimiter(owner string) *rate.Limiter {
	if lim, ok := l.tenants.Load(owner); ok {
		return lim.(*rate.Limiter)
	}
	lim := rate.NewLimiter(l.tenantRate, l.tenantBurst)
	actual, _ := l.tenants.LoadOrStore(owner, lim)
	return actual.(*rate.Limiter)
}

// AllowSubmit charges one submission against the global bucket and the
// owner's bucket.
func (l *Limiter) AllowSubmit(owner string) bool {
	if !l.global.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	if !l.tenantLimiter(owner).Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}
	return true
}

// Middleware guards the submit path. It runs behind the auth middleware,
// which has already resolved the owner.
func (l *Limiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.AllowSubmit(auth.Owner(r)) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// StartCleanup drops tenant buckets periodically so revoked keys do not
// pin limiters forever.
func (l *Limiter) StartCleanup(interval time.Duration) {
	go func() {
		for {
			time.Sleep(interval)
			l.tenants.Range(func(key, value any) bool {
				l.tenants.Delete(key)
				return true
			})
		}
	}()
}
