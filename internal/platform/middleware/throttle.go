package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Throttle is a fixed-window per-client limiter for the login endpoints. A
// handshake can hold a request for many seconds, so a small cap per window
// keeps one caller from pinning every worker.
type Throttle struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*clientWindow
	lastSweep time.Time
}

type clientWindow struct {
	start time.Time
	count int
}

// ThrottleOption configures a Throttle.
type ThrottleOption func(*Throttle)

// WithThrottleClock injects the time source, for tests.
func WithThrottleClock(now func() time.Time) ThrottleOption {
	return func(t *Throttle) { t.now = now }
}

func NewThrottle(limit int, window time.Duration, opts ...ThrottleOption) *Throttle {
	t := &Throttle{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*clientWindow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Limit wraps a handler with the throttle, keyed by client IP. Limit headers
// go on every response; an exhausted window answers 429 with a Retry-After.
func (t *Throttle) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, retryAfter, allowed := t.take(clientIP(r))

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(t.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (t *Throttle) take(key string) (remaining int, retryAfter time.Duration, allowed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	// One sweep per window drops expired entries so the map does not grow
	// with the number of distinct clients ever seen.
	if now.Sub(t.lastSweep) >= t.window {
		for k, cw := range t.windows {
			if now.Sub(cw.start) >= t.window {
				delete(t.windows, k)
			}
		}
		t.lastSweep = now
	}

	cw, ok := t.windows[key]
	if !ok || now.Sub(cw.start) >= t.window {
		cw = &clientWindow{start: now}
		t.windows[key] = cw
	}
	if cw.count >= t.limit {
		return 0, t.window - now.Sub(cw.start), false
	}
	cw.count++
	return t.limit - cw.count, 0, true
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
