package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// limiter enforces a sliding-window request limit per caller. Callers are
// keyed by authenticated subject when available, else by client IP. The
// service sits behind the platform gateway, so forwarded-for headers are
// trusted for the IP fallback.
type limiter struct {
	requests int
	window   time.Duration

	mu      sync.Mutex
	windows map[string][]time.Time
}

func newLimiter(requests, windowSeconds int) *limiter {
	if requests <= 0 {
		requests = 100
	}
	if windowSeconds <= 0 {
		windowSeconds = 60
	}

	l := &limiter{
		requests: requests,
		window:   time.Duration(windowSeconds) * time.Second,
		windows:  make(map[string][]time.Time),
	}
	go l.sweep()
	return l
}

// sweep drops callers with no activity in two windows.
func (l *limiter) sweep() {
	ticker := time.NewTicker(time.Minute)
	for range ticker.C {
		cutoff := time.Now().Add(-2 * l.window)
		l.mu.Lock()
		for key, stamps := range l.windows {
			if len(stamps) == 0 || stamps[len(stamps)-1].Before(cutoff) {
				delete(l.windows, key)
			}
		}
		l.mu.Unlock()
	}
}

func (l *limiter) allow(key string) (bool, int, time.Time) {
	now := time.Now()
	start := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.windows[key]
	for len(stamps) > 0 && !stamps[0].After(start) {
		stamps = stamps[1:]
	}

	if len(stamps) >= l.requests {
		return false, 0, stamps[0].Add(l.window)
	}

	stamps = append(stamps, now)
	l.windows[key] = stamps
	return true, l.requests - len(stamps), now.Add(l.window)
}

// RateLimit returns a middleware enforcing the given per-caller budget.
func RateLimit(requests int, windowSeconds int) func(http.Handler) http.Handler {
	l := newLimiter(requests, windowSeconds)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := callerKey(r)
			allowed, remaining, reset := l.allow(key)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

			if !allowed {
				w.Header().Set("Retry-After", strconv.FormatInt(int64(time.Until(reset).Seconds())+1, 10))
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func callerKey(r *http.Request) string {
	if id := GetExternalID(r.Context()); id != "" {
		return "sub:" + id
	}
	return "ip:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		return host[:i]
	}
	return host
}
