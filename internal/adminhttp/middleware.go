package adminhttp

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// reloadRateLimiter applies a per-client token bucket to the reload
// endpoint so a misbehaving automation loop cannot spin the sync latch.
// Clients are keyed by remote IP; a client's bucket is kept for the life of
// the limiter and is never removed, even when idle.
type reloadRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newReloadRateLimiter(perMinute, burst int) *reloadRateLimiter {
	return &reloadRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

func (rl *reloadRateLimiter) limiter(clientIP string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[clientIP]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[clientIP] = l
	}
	return l
}

// middleware rejects over-limit requests with 429 before they reach the
// latch.
func (rl *reloadRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !rl.limiter(ip).Allow() {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "reload rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
