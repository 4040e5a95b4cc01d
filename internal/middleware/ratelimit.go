package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quadai/quad/internal/apperr"
	"github.com/quadai/quad/pkg/utils"
)

const (
	visitorTTL    = 10 * time.Minute
	sweepInterval = 5 * time.Minute
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-client token bucket keyed by remote IP. Mount
// chi's RealIP middleware first so proxied requests key on the real client.
type RateLimiter struct {
	mu       sync.RWMutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows perMinute requests per client with the given burst.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
	go rl.sweep()
	return rl
}

// Middleware rejects callers over their budget with 429 before the handler
// runs.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(ClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			utils.RespondError(w, http.StatusTooManyRequests, string(apperr.CodeRateLimited), "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow reports whether key has budget for one more request.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.RLock()
	v, ok := rl.visitors[key]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		if v, ok = rl.visitors[key]; !ok {
			v = &visitor{limiter: rate.NewLimiter(rl.limit, rl.burst)}
			rl.visitors[key] = v
		}
		rl.mu.Unlock()
	}

	rl.mu.Lock()
	v.lastSeen = time.Now()
	rl.mu.Unlock()

	return v.limiter.Allow()
}

func (rl *RateLimiter) sweep() {
	for range time.Tick(sweepInterval) {
		cutoff := time.Now().Add(-visitorTTL)
		rl.mu.Lock()
		for key, v := range rl.visitors {
			if v.lastSeen.Before(cutoff) {
				delete(rl.visitors, key)
			}
		}
		rl.mu.Unlock()
	}
}

// ClientIP returns the caller's address without the port. chi's RealIP
// middleware has already folded any forwarding headers into RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
