package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"cdpchain/observability"
)

const idleBucketTTL = 5 * time.Minute

type RateLimit struct {
	RequestsPerMinute float64
	Burst             int
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter gives every caller its own token bucket. Authenticated callers
// are keyed by account so one borrower cannot dodge the limit by hopping
// addresses; anonymous readers are keyed by client IP.
type RateLimiter struct {
	logger *slog.Logger
	every  rate.Limit
	burst  int

	mu       sync.Mutex
	visitors map[string]*bucket
	clockNow func() time.Time
}

func NewRateLimiter(limit RateLimit, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	burst := limit.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		logger:   logger,
		every:    rate.Limit(limit.RequestsPerMinute / 60),
		burst:    burst,
		visitors: make(map[string]*bucket),
		clockNow: time.Now,
	}
}

// Middleware enforces the limit for requests on route. A zero rate disables
// throttling.
func (r *RateLimiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if r.every <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			id := clientID(req)
			limiter := r.obtainLimiter(id)
			if !limiter.AllowN(r.clockNow(), 1) {
				observability.API().RecordThrottle(route, "rate_limit")
				r.logger.Debug("rate limited", slog.String("client", id), slog.String("route", route))
				wait := time.Duration(float64(time.Second) / float64(r.every))
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func (r *RateLimiter) obtainLimiter(id string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clockNow()
	for key, b := range r.visitors {
		if now.Sub(b.lastSeen) > idleBucketTTL {
			delete(r.visitors, key)
		}
	}
	b, ok := r.visitors[id]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(r.every, r.burst)}
		r.visitors[id] = b
	}
	b.lastSeen = now
	return b.limiter
}

func clientID(r *http.Request) string {
	if account, ok := AccountFromContext(r.Context()); ok {
		return "account:" + strings.ToLower(account.Hex())
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		first = strings.TrimSpace(first)
		if parsed := net.ParseIP(first); parsed != nil {
			return parsed.String()
		}
		return first
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
