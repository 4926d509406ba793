package httpapi

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"session-authority/backend/internal/server/interceptors"
)

// maxTrackedIPs bounds the number of per-IP limiters kept in memory; the least recently seen
// addresses are evicted first.
const maxTrackedIPs = 10000

// ipLimiter hands out one token bucket per client IP. Clients are keyed by the connecting peer
// unless it is a trusted proxy, so a forged X-Forwarded-For cannot mint fresh buckets.
type ipLimiter struct {
	mu       sync.Mutex
	limiters *lru.Cache[string, *rate.Limiter]
	ips      *interceptors.IPResolver
	limit    rate.Limit
	burst    int
	perMin   int
}

func newIPLimiter(perMin int, ips *interceptors.IPResolver) *ipLimiter {
	cache, err := lru.New[string, *rate.Limiter](maxTrackedIPs)
	if err != nil {
		panic(err)
	}
	return &ipLimiter{
		limiters: cache,
		ips:      ips,
		limit:    rate.Limit(float64(perMin) / 60.0),
		burst:    perMin,
		perMin:   perMin,
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters.Get(ip); ok {
		return lim
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(ip, lim)
	return lim
}

// middleware rejects requests over budget with 429 and a Retry-After header.
func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim := l.get(l.ips.Resolve(r))
		res := lim.Reserve()
		if !res.OK() {
			l.reject(w, time.Minute)
			return
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			l.reject(w, delay)
			return
		}
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.perMin))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(math.Max(0, lim.Tokens()))))
		next.ServeHTTP(w, r)
	})
}

func (l *ipLimiter) reject(w http.ResponseWriter, retry time.Duration) {
	secs := int(math.Ceil(retry.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.perMin))
	w.Header().Set("X-RateLimit-Remaining", "0")
	respondError(w, http.StatusTooManyRequests, "too many requests")
}
