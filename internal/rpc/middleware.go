package rpc

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cadcoin/cadcoind/internal/log"
)

// authedHandler receives the authenticated address alongside the request.
type authedHandler func(w http.ResponseWriter, r *http.Request, user string)

// authed wraps a handler with bearer token verification.
func (s *Server) authed(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		user, err := s.auth.Verify(token)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		next(w, r, user)
	}
}

// ipLimiter keeps a token bucket per client IP.
type ipLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

// newIPLimiter allows count requests per interval from each client.
func newIPLimiter(count int, interval time.Duration) *ipLimiter {
	return &ipLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Every(interval / time.Duration(count)),
		burst:   count,
	}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = rate.NewLimiter(l.limit, l.burst)
		l.buckets[ip] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}

// routeLimits carries the per-route limiters, mirroring the original
// deployment's per-endpoint quotas. The global limiter backstops every
// route, including the unthrottled read surface.
type routeLimits struct {
	global      *ipLimiter
	register    *ipLimiter
	login       *ipLimiter
	transaction *ipLimiter
	mine        *ipLimiter
	coinCreate  *ipLimiter
	mint        *ipLimiter
	authorize   *ipLimiter
}

func newRouteLimits() routeLimits {
	return routeLimits{
		global:      newIPLimiter(1000, time.Hour),
		register:    newIPLimiter(5, time.Minute),
		login:       newIPLimiter(10, time.Minute),
		transaction: newIPLimiter(100, time.Hour),
		mine:        newIPLimiter(10, time.Hour),
		coinCreate:  newIPLimiter(5, time.Hour),
		mint:        newIPLimiter(20, time.Hour),
		authorize:   newIPLimiter(10, time.Hour),
	}
}

// globalLimit applies the global per-IP quota in front of the whole mux.
func (s *Server) globalLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limits.global.allow(ip) {
			log.RPC.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("global rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limit wraps a handler with a per-IP rate limit.
func (s *Server) limit(l *ipLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !l.allow(ip) {
			log.RPC.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// clientIP extracts the caller address, honoring X-Forwarded-For from a
// fronting proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
