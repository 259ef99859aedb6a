package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"go-exam-portal/pkg/apierror"
)

// credentialPaths are the unauthenticated endpoints that accept secrets and
// get the stricter per-client budget.
var credentialPaths = []string{"/login", "/register", "/refresh-token"}

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepEvery = time.Minute
)

type budget uint8

const (
	budgetGeneral budget = iota
	budgetCredential
)

type limiterKey struct {
	client string
	budget budget
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware applies per-client token buckets to /api/ routes. Each
// client has one bucket for credential endpoints and one for everything else.
type RateLimitMiddleware struct {
	generalRPM int
	authRPM    int
	now        func() time.Time

	mu        sync.Mutex
	limiters  map[limiterKey]*limiterEntry
	lastSweep time.Time
}

func NewRateLimitMiddleware(generalRPM int, authRPM int) *RateLimitMiddleware {
	if generalRPM <= 0 {
		generalRPM = 300
	}
	if authRPM <= 0 {
		authRPM = 20
	}

	return &RateLimitMiddleware{
		generalRPM: generalRPM,
		authRPM:    authRPM,
		now:        time.Now,
		limiters:   map[limiterKey]*limiterEntry{},
	}
}

func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.ToLower(r.URL.Path)
		if !strings.HasPrefix(path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		key := limiterKey{client: extractClientIP(r), budget: budgetGeneral}
		if isCredentialPath(path) {
			key.budget = budgetCredential
		}

		if wait, ok := m.reserve(key); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(wait))
			writeError(w, http.StatusTooManyRequests, apierror.CodeRateLimited, "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// reserve takes one token from key's bucket. When the bucket is empty it
// returns the whole seconds until a token is available.
func (m *RateLimitMiddleware) reserve(key limiterKey) (int, bool) {
	now := m.now()
	lim := m.limiter(key, now)

	reservation := lim.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay == 0 {
		return 0, true
	}

	reservation.CancelAt(now)
	return int(math.Ceil(delay.Seconds())), false
}

func (m *RateLimitMiddleware) limiter(key limiterKey, now time.Time) *rate.Limiter {
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) >= limiterSweepEvery {
		m.sweepLocked(now)
	}

	entry, ok := m.limiters[key]
	if !ok {
		rpm := m.generalRPM
		if key.budget == budgetCredential {
			rpm = m.authRPM
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), rpm)}
		m.limiters[key] = entry
	}
	entry.lastSeen = now

	return entry.limiter
}

func (m *RateLimitMiddleware) sweepLocked(now time.Time) {
	m.lastSweep = now
	cutoff := now.Add(-limiterIdleTTL)
	for key, entry := range m.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(m.limiters, key)
		}
	}
}

func isCredentialPath(path string) bool {
	path = strings.TrimSuffix(path, "/")
	for _, suffix := range credentialPaths {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// extractClientIP prefers the first X-Forwarded-For hop, then X-Real-IP,
// then the connection address.
func extractClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	remote := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(remote); err == nil && host != "" {
		return host
	}
	if remote == "" {
		return "unknown"
	}
	return remote
}
