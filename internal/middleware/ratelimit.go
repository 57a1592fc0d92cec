package middleware

import (
	"net/http"
	"sync"
	"time"
)

const (
	rateLimitWindow  = time.Minute
	rateLimitMaxIP   = 200
	rateLimitMaxUser = 100
)

// rateLimiter — скользящее окно по ключу (IP или пользователь).
type rateLimiter struct {
	mu     sync.Mutex
	times  map[string][]time.Time
	limit  int
	window time.Duration
	now    func() time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{times: make(map[string][]time.Time), limit: limit, window: window, now: time.Now}
}

func (r *rateLimiter) allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	cutoff := now.Add(-r.window)
	slice := r.times[key]
	i := 0
	for _, t := range slice {
		if t.After(cutoff) {
			slice[i] = t
			i++
		}
	}
	slice = slice[:i]
	if len(slice) >= r.limit {
		r.times[key] = slice
		return false
	}
	r.times[key] = append(slice, now)
	return true
}

// RateLimit ограничивает запросы по IP и по user_id из контекста (если есть). 429 при превышении.
// Ставится после TrustedUser, иначе лимит по пользователю не работает.
func RateLimit(perIP, perUser int) func(http.Handler) http.Handler {
	byIP := newRateLimiter(perIP, rateLimitWindow)
	byUser := newRateLimiter(perUser, rateLimitWindow)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !byIP.allow(clientIP(r)) {
				http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
				return
			}
			if userID := GetUserID(r.Context()); userID != "" {
				if !byUser.allow("u:" + userID) {
					http.Error(w, `{"error":"too many requests"}`, http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitAPI — RateLimit с лимитами /api/* по умолчанию.
func RateLimitAPI(next http.Handler) http.Handler {
	return RateLimit(rateLimitMaxIP, rateLimitMaxUser)(next)
}
