package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUser = "6f1c2a9e-3b4d-4e5f-8a7b-9c0d1e2f3a4b"

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestTrustedUser(t *testing.T) {
	h := TrustedUser(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set(UserHeader, testUser)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testUser, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/messages?user_id="+testUser, nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "query fallback only for websocket upgrade")

	req = httptest.NewRequest(http.MethodGet, "/realtime/ws?user_id="+testUser, nil)
	req.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, testUser, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/messages", nil)
	req.Header.Set(UserHeader, "not-a-uuid")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit(t *testing.T) {
	h := RateLimit(3, 2)(echoUser())

	do := func(ip, user string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		req.RemoteAddr = ip + ":5000"
		if user != "" {
			req = req.WithContext(WithUserID(req.Context(), user))
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, do("10.0.0.1", testUser))
	assert.Equal(t, http.StatusOK, do("10.0.0.2", testUser))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.3", testUser), "per-user limit")

	assert.Equal(t, http.StatusOK, do("10.0.0.9", ""))
	assert.Equal(t, http.StatusOK, do("10.0.0.9", ""))
	assert.Equal(t, http.StatusOK, do("10.0.0.9", ""))
	assert.Equal(t, http.StatusTooManyRequests, do("10.0.0.9", ""), "per-ip limit")
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	l := newRateLimiter(1, rateLimitWindow)
	now := l.now()
	l.now = func() time.Time { return now }
	require.True(t, l.allow("k"))
	assert.False(t, l.allow("k"))
	l.now = func() time.Time { return now.Add(rateLimitWindow + time.Second) }
	assert.True(t, l.allow("k"))
}

func TestInternalOnly(t *testing.T) {
	h := InternalOnly("s3cret")(echoUser())

	req := httptest.NewRequest(http.MethodPost, "/notify", nil)
	req.RemoteAddr = "203.0.113.7:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req.Header.Set("X-Internal-Secret", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/notify", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/notify", nil)
	req.RemoteAddr = "10.1.2.3:4000"
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.1.2.3")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rec.Body.String())
}
