package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
)

func TestRateLimiter(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(2)
	defer rl.Stop()
	now := time.Date(2025, 12, 15, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/ask", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:5001").Code)
	limited := do("10.0.0.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Contains(t, limited.Body.String(), `"code":"rate_limited"`)
	assert.Equal(t, "30", limited.Header().Get("Retry-After"))
	assert.Equal(t, "2", limited.Header().Get("X-RateLimit-Limit"))

	// Other clients have their own bucket.
	assert.Equal(t, http.StatusNoContent, do("10.0.0.2:5000").Code)

	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusNoContent, do("10.0.0.1:5003").Code)

	now = now.Add(11 * time.Minute)
	rl.sweep()
	rl.mu.Lock()
	assert.Empty(t, rl.clients)
	rl.mu.Unlock()
}

func TestStopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	rl := NewRateLimiter(10)
	rl.Stop()
	rl.Stop()
}
