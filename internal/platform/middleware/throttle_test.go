package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func throttledHandler(th *Throttle) http.Handler {
	return th.Limit(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func hit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login/begin", nil)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func Test_Throttle_AllowsWithinLimit(t *testing.T) {
	h := throttledHandler(NewThrottle(3, time.Minute))

	for i := 0; i < 3; i++ {
		rec := hit(h, "10.0.0.1:1234")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := hit(h, "10.0.0.1:1234")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func Test_Throttle_ClientsAreIndependent(t *testing.T) {
	h := throttledHandler(NewThrottle(1, time.Minute))

	require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1234").Code)
	require.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:9999").Code, "same IP, different port")
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.2:1234").Code)
}

func Test_Throttle_WindowResets(t *testing.T) {
	clock := time.Now()
	h := throttledHandler(NewThrottle(1, time.Minute,
		WithThrottleClock(func() time.Time { return clock })))

	require.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
	require.Equal(t, http.StatusTooManyRequests, hit(h, "10.0.0.1:1").Code)

	clock = clock.Add(time.Minute)
	assert.Equal(t, http.StatusOK, hit(h, "10.0.0.1:1").Code)
}

func Test_Throttle_PrunesExpiredWindows(t *testing.T) {
	clock := time.Now()
	th := NewThrottle(1, time.Minute,
		WithThrottleClock(func() time.Time { return clock }))
	h := throttledHandler(th)

	for _, addr := range []string{"10.0.0.1:1", "10.0.0.2:1", "10.0.0.3:1"} {
		require.Equal(t, http.StatusOK, hit(h, addr).Code)
	}

	clock = clock.Add(2 * time.Minute)
	require.Equal(t, http.StatusOK, hit(h, "10.0.1.1:1").Code)

	th.mu.Lock()
	remaining := len(th.windows)
	th.mu.Unlock()
	assert.Equal(t, 1, remaining, "expired client windows must be swept")
}

func Test_Throttle_SetsLimitHeaders(t *testing.T) {
	h := throttledHandler(NewThrottle(5, time.Minute))

	rec := hit(h, "10.0.0.1:1")
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
}
