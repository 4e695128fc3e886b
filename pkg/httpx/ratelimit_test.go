package httpx_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/prayerwall/pkg/httpx"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func jsonRequest(body, remote string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/session/sign-in", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remote
	return req
}

func TestIPKeyExtractor(t *testing.T) {
	t.Run("extracts from RemoteAddr", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		require.Equal(t, "192.168.1.1", httpx.IPKeyExtractor(req))
	})

	t.Run("prefers X-Forwarded-For", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Forwarded-For", "203.0.113.1, 192.168.1.1")
		require.Equal(t, "203.0.113.1", httpx.IPKeyExtractor(req))
	})

	t.Run("uses X-Real-IP if X-Forwarded-For absent", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		req.Header.Set("X-Real-IP", "203.0.113.2")
		require.Equal(t, "203.0.113.2", httpx.IPKeyExtractor(req))
	})
}

func TestJSONFieldKeyExtractor(t *testing.T) {
	extract := httpx.JSONFieldKeyExtractor("email")

	t.Run("reads field and restores body", func(t *testing.T) {
		req := jsonRequest(`{"email":" A@X.com ","password":"pw"}`, "10.0.0.1:1")
		require.Equal(t, "a@x.com", extract(req))

		rest, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"email":" A@X.com ","password":"pw"}`, string(rest))
	})

	t.Run("empty for invalid json", func(t *testing.T) {
		require.Empty(t, extract(jsonRequest(`not json`, "10.0.0.1:1")))
	})

	t.Run("empty for non-string field", func(t *testing.T) {
		require.Empty(t, extract(jsonRequest(`{"email":42}`, "10.0.0.1:1")))
	})
}

func TestCompositeKeyExtractor(t *testing.T) {
	extractor := httpx.CompositeKeyExtractor(":",
		httpx.IPKeyExtractor,
		httpx.JSONFieldKeyExtractor("email"),
	)

	require.Equal(t, "192.168.1.1:alice@x.com", extractor(jsonRequest(`{"email":"alice@x.com"}`, "192.168.1.1:5")))
	require.Equal(t, "192.168.1.1", extractor(jsonRequest(`{}`, "192.168.1.1:5")))
}

func TestRateLimitRetryAfter(t *testing.T) {
	// one token per 10s: the second request waits the full interval
	limited := httpx.RateLimitByIP(httpx.RateLimitConfig{
		Requests: 6,
		Window:   time.Minute,
		Burst:    1,
	})(okHandler())

	codes := make([]int, 0, 2)
	var retryAfter string
	for range 2 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.9:1"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		retryAfter = rec.Header().Get("Retry-After")
	}

	require.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
	require.Contains(t, []string{"9", "10"}, retryAfter)
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("blocks requests over limit", func(t *testing.T) {
		limited := httpx.RateLimitMiddleware(httpx.RateLimitConfig{
			Requests: 3,
			Window:            time.Minute,
			Burst:             3,
		}, httpx.IPKeyExtractor)(okHandler())

		for i := range 3 {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.168.1.1:12345"
			rec := httptest.NewRecorder()
			limited.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, "request %d should succeed", i+1)
		}

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, req)

		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.NotEmpty(t, rec.Header().Get("Retry-After"))
		require.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		require.Equal(t, "1m0s", rec.Header().Get("X-RateLimit-Window"))
		require.Contains(t, rec.Body.String(), "rate_limit_exceeded")
	})

	t.Run("different keys are tracked separately", func(t *testing.T) {
		limited := httpx.RateLimitByIP(httpx.RateLimitConfig{
			Requests: 1,
			Window:            time.Minute,
			Burst:             1,
		})(okHandler())

		for _, remote := range []string{"192.168.1.1:1", "192.168.1.2:1"} {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = remote
			rec := httptest.NewRecorder()
			limited.ServeHTTP(rec, req)
			require.Equal(t, http.StatusOK, rec.Code, remote)
		}
	})

	t.Run("allows request when key extractor returns empty", func(t *testing.T) {
		limited := httpx.RateLimitMiddleware(httpx.RateLimitConfig{
			Requests: 1,
			Window:            time.Minute,
			Burst:             1,
		}, func(*http.Request) string { return "" })(okHandler())

		for range 3 {
			rec := httptest.NewRecorder()
			limited.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
			require.Equal(t, http.StatusOK, rec.Code)
		}
	})
}

func TestRateLimitByIPAndJSONField(t *testing.T) {
	limited := httpx.RateLimitByIPAndJSONField(httpx.RateLimitConfig{
		Requests: 2,
		Window:            time.Minute,
		Burst:             2,
	}, "email")(okHandler())

	for range 2 {
		rec := httptest.NewRecorder()
		limited.ServeHTTP(rec, jsonRequest(`{"email":"alice@x.com"}`, "192.168.1.1:1"))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	limited.ServeHTTP(rec, jsonRequest(`{"email":"alice@x.com"}`, "192.168.1.1:1"))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// same client, different address is still allowed
	rec = httptest.NewRecorder()
	limited.ServeHTTP(rec, jsonRequest(`{"email":"bob@x.com"}`, "192.168.1.1:1"))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitsFromEnv(t *testing.T) {
	t.Run("overlays defaults", func(t *testing.T) {
		t.Setenv("RATELIMIT_STRICT_REQUESTS", "1000")
		t.Setenv("RATELIMIT_STRICT_WINDOW", "30s")

		limits, err := httpx.RateLimitsFromEnv()
		require.NoError(t, err)
		defaults := httpx.DefaultRateLimits()

		require.Equal(t, 1000, limits.Strict.Requests)
		require.Equal(t, 30*time.Second, limits.Strict.Window)
		require.Equal(t, defaults.Strict.Burst, limits.Strict.Burst)
		require.Equal(t, defaults.Moderate, limits.Moderate)
		require.Equal(t, defaults.Lenient, limits.Lenient)
	})

	t.Run("rejects non-positive values", func(t *testing.T) {
		t.Setenv("RATELIMIT_MODERATE_BURST", "-4")

		_, err := httpx.RateLimitsFromEnv()
		require.ErrorContains(t, err, "RATELIMIT_MODERATE")
	})

	t.Run("rejects malformed window", func(t *testing.T) {
		t.Setenv("RATELIMIT_LENIENT_WINDOW", "sixty")

		_, err := httpx.RateLimitsFromEnv()
		require.Error(t, err)
	})
}

func TestDefaultRateLimits(t *testing.T) {
	defaults := httpx.DefaultRateLimits()
	require.NoError(t, defaults.Validate())
	require.Less(t, defaults.Strict.Requests, defaults.Moderate.Requests)
	require.Less(t, defaults.Moderate.Requests, defaults.Lenient.Requests)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) httpx.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := httpx.Chain(okHandler(), mark("first"), mark("second"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, []string{"first", "second"}, order)
}
