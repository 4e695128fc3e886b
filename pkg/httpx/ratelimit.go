package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/prayerwall/pkg/slogx"
)

// RateLimitConfig is one token bucket profile: Requests per Window, with up
// to Burst requests allowed back to back.
type RateLimitConfig struct {
	Requests int           `env:"REQUESTS"`
	Window   time.Duration `env:"WINDOW"`
	Burst    int           `env:"BURST"`
}

func (c RateLimitConfig) validate() error {
	if c.Requests <= 0 || c.Window <= 0 || c.Burst <= 0 {
		return fmt.Errorf("requests, window and burst must be positive, got %d/%s/%d",
			c.Requests, c.Window, c.Burst)
	}
	return nil
}

func (c RateLimitConfig) limit() rate.Limit {
	return rate.Limit(float64(c.Requests) / c.Window.Seconds())
}

// RateLimits groups the profiles applied by the router.
type RateLimits struct {
	Strict   RateLimitConfig `envPrefix:"STRICT_"`   // sign-in, sign-up
	Moderate RateLimitConfig `envPrefix:"MODERATE_"` // sign-out, password reset
	Lenient  RateLimitConfig `envPrefix:"LENIENT_"`  // probes, event stream
}

func DefaultRateLimits() RateLimits {
	return RateLimits{
		Strict:   RateLimitConfig{Requests: 5, Window: time.Minute, Burst: 5},
		Moderate: RateLimitConfig{Requests: 20, Window: time.Minute, Burst: 20},
		Lenient:  RateLimitConfig{Requests: 100, Window: time.Minute, Burst: 100},
	}
}

// Validate reports every profile with a non-positive field.
func (l RateLimits) Validate() error {
	var errs []error
	for name, c := range map[string]RateLimitConfig{
		"STRICT": l.Strict, "MODERATE": l.Moderate, "LENIENT": l.Lenient,
	} {
		if err := c.validate(); err != nil {
			errs = append(errs, fmt.Errorf("RATELIMIT_%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// RateLimitsFromEnv overlays RATELIMIT_{STRICT,MODERATE,LENIENT}_{REQUESTS,
// WINDOW,BURST} on the defaults. WINDOW is a Go duration such as "30s".
func RateLimitsFromEnv() (RateLimits, error) {
	l := DefaultRateLimits()
	if err := env.ParseWithOptions(&l, env.Options{Prefix: "RATELIMIT_"}); err != nil {
		return RateLimits{}, fmt.Errorf("parse rate limits: %w", err)
	}
	if err := l.Validate(); err != nil {
		return RateLimits{}, err
	}
	return l, nil
}

// KeyExtractor groups requests into one bucket. An empty key skips limiting.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor uses the first X-Forwarded-For hop, then X-Real-IP, then the
// peer address.
func IPKeyExtractor(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// JSONFieldKeyExtractor reads a top-level string field from a JSON request body,
// lower-cased and trimmed. The body is restored so the handler can decode it.
func JSONFieldKeyExtractor(field string) KeyExtractor {
	return func(r *http.Request) string {
		if r.Body == nil {
			return ""
		}

		raw, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err != nil {
			return ""
		}

		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return ""
		}
		v, _ := fields[field].(string)
		return strings.ToLower(strings.TrimSpace(v))
	}
}

// CompositeKeyExtractor joins the non-empty keys of each extractor with sep,
// e.g. "192.168.1.1:a@x.com".
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(extractors))
		for _, extract := range extractors {
			if key := extract(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

// bucketSweepEvery bounds how often idle buckets are evicted.
const bucketSweepEvery = time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// buckets holds one limiter per key. A bucket unused for longer than a full
// window has refilled and is dropped on the next sweep.
type buckets struct {
	cfg RateLimitConfig

	mu        sync.Mutex
	byKey     map[string]*bucket
	lastSweep time.Time
}

func newBuckets(cfg RateLimitConfig) *buckets {
	return &buckets{cfg: cfg, byKey: make(map[string]*bucket), lastSweep: time.Now()}
}

func (b *buckets) get(key string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastSweep) >= bucketSweepEvery {
		b.lastSweep = now
		for k, v := range b.byKey {
			if now.Sub(v.lastSeen) > b.cfg.Window {
				delete(b.byKey, k)
			}
		}
	}

	bk, ok := b.byKey[key]
	if !ok {
		bk = &bucket{limiter: rate.NewLimiter(b.cfg.limit(), b.cfg.Burst)}
		b.byKey[key] = bk
	}
	bk.lastSeen = now
	return bk.limiter
}

// RateLimitMiddleware rejects requests with 429 once the bucket for their key
// is empty. Retry-After is the whole number of seconds until the next token.
func RateLimitMiddleware(cfg RateLimitConfig, keyFn KeyExtractor) Middleware {
	table := newBuckets(cfg)
	limitHeader := strconv.Itoa(cfg.Requests)
	windowHeader := cfg.Window.String()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFn(r)
			if key == "" {
				slogx.FromContext(r.Context()).Warn("rate limit key missing, request allowed",
					"path", r.URL.Path,
				)
				next.ServeHTTP(w, r)
				return
			}

			now := time.Now()
			res := table.get(key, now).ReserveN(now, 1)
			if delay := res.DelayFrom(now); delay > 0 {
				res.CancelAt(now)

				retryAfter := max(int(math.Ceil(delay.Seconds())), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Limit", limitHeader)
				w.Header().Set("X-RateLimit-Window", windowHeader)

				slogx.FromContext(r.Context()).Warn("rate limit exceeded",
					"key", key,
					"path", r.URL.Path,
					"retry_after_s", retryAfter,
				)
				WriteError(w, http.StatusTooManyRequests,
					"rate_limit_exceeded", "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func RateLimitByIP(cfg RateLimitConfig) Middleware {
	return RateLimitMiddleware(cfg, IPKeyExtractor)
}

// RateLimitByIPAndJSONField limits by client IP plus a JSON body field, so one
// client hammering one email is throttled without blocking its other emails.
func RateLimitByIPAndJSONField(cfg RateLimitConfig, field string) Middleware {
	return RateLimitMiddleware(cfg, CompositeKeyExtractor(":",
		IPKeyExtractor,
		JSONFieldKeyExtractor(field),
	))
}
