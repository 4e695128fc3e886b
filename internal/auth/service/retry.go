package service

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
	"github.com/aussiebroadwan/prayerwall/pkg/slogx"
)

const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 3 * time.Second
	DefaultMaxJitter  = 500 * time.Millisecond
)

// SleepFunc pauses for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryCoordinator runs provider calls with exponential backoff. Only
// resource exhaustion (quota, rate limiting) is retried; every other failure
// is terminal.
type RetryCoordinator struct {
	maxRetries int
	baseDelay  time.Duration
	maxJitter  time.Duration
	sleep      SleepFunc
	jitter     func(max time.Duration) time.Duration
	logger     *slog.Logger
	metrics    *Metrics
}

type RetryOption func(*RetryCoordinator)

// WithMaxRetries sets how many retries follow the first attempt.
func WithMaxRetries(n int) RetryOption {
	return func(rc *RetryCoordinator) {
		if n >= 0 {
			rc.maxRetries = n
		}
	}
}

func WithBaseDelay(d time.Duration) RetryOption {
	return func(rc *RetryCoordinator) { rc.baseDelay = d }
}

// WithMaxJitter bounds the random delay added to each backoff, [0, d).
func WithMaxJitter(d time.Duration) RetryOption {
	return func(rc *RetryCoordinator) { rc.maxJitter = d }
}

func WithSleep(fn SleepFunc) RetryOption {
	return func(rc *RetryCoordinator) { rc.sleep = fn }
}

func WithJitter(fn func(max time.Duration) time.Duration) RetryOption {
	return func(rc *RetryCoordinator) { rc.jitter = fn }
}

func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(rc *RetryCoordinator) { rc.logger = l }
}

func WithRetryMetrics(m *Metrics) RetryOption {
	return func(rc *RetryCoordinator) { rc.metrics = m }
}

func NewRetryCoordinator(opts ...RetryOption) *RetryCoordinator {
	rc := &RetryCoordinator{
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		maxJitter:  DefaultMaxJitter,
		sleep:      sleepContext,
		jitter:     randomJitter,
	}
	for _, opt := range opts {
		opt(rc)
	}
	rc.logger = slogx.OrDefault(rc.logger)
	return rc
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max)))
}

// MaxRetries is the number of retries after the first attempt.
func (rc *RetryCoordinator) MaxRetries() int { return rc.maxRetries }

// Delay is the pause before retry attempt+1: base * 2^attempt + jitter.
func (rc *RetryCoordinator) Delay(attempt int) time.Duration {
	return rc.baseDelay<<attempt + rc.jitter(rc.maxJitter)
}

// Retryable reports whether err signals provider resource exhaustion. A
// *domain.Failure has already been through the taxonomy and is never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var f *domain.Failure
	if errors.As(err, &f) {
		return false
	}

	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return domain.IsResourceExhaustion(pe.Code, pe.Message)
	}
	return domain.IsResourceExhaustion("", err.Error())
}

// Execute calls op until it succeeds, fails terminally or the retry budget is
// spent. The returned error is always a *domain.Failure. Running out of
// retries yields ResourceExhausted with "service temporarily unavailable".
// Cancelling ctx during a backoff returns the last failure.
func Execute[T any](ctx context.Context, rc *RetryCoordinator, op func(context.Context) (T, error)) (T, error) {
	var zero T

	for attempt := 0; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}

		failure := domain.FailureFromError(err)
		if !Retryable(err) {
			return zero, failure
		}

		if attempt >= rc.maxRetries {
			rc.logger.Warn("provider retries exhausted",
				"attempts", attempt+1,
				"code", failure.Code,
				"error", err,
			)
			return zero, &domain.Failure{
				Kind:    domain.KindResourceExhausted,
				Code:    failure.Code,
				Message: domain.MsgServiceUnavailable,
				Err:     err,
			}
		}

		delay := rc.Delay(attempt)
		rc.metrics.backoff(delay)
		rc.logger.Info("provider throttled, retrying",
			"attempt", attempt+1,
			"delay", delay,
			"code", failure.Code,
		)

		if err := rc.sleep(ctx, delay); err != nil {
			return zero, failure
		}
	}
}
