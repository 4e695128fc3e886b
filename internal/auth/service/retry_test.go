package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aussiebroadwan/prayerwall/internal/auth/domain"
	"github.com/stretchr/testify/require"
)

func quota() error {
	return &domain.ProviderError{Code: domain.CodeQuotaExceeded, Message: "quota exceeded"}
}

func TestExecute_RetryBound(t *testing.T) {
	t.Parallel()
	sleep := &recordingSleep{}
	rc := newTestRetry(sleep)

	calls := 0
	_, err := Execute(context.Background(), rc, func(context.Context) (string, error) {
		calls++
		return "", quota()
	})

	require.Equal(t, 4, calls, "first attempt plus MaxRetries")
	require.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second}, sleep.Delays())

	var f *domain.Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, domain.KindResourceExhausted, f.Kind)
	require.Equal(t, domain.MsgServiceUnavailable, f.Message)
	require.False(t, Retryable(f), "exhaustion result is terminal")
}

func TestExecute_TerminalFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		kind domain.Kind
	}{
		{"wrong password", &domain.ProviderError{Code: domain.CodeWrongPassword}, domain.KindUnauthorized},
		{"email in use", &domain.ProviderError{Code: domain.CodeEmailAlreadyInUse}, domain.KindConflict},
		{"network", &domain.ProviderError{Code: domain.CodeNetworkRequestFailed}, domain.KindOffline},
		{"unknown", errors.New("boom"), domain.KindUnknown},
		{"failure", domain.NewFailure(domain.KindResourceExhausted, domain.MsgServiceUnavailable), domain.KindResourceExhausted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sleep := &recordingSleep{}
			calls := 0
			_, err := Execute(context.Background(), newTestRetry(sleep), func(context.Context) (int, error) {
				calls++
				return 0, tt.err
			})

			require.Equal(t, 1, calls)
			require.Empty(t, sleep.Delays())
			require.Equal(t, tt.kind, domain.KindOf(err))
		})
	}
}

func TestExecute_RecoversAfterThrottle(t *testing.T) {
	t.Parallel()
	sleep := &recordingSleep{}

	calls := 0
	v, err := Execute(context.Background(), newTestRetry(sleep), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &domain.ProviderError{Code: "internal-error", Message: "Metric quota reached"}
		}
		return "ok", nil
	})

	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second}, sleep.Delays())
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	rc := NewRetryCoordinator(
		WithJitter(noJitter),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)

	_, err := Execute(ctx, rc, func(context.Context) (string, error) {
		calls++
		return "", quota()
	})

	require.Equal(t, 1, calls)
	var f *domain.Failure
	require.ErrorAs(t, err, &f)
	require.Equal(t, domain.KindResourceExhausted, f.Kind)
	require.Equal(t, domain.CodeQuotaExceeded, f.Code, "last provider failure is returned")
}

func TestExecute_RealSleepHonoursContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rc := NewRetryCoordinator(WithBaseDelay(time.Hour), WithMaxJitter(0))

	start := time.Now()
	_, err := Execute(ctx, rc, func(context.Context) (string, error) { return "", quota() })
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Minute)
}

func TestRetryCoordinator_Delay(t *testing.T) {
	t.Parallel()
	rc := NewRetryCoordinator()

	require.Equal(t, DefaultMaxRetries, rc.MaxRetries())
	for attempt, base := range []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second} {
		for range 50 {
			d := rc.Delay(attempt)
			require.GreaterOrEqual(t, d, base)
			require.Less(t, d, base+DefaultMaxJitter)
		}
	}

	require.Equal(t, 2, NewRetryCoordinator(WithMaxRetries(2)).MaxRetries())
	require.Equal(t, 3, NewRetryCoordinator(WithMaxRetries(-1)).MaxRetries())
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	require.True(t, Retryable(quota()))
	require.True(t, Retryable(&domain.ProviderError{Code: domain.CodeTooManyRequests}))
	require.True(t, Retryable(&domain.ProviderError{Code: domain.CodeResourceExhausted}))
	require.True(t, Retryable(&domain.ProviderError{Code: domain.CodeInsufficientResources}))
	require.True(t, Retryable(errors.New("backend reported insufficient-resources")))
	require.False(t, Retryable(&domain.ProviderError{Code: domain.CodeWrongPassword, Message: "bad"}))
	require.False(t, Retryable(nil))
}
