package resilience_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tartampluch/greeter-service/internal/apperr"
	"github.com/tartampluch/greeter-service/internal/resilience"
)

func testConfig() resilience.Config {
	return resilience.Config{
		AttemptTimeout:  time.Second,
		MaxRetries:      3,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		JitterFraction:  0,
		BreakerName:     "test",
		BreakerTimeout:  time.Second,
		ErrorThreshold:  0.5,
		VolumeThreshold: 10,
	}
}

func TestEnvelope_SucceedsFirstTry(t *testing.T) {
	env := resilience.New(testConfig())

	attempts, err := env.Do(context.Background(), func(ctx context.Context) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestEnvelope_RetriesTransientThenSucceeds(t *testing.T) {
	env := resilience.New(testConfig())

	calls := 0
	attempts, err := env.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 2 {
			return apperr.New(apperr.TypeTransient, "temporary failure")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestEnvelope_StopsImmediatelyOnPermanentError(t *testing.T) {
	env := resilience.New(testConfig())

	calls := 0
	attempts, err := env.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return apperr.New(apperr.TypePermanent, "bad request")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, calls)
}

func TestEnvelope_ExhaustsRetriesOnPersistentTransientFailure(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	env := resilience.New(cfg)

	attempts, err := env.Do(context.Background(), func(ctx context.Context) error {
		return apperr.New(apperr.TypeTransient, "still failing")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts) // 1 initial + 2 retries
}

func TestEnvelope_LinearBackoffRetriesThenSucceeds(t *testing.T) {
	cfg := testConfig()
	cfg.RetryBackoff = resilience.BackoffLinear
	env := resilience.New(cfg)

	calls := 0
	attempts, err := env.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return apperr.New(apperr.TypeTransient, "temporary failure")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}
