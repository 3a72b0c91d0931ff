// Package resilience layers per-attempt timeout, circuit breaking, and
// retry-with-backoff around a single operation, so every delivery attempt in
// the worker pool goes through the same envelope instead of each call site
// reimplementing its own retry loop.
package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"

	"github.com/tartampluch/greeter-service/internal/apperr"
	"github.com/tartampluch/greeter-service/internal/config"
)

// BackoffExponential and BackoffLinear are the two QUEUE_RETRY_BACKOFF
// values config.go validates.
const (
	BackoffExponential = "exponential"
	BackoffLinear      = "linear"
)

// Config configures a new Envelope. It is a narrow projection of
// config.Config so this package doesn't import the whole app config.
type Config struct {
	AttemptTimeout  time.Duration
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	JitterFraction  float64
	RetryBackoff    string
	BreakerName     string
	BreakerTimeout  time.Duration
	ErrorThreshold  float64
	VolumeThreshold uint32
}

// FromAppConfig builds a resilience Config from the resolved app config.
func FromAppConfig(cfg *config.Config) Config {
	return Config{
		AttemptTimeout:  cfg.Delivery.Timeout,
		MaxRetries:      cfg.Queue.MaxRetries,
		BaseDelay:       cfg.Queue.RetryDelay,
		MaxDelay:        config.DefaultRetryMaxDelay,
		JitterFraction:  config.DefaultRetryJitterFrac,
		RetryBackoff:    cfg.Queue.RetryBackoff,
		BreakerName:     "delivery",
		BreakerTimeout:  cfg.Breaker.ResetTimeout,
		ErrorThreshold:  cfg.Breaker.ErrorThreshold,
		VolumeThreshold: cfg.Breaker.VolumeThreshold,
	}
}

// Envelope is the retry/breaker/timeout wrapper around a delivery attempt.
type Envelope struct {
	timeout      time.Duration
	maxRetries   int
	baseDelay    time.Duration
	maxDelay     time.Duration
	jitter       float64
	retryBackoff string
	breaker      *gobreaker.CircuitBreaker
}

// linearBackOff grows the retry delay by a constant step per attempt
// (baseDelay, 2*baseDelay, 3*baseDelay, ...) capped at maxDelay, as opposed
// to NewExponentialBackOff's geometric growth. It implements
// backoff.BackOff.
type linearBackOff struct {
	base    time.Duration
	max     time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	d := time.Duration(b.attempt) * b.base
	if d > b.max {
		d = b.max
	}
	return d
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// New builds an Envelope from cfg. The breaker trips when at least
// VolumeThreshold requests have been seen and the failure ratio is at or
// above ErrorThreshold, the same condition gobreaker's README documents for
// a Counts-based ReadyToTrip hook.
func New(cfg Config) *Envelope {
	settings := gobreaker.Settings{
		Name:    cfg.BreakerName,
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.VolumeThreshold {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.ErrorThreshold
		},
	}

	return &Envelope{
		timeout:      cfg.AttemptTimeout,
		maxRetries:   cfg.MaxRetries,
		baseDelay:    cfg.BaseDelay,
		maxDelay:     cfg.MaxDelay,
		jitter:       cfg.JitterFraction,
		retryBackoff: cfg.RetryBackoff,
		breaker:      gobreaker.NewCircuitBreaker(settings),
	}
}

// Do runs op under a per-attempt timeout, behind the circuit breaker, and
// retries on transient failure with the configured backoff shape
// (exponential-with-jitter, or linear). It returns the number of attempts
// made and the final error, if any.
//
// Permanent errors (apperr.TypePermanent) and a fast-failing open breaker
// both stop the retry loop immediately rather than burning through
// MaxRetries.
func (e *Envelope) Do(ctx context.Context, op func(ctx context.Context) error) (int, error) {
	attempts := 0

	var backOff backoff.BackOff
	if e.retryBackoff == BackoffLinear {
		backOff = &linearBackOff{base: e.baseDelay, max: e.maxDelay}
	} else {
		expBackOff := backoff.NewExponentialBackOff()
		expBackOff.InitialInterval = e.baseDelay
		expBackOff.MaxInterval = e.maxDelay
		expBackOff.RandomizationFactor = e.jitter
		backOff = expBackOff
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++

		attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		_, breakerErr := e.breaker.Execute(func() (any, error) {
			return nil, op(attemptCtx)
		})

		if breakerErr == gobreaker.ErrOpenState {
			return struct{}{}, backoff.Permanent(apperr.New(apperr.TypeTransient, "circuit breaker open"))
		}
		if breakerErr == nil {
			return struct{}{}, nil
		}
		if apperr.IsType(breakerErr, apperr.TypePermanent) {
			return struct{}{}, backoff.Permanent(breakerErr)
		}
		return struct{}{}, breakerErr
	},
		backoff.WithBackOff(backOff),
		backoff.WithMaxTries(uint(e.maxRetries+1)),
	)

	return attempts, err
}

// BreakerState reports the current breaker state name, for telemetry.
func (e *Envelope) BreakerState() string {
	return e.breaker.State().String()
}
