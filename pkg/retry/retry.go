package retry

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/platinummonkey/ssobridge/pkg/observability"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts       int           `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier" yaml:"backoff_multiplier"`
	// Jitter is the symmetric randomization factor applied to each delay (0.2 = ±20%).
	Jitter float64 `json:"jitter" yaml:"jitter"`
	// MaxElapsedTime bounds the total time spent retrying; zero derives it from
	// MaxAttempts and MaxDelay.
	MaxElapsedTime time.Duration `json:"max_elapsed_time" yaml:"max_elapsed_time"`
}

// DefaultConfig returns the default retry configuration
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialDelay:      1 * time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// Fixed returns a configuration with a constant delay and no jitter.
func Fixed(attempts int, delay time.Duration) Config {
	return Config{
		MaxAttempts:       attempts,
		InitialDelay:      delay,
		MaxDelay:          delay,
		BackoffMultiplier: 1.0,
	}
}

// Executor runs operations with bounded retries and exponential backoff.
type Executor struct {
	config    Config
	retryable func(error) bool
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRetryable sets the predicate deciding whether a failed attempt may be retried.
// By default every error is retried.
func WithRetryable(fn func(error) bool) Option {
	return func(e *Executor) {
		if fn != nil {
			e.retryable = fn
		}
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(logger *observability.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(e *Executor) {
		e.metrics = metrics
	}
}

// New creates an executor, filling unset fields from DefaultConfig.
func New(config Config, opts ...Option) *Executor {
	defaults := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.BackoffMultiplier < 1.0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = time.Duration(float64(config.InitialDelay) * math.Pow(config.BackoffMultiplier, float64(config.MaxAttempts)))
	}
	if config.MaxDelay < config.InitialDelay {
		config.MaxDelay = config.InitialDelay
	}
	if config.Jitter < 0 || config.Jitter >= 1 {
		config.Jitter = defaults.Jitter
	}

	e := &Executor{
		config:    config,
		retryable: func(error) bool { return true },
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.config
}

// NextDelay returns the nominal (pre-jitter) delay before retry number attempt.
func (e *Executor) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return e.config.InitialDelay
	}
	delay := float64(e.config.InitialDelay) * math.Pow(e.config.BackoffMultiplier, float64(attempt-1))
	if delay > float64(e.config.MaxDelay) {
		return e.config.MaxDelay
	}
	return time.Duration(delay)
}

func (e *Executor) maxElapsed() time.Duration {
	if e.config.MaxElapsedTime > 0 {
		return e.config.MaxElapsedTime
	}
	// upper bound of the jittered delays plus headroom for the attempts themselves
	total := time.Duration(0)
	for i := 1; i < e.config.MaxAttempts; i++ {
		total += time.Duration(float64(e.NextDelay(i)) * (1 + e.config.Jitter))
	}
	return total + time.Minute
}

func (e *Executor) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.config.InitialDelay
	b.Multiplier = e.config.BackoffMultiplier
	b.RandomizationFactor = e.config.Jitter
	b.MaxInterval = e.config.MaxDelay
	return b
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
// The error from the final attempt is returned unchanged.
func (e *Executor) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	_, err := Run(ctx, e, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Run is the value-returning form of Executor.Do.
func Run[T any](ctx context.Context, e *Executor, operation string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	op := func() (T, error) {
		attempt++
		result, err := fn(ctx)
		if err != nil && !e.retryable(err) {
			return result, backoff.Permanent(err)
		}
		return result, err
	}

	notify := func(err error, next time.Duration) {
		e.metrics.RecordRetry(operation)
		e.logger.WithFields(map[string]interface{}{
			"operation":   operation,
			"attempt":     attempt,
			"max_retries": e.config.MaxAttempts,
			"delay_ms":    next.Milliseconds(),
			"error":       err.Error(),
		}).Info("Retrying after failed attempt")
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(e.backOff()),
		backoff.WithMaxTries(uint(e.config.MaxAttempts)), // #nosec G115 -- MaxAttempts is always positive
		backoff.WithMaxElapsedTime(e.maxElapsed()),
		backoff.WithNotify(notify),
	)

	// the final attempt can surface the Permanent wrapper; callers get the original error
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}
	return result, err
}
