package resilience

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/oremus/go-common/classify"
	"github.com/oremus/go-common/logger"
)

// RetryConfig defines how a remote operation is retried.
type RetryConfig struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int

	// BaseDelay is multiplied by the attempt number to get the pause after
	// that attempt fails: 1x, 2x, 3x...
	BaseDelay time.Duration

	// Classifier labels the final failure. Defaults to a classifier with the
	// standard rules.
	Classifier *classify.Classifier

	// Logger receives one warning per failed attempt.
	Logger logger.Logger

	// Sleep waits between attempts. It returns early with ctx's error when
	// ctx is done. Tests replace it to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error

	// Breaker, when set, guards every attempt.
	Breaker *CircuitBreaker
}

// DefaultRetryConfig returns three attempts with a one second base delay.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
	}
}

// Retrier runs operations with linear backoff. Every attempt is made
// regardless of how the failure is classified; only the last failure is
// classified and returned.
type Retrier struct {
	config RetryConfig
	logger logger.Logger
}

// NewRetrier fills the unset fields of config with defaults.
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if config.Logger == nil {
		config.Logger = logger.NewConsoleLogger(logger.LevelWarn)
	}
	if config.Classifier == nil {
		config.Classifier = classify.NewClassifier(classify.WithLogger(config.Logger))
	}
	if config.Sleep == nil {
		config.Sleep = sleep
	}
	return &Retrier{config: config, logger: config.Logger.WithPrefix("[retry]")}
}

// Classifier returns the classifier used for final failures.
func (r *Retrier) Classifier() *classify.Classifier {
	return r.config.Classifier
}

// Do calls fn until it succeeds or MaxAttempts calls have failed. label names
// the operation in logs and in the classified error. The returned error is a
// *classify.Error; if ctx is cancelled while waiting between attempts it is
// also marked with the context error.
func (r *Retrier) Do(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	_, err := WithRetry(ctx, r, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// WithRetry is Do for operations that produce a value.
func WithRetry[T any](ctx context.Context, r *Retrier, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for n := 1; n <= r.config.MaxAttempts; n++ {
		result, err := attempt(ctx, r.config.Breaker, fn)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if n == r.config.MaxAttempts {
			break
		}
		r.logger.Warn("%s: attempt %d/%d failed: %v", label, n, r.config.MaxAttempts, err)
		if err := r.config.Sleep(ctx, r.config.BaseDelay*time.Duration(n)); err != nil {
			return zero, errors.Mark(r.config.Classifier.Classify(lastErr, label), err)
		}
	}
	return zero, r.config.Classifier.Classify(lastErr, label)
}

// attempt makes one call, through the breaker when there is one. The result
// lives in a per-call variable so a call abandoned on timeout cannot race with
// a later attempt.
func attempt[T any](ctx context.Context, breaker *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if breaker == nil {
		return fn(ctx)
	}
	var result T
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
