package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrMaxRetriesExceeded is returned, wrapping the last error, once all attempts failed
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// Config contains retry configuration
type Config struct {
	// MaxRetries is the number of retries after the first attempt (0 = single attempt)
	MaxRetries int
	// InitialInterval is the first backoff interval
	InitialInterval time.Duration
	// MaxInterval caps the backoff interval
	MaxInterval time.Duration
	// Multiplier grows the interval after each retry
	Multiplier float64
	// JitterFactor is the ± fraction of random jitter applied to each interval
	JitterFactor float64
	// AttemptTimeout bounds each individual attempt; zero means only the parent context applies
	AttemptTimeout time.Duration
}

// DefaultConfig returns the configuration used for outbound payment provider calls:
// a small bounded number of quick retries so webhook processing stays within seconds.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// Operation is the function to be retried
type Operation func(ctx context.Context) error

// PermanentError wraps an error that must not be retried
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent marks an error as permanent (not retryable)
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}

// RetryCallback is called before each retry wait
type RetryCallback func(attempt int, err error, nextInterval time.Duration)

// Retrier handles retry logic with exponential backoff
type Retrier struct {
	config   *Config
	callback RetryCallback
}

// New creates a new Retrier, filling zero values with defaults
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config

	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 2 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	cfg.JitterFactor = math.Max(0, math.Min(1, cfg.JitterFactor))

	return &Retrier{config: &cfg}
}

// OnRetry registers a callback invoked before each retry wait
func (r *Retrier) OnRetry(cb RetryCallback) *Retrier {
	r.callback = cb
	return r
}

// Do runs op until it succeeds, returns a permanent error, the context ends,
// or the retry budget is spent.
func (r *Retrier) Do(ctx context.Context, op Operation) error {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return errors.Join(err, lastErr)
			}
			return err
		}

		err := r.attempt(ctx, op)
		if err == nil {
			return nil
		}

		var permErr *PermanentError
		if errors.As(err, &permErr) {
			return permErr.Err
		}
		lastErr = err

		if attempt == r.config.MaxRetries {
			break
		}

		interval := r.interval(attempt)
		if r.callback != nil {
			r.callback(attempt+1, err, interval)
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return errors.Join(ErrMaxRetriesExceeded, lastErr)
}

func (r *Retrier) attempt(ctx context.Context, op Operation) error {
	if r.config.AttemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, r.config.AttemptTimeout)
	defer cancel()
	return op(attemptCtx)
}

// interval returns initial * multiplier^attempt with jitter, capped at MaxInterval
func (r *Retrier) interval(attempt int) time.Duration {
	interval := float64(r.config.InitialInterval) * math.Pow(r.config.Multiplier, float64(attempt))

	if r.config.JitterFactor > 0 {
		jitter := interval * r.config.JitterFactor
		interval += (rand.Float64()*2 - 1) * jitter
	}

	if interval > float64(r.config.MaxInterval) {
		interval = float64(r.config.MaxInterval)
	}
	if interval < 0 {
		interval = float64(r.config.InitialInterval)
	}

	return time.Duration(interval)
}

// Do is a convenience wrapper around New(config).Do
func Do(ctx context.Context, config *Config, op Operation) error {
	return New(config).Do(ctx, op)
}
