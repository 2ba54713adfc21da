package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/validation"
)

// Default configuration values.
const (
	DefaultMaxAttempts     = 3
	DefaultWaitDuration    = 100 * time.Millisecond
	DefaultMaxWaitDuration = 10 * time.Second
	DefaultMultiplier      = 2.0
	DefaultJitter          = 0.1
)

// Config configures a Retry.
type Config struct {
	// MaxAttempts is the maximum number of attempts, the first included.
	MaxAttempts int
	// WaitDuration is the delay before the first retry.
	WaitDuration time.Duration
	// MaxWaitDuration caps the delay between attempts. 0 means no cap.
	MaxWaitDuration time.Duration
	// Multiplier grows the delay after every retry.
	Multiplier float64
	// Jitter randomizes each delay by up to this fraction (0.0 to 1.0).
	Jitter float64
	// RetryIf decides whether an error is retried. Nil means DefaultRetryIf.
	RetryIf func(error) bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     DefaultMaxAttempts,
		WaitDuration:    DefaultWaitDuration,
		MaxWaitDuration: DefaultMaxWaitDuration,
		Multiplier:      DefaultMultiplier,
		Jitter:          DefaultJitter,
		RetryIf:         DefaultRetryIf,
	}
}

// DefaultRetryIf retries every error except context cancellation and
// application errors marked as not retryable.
func DefaultRetryIf(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.Retryable
	}
	return true
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	v := validation.New().
		Positive("max_attempts", c.MaxAttempts).
		NonNegativeDuration("wait_duration", c.WaitDuration).
		NonNegativeDuration("max_wait_duration", c.MaxWaitDuration).
		AtLeastFloat("exponential_backoff_multiplier", c.Multiplier, 1).
		Custom(c.Jitter >= 0 && c.Jitter <= 1, "randomized_wait_factor", fmt.Sprintf("must be between 0 and 1 (got: %g)", c.Jitter))
	if c.MaxWaitDuration > 0 && c.MaxWaitDuration < c.WaitDuration {
		v.AddError("max_wait_duration", "must not be less than wait_duration")
	}
	return v.Validate()
}

func (c Config) withDefaults() Config {
	if c.RetryIf == nil {
		c.RetryIf = DefaultRetryIf
	}
	return c
}

func (c Config) String() string {
	return fmt.Sprintf("maxAttempts=%d wait=%s maxWait=%s multiplier=%g jitter=%g",
		c.MaxAttempts, c.WaitDuration, c.MaxWaitDuration, c.Multiplier, c.Jitter)
}
