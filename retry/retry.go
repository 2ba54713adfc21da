package retry

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/kbukum/bulwark/errors"
	"github.com/kbukum/bulwark/event"
	"github.com/kbukum/bulwark/logger"
)

// Option customizes a Retry at construction.
type Option func(*options)

type options struct {
	tags map[string]string
	log  *logger.Logger
}

// WithTags attaches metadata tags to the retry.
func WithTags(tags map[string]string) Option {
	return func(o *options) {
		if o.tags == nil {
			o.tags = make(map[string]string, len(tags))
		}
		for k, v := range tags {
			o.tags[k] = v
		}
	}
}

// WithLogger sets the retry's logger.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// Retry is a named retry policy.
type Retry struct {
	name      string
	cfg       Config
	tags      map[string]string
	log       *logger.Logger
	publisher *event.Publisher[Event]

	successWithoutRetry atomic.Uint64
	successWithRetry    atomic.Uint64
	failedWithRetry     atomic.Uint64
	failedWithoutRetry  atomic.Uint64
}

// Metrics counts finished calls by outcome.
type Metrics struct {
	SuccessfulCallsWithoutRetry uint64
	SuccessfulCallsWithRetry    uint64
	FailedCallsWithRetry        uint64
	FailedCallsWithoutRetry     uint64
}

// New creates a retry policy.
func New(name string, cfg Config, opts ...Option) (*Retry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.tags == nil {
		o.tags = map[string]string{}
	}
	log := logger.OrGlobal(o.log, "retry").WithFields(logger.Fields(logger.FieldRetry, name))
	return &Retry{
		name:      name,
		cfg:       cfg.withDefaults(),
		tags:      o.tags,
		log:       log,
		publisher: event.NewPublisher[Event](name, log),
	}, nil
}

// Name returns the retry's name.
func (r *Retry) Name() string { return r.name }

// Config returns the retry's configuration.
func (r *Retry) Config() Config { return r.cfg }

// Tags returns a copy of the retry's tags.
func (r *Retry) Tags() map[string]string {
	out := make(map[string]string, len(r.tags))
	for k, v := range r.tags {
		out[k] = v
	}
	return out
}

// EventPublisher returns the publisher of this retry's events.
func (r *Retry) EventPublisher() *event.Publisher[Event] { return r.publisher }

// Metrics returns the outcome counters.
func (r *Retry) Metrics() Metrics {
	return Metrics{
		SuccessfulCallsWithoutRetry: r.successWithoutRetry.Load(),
		SuccessfulCallsWithRetry:    r.successWithRetry.Load(),
		FailedCallsWithRetry:        r.failedWithRetry.Load(),
		FailedCallsWithoutRetry:     r.failedWithoutRetry.Load(),
	}
}

// Execute runs fn until it succeeds, returns a non-retryable error, or
// MaxAttempts is reached. Exhausting the attempts returns a
// MAX_RETRIES_EXCEEDED error wrapping the last failure; a non-retryable
// error is returned unchanged. Execute stops early when ctx is done.
func (r *Retry) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do is Execute for a call that produces a value.
func Do[T any](ctx context.Context, r *Retry, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	bo := r.newBackOff()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			r.onSuccess(attempt)
			return result, nil
		}

		if !r.cfg.RetryIf(err) {
			r.failedWithoutRetry.Add(1)
			r.publish(Event{Type: EventIgnoredError, Attempt: attempt, Err: err})
			return zero, err
		}

		if attempt >= r.cfg.MaxAttempts {
			r.failedWithRetry.Add(1)
			r.publish(Event{Type: EventError, Attempt: attempt, Err: err})
			r.log.Warn("Retry attempts exhausted", logger.MergeWithError(logger.Fields("attempts", attempt), err))
			return zero, errors.MaxRetriesExceeded(r.name, attempt, err)
		}

		wait := bo.NextBackOff()
		r.publish(Event{Type: EventRetry, Attempt: attempt, WaitDuration: wait, Err: err})

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Retry) onSuccess(attempt int) {
	if attempt == 1 {
		r.successWithoutRetry.Add(1)
		return
	}
	r.successWithRetry.Add(1)
	r.publish(Event{Type: EventSuccess, Attempt: attempt})
}

// newBackOff returns the wait schedule for one call. The interval starts at
// WaitDuration and grows by Multiplier up to MaxWaitDuration; each wait is
// randomized around it by Jitter.
func (r *Retry) newBackOff() *backoff.ExponentialBackOff {
	maxInterval := r.cfg.MaxWaitDuration
	if maxInterval <= 0 {
		maxInterval = time.Duration(math.MaxInt64)
	}
	bo := &backoff.ExponentialBackOff{
		InitialInterval:     r.cfg.WaitDuration,
		RandomizationFactor: r.cfg.Jitter,
		Multiplier:          r.cfg.Multiplier,
		MaxInterval:         maxInterval,
	}
	bo.Reset()
	return bo
}

func (r *Retry) publish(e Event) {
	if !r.publisher.HasConsumers() {
		return
	}
	e.RetryName = r.name
	e.CreatedAt = time.Now()
	if e.Err != nil {
		e.ErrorMessage = e.Err.Error()
	}
	r.publisher.Publish(e)
}
