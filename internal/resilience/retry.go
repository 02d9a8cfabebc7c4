// Package resilience executes outbound operations under a uniform retry,
// backoff, rate-limit and circuit-breaking discipline.
package resilience

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/user/metatron/internal/observability"
)

// RetryPolicy controls how a failed operation is retried. The delay before
// retry n (0-indexed) is min(BaseDelay * BackoffFactor^n, MaxDelay).
type RetryPolicy struct {
	MaxRetries    int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Timeout bounds each attempt. Zero means no per-attempt deadline.
	Timeout time.Duration
}

// DefaultRetryPolicy: 3 retries, 1s base delay, 2x factor, 60s cap, 30s per attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		BaseDelay:     1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Timeout:       30 * time.Second,
	}
}

// QuickRetryPolicy suits cheap lookups where a slow answer is worthless.
func QuickRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    2,
		BaseDelay:     500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Timeout:       15 * time.Second,
	}
}

// ResearchRetryPolicy allows long attempts and more retries for multi-step
// research backends.
func ResearchRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		BaseDelay:     2 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Timeout:       120 * time.Second,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = 2.0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 60 * time.Second
	}
	if p.BaseDelay > p.MaxDelay {
		p.BaseDelay = p.MaxDelay
	}
	return p
}

// newBackOff returns a jitter-free exponential schedule that never gives up
// on its own; the attempt count is enforced by Execute.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          p.BackoffFactor,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// ExecutionMetadata describes one invocation sequence of an operation.
type ExecutionMetadata struct {
	ToolName      string
	ExecutionTime time.Duration
	Success       bool
	RetryCount    int
	Source        string
	Timestamp     time.Time
	// Err is the last underlying error. It is kept for operators and never
	// shown to end users.
	Err error
}

func (m ExecutionMetadata) MarshalJSON() ([]byte, error) {
	out := struct {
		ToolName      string    `json:"tool_name"`
		ExecutionTime float64   `json:"execution_time"`
		Success       bool      `json:"success"`
		RetryCount    int       `json:"retry_count"`
		Source        string    `json:"source"`
		Timestamp     time.Time `json:"timestamp"`
		Error         string    `json:"error,omitempty"`
		Category      Category  `json:"error_category,omitempty"`
	}{
		ToolName:      m.ToolName,
		ExecutionTime: m.ExecutionTime.Seconds(),
		Success:       m.Success,
		RetryCount:    m.RetryCount,
		Source:        m.Source,
		Timestamp:     m.Timestamp,
		Category:      Classify(m.Err),
	}
	if m.Err != nil {
		out.Error = m.Err.Error()
	}
	return json.Marshal(out)
}

// ExhaustedError is returned once every allowed attempt has failed.
type ExhaustedError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d retries: %v", e.Name, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Executor runs operations under a RetryPolicy. It holds no per-call state
// and is safe for concurrent use.
type Executor struct {
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	logger  *slog.Logger
	metrics *observability.Metrics
	source  string
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper replaces the backoff sleep. Tests use it to record delays.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(x *Executor) { x.sleep = fn }
}

func WithClock(fn func() time.Time) Option {
	return func(x *Executor) { x.now = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(x *Executor) { x.logger = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(x *Executor) { x.metrics = m }
}

// WithSource sets ExecutionMetadata.Source for every run.
func WithSource(source string) Option {
	return func(x *Executor) { x.source = source }
}

func NewExecutor(opts ...Option) *Executor {
	x := &Executor{
		sleep:  SleepContext,
		now:    time.Now,
		logger: slog.Default(),
		source: "metatron",
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
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

// Execute runs op until it succeeds, fails with a non-retryable error, or
// MaxRetries retries have been spent. Each attempt gets its own
// policy.Timeout deadline. A sequence that runs out of retries returns an
// *ExhaustedError wrapping the last failure.
// The metadata is also appended to the Trace carried by ctx, if any.
func Execute[T any](ctx context.Context, x *Executor, name string, policy RetryPolicy, op func(context.Context) (T, error)) (T, ExecutionMetadata, error) {
	v, meta, err := execute(ctx, x, name, policy, op)
	TraceFrom(ctx).add(meta)
	return v, meta, err
}

func execute[T any](ctx context.Context, x *Executor, name string, policy RetryPolicy, op func(context.Context) (T, error)) (T, ExecutionMetadata, error) {
	var zero T
	p := policy.normalized()
	sched := p.newBackOff()
	began := x.now()

	for attempt := 0; ; attempt++ {
		start := x.now()
		v, err := runAttempt(ctx, p.Timeout, op)
		elapsed := x.now().Sub(start)

		if err == nil {
			x.metrics.RecordToolExecution(name, "success", elapsed.Seconds())
			return v, x.metadata(name, start, elapsed, true, attempt, nil), nil
		}

		meta := x.metadata(name, start, elapsed, false, attempt, err)
		if ctx.Err() != nil {
			x.metrics.RecordToolExecution(name, "error", elapsed.Seconds())
			return zero, meta, err
		}
		if !IsRetryable(err) {
			x.logger.Warn("operation failed, not retrying",
				"tool", name, "attempt", attempt+1, "category", Classify(err),
				"elapsed", x.now().Sub(began), "error", err)
			x.metrics.RecordToolExecution(name, "error", elapsed.Seconds())
			return zero, meta, err
		}
		if attempt >= p.MaxRetries {
			x.logger.Error("operation exhausted retries",
				"tool", name, "attempts", attempt+1, "category", Classify(err),
				"elapsed", x.now().Sub(began), "error", err)
			x.metrics.RecordToolExecution(name, "exhausted", elapsed.Seconds())
			return zero, meta, &ExhaustedError{Name: name, Attempts: attempt, Err: err}
		}

		delay := sched.NextBackOff()
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		x.logger.Warn("operation failed, retrying",
			"tool", name, "attempt", attempt+1, "delay", delay, "error", err)
		x.metrics.RecordRetry(name, string(Classify(err)))
		if serr := x.sleep(ctx, delay); serr != nil {
			x.metrics.RecordToolExecution(name, "error", elapsed.Seconds())
			return zero, meta, serr
		}
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return op(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return op(actx)
}

func (x *Executor) metadata(name string, at time.Time, elapsed time.Duration, ok bool, retries int, err error) ExecutionMetadata {
	return ExecutionMetadata{
		ToolName:      name,
		ExecutionTime: elapsed,
		Success:       ok,
		RetryCount:    retries,
		Source:        x.source,
		Timestamp:     at,
		Err:           err,
	}
}
