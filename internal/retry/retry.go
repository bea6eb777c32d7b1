// Package retry provides a policy-driven retry combinator.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Policy describes how an operation is retried.
type Policy struct {
	// Name labels log lines.
	Name string

	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// Backoff returns the wait after the given failed attempt (1-based).
	Backoff func(attempt int) time.Duration

	// Retryable decides whether a failure is worth another attempt.
	// Nil retries every failure.
	Retryable func(err error) bool

	// Wait blocks for d or until ctx is done. Nil uses a timer.
	Wait func(ctx context.Context, d time.Duration) error

	// Logger receives attempt logs. Nil disables logging.
	Logger *zerolog.Logger
}

// Linear returns a backoff of attempt × step.
func Linear(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * step
	}
}

// Constant returns a fixed backoff.
func Constant(d time.Duration) func(int) time.Duration {
	return func(int) time.Duration { return d }
}

// DefaultPolicy returns three attempts with a one second linear backoff.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: 3,
		Backoff:     Linear(time.Second),
	}
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

// Error implements error.
func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("max retry attempts (%d) exceeded: %v", e.Attempts, e.Err)
}

// Unwrap returns the last attempt's error.
func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs fn until it succeeds, a non-retryable error occurs, attempts run
// out, or ctx is done. fn receives the 1-based attempt number.
//
// Parameters:
//   - ctx (context.Context): cancels waiting between attempts
//   - p (Policy): the retry policy
//   - fn (func(ctx context.Context, attempt int) error): the operation
//
// Returns:
//   - error: nil on success, the non-retryable error verbatim, ctx.Err(),
//     or *ExhaustedError wrapping the last failure
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := p.Wait
	if wait == nil {
		wait = sleep
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				p.log(zerolog.InfoLevel, attempt, nil, 0, "operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			p.log(zerolog.ErrorLevel, attempt, err, 0, "all attempts failed")
			break
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff(attempt)
		}
		p.log(zerolog.WarnLevel, attempt, err, delay, "attempt failed, retrying")

		if err := wait(ctx, delay); err != nil {
			return err
		}
	}

	return &ExhaustedError{Attempts: attempts, Err: lastErr}
}

func (p Policy) log(level zerolog.Level, attempt int, err error, delay time.Duration, msg string) {
	if p.Logger == nil {
		return
	}
	ev := p.Logger.WithLevel(level).Str("retry", p.Name).Int("attempt", attempt)
	if err != nil {
		ev = ev.Err(err)
	}
	if delay > 0 {
		ev = ev.Dur("backoff", delay)
	}
	ev.Msg(msg)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
