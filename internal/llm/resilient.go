package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/ashureev/support-desk/internal/clock"
)

// Retry defaults.
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
	DefaultBaseDelay  = 250 * time.Millisecond
	DefaultMaxDelay   = 4 * time.Second
)

// Resilient bounds every wait on the provider with a timeout and retries
// failures that happen before any text was produced. Once a fragment has been
// yielded a failure is final, so the consumer never sees text twice.
type Resilient struct {
	Provider   Provider
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Clock      clock.Clock
	// Jitter returns a duration in [0, d). Defaults to rand.N.
	Jitter func(d time.Duration) time.Duration
}

var _ Provider = (*Resilient)(nil)

// NewResilient wraps p with the default policy.
func NewResilient(p Provider, timeout time.Duration, maxRetries int) *Resilient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Resilient{
		Provider:   p,
		Timeout:    timeout,
		MaxRetries: maxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

// Name implements Provider.
func (r *Resilient) Name() string { return r.Provider.Name() }

// Stream implements Provider.
func (r *Resilient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var lastErr error
		for attempt := 0; attempt <= r.MaxRetries; attempt++ {
			if attempt > 0 {
				delay := r.backoff(attempt)
				slog.Warn("llm attempt failed, retrying",
					"provider", r.Provider.Name(),
					"attempt", attempt,
					"delay", delay,
					"error", lastErr,
				)
				if err := clock.Sleep(ctx, r.clock(), delay); err != nil {
					yield("", err)
					return
				}
			}

			produced, stopped, err := r.attempt(ctx, req, yield)
			if err == nil || stopped {
				return
			}
			if produced || ctx.Err() != nil {
				yield("", err)
				return
			}
			lastErr = err
		}
		yield("", fmt.Errorf("llm failed after %d attempts: %w", r.MaxRetries+1, lastErr))
	}
}

// errAttemptTimeout is the cancellation cause when the provider goes quiet.
var errAttemptTimeout = errors.New("attempt timed out")

// attempt runs one call. Timeout bounds each wait on the provider: the first
// fragment and every gap between fragments. Time spent inside yield is not
// counted. stopped reports that the consumer quit.
func (r *Resilient) attempt(ctx context.Context, req Request, yield func(string, error) bool) (produced, stopped bool, err error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	actx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	watch := func() clock.Timer {
		return r.clock().AfterFunc(timeout, func() { cancel(errAttemptTimeout) })
	}
	timer := watch()
	defer func() { timer.Stop() }()

	for tok, err := range r.Provider.Stream(actx, req) {
		timer.Stop()
		if err != nil {
			if errors.Is(context.Cause(actx), errAttemptTimeout) && ctx.Err() == nil {
				err = fmt.Errorf("attempt timed out after %s: %w", timeout, context.DeadlineExceeded)
			}
			return produced, false, err
		}
		if tok != "" {
			produced = true
			if !yield(tok, nil) {
				return produced, true, nil
			}
		}
		timer = watch()
	}
	return produced, false, nil
}

// backoff is exponential with full jitter.
func (r *Resilient) backoff(attempt int) time.Duration {
	base := r.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	ceiling := base * time.Duration(1<<(attempt-1))
	if r.MaxDelay > 0 && ceiling > r.MaxDelay {
		ceiling = r.MaxDelay
	}
	if r.Jitter != nil {
		return r.Jitter(ceiling)
	}
	return rand.N(ceiling)
}

func (r *Resilient) clock() clock.Clock {
	if r.Clock == nil {
		return clock.Real{}
	}
	return r.Clock
}
