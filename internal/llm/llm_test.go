package llm

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeProvider struct {
	calls   atomic.Int32
	attempt func(ctx context.Context, n int) iter.Seq2[string, error]
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Stream(ctx context.Context, _ Request) iter.Seq2[string, error] {
	n := int(f.calls.Add(1))
	return f.attempt(ctx, n)
}

func seq(err error, toks ...string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, t := range toks {
			if !yield(t, nil) {
				return
			}
		}
		if err != nil {
			yield("", err)
		}
	}
}

func noJitter(r *Resilient) *Resilient {
	r.Jitter = func(time.Duration) time.Duration { return 0 }
	return r
}

func TestResilientRetriesBeforeFirstToken(t *testing.T) {
	boom := errors.New("503")
	p := &fakeProvider{attempt: func(_ context.Context, n int) iter.Seq2[string, error] {
		if n < 3 {
			return seq(boom)
		}
		return seq(nil, "hello ", "there")
	}}
	r := noJitter(NewResilient(p, time.Second, 2))

	got, err := Collect(r.Stream(context.Background(), Request{}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello there" || p.calls.Load() != 3 {
		t.Fatalf("got %q after %d calls", got, p.calls.Load())
	}
}

func TestResilientNoRetryAfterFirstToken(t *testing.T) {
	boom := errors.New("connection reset")
	p := &fakeProvider{attempt: func(context.Context, int) iter.Seq2[string, error] {
		return seq(boom, "partial")
	}}
	r := noJitter(NewResilient(p, time.Second, 5))

	got, err := Collect(r.Stream(context.Background(), Request{}))
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if got != "partial" || p.calls.Load() != 1 {
		t.Fatalf("got %q after %d calls", got, p.calls.Load())
	}
}

func TestResilientGivesUp(t *testing.T) {
	boom := errors.New("down")
	p := &fakeProvider{attempt: func(context.Context, int) iter.Seq2[string, error] { return seq(boom) }}
	r := noJitter(NewResilient(p, time.Second, 1))

	_, err := Collect(r.Stream(context.Background(), Request{}))
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestResilientAttemptTimeout(t *testing.T) {
	p := &fakeProvider{attempt: func(ctx context.Context, n int) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			if n == 1 {
				<-ctx.Done()
				yield("", ctx.Err())
				return
			}
			yield("ok", nil)
		}
	}}
	r := noJitter(NewResilient(p, 20*time.Millisecond, 1))

	got, err := Collect(r.Stream(context.Background(), Request{}))
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestResilientIgnoresConsumerPacing(t *testing.T) {
	p := &fakeProvider{attempt: func(ctx context.Context, _ int) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			for range 10 {
				if err := ctx.Err(); err != nil {
					yield("", err)
					return
				}
				if !yield("abcde", nil) {
					return
				}
			}
		}
	}}
	r := noJitter(NewResilient(p, 30*time.Millisecond, 0))

	var got strings.Builder
	for tok, err := range r.Stream(context.Background(), Request{}) {
		if err != nil {
			t.Fatalf("slow consumer cut off after %d chars: %v", got.Len(), err)
		}
		got.WriteString(tok)
		time.Sleep(10 * time.Millisecond)
	}
	if got.Len() != 50 {
		t.Fatalf("expected 50 chars, got %d", got.Len())
	}
}

func TestResilientTimesOutQuietProvider(t *testing.T) {
	p := &fakeProvider{attempt: func(ctx context.Context, _ int) iter.Seq2[string, error] {
		return func(yield func(string, error) bool) {
			if !yield("hello", nil) {
				return
			}
			<-ctx.Done()
			yield("", ctx.Err())
		}
	}}
	r := noJitter(NewResilient(p, 20*time.Millisecond, 3))

	got, err := Collect(r.Stream(context.Background(), Request{}))
	if !errors.Is(err, context.DeadlineExceeded) || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected a timeout, got %v", err)
	}
	if got != "hello" || p.calls.Load() != 1 {
		t.Fatalf("got %q after %d calls", got, p.calls.Load())
	}
}

func TestResilientStopsOnCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &fakeProvider{attempt: func(ctx context.Context, _ int) iter.Seq2[string, error] { return seq(ctx.Err()) }}
	r := noJitter(NewResilient(p, time.Second, 3))

	_, err := Collect(r.Stream(ctx, Request{}))
	if !errors.Is(err, context.Canceled) || p.calls.Load() != 1 {
		t.Fatalf("expected single cancelled attempt, got %v after %d", err, p.calls.Load())
	}
}

func TestBackoffCeiling(t *testing.T) {
	r := &Resilient{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	var ceilings []time.Duration
	r.Jitter = func(d time.Duration) time.Duration { ceilings = append(ceilings, d); return d }
	for i := 1; i <= 4; i++ {
		r.backoff(i)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i := range want {
		if ceilings[i] != want[i] {
			t.Fatalf("ceiling[%d] = %v, want %v", i, ceilings[i], want[i])
		}
	}
}

func TestScriptedPicksByLabelAndStep(t *testing.T) {
	s := NewScripted(map[string][]string{
		"normal": {"zero", "one [MULTI] two"},
		"nudge":  {"n0"},
	})
	s.TokenSize = 3

	got, err := Collect(s.Stream(context.Background(), Request{Label: "normal", Step: 1}))
	if err != nil || got != "one [MULTI] two" {
		t.Fatalf("got %q, %v", got, err)
	}
	if got, _ := Collect(s.Stream(context.Background(), Request{Label: "nudge", Step: 9})); got != "n0" {
		t.Fatalf("step past the end should repeat the last line, got %q", got)
	}
	if got, _ := Collect(s.Stream(context.Background(), Request{Label: "unknown"})); got != "zero" {
		t.Fatalf("unknown label should fall back to normal, got %q", got)
	}
}
