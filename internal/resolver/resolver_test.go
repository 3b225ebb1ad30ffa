package resolver

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type counter struct{ calls int }

func (c *counter) attempt(name string, src Source, configured bool, v string, err error) Attempt[string] {
	return Attempt[string]{
		Name:       name,
		Source:     src,
		Configured: configured,
		Invoke: func(ctx context.Context) (string, error) {
			c.calls++
			return v, err
		},
	}
}

func chain(attempts ...Attempt[string]) *Chain[string] {
	return &Chain[string]{
		Attempts:      attempts,
		Usable:        func(s string) bool { return s != "" },
		Default:       func() string { return "default" },
		DefaultSource: SourceFallback,
	}
}

func TestResolveBothFailingFallsBack(t *testing.T) {
	var p, s counter
	c := chain(
		p.attempt("rentcast", SourceRentCast, true, "", HTTPFailure("rentcast", 500, "boom")),
		s.attempt("openai", SourceOpenAI, true, "", errors.New("dial tcp: refused")),
	)
	out := c.Resolve(context.Background())
	if out.Source != SourceFallback || out.Value != "default" {
		t.Fatalf("got %q from %s", out.Value, out.Source)
	}
	if len(out.Failures) != 2 {
		t.Fatalf("failures = %d", len(out.Failures))
	}
	if out.Failures[0].Kind != KindHTTP || out.Failures[0].Status != 500 {
		t.Fatalf("first failure = %+v", out.Failures[0])
	}
	if out.Failures[1].Kind != KindTransport {
		t.Fatalf("second failure kind = %s", out.Failures[1].Kind)
	}
}

func TestResolveOnlySecondaryConfigured(t *testing.T) {
	var p, s counter
	c := chain(
		p.attempt("rentcast", SourceRentCast, false, "verified", nil),
		s.attempt("openai", SourceOpenAI, true, "estimate", nil),
	)
	out := c.Resolve(context.Background())
	if out.Source != SourceOpenAI || out.Value != "estimate" {
		t.Fatalf("got %q from %s", out.Value, out.Source)
	}
	if p.calls != 0 {
		t.Fatal("unconfigured primary must not be invoked")
	}
	if len(out.Failures) != 0 {
		t.Fatal("unconfigured step is not a failure")
	}
}

func TestResolvePrimarySuccessSkipsSecondary(t *testing.T) {
	var p, s counter
	c := chain(
		p.attempt("rentcast", SourceRentCast, true, "verified", nil),
		s.attempt("openai", SourceOpenAI, true, "estimate", nil),
	)
	out := c.Resolve(context.Background())
	if out.Source != SourceRentCast || out.Value != "verified" {
		t.Fatalf("got %q from %s", out.Value, out.Source)
	}
	if p.calls != 1 || s.calls != 0 {
		t.Fatalf("calls primary=%d secondary=%d", p.calls, s.calls)
	}
}

func TestResolveEmptyResultFallsThrough(t *testing.T) {
	var p, s counter
	c := chain(
		p.attempt("rentcast", SourceRentCast, true, "", nil),
		s.attempt("openai", SourceOpenAI, true, "estimate", nil),
	)
	out := c.Resolve(context.Background())
	if out.Source != SourceOpenAI {
		t.Fatalf("source = %s", out.Source)
	}
	if len(out.Failures) != 1 || out.Failures[0].Kind != KindEmpty {
		t.Fatalf("failures = %+v", out.Failures)
	}
}

func TestResolveNothingConfigured(t *testing.T) {
	c := chain(
		Attempt[string]{Name: "rentcast", Source: SourceRentCast},
		Attempt[string]{Name: "openai", Source: SourceOpenAI},
	)
	c.DefaultSource = SourceUnavailable
	out := c.Resolve(context.Background())
	if out.Source != SourceUnavailable || out.Value != "default" {
		t.Fatalf("got %q from %s", out.Value, out.Source)
	}
}

func TestResolveTimeoutIsFailure(t *testing.T) {
	slow := Attempt[string]{
		Name: "rentcast", Source: SourceRentCast, Configured: true,
		Invoke: func(ctx context.Context) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
	var s counter
	c := chain(slow, s.attempt("openai", SourceOpenAI, true, "estimate", nil))
	c.Timeout = 20 * time.Millisecond
	out := c.Resolve(context.Background())
	if out.Source != SourceOpenAI {
		t.Fatalf("source = %s", out.Source)
	}
	if out.Failures[0].Kind != KindTimeout {
		t.Fatalf("kind = %s", out.Failures[0].Kind)
	}
}

func TestClassifyKeepsFailure(t *testing.T) {
	f := NewFailure("rentcast", KindDecode, errors.New("bad"))
	wrapped := fmt.Errorf("lookup: %w", f)
	got := Classify("other", wrapped)
	if got != f {
		t.Fatalf("expected original failure, got %+v", got)
	}
	if Classify("x", errors.New("reset")).Kind != KindTransport {
		t.Fatal("unknown errors classify as transport")
	}
	if Classify("x", nil) != nil {
		t.Fatal("nil error classifies to nil")
	}
}
