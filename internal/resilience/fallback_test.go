package resilience

import (
	"errors"
	"testing"
	"time"
)

func newStringGroup(maxFailures int, resetTimeout time.Duration) *FallbackGroup[string] {
	fg := NewFallbackGroup("base-model", "base-model", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			MaxFailures:  maxFailures,
			ResetTimeout: resetTimeout,
		},
	})
	fg.AddFallback("tiny-model", "tiny-model")
	return fg
}

func TestFallbackGroup_PrimarySuccess(t *testing.T) {
	t.Parallel()
	fg := newStringGroup(3, 0)

	var called string
	err := fg.Execute(func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "base-model" {
		t.Fatalf("called = %q, want base-model", called)
	}
}

func TestFallbackGroup_PrimaryFailFallbackSuccess(t *testing.T) {
	t.Parallel()
	fg := newStringGroup(3, 0)

	var called string
	err := fg.Execute(func(v string) error {
		if v == "base-model" {
			return errTest
		}
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "tiny-model" {
		t.Fatalf("called = %q, want tiny-model", called)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()
	fg := newStringGroup(3, 0)

	err := fg.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()
	fg := newStringGroup(2, time.Hour)

	// Fail the primary enough to open its breaker.
	for range 2 {
		_ = fg.Execute(func(v string) error {
			if v == "base-model" {
				return errTest
			}
			return nil
		})
	}

	// The primary's breaker is open; calls must go straight to the fallback.
	var called string
	err := fg.Execute(func(v string) error {
		called = v
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called != "tiny-model" {
		t.Fatalf("called = %q, want tiny-model (primary circuit open)", called)
	}
}

func TestExecuteWithResult_Success(t *testing.T) {
	t.Parallel()
	fg := newStringGroup(3, 0)

	result, err := ExecuteWithResult(fg, func(v string) (string, error) {
		return "text from " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "text from base-model" {
		t.Fatalf("result = %q", result)
	}
}

func TestExecuteWithResult_Failover(t *testing.T) {
	t.Parallel()
	fg := newStringGroup(3, 0)

	result, err := ExecuteWithResult(fg, func(v string) (string, error) {
		if v == "base-model" {
			return "", errTest
		}
		return "text from " + v, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "text from tiny-model" {
		t.Fatalf("result = %q", result)
	}
}

func TestExecuteWithResult_AllFail(t *testing.T) {
	t.Parallel()
	fg := NewFallbackGroup("only", "only", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	_, err := ExecuteWithResult(fg, func(string) (string, error) {
		return "", errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
