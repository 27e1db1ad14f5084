package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := NewBreakerWithConfig("test", BreakerConfig{
		MaxFailures:          2,
		Timeout:              50 * time.Millisecond,
		HalfOpenMaxSuccesses: 1,
	})

	failing := func() (interface{}, error) { return nil, errors.New("boom") }

	for i := 0; i < 2; i++ {
		if _, err := b.Execute(context.Background(), failing); err == nil {
			t.Fatal("expected failure to propagate")
		}
	}

	_, err := b.Execute(context.Background(), func() (interface{}, error) {
		t.Fatal("fn must not run while circuit is open")
		return nil, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if b.State() != "open" {
		t.Fatalf("expected state open, got %s", b.State())
	}
}

func TestBreakerClosesAfterHalfOpenSuccess(t *testing.T) {
	b := NewBreakerWithConfig("test", BreakerConfig{
		MaxFailures:          1,
		Timeout:              10 * time.Millisecond,
		HalfOpenMaxSuccesses: 1,
	})

	_, _ = b.Execute(context.Background(), func() (interface{}, error) { return nil, errors.New("boom") })
	if b.State() != "open" {
		t.Fatalf("expected open after single failure, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	_, err := b.Execute(context.Background(), func() (interface{}, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("expected half-open trial to succeed, got %v", err)
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed after half-open success, got %s", b.State())
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 3, time.Millisecond, func(attempt int) error {
		attempts++
		if attempt == 2 {
			return nil
		}
		return errors.New("retry me")
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), 3, time.Millisecond, func(int) error {
		attempts++
		return errors.New("always fails")
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, 3, time.Millisecond, func(int) error {
		t.Fatal("fn must not run on an already-cancelled context")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
