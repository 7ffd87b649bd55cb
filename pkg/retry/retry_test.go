package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errUnavailable = errors.New("unavailable")

func TestRetryWithBackoff_Success(t *testing.T) {
	result, err := RetryWithBackoff(context.Background(), 3, 10*time.Millisecond, func() (string, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != "ok" {
		t.Fatalf("expected 'ok', got %q", result)
	}
}

func TestRetryWithBackoff_PermanentError(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), 3, 10*time.Millisecond, func() (string, error) {
		calls++
		return "", Permanent(errors.New("bad content"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call for permanent error, got %d", calls)
	}
}

func TestRetryWithBackoff_RetriableEventualSuccess(t *testing.T) {
	calls := 0
	result, err := RetryWithBackoff(context.Background(), 5, 10*time.Millisecond, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errUnavailable
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if result != "recovered" {
		t.Fatalf("expected 'recovered', got %q", result)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryWithBackoff_AllRetriesFail(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(context.Background(), 3, 10*time.Millisecond, func() (string, error) {
		calls++
		return "", errUnavailable
	})
	if !errors.Is(err, errUnavailable) {
		t.Fatalf("expected wrapped errUnavailable, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RetryWithBackoff(ctx, 5, 10*time.Millisecond, func() (string, error) {
		return "", errUnavailable
	})
	if err == nil {
		t.Fatal("expected context cancelled error")
	}
}

func TestIsRetriable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"plain", errUnavailable, true},
		{"permanent", Permanent(errUnavailable), false},
		{"wrapped permanent", fmt.Errorf("step: %w", Permanent(errUnavailable)), false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), false},
	}

	for _, tt := range tests {
		if got := IsRetriable(tt.err); got != tt.expected {
			t.Errorf("%s: IsRetriable() = %v, want %v", tt.name, got, tt.expected)
		}
	}
}

func TestPermanent_KeepsCause(t *testing.T) {
	err := Permanent(errUnavailable)
	if !errors.Is(err, errUnavailable) {
		t.Fatal("expected cause to stay reachable")
	}
	if Permanent(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestCircuitBreaker_ClosedState(t *testing.T) {
	cb := NewCircuitBreaker(3, 1*time.Second)

	err := cb.Execute(func() error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %v", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 1*time.Second)

	for i := 0; i < 3; i++ {
		_ = cb.Execute(func() error {
			return errUnavailable
		})
	}

	if cb.State() != StateOpen {
		t.Fatalf("expected StateOpen after %d failures, got %v", 3, cb.State())
	}

	err := cb.Execute(func() error {
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_ResetsAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker(2, 50*time.Millisecond)

	for i := 0; i < 2; i++ {
		_ = cb.Execute(func() error {
			return errUnavailable
		})
	}
	if cb.State() != StateOpen {
		t.Fatal("expected StateOpen")
	}

	time.Sleep(60 * time.Millisecond)

	err := cb.Execute(func() error {
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error after timeout, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected StateClosed after successful call, got %v", cb.State())
	}
}

func TestCircuitBreaker_PermanentErrorDoesNotCount(t *testing.T) {
	cb := NewCircuitBreaker(2, 1*time.Second)

	for i := 0; i < 5; i++ {
		_ = cb.Execute(func() error {
			return Permanent(errors.New("not found"))
		})
	}

	if cb.State() != StateClosed {
		t.Fatalf("expected StateClosed for permanent errors, got %v", cb.State())
	}
}
