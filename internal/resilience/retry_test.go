package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func fastRetry(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		return nil
	}, fastRetry(3), nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, fastRetry(3), nil)

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("persistent error")
	}, fastRetry(2), nil)

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(context.Context) error {
		attempts++
		return status.Error(codes.InvalidArgument, "bad interview id")
	}, fastRetry(5), IsRetryableNetworkError)

	if err == nil {
		t.Fatal("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected a single attempt for non-retryable error, got %d", attempts)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := fastRetry(10)
	cfg.InitialBackoff = time.Second

	attempts := 0
	err := Retry(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("connection refused")
	}, cfg, nil)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("i/o timeout"), true},
		{fmt.Errorf("submit: %w", context.DeadlineExceeded), true},
		{context.Canceled, false},
		{status.Error(codes.Unavailable, "backend down"), true},
		{status.Error(codes.NotFound, "no interview"), false},
		{ErrCircuitOpen, false},
		{NewRetryableError(errors.New("custom")), true},
		{errors.New("validation failed"), false},
	}

	for _, tt := range tests {
		if got := IsRetryableNetworkError(tt.err); got != tt.want {
			t.Errorf("IsRetryableNetworkError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryConfigBackoff(t *testing.T) {
	cfg := &RetryConfig{InitialBackoff: 100 * time.Millisecond, MaxBackoff: time.Second, BackoffMultiplier: 2}

	if got := cfg.Backoff(0); got != 100*time.Millisecond {
		t.Errorf("attempt 0: expected 100ms, got %v", got)
	}
	if got := cfg.Backoff(2); got != 400*time.Millisecond {
		t.Errorf("attempt 2: expected 400ms, got %v", got)
	}
	if got := cfg.Backoff(10); got != time.Second {
		t.Errorf("attempt 10: expected cap of 1s, got %v", got)
	}

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		if got := cfg.Backoff(1); got < 200*time.Millisecond || got > 250*time.Millisecond {
			t.Fatalf("jittered backoff %v outside [200ms, 250ms]", got)
		}
	}
}

func TestReconnect(t *testing.T) {
	attempts := 0
	err := Reconnect(context.Background(), "test", func(context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("refused")
		}
		return nil
	}, &ReconnectConfig{MaxAttempts: 3, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 5 * time.Millisecond})

	if err != nil {
		t.Errorf("Expected reconnect to succeed, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}

	err = Reconnect(context.Background(), "test", func(context.Context) error {
		return errors.New("refused")
	}, &ReconnectConfig{MaxAttempts: 2, Backoff: time.Millisecond, Multiplier: 2, MaxBackoff: 5 * time.Millisecond})
	if err == nil {
		t.Error("Expected error after exhausting attempts")
	}
}
